// Package model describes the model handles operations are bound to.
//
// A Reference is opaque to the engine apart from its name and the set of
// capabilities it advertises. Operations may require a capability; binding
// an operation to a model that lacks it fails at composition time.
package model

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
)

// Common capability names.
const (
	CapabilityText      = "text"
	CapabilityVision    = "vision"
	CapabilityFunctions = "functions"
	CapabilityEmbedding = "embedding"
)

// Reference is a handle to a model endpoint.
type Reference interface {
	Name() string
	Capabilities() []string
}

// Static is a Reference with a fixed capability set.
type Static struct {
	ModelName string
	Caps      []string
}

// NewStatic creates a Static reference.
func NewStatic(name string, capabilities ...string) Static {
	return Static{ModelName: name, Caps: capabilities}
}

func (s Static) Name() string           { return s.ModelName }
func (s Static) Capabilities() []string { return s.Caps }

// Has reports whether ref advertises capability. An empty capability is
// always satisfied.
func Has(ref Reference, capability string) bool {
	if capability == "" {
		return true
	}
	if ref == nil {
		return false
	}
	return lo.Contains(ref.Capabilities(), capability)
}

// Resolver looks up models by name.
type Resolver interface {
	Lookup(name string) (Reference, error)
}

// Catalog is an in-memory Resolver. It is safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]Reference
}

// NewCatalog creates a catalog holding refs.
func NewCatalog(refs ...Reference) *Catalog {
	c := &Catalog{models: make(map[string]Reference, len(refs))}
	for _, r := range refs {
		c.models[r.Name()] = r
	}
	return c
}

// Add registers or replaces ref.
func (c *Catalog) Add(ref Reference) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[ref.Name()] = ref
}

// Lookup returns the model called name or an ErrMissingModel configuration error.
func (c *Catalog) Lookup(name string) (Reference, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.models[name]
	if !ok {
		return nil, gferrors.NewConfigError(gferrors.ErrMissingModel, "", "model %q is not registered", name)
	}
	return ref, nil
}

// Names returns the registered model names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := lo.Keys(c.models)
	sort.Strings(names)
	return names
}

type refKey struct{}

// WithReference attaches the bound model to ctx for the operation body.
func WithReference(ctx context.Context, ref Reference) context.Context {
	if ref == nil {
		return ctx
	}
	return context.WithValue(ctx, refKey{}, ref)
}

// FromContext returns the model bound to the running operation, if any.
func FromContext(ctx context.Context) (Reference, bool) {
	ref, ok := ctx.Value(refKey{}).(Reference)
	return ref, ok
}
