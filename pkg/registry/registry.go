// Package registry resolves operation type names to constructors.
//
// A Registry is an explicit value passed to whatever builds pipes; nothing is
// registered globally. NewWithBuiltins pre-registers the transforms under
// "link", "filter", "explode" and "collapse".
package registry

import (
	"fmt"
	"sort"
	"sync"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/contract"
	"github.com/vnykmshr/opflow/pkg/transform"
)

// Factory builds an operation from already-resolved options. Each factory
// documents the options value it accepts.
type Factory func(options interface{}) (contract.Operation, error)

// Registry maps operation type names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewWithBuiltins returns a registry holding the built-in transforms.
func NewWithBuiltins() *Registry {
	r := New()
	r.MustRegister("link", Typed(transform.NewLink))
	r.MustRegister("filter", Typed(transform.NewFilter))
	r.MustRegister("explode", Typed(transform.NewExplode))
	r.MustRegister("collapse", Typed(transform.NewCollapse))
	return r
}

// Register adds a factory under name. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if err := validation.ValidateNotEmpty("registry", "name", name); err != nil {
		return err
	}
	if f == nil {
		return gferrors.NewValidationError("registry", "factory", name, "cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return gferrors.NewValidationError("registry", "name", name, "operation type already registered")
	}
	r.factories[name] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Resolve returns the factory registered under name.
func (r *Registry) Resolve(name string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, gferrors.NewConfigError(gferrors.ErrMissingOperation, "",
			"operation type %q is not registered", name).WithOperation(name, "")
	}
	return f, nil
}

// Build resolves name and constructs the operation.
func (r *Registry) Build(name string, options interface{}) (contract.Operation, error) {
	f, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	op, err := f(options)
	if err != nil {
		return nil, err
	}
	if op == nil || op.Contract() == nil {
		return nil, gferrors.NewValidationError("registry", name, nil, "factory returned no operation")
	}
	return op, nil
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Typed adapts a constructor taking a concrete options type. The factory
// accepts T, *T, or nil for the zero value.
func Typed[T any](ctor func(T) (contract.Operation, error)) Factory {
	return func(options interface{}) (contract.Operation, error) {
		switch o := options.(type) {
		case nil:
			var zero T
			return ctor(zero)
		case T:
			return ctor(o)
		case *T:
			if o == nil {
				var zero T
				return ctor(zero)
			}
			return ctor(*o)
		default:
			var zero T
			return nil, gferrors.NewValidationError("registry", "options", fmt.Sprintf("%T", options),
				fmt.Sprintf("expected %T", zero))
		}
	}
}
