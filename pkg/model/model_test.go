package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
)

func TestHas(t *testing.T) {
	gpt := NewStatic("gpt", CapabilityText, CapabilityVision)
	assert.True(t, Has(gpt, CapabilityVision))
	assert.False(t, Has(gpt, CapabilityEmbedding))
	assert.True(t, Has(gpt, ""))
	assert.True(t, Has(nil, ""))
	assert.False(t, Has(nil, CapabilityText))
}

func TestCatalog(t *testing.T) {
	c := NewCatalog(NewStatic("b"), NewStatic("a"))
	c.Add(NewStatic("c", CapabilityText))

	ref, err := c.Lookup("c")
	require.NoError(t, err)
	assert.Equal(t, "c", ref.Name())
	assert.Equal(t, []string{"a", "b", "c"}, c.Names())

	_, err = c.Lookup("missing")
	assert.ErrorIs(t, err, gferrors.ErrMissingModel)
	assert.True(t, gferrors.IsConfiguration(err))
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithReference(context.Background(), NewStatic("m"))
	ref, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "m", ref.Name())

	assert.Equal(t, context.Background(), WithReference(context.Background(), nil))
}
