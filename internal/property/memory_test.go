package property

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "bindings")
	require.ErrorIs(t, err, ErrNotFound)

	v, err := m.Put(ctx, "bindings", "[]", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = m.Put(ctx, "bindings", "[1]", 0)
	require.ErrorIs(t, err, ErrVersionConflict, "creating an existing key must conflict")

	v, err = m.Put(ctx, "bindings", "[1]", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = m.Put(ctx, "bindings", "[2]", 1)
	require.ErrorIs(t, err, ErrVersionConflict, "stale version must conflict")

	it, err := m.Get(ctx, "bindings")
	require.NoError(t, err)
	assert.Equal(t, "[1]", it.Value)
}

func TestMemorySetAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "session:1", "a"))
	require.NoError(t, m.Set(ctx, "session:1", "b"))
	it, err := m.Get(ctx, "session:1")
	require.NoError(t, err)
	assert.Equal(t, "b", it.Value)
	assert.Equal(t, int64(2), it.Version)

	require.NoError(t, m.Delete(ctx, "session:1"))
	require.NoError(t, m.Delete(ctx, "session:1"))
	_, err = m.Get(ctx, "session:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPutOnMissingKeyWithVersion(t *testing.T) {
	_, err := NewMemory().Put(context.Background(), "k", "v", 3)
	assert.ErrorIs(t, err, ErrVersionConflict)
}
