package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUncheckedStore(t *testing.T) {
	ctx := context.Background()
	store := NewUncheckedStore()
	assert.Equal(t, "unchecked", store.Kind())

	a, err := store.Issue(ctx)
	require.NoError(t, err)
	b, err := store.Issue(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	// Anything passes, including forged and missing values.
	assert.NoError(t, store.Verify(ctx, a))
	assert.NoError(t, store.Verify(ctx, "forged"))
	assert.NoError(t, store.Verify(ctx, ""))
}

func TestSignedStore(t *testing.T) {
	ctx := context.Background()
	key := []byte(strings.Repeat("k", 32))

	store, err := NewSignedStore(key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "signed", store.Kind())

	state, err := store.Issue(ctx)
	require.NoError(t, err)
	assert.NoError(t, store.Verify(ctx, state))

	assert.ErrorIs(t, store.Verify(ctx, ""), ErrStateMissing)
	assert.ErrorIs(t, store.Verify(ctx, "forged.value"), ErrStateNotFound)

	other, err := NewSignedStore([]byte(strings.Repeat("o", 32)), time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(ctx, state), ErrStateNotFound)
}

func TestSignedStore_Expired(t *testing.T) {
	ctx := context.Background()
	store, err := NewSignedStore([]byte(strings.Repeat("k", 32)), time.Nanosecond)
	require.NoError(t, err)

	state, err := store.Issue(ctx)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	assert.ErrorIs(t, store.Verify(ctx, state), ErrStateExpired)
}

func TestNewSignedStore_Validation(t *testing.T) {
	_, err := NewSignedStore([]byte("short"), time.Minute)
	assert.Error(t, err)

	_, err = NewSignedStore([]byte(strings.Repeat("k", 32)), 0)
	assert.Error(t, err)
}
