package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreQuota(t *testing.T) {
	store := NewMemoryStore(10)

	require.NoError(t, store.Set("k", []byte("123456789")))
	assert.ErrorIs(t, store.Set("j", []byte("1")), ErrQuotaExceeded)

	require.NoError(t, store.Delete("k"))
	assert.Equal(t, int64(0), store.Used())
	assert.NoError(t, store.Set("j", []byte("1")))
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore(0)
	value := []byte("abc")
	require.NoError(t, store.Set("k", value))
	value[0] = 'z'

	got, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[1] = 'z'
	again, _ := store.Get("k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStoreClear(t *testing.T) {
	store := NewMemoryStore(0)
	require.NoError(t, store.Set("a", []byte("1")))
	require.NoError(t, store.Clear())

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.ErrorIs(t, store.Set("", nil), ErrInvalidKey)
}
