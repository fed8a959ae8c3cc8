// Package storagetest holds behaviour checks shared by every ObjectStore backend.
package storagetest

import (
	"context"
	"io"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shamisen/pkg/shamisen"
)

// Run exercises put, get, list and delete against store. Keys are random so
// the suite can run against a shared bucket.
func Run(t *testing.T, store shamisen.ObjectStore) {
	t.Helper()
	ctx := context.Background()
	container := "songs"
	key := uuid.New().String()
	data := []byte("ID3 payload for " + key)

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, store.PutObject(ctx, container, key, data, "audio/mpeg"))

		rc, info, err := store.GetObject(ctx, container, key)
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)

		assert.Equal(t, data, got)
		assert.Equal(t, "audio/mpeg", info.ContentType)
		assert.Equal(t, int64(len(data)), info.Size)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, _, err := store.GetObject(ctx, container, uuid.New().String())
		assert.ErrorIs(t, err, shamisen.ErrObjectNotFound)
	})

	t.Run("ListContainsKey", func(t *testing.T) {
		var keys []string
		for k, err := range store.ListObjects(ctx, container) {
			require.NoError(t, err)
			keys = append(keys, k)
		}
		sort.Strings(keys)
		assert.Contains(t, keys, key)
	})

	t.Run("ListStopsEarly", func(t *testing.T) {
		second := uuid.New().String()
		require.NoError(t, store.PutObject(ctx, container, second, []byte("x"), ""))
		defer store.DeleteObject(ctx, container, second)

		n := 0
		for _, err := range store.ListObjects(ctx, container) {
			require.NoError(t, err)
			n++
			break
		}
		assert.Equal(t, 1, n)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		require.NoError(t, store.DeleteObject(ctx, container, key))
		_, _, err := store.GetObject(ctx, container, key)
		assert.ErrorIs(t, err, shamisen.ErrObjectNotFound)
		assert.NoError(t, store.DeleteObject(ctx, container, key))
	})
}
