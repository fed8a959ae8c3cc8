package presets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shamisen/pkg/shamisen"
)

func TestNewDevelopment(t *testing.T) {
	t.Run("custom storage directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "dev-data")
		rt, cleanup, err := NewDevelopment(WithDevStorage(dir), WithDevPort("9191"))
		require.NoError(t, err)
		require.NotNil(t, rt)

		ctx := context.Background()
		entry, err := rt.Service.IngestSong(ctx, FixtureSong())
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9191/blobs/songs/"+entry.ID, entry.URL)

		_, err = os.Stat(filepath.Join(dir, shamisen.ContainerSongs, entry.ID))
		require.NoError(t, err, "song should be written under the storage directory")

		cleanup()
		_, err = os.Stat(dir)
		assert.True(t, os.IsNotExist(err), "storage directory should be removed after cleanup")
	})
}

func TestNewTesting(t *testing.T) {
	t.Run("empty catalog", func(t *testing.T) {
		rt := NewTesting(t)

		listing, err := rt.Service.ListSongs(context.Background(), shamisen.ListCatalogBacked)
		require.NoError(t, err)
		assert.Empty(t, listing.Songs)
	})

	t.Run("with fixtures", func(t *testing.T) {
		rt := NewTesting(t, WithTestFixtures())

		listing, err := rt.Service.ListSongs(context.Background(), shamisen.ListCatalogBacked)
		require.NoError(t, err)
		require.Len(t, listing.Songs, 1)
		assert.Equal(t, "Sakura", listing.Songs[0].Title)
		assert.Equal(t, "Demo", listing.Songs[0].Album)
	})
}
