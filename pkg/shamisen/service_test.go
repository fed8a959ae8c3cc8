package shamisen_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shamisen/pkg/shamisen"
	catalogmemory "github.com/tendant/shamisen/pkg/shamisen/catalog/memory"
	"github.com/tendant/shamisen/pkg/shamisen/grant"
	memorystorage "github.com/tendant/shamisen/pkg/shamisen/storage/memory"
)

const testBaseURL = "http://storage.local/account"

type fakeExtractor struct {
	meta *shamisen.Metadata
	err  error
}

func (f *fakeExtractor) Extract(data []byte) (*shamisen.Metadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := *f.meta
	return &m, nil
}

func sakura() *shamisen.Metadata {
	return &shamisen.Metadata{
		ContainerFormat: "ID3v2.3",
		FileType:        "MP3",
		MIMEType:        "audio/mpeg",
		Title:           "Sakura",
		Artist:          "Unknown",
		Album:           "Demo",
		Cover:           &shamisen.Cover{Data: []byte("jpeg-bytes"), Format: "image/jpeg"},
	}
}

// failingObjects fails PutObject for one container
type failingObjects struct {
	*memorystorage.Backend
	failContainer string
}

func (f *failingObjects) PutObject(ctx context.Context, container, key string, data []byte, contentType string) error {
	if container == f.failContainer {
		return errors.New("connection reset")
	}
	return f.Backend.PutObject(ctx, container, key, data, contentType)
}

// flakyCatalog wraps the memory store and injects errors. The on* hooks run
// once, at the start of the matching call.
type flakyCatalog struct {
	*catalogmemory.Store
	ensureErr error
	createErr error
	commitErr error
	// createLands writes the entry before returning createErr
	createLands bool
	onEnsure    func()
	onCreate    func()
}

func runOnce(hook *func()) {
	if h := *hook; h != nil {
		*hook = nil
		h()
	}
}

func (f *flakyCatalog) EnsureCollection(ctx context.Context, name, partitionKeyPath string) (shamisen.Collection, error) {
	runOnce(&f.onEnsure)
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	c, err := f.Store.EnsureCollection(ctx, name, partitionKeyPath)
	if err != nil {
		return nil, err
	}
	return &flakyCollection{Collection: c, parent: f}, nil
}

func (f *flakyCatalog) CommitIngest(ctx context.Context, id string) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	return f.Store.CommitIngest(ctx, id)
}

type flakyCollection struct {
	shamisen.Collection
	parent *flakyCatalog
}

func (c *flakyCollection) CreateRecord(ctx context.Context, entry *shamisen.CatalogEntry) error {
	runOnce(&c.parent.onCreate)
	if c.parent.createErr != nil {
		if c.parent.createLands {
			if err := c.Collection.CreateRecord(ctx, entry); err != nil {
				return err
			}
		}
		return c.parent.createErr
	}
	return c.Collection.CreateRecord(ctx, entry)
}

type fixture struct {
	svc     shamisen.Service
	objects *memorystorage.Backend
	catalog *flakyCatalog
	signer  *grant.Signer
	clock   *time.Time
}

func newFixture(t *testing.T, extractor shamisen.Extractor, objects shamisen.ObjectStore) *fixture {
	t.Helper()

	backend := memorystorage.New()
	if objects == nil {
		objects = backend
	} else if fo, ok := objects.(*failingObjects); ok {
		backend = fo.Backend
	}

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		objects: backend,
		catalog: &flakyCatalog{Store: catalogmemory.New()},
		clock:   &clock,
	}
	f.signer = grant.New(
		grant.WithSecretKey("test-key"),
		grant.WithAccount("account"),
		grant.WithClock(func() time.Time { return *f.clock }),
	)

	n := 0
	svc, err := shamisen.New(
		shamisen.WithExtractor(extractor),
		shamisen.WithObjectStore(objects),
		shamisen.WithCatalogStore(f.catalog),
		shamisen.WithStagingStore(f.catalog),
		shamisen.WithSigner(f.signer),
		shamisen.WithBaseURL(testBaseURL),
		shamisen.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("song-%03d", n)
		}),
		shamisen.WithClock(func() time.Time { return *f.clock }),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) countObjects(t *testing.T, container string) int {
	t.Helper()
	n := 0
	for _, err := range f.objects.ListObjects(context.Background(), container) {
		require.NoError(t, err)
		n++
	}
	return n
}

func (f *fixture) countEntries(t *testing.T) int {
	t.Helper()
	coll, err := f.catalog.Store.EnsureCollection(context.Background(), shamisen.DefaultCollection, shamisen.PartitionKeyPath)
	require.NoError(t, err)
	all, err := coll.ReadAll(context.Background(), shamisen.DefaultPartitionKey)
	require.NoError(t, err)
	return len(all)
}

func readObject(t *testing.T, store shamisen.ObjectStore, container, key string) ([]byte, *shamisen.ObjectInfo) {
	t.Helper()
	rc, info, err := store.GetObject(context.Background(), container, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data, info
}

func TestNew_RequiresComponents(t *testing.T) {
	signer := grant.New(grant.WithSecretKey("k"))
	full := []shamisen.Option{
		shamisen.WithExtractor(&fakeExtractor{meta: sakura()}),
		shamisen.WithObjectStore(memorystorage.New()),
		shamisen.WithCatalogStore(catalogmemory.New()),
		shamisen.WithSigner(signer),
		shamisen.WithBaseURL(testBaseURL),
	}

	_, err := shamisen.New(full...)
	require.NoError(t, err)

	for i := range full {
		opts := append([]shamisen.Option{}, full[:i]...)
		opts = append(opts, full[i+1:]...)
		_, err := shamisen.New(opts...)
		assert.Error(t, err, "option %d omitted", i)
	}
}

func TestIngestSong_Success(t *testing.T) {
	f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
	ctx := context.Background()
	audio := []byte("fake-mp3-bytes")

	entry, err := f.svc.IngestSong(ctx, audio)
	require.NoError(t, err)

	assert.Equal(t, "song-001", entry.ID)
	assert.Equal(t, testBaseURL+"/songs/song-001", entry.URL)
	assert.Equal(t, testBaseURL+"/covers/song-001", entry.ArtworkURL)
	assert.Equal(t, "Sakura", entry.Title)
	assert.Equal(t, "Unknown", entry.Artist)
	assert.Equal(t, "Demo", entry.Album)
	assert.Equal(t, "MP3", entry.Format)
	assert.Equal(t, shamisen.DefaultPartitionKey, entry.PartitionKey)

	data, info := readObject(t, f.objects, shamisen.ContainerSongs, entry.ID)
	assert.Equal(t, audio, data)
	assert.Equal(t, "audio/mpeg", info.ContentType)

	data, info = readObject(t, f.objects, shamisen.ContainerCovers, entry.ID)
	assert.Equal(t, []byte("jpeg-bytes"), data)
	assert.Equal(t, "image/jpeg", info.ContentType)

	assert.Equal(t, 1, f.countEntries(t))

	// Staging record was committed, so reconciliation has nothing to do
	f.advance(time.Hour)
	report, err := f.svc.Reconcile(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}

func TestIngestSong_CancelledContextStillCompletes(t *testing.T) {
	f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry, err := f.svc.IngestSong(ctx, []byte("audio"))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, 1, f.countObjects(t, shamisen.ContainerSongs))
}

func TestIngestSong_Rejected(t *testing.T) {
	noCover := sakura()
	noCover.Cover = nil
	emptyCover := sakura()
	emptyCover.Cover = &shamisen.Cover{Format: "image/png"}

	tests := []struct {
		name      string
		extractor *fakeExtractor
	}{
		{name: "NoCoverArt", extractor: &fakeExtractor{meta: noCover}},
		{name: "EmptyCoverArt", extractor: &fakeExtractor{meta: emptyCover}},
		{name: "NotAudio", extractor: &fakeExtractor{err: fmt.Errorf("%w: unknown format", shamisen.ErrNoMetadataFound)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.extractor, nil)

			entry, err := f.svc.IngestSong(context.Background(), []byte("not really audio"))
			assert.Nil(t, entry)
			assert.ErrorIs(t, err, shamisen.ErrUnsupportedMedia)
			assert.ErrorIs(t, err, shamisen.ErrNoMetadataFound)

			assert.Zero(t, f.countObjects(t, shamisen.ContainerSongs))
			assert.Zero(t, f.countObjects(t, shamisen.ContainerCovers))
			assert.Zero(t, f.countEntries(t))
		})
	}
}

func TestIngestSong_SongUploadFails(t *testing.T) {
	objects := &failingObjects{Backend: memorystorage.New(), failContainer: shamisen.ContainerSongs}
	f := newFixture(t, &fakeExtractor{meta: sakura()}, objects)

	entry, err := f.svc.IngestSong(context.Background(), []byte("audio"))
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, shamisen.ErrStorageWrite)

	var storageErr *shamisen.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, shamisen.ContainerSongs, storageErr.Container)

	// The cover upload already happened and is left behind
	assert.Equal(t, 1, f.countObjects(t, shamisen.ContainerCovers))
	assert.Zero(t, f.countObjects(t, shamisen.ContainerSongs))
	assert.Zero(t, f.countEntries(t))
}

func TestIngestSong_CoverUploadFails(t *testing.T) {
	objects := &failingObjects{Backend: memorystorage.New(), failContainer: shamisen.ContainerCovers}
	f := newFixture(t, &fakeExtractor{meta: sakura()}, objects)

	_, err := f.svc.IngestSong(context.Background(), []byte("audio"))
	assert.ErrorIs(t, err, shamisen.ErrStorageWrite)
	assert.Zero(t, f.countObjects(t, shamisen.ContainerCovers))
	assert.Zero(t, f.countObjects(t, shamisen.ContainerSongs))
}

func TestIngestSong_CatalogFailures(t *testing.T) {
	t.Run("WriteConflict", func(t *testing.T) {
		f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
		f.catalog.createErr = fmt.Errorf("%w: duplicate id", shamisen.ErrWriteConflict)

		_, err := f.svc.IngestSong(context.Background(), []byte("audio"))
		assert.ErrorIs(t, err, shamisen.ErrWriteConflict)
		var catErr *shamisen.CatalogError
		require.ErrorAs(t, err, &catErr)
		assert.Equal(t, "create", catErr.Op)
	})

	t.Run("UnclassifiedCreateError", func(t *testing.T) {
		f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
		f.catalog.createErr = errors.New("socket closed")

		_, err := f.svc.IngestSong(context.Background(), []byte("audio"))
		assert.ErrorIs(t, err, shamisen.ErrUnavailable)
	})

	t.Run("EnsureCollectionUnavailable", func(t *testing.T) {
		f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
		f.catalog.ensureErr = fmt.Errorf("%w: timeout", shamisen.ErrUnavailable)

		_, err := f.svc.IngestSong(context.Background(), []byte("audio"))
		assert.ErrorIs(t, err, shamisen.ErrUnavailable)

		// Both objects were written before the catalog was touched
		assert.Equal(t, 1, f.countObjects(t, shamisen.ContainerSongs))
		assert.Equal(t, 1, f.countObjects(t, shamisen.ContainerCovers))
	})
}

func TestListSongs_CatalogBacked(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
		listing, err := f.svc.ListSongs(ctx, shamisen.ListCatalogBacked)
		require.NoError(t, err)
		assert.NotNil(t, listing.Songs)
		assert.Empty(t, listing.Songs)
		assert.NotEmpty(t, listing.SASURI)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		ext := &fakeExtractor{meta: sakura()}
		f := newFixture(t, ext, nil)

		var ingested []*shamisen.CatalogEntry
		for i := 0; i < 3; i++ {
			ext.meta.Title = fmt.Sprintf("Track %d", i)
			entry, err := f.svc.IngestSong(ctx, []byte("audio"))
			require.NoError(t, err)
			ingested = append(ingested, entry)
			f.advance(time.Second)
		}

		listing, err := f.svc.ListSongs(ctx, shamisen.ListCatalogBacked)
		require.NoError(t, err)
		assert.Equal(t, shamisen.ListCatalogBacked, listing.Mode)
		assert.Equal(t, ingested, listing.Songs)

		require.NotNil(t, listing.Grant)
		assert.Equal(t, []string{shamisen.ContainerCovers, shamisen.ContainerSongs}, listing.Grant.Containers)
		assert.Equal(t, grant.Read, listing.Grant.Permissions)
		assert.Equal(t, 24*time.Hour, listing.Grant.ExpiresOn.Sub(listing.Grant.StartsOn))

		require.True(t, strings.HasPrefix(listing.SASURI, testBaseURL+"/?"))
		u, err := url.Parse(listing.SASURI)
		require.NoError(t, err)
		for _, container := range []string{shamisen.ContainerSongs, shamisen.ContainerCovers} {
			_, err := f.signer.Verify(u.Query(), container, grant.Read)
			assert.NoError(t, err, container)
		}
		_, err = f.signer.Verify(u.Query(), shamisen.ContainerSongs, grant.Write)
		assert.ErrorIs(t, err, grant.ErrPermissionDenied)
	})

	t.Run("CatalogUnavailable", func(t *testing.T) {
		f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
		f.catalog.ensureErr = errors.New("no route to host")

		_, err := f.svc.ListSongs(ctx, shamisen.ListCatalogBacked)
		assert.ErrorIs(t, err, shamisen.ErrUnavailable)
	})
}

func TestListSongs_RawKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)

	for i := 0; i < 2; i++ {
		_, err := f.svc.IngestSong(ctx, []byte("audio"))
		require.NoError(t, err)
	}

	listing, err := f.svc.ListSongs(ctx, shamisen.ListRawKeys)
	require.NoError(t, err)
	assert.Nil(t, listing.Songs)
	assert.ElementsMatch(t, []string{"song-001", "song-002"}, listing.Keys)
	assert.Equal(t, testBaseURL, listing.BaseStorageURL)
	assert.Equal(t, []string{shamisen.ContainerSongs}, listing.Grant.Containers)

	u, err := url.Parse(listing.SASURI)
	require.NoError(t, err)
	_, err = f.signer.Verify(u.Query(), shamisen.ContainerCovers, grant.Read)
	assert.ErrorIs(t, err, grant.ErrContainerNotGranted)
}

func TestListSongs_InvalidMode(t *testing.T) {
	f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
	_, err := f.svc.ListSongs(context.Background(), shamisen.ListMode("everything"))
	assert.ErrorIs(t, err, shamisen.ErrInvalidListMode)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("RemovesAbandonedObjects", func(t *testing.T) {
		f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
		f.catalog.createErr = errors.New("socket closed")

		_, err := f.svc.IngestSong(ctx, []byte("audio"))
		require.Error(t, err)
		require.Equal(t, 1, f.countObjects(t, shamisen.ContainerSongs))
		require.Equal(t, 1, f.countObjects(t, shamisen.ContainerCovers))

		// Inside the grace period nothing is touched
		report, err := f.svc.Reconcile(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Scanned)

		f.advance(2 * time.Hour)
		report, err = f.svc.Reconcile(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Scanned)
		assert.Equal(t, 1, report.Abandoned)
		assert.Zero(t, f.countObjects(t, shamisen.ContainerSongs))
		assert.Zero(t, f.countObjects(t, shamisen.ContainerCovers))

		// Resolved records are not scanned again
		report, err = f.svc.Reconcile(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Scanned)
	})

	t.Run("CommitsWhenEntryExists", func(t *testing.T) {
		f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
		f.catalog.createErr = errors.New("connection reset after write")
		f.catalog.createLands = true

		_, err := f.svc.IngestSong(ctx, []byte("audio"))
		require.ErrorIs(t, err, shamisen.ErrUnavailable)
		require.Equal(t, 1, f.countEntries(t))

		f.advance(2 * time.Hour)
		report, err := f.svc.Reconcile(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Committed)
		assert.Zero(t, report.Abandoned)

		// Objects of a catalogued song are never removed
		_, _, err = f.objects.GetObject(ctx, shamisen.ContainerSongs, "song-001")
		assert.NoError(t, err)
		_, _, err = f.objects.GetObject(ctx, shamisen.ContainerCovers, "song-001")
		assert.NoError(t, err)
	})

	t.Run("ClaimFailureLeavesAttemptPending", func(t *testing.T) {
		f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)
		f.catalog.commitErr = errors.New("lost connection")

		_, err := f.svc.IngestSong(ctx, []byte("audio"))
		require.ErrorIs(t, err, shamisen.ErrUnavailable)
		var catErr *shamisen.CatalogError
		require.ErrorAs(t, err, &catErr)
		assert.Equal(t, "claim", catErr.Op)
		assert.Zero(t, f.countEntries(t))

		f.catalog.commitErr = nil
		f.advance(2 * time.Hour)
		report, err := f.svc.Reconcile(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Abandoned)
		assert.Zero(t, f.countObjects(t, shamisen.ContainerSongs))
		assert.Zero(t, f.countObjects(t, shamisen.ContainerCovers))
	})

	t.Run("AbandonedWhileIngesting", func(t *testing.T) {
		f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)

		// The pipeline stalls after both uploads; meanwhile the grace period
		// runs out and a reconciliation pass removes its objects.
		var report *shamisen.ReconcileReport
		f.catalog.onEnsure = func() {
			f.advance(time.Hour)
			var err error
			report, err = f.svc.Reconcile(ctx, 15*time.Minute)
			require.NoError(t, err)
		}

		entry, err := f.svc.IngestSong(ctx, []byte("audio"))
		assert.Nil(t, entry)
		assert.ErrorIs(t, err, shamisen.ErrUnavailable)

		require.NotNil(t, report)
		assert.Equal(t, 1, report.Abandoned)
		assert.Zero(t, f.countEntries(t), "no entry may reference removed objects")
		assert.Zero(t, f.countObjects(t, shamisen.ContainerSongs))
		assert.Zero(t, f.countObjects(t, shamisen.ContainerCovers))

		report, err = f.svc.Reconcile(ctx, 15*time.Minute)
		require.NoError(t, err)
		assert.Zero(t, report.Scanned)
	})

	t.Run("ClaimedAttemptIsLeftAlone", func(t *testing.T) {
		f := newFixture(t, &fakeExtractor{meta: sakura()}, nil)

		var report *shamisen.ReconcileReport
		f.catalog.onCreate = func() {
			f.advance(time.Hour)
			var err error
			report, err = f.svc.Reconcile(ctx, 15*time.Minute)
			require.NoError(t, err)
		}

		entry, err := f.svc.IngestSong(ctx, []byte("audio"))
		require.NoError(t, err)

		require.NotNil(t, report)
		assert.Zero(t, report.Scanned)
		assert.Equal(t, 1, f.countEntries(t))
		_, _, err = f.objects.GetObject(ctx, shamisen.ContainerSongs, entry.ID)
		assert.NoError(t, err)
		_, _, err = f.objects.GetObject(ctx, shamisen.ContainerCovers, entry.ID)
		assert.NoError(t, err)
	})

	t.Run("WithoutStagingStore", func(t *testing.T) {
		svc, err := shamisen.New(
			shamisen.WithExtractor(&fakeExtractor{meta: sakura()}),
			shamisen.WithObjectStore(memorystorage.New()),
			shamisen.WithCatalogStore(catalogmemory.New()),
			shamisen.WithSigner(grant.New(grant.WithSecretKey("k"))),
			shamisen.WithBaseURL(testBaseURL),
		)
		require.NoError(t, err)

		report, err := svc.Reconcile(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, &shamisen.ReconcileReport{}, report)
	})
}
