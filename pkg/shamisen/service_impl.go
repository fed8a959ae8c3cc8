package shamisen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/shamisen/pkg/shamisen/grant"
)

// service implements the Service interface
type service struct {
	extractor Extractor
	objects   ObjectStore
	catalog   CatalogStore
	staging   StagingStore
	signer    *grant.Signer
	eventSink EventSink
	logger    *slog.Logger

	baseURL      string
	collection   string
	partitionKey string
	grantPerms   grant.Permissions
	grantTTL     time.Duration

	newID func() string
	now   func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithExtractor sets the metadata extractor
func WithExtractor(e Extractor) Option {
	return func(s *service) {
		s.extractor = e
	}
}

// WithObjectStore sets the object store backend
func WithObjectStore(store ObjectStore) Option {
	return func(s *service) {
		s.objects = store
	}
}

// WithCatalogStore sets the catalog store backend
func WithCatalogStore(store CatalogStore) Option {
	return func(s *service) {
		s.catalog = store
	}
}

// WithStagingStore enables staging records and reconciliation
func WithStagingStore(store StagingStore) Option {
	return func(s *service) {
		s.staging = store
	}
}

// WithSigner sets the grant signer
func WithSigner(signer *grant.Signer) Option {
	return func(s *service) {
		s.signer = signer
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithBaseURL sets the base that object URLs and the grant URI are built on
func WithBaseURL(baseURL string) Option {
	return func(s *service) {
		s.baseURL = baseURL
	}
}

// WithCollection overrides the catalog collection name
func WithCollection(name string) Option {
	return func(s *service) {
		s.collection = name
	}
}

// WithGrantPolicy sets the permissions and validity of grants issued by ListSongs
func WithGrantPolicy(perms grant.Permissions, ttl time.Duration) Option {
	return func(s *service) {
		s.grantPerms = perms
		s.grantTTL = ttl
	}
}

// WithIDGenerator overrides id generation
func WithIDGenerator(fn func() string) Option {
	return func(s *service) {
		s.newID = fn
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		collection:   DefaultCollection,
		partitionKey: DefaultPartitionKey,
		grantPerms:   grant.Read,
		grantTTL:     24 * time.Hour,
		newID:        func() string { return uuid.New().String() },
		now:          time.Now,
	}

	for _, option := range options {
		option(s)
	}

	switch {
	case s.extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case s.objects == nil:
		return nil, fmt.Errorf("object store is required")
	case s.catalog == nil:
		return nil, fmt.Errorf("catalog store is required")
	case s.signer == nil:
		return nil, fmt.Errorf("grant signer is required")
	case s.baseURL == "":
		return nil, fmt.Errorf("base URL is required")
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// IngestSong runs the pipeline strictly in order. Steps after the first
// upload are not transactional; staging records let Reconcile clean up.
func (s *service) IngestSong(ctx context.Context, data []byte) (*CatalogEntry, error) {
	// A started ingestion runs to completion or to its first failure.
	ctx = context.WithoutCancel(ctx)

	meta, err := s.extractor.Extract(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedMedia, err)
	}
	if meta.Cover == nil || len(meta.Cover.Data) == 0 {
		return nil, fmt.Errorf("%w: %w: no embedded cover art", ErrUnsupportedMedia, ErrNoMetadataFound)
	}

	id := s.newID()
	now := s.now().UTC()
	log := s.logger.With("song_id", id)

	if s.staging != nil {
		rec := &StagingRecord{ID: id, State: StagingPending, CreatedAt: now, UpdatedAt: now}
		if err := s.staging.StageIngest(ctx, rec); err != nil {
			return nil, &CatalogError{Collection: s.collection, ID: id, Op: "stage", Err: classifyCatalogErr(err)}
		}
	}

	if err := s.objects.PutObject(ctx, ContainerCovers, id, meta.Cover.Data, meta.Cover.Format); err != nil {
		log.Error("Failed to upload cover", "container", ContainerCovers, "error", err)
		return nil, &StorageError{Container: ContainerCovers, Key: id, Op: "put", Err: fmt.Errorf("%w: %w", ErrStorageWrite, err)}
	}

	if err := s.objects.PutObject(ctx, ContainerSongs, id, data, meta.MIMEType); err != nil {
		log.Error("Failed to upload song, cover left orphaned", "container", ContainerSongs, "error", err)
		return nil, &StorageError{Container: ContainerSongs, Key: id, Op: "put", Err: fmt.Errorf("%w: %w", ErrStorageWrite, err)}
	}

	coll, err := s.catalog.EnsureCollection(ctx, s.collection, PartitionKeyPath)
	if err != nil {
		log.Error("Failed to ensure collection, objects left orphaned", "collection", s.collection, "error", err)
		return nil, &CatalogError{Collection: s.collection, Op: "ensure_collection", Err: classifyCatalogErr(err)}
	}

	entry := &CatalogEntry{
		ID:           id,
		URL:          ObjectURL(s.baseURL, ContainerSongs, id),
		ArtworkURL:   ObjectURL(s.baseURL, ContainerCovers, id),
		Title:        meta.Title,
		Artist:       meta.Artist,
		Album:        meta.Album,
		Format:       meta.FileType,
		PartitionKey: s.partitionKey,
		CreatedAt:    now,
	}
	// Claim the attempt before the entry becomes visible. If the reconciler
	// already abandoned it, the objects are gone and no entry may point at them.
	if s.staging != nil {
		if err := s.staging.CommitIngest(ctx, id); err != nil {
			if errors.Is(err, ErrWriteConflict) {
				log.Error("Ingestion was abandoned by reconciliation", "error", err)
				return nil, &CatalogError{Collection: coll.Name(), ID: id, Op: "claim", Err: fmt.Errorf("%w: ingestion abandoned before commit", ErrUnavailable)}
			}
			log.Error("Failed to commit staging record, objects left for reconciliation", "error", err)
			return nil, &CatalogError{Collection: coll.Name(), ID: id, Op: "claim", Err: classifyCatalogErr(err)}
		}
	}

	if err := coll.CreateRecord(ctx, entry); err != nil {
		log.Error("Failed to write catalog entry, objects left orphaned", "collection", coll.Name(), "error", err)
		if s.staging != nil {
			// The write may still have landed; Reconcile decides by reading it back.
			if rerr := s.staging.ReleaseIngest(ctx, id); rerr != nil {
				log.Warn("Failed to release staging record", "error", rerr)
			}
		}
		return nil, &CatalogError{Collection: coll.Name(), ID: id, Op: "create", Err: classifyCatalogErr(err)}
	}

	if err := s.eventSink.SongIngested(ctx, entry); err != nil {
		log.Warn("Event sink rejected song_ingested", "error", err)
	}

	log.Info("Song ingested", "title", entry.Title, "artist", entry.Artist, "format", entry.Format)
	return entry, nil
}

func (s *service) ListSongs(ctx context.Context, mode ListMode) (*Listing, error) {
	listing := &Listing{Mode: mode}
	var containers []string

	switch mode {
	case ListCatalogBacked:
		coll, err := s.catalog.EnsureCollection(ctx, s.collection, PartitionKeyPath)
		if err != nil {
			return nil, &CatalogError{Collection: s.collection, Op: "ensure_collection", Err: classifyCatalogErr(err)}
		}
		entries, err := coll.ReadAll(ctx, s.partitionKey)
		if err != nil {
			return nil, &CatalogError{Collection: coll.Name(), Op: "read_all", Err: classifyCatalogErr(err)}
		}
		if entries == nil {
			entries = []*CatalogEntry{}
		}
		listing.Songs = entries
		containers = []string{ContainerSongs, ContainerCovers}

	case ListRawKeys:
		keys := []string{}
		for key, err := range s.objects.ListObjects(ctx, ContainerSongs) {
			if err != nil {
				return nil, &StorageError{Container: ContainerSongs, Op: "list", Err: err}
			}
			keys = append(keys, key)
		}
		listing.Keys = keys
		listing.BaseStorageURL = s.baseURL
		containers = []string{ContainerSongs}

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidListMode, mode)
	}

	g, err := s.signer.Issue(containers, s.grantPerms, s.grantTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access grant: %w", err)
	}
	listing.Grant = g
	listing.SASURI = s.baseURL + "/?" + g.Encode()

	return listing, nil
}

func (s *service) Reconcile(ctx context.Context, grace time.Duration) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	if s.staging == nil {
		return report, nil
	}

	pending, err := s.staging.PendingIngests(ctx, s.now().Add(-grace))
	if err != nil {
		return nil, &CatalogError{Collection: s.collection, Op: "pending_ingests", Err: classifyCatalogErr(err)}
	}
	if len(pending) == 0 {
		return report, nil
	}

	coll, err := s.catalog.EnsureCollection(ctx, s.collection, PartitionKeyPath)
	if err != nil {
		return nil, &CatalogError{Collection: s.collection, Op: "ensure_collection", Err: classifyCatalogErr(err)}
	}

	for _, rec := range pending {
		report.Scanned++
		log := s.logger.With("song_id", rec.ID)

		_, err := coll.ReadRecord(ctx, s.partitionKey, rec.ID)
		switch {
		case err == nil:
			if err := s.staging.ResolveIngest(ctx, rec.ID, StagingCommitted); err != nil {
				if errors.Is(err, ErrWriteConflict) {
					continue
				}
				log.Warn("Failed to commit staging record", "error", err)
				report.Failed++
				continue
			}
			report.Committed++

		case errors.Is(err, ErrEntryNotFound):
			// Claim first: a pipeline that commits in between wins and keeps its objects.
			if err := s.staging.ResolveIngest(ctx, rec.ID, StagingAbandoned); err != nil {
				if errors.Is(err, ErrWriteConflict) {
					log.Info("Ingestion claimed by pipeline, skipping")
					continue
				}
				log.Warn("Failed to mark staging record abandoned", "error", err)
				report.Failed++
				continue
			}
			if err := s.removeObjects(ctx, rec.ID); err != nil {
				log.Error("Failed to remove objects of abandoned ingestion", "error", err)
				report.Failed++
				continue
			}
			if err := s.eventSink.IngestAbandoned(ctx, rec.ID); err != nil {
				log.Warn("Event sink rejected ingest_abandoned", "error", err)
			}
			report.Abandoned++

		default:
			log.Warn("Failed to read catalog entry", "error", err)
			report.Failed++
		}
	}

	s.logger.Info("Reconciliation finished",
		"scanned", report.Scanned, "committed", report.Committed,
		"abandoned", report.Abandoned, "failed", report.Failed)
	return report, nil
}

func (s *service) removeObjects(ctx context.Context, id string) error {
	var errs []error
	for _, container := range []string{ContainerCovers, ContainerSongs} {
		if err := s.objects.DeleteObject(ctx, container, id); err != nil {
			errs = append(errs, &StorageError{Container: container, Key: id, Op: "delete", Err: err})
		}
	}
	return errors.Join(errs...)
}
