package shamisen

import (
	"context"
	"io"
	"iter"
	"time"
)

// Extractor parses an audio buffer into tags and cover art.
type Extractor interface {
	// Extract never panics; unusable input yields an error wrapping ErrNoMetadataFound
	Extract(data []byte) (*Metadata, error)
}

// ObjectStore defines the interface for blob storage backends
type ObjectStore interface {
	// PutObject uploads a whole object, replacing any existing one under the key
	PutObject(ctx context.Context, container, key string, data []byte, contentType string) error

	// GetObject opens an object for reading; ErrObjectNotFound when absent
	GetObject(ctx context.Context, container, key string) (io.ReadCloser, *ObjectInfo, error)

	// DeleteObject removes an object; deleting a missing key is not an error
	DeleteObject(ctx context.Context, container, key string) error

	// ListObjects yields the keys of a container in no particular order.
	// The sequence supports a single traversal.
	ListObjects(ctx context.Context, container string) iter.Seq2[string, error]
}

// CatalogStore defines the interface for the structured catalog store
type CatalogStore interface {
	// EnsureCollection returns a handle to the named collection, creating it
	// if absent. Safe to call concurrently.
	EnsureCollection(ctx context.Context, name, partitionKeyPath string) (Collection, error)
}

// Collection is a handle to one document collection.
type Collection interface {
	Name() string

	// CreateRecord inserts an entry; ErrWriteConflict if the id exists
	CreateRecord(ctx context.Context, entry *CatalogEntry) error

	// ReadRecord returns one entry; ErrEntryNotFound if absent
	ReadRecord(ctx context.Context, partitionKey, id string) (*CatalogEntry, error)

	// ReadAll returns every entry of a partition, oldest first
	ReadAll(ctx context.Context, partitionKey string) ([]*CatalogEntry, error)
}

// StagingStore persists ingestion attempts for reconciliation. State changes
// are conditional: a record only leaves pending once, so the pipeline and the
// reconciler cannot both claim the same attempt. A transition from the wrong
// state fails with ErrWriteConflict, a missing record with ErrEntryNotFound.
type StagingStore interface {
	StageIngest(ctx context.Context, record *StagingRecord) error
	// CommitIngest moves a pending record to committed
	CommitIngest(ctx context.Context, id string) error
	// ReleaseIngest moves a committed record back to pending, handing the
	// attempt to the reconciler when the catalog write did not complete
	ReleaseIngest(ctx context.Context, id string) error
	// PendingIngests returns pending records created before olderThan
	PendingIngests(ctx context.Context, olderThan time.Time) ([]*StagingRecord, error)
	// ResolveIngest moves a pending record to state
	ResolveIngest(ctx context.Context, id string, state StagingState) error
}

// EventSink receives notifications about catalog changes
type EventSink interface {
	// SongIngested is fired after a catalog entry is written
	SongIngested(ctx context.Context, entry *CatalogEntry) error

	// IngestAbandoned is fired when the reconciler removes a failed attempt
	IngestAbandoned(ctx context.Context, id string) error
}
