package shamisen

import (
	"context"
	"time"
)

// Service defines the main interface for the song catalog
type Service interface {
	// IngestSong extracts tags from an uploaded audio buffer, stores the
	// cover and the audio, and writes one catalog entry.
	IngestSong(ctx context.Context, data []byte) (*CatalogEntry, error)

	// ListSongs returns the catalog (or the raw song keys) together with an
	// access grant for fetching the referenced objects.
	ListSongs(ctx context.Context, mode ListMode) (*Listing, error)

	// Reconcile resolves ingestion attempts left pending for longer than grace.
	Reconcile(ctx context.Context, grace time.Duration) (*ReconcileReport, error)
}
