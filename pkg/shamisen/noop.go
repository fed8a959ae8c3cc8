package shamisen

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// SongIngested does nothing and returns nil
func (n *NoopEventSink) SongIngested(ctx context.Context, entry *CatalogEntry) error {
	return nil
}

// IngestAbandoned does nothing and returns nil
func (n *NoopEventSink) IngestAbandoned(ctx context.Context, id string) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

// SongIngested logs the ingestion event
func (l *LoggingEventSink) SongIngested(ctx context.Context, entry *CatalogEntry) error {
	l.logger.InfoContext(ctx, "event: song_ingested", "song_id", entry.ID, "url", entry.URL, "artwork_url", entry.ArtworkURL)
	return nil
}

// IngestAbandoned logs the abandonment event
func (l *LoggingEventSink) IngestAbandoned(ctx context.Context, id string) error {
	l.logger.InfoContext(ctx, "event: ingest_abandoned", "song_id", id)
	return nil
}
