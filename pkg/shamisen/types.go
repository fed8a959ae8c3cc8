package shamisen

import (
	"strings"
	"time"

	"github.com/tendant/shamisen/pkg/shamisen/grant"
)

// Container names in the object store.
const (
	ContainerSongs  = "songs"
	ContainerCovers = "covers"
)

// Catalog layout. Every entry lives in one partition.
const (
	DefaultCollection   = "shamisen"
	PartitionKeyPath    = "/partitionKey"
	DefaultPartitionKey = "1"
)

// CatalogEntry describes one ingested track and where its objects live.
// URL and ArtworkURL always point at objects keyed by ID.
type CatalogEntry struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	ArtworkURL   string    `json:"artworkUrl"`
	Title        string    `json:"title,omitempty"`
	Artist       string    `json:"artist,omitempty"`
	Album        string    `json:"album,omitempty"`
	Format       string    `json:"format,omitempty"`
	PartitionKey string    `json:"partitionKey"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Metadata is what the extractor found in an uploaded buffer.
type Metadata struct {
	// ContainerFormat is the tag container, e.g. "ID3v2.3" or "MP4".
	ContainerFormat string
	// FileType is the audio file type, e.g. "MP3" or "FLAC".
	FileType string
	// MIMEType is the content type the audio object is stored with.
	MIMEType string
	Title    string
	Artist   string
	Album    string
	Cover    *Cover
}

// Cover is an embedded picture.
type Cover struct {
	Data   []byte
	Format string // MIME type, e.g. "image/jpeg"
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Container   string
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// ListMode selects how ListSongs reads the catalog.
type ListMode string

const (
	// ListCatalogBacked reads catalog entries from the catalog store.
	ListCatalogBacked ListMode = "catalog"
	// ListRawKeys lists object keys in the songs container, without metadata.
	ListRawKeys ListMode = "raw"
)

// IsValid reports whether m is a known mode.
func (m ListMode) IsValid() bool {
	return m == ListCatalogBacked || m == ListRawKeys
}

// Listing is the result of ListSongs.
type Listing struct {
	Mode ListMode
	// Songs is set in ListCatalogBacked mode.
	Songs []*CatalogEntry
	// Keys is set in ListRawKeys mode.
	Keys           []string
	BaseStorageURL string
	Grant          *grant.AccessGrant
	SASURI         string
}

// StagingState is the lifecycle state of an ingestion attempt.
type StagingState string

const (
	StagingPending   StagingState = "pending"
	StagingCommitted StagingState = "committed"
	StagingAbandoned StagingState = "abandoned"
)

// StagingRecord tracks one ingestion attempt so objects left behind by a
// partial failure can be found and removed.
type StagingRecord struct {
	ID        string       `json:"id"`
	State     StagingState `json:"state"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	Scanned   int
	Committed int
	Abandoned int
	Failed    int
}

// ObjectURL composes the public location of an object.
func ObjectURL(baseURL, container, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + container + "/" + key
}
