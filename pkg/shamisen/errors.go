package shamisen

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrUnsupportedMedia indicates the upload could not be ingested; nothing was written
	ErrUnsupportedMedia = errors.New("unsupported media")

	// ErrNoMetadataFound indicates the extractor found no usable tags or cover art
	ErrNoMetadataFound = errors.New("no metadata found")

	// ErrStorageWrite indicates an object upload failed
	ErrStorageWrite = errors.New("storage write failed")

	// ErrWriteConflict indicates a catalog record with the same id exists
	ErrWriteConflict = errors.New("catalog write conflict")

	// ErrUnavailable indicates the catalog store could not serve the request
	ErrUnavailable = errors.New("catalog unavailable")

	// ErrConfiguration indicates missing or invalid configuration
	ErrConfiguration = errors.New("invalid configuration")

	// ErrObjectNotFound indicates an object was not found
	ErrObjectNotFound = errors.New("object not found")

	// ErrEntryNotFound indicates a catalog entry was not found
	ErrEntryNotFound = errors.New("catalog entry not found")

	// ErrInvalidListMode indicates an unknown ListMode
	ErrInvalidListMode = errors.New("invalid list mode")
)

// StorageError represents an error related to object store operations
type StorageError struct {
	Container string
	Key       string
	Op        string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for %s/%s: %v", e.Op, e.Container, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CatalogError represents an error related to catalog store operations
type CatalogError struct {
	Collection string
	ID         string
	Op         string
	Err        error
}

func (e *CatalogError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("catalog operation %s failed on %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("catalog operation %s failed on %s for %s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a setting that is missing or invalid at startup
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// classifyCatalogErr makes sure a catalog failure is either a conflict or
// an availability problem.
func classifyCatalogErr(err error) error {
	if errors.Is(err, ErrWriteConflict) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrEntryNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
