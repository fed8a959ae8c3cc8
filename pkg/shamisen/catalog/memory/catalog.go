package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tendant/shamisen/pkg/shamisen"
)

// Store implements shamisen.CatalogStore and shamisen.StagingStore using in-memory storage
type Store struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	staging     map[string]*shamisen.StagingRecord
}

// New creates a new in-memory catalog store
func New() *Store {
	return &Store{
		collections: make(map[string]*Collection),
		staging:     make(map[string]*shamisen.StagingRecord),
	}
}

// EnsureCollection returns the named collection, creating it on first use.
// Concurrent callers receive the same handle.
func (s *Store) EnsureCollection(ctx context.Context, name, partitionKeyPath string) (shamisen.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c, nil
	}
	c := &Collection{
		name:             name,
		partitionKeyPath: partitionKeyPath,
		entries:          make(map[string]map[string]*shamisen.CatalogEntry),
	}
	s.collections[name] = c
	return c, nil
}

// Staging operations

func (s *Store) StageIngest(ctx context.Context, record *shamisen.StagingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.staging[record.ID]; exists {
		return fmt.Errorf("%w: staging record %s", shamisen.ErrWriteConflict, record.ID)
	}
	recordCopy := *record
	s.staging[record.ID] = &recordCopy
	return nil
}

func (s *Store) CommitIngest(ctx context.Context, id string) error {
	return s.transition(id, shamisen.StagingPending, shamisen.StagingCommitted)
}

func (s *Store) ReleaseIngest(ctx context.Context, id string) error {
	return s.transition(id, shamisen.StagingCommitted, shamisen.StagingPending)
}

func (s *Store) PendingIngests(ctx context.Context, olderThan time.Time) ([]*shamisen.StagingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*shamisen.StagingRecord
	for _, rec := range s.staging {
		if rec.State == shamisen.StagingPending && rec.CreatedAt.Before(olderThan) {
			recordCopy := *rec
			result = append(result, &recordCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ResolveIngest(ctx context.Context, id string, state shamisen.StagingState) error {
	return s.transition(id, shamisen.StagingPending, state)
}

func (s *Store) transition(id string, from, to shamisen.StagingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.staging[id]
	if !ok {
		return fmt.Errorf("%w: staging record %s", shamisen.ErrEntryNotFound, id)
	}
	if rec.State != from {
		return fmt.Errorf("%w: staging record %s is %s, not %s", shamisen.ErrWriteConflict, id, rec.State, from)
	}
	rec.State = to
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Collection is an in-memory document collection partitioned by partition key
type Collection struct {
	name             string
	partitionKeyPath string

	mu      sync.RWMutex
	entries map[string]map[string]*shamisen.CatalogEntry // partition -> id -> entry
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) CreateRecord(ctx context.Context, entry *shamisen.CatalogEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("entry id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	partition, ok := c.entries[entry.PartitionKey]
	if !ok {
		partition = make(map[string]*shamisen.CatalogEntry)
		c.entries[entry.PartitionKey] = partition
	}
	if _, exists := partition[entry.ID]; exists {
		return fmt.Errorf("%w: %s", shamisen.ErrWriteConflict, entry.ID)
	}

	// Create a copy to avoid external modifications
	entryCopy := *entry
	partition[entry.ID] = &entryCopy
	return nil
}

func (c *Collection) ReadRecord(ctx context.Context, partitionKey, id string) (*shamisen.CatalogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[partitionKey][id]
	if !ok {
		return nil, shamisen.ErrEntryNotFound
	}
	entryCopy := *entry
	return &entryCopy, nil
}

func (c *Collection) ReadAll(ctx context.Context, partitionKey string) ([]*shamisen.CatalogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*shamisen.CatalogEntry, 0, len(c.entries[partitionKey]))
	for _, entry := range c.entries[partitionKey] {
		entryCopy := *entry
		result = append(result, &entryCopy)
	}

	// Oldest first, id breaks ties
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
