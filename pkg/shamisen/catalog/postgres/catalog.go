package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/shamisen/pkg/shamisen"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store implements shamisen.CatalogStore and shamisen.StagingStore using PostgreSQL.
// Each collection is a table holding the entry as jsonb.
type Store struct {
	db           DBTX
	stagingTable string

	mu             sync.Mutex
	collections    map[string]*Collection
	stagingEnsured bool
}

// New creates a new PostgreSQL catalog store. The staging ledger lives in
// a table named "<collection>_staging".
func New(db DBTX, collection string) *Store {
	if collection == "" {
		collection = shamisen.DefaultCollection
	}
	return &Store{
		db:           db,
		stagingTable: collection + "_staging",
		collections:  make(map[string]*Collection),
	}
}

// NewWithPool creates a new PostgreSQL catalog store with connection pool
func NewWithPool(pool *pgxpool.Pool, collection string) *Store {
	return New(pool, collection)
}

// Error handling helper. Everything that is not a duplicate key is an
// availability problem from the caller's point of view.
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s: %s", shamisen.ErrWriteConflict, operation, pgErr.Detail)
		case "42P01": // undefined_table
			return fmt.Errorf("%w: %s: table does not exist", shamisen.ErrUnavailable, operation)
		default:
			return fmt.Errorf("%w: database error in %s: %s (code: %s)", shamisen.ErrUnavailable, operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("%w: database error in %s: %w", shamisen.ErrUnavailable, operation, err)
}

// isConcurrentDDL reports errors raised when two sessions run
// CREATE ... IF NOT EXISTS for the same object at once.
func isConcurrentDDL(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// duplicate_table, duplicate_object, unique_violation on pg_type
	return pgErr.Code == "42P07" || pgErr.Code == "42710" || pgErr.Code == "23505"
}

func (s *Store) execDDL(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil && !isConcurrentDDL(err) {
			return err
		}
	}
	return nil
}

// EnsureCollection creates the collection table if needed and returns a handle to it
func (s *Store) EnsureCollection(ctx context.Context, name, partitionKeyPath string) (shamisen.Collection, error) {
	if name == "" {
		return nil, errors.New("collection name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c, nil
	}

	table := pgx.Identifier{name}.Sanitize()
	index := pgx.Identifier{name + "_partition_created_idx"}.Sanitize()
	err := s.execDDL(ctx,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id            TEXT PRIMARY KEY,
			partition_key TEXT NOT NULL,
			doc           JSONB NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (partition_key, created_at)`, index, table),
	)
	if err != nil {
		return nil, handlePostgresError("ensure collection", err)
	}

	c := &Collection{db: s.db, name: name, table: table, partitionKeyPath: partitionKeyPath}
	s.collections[name] = c
	return c, nil
}

// Collection is one catalog table
type Collection struct {
	db               DBTX
	name             string
	table            string
	partitionKeyPath string
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) CreateRecord(ctx context.Context, entry *shamisen.CatalogEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode catalog entry: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, partition_key, doc, created_at) VALUES ($1, $2, $3, $4)`, c.table)
	if _, err := c.db.Exec(ctx, query, entry.ID, entry.PartitionKey, doc, entry.CreatedAt); err != nil {
		return handlePostgresError("create record", err)
	}
	return nil
}

func (c *Collection) ReadRecord(ctx context.Context, partitionKey, id string) (*shamisen.CatalogEntry, error) {
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE partition_key = $1 AND id = $2`, c.table)

	var doc []byte
	if err := c.db.QueryRow(ctx, query, partitionKey, id).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shamisen.ErrEntryNotFound
		}
		return nil, handlePostgresError("read record", err)
	}

	var entry shamisen.CatalogEntry
	if err := json.Unmarshal(doc, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode catalog entry %s: %w", id, err)
	}
	return &entry, nil
}

func (c *Collection) ReadAll(ctx context.Context, partitionKey string) ([]*shamisen.CatalogEntry, error) {
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE partition_key = $1 ORDER BY created_at, id`, c.table)

	rows, err := c.db.Query(ctx, query, partitionKey)
	if err != nil {
		return nil, handlePostgresError("read all", err)
	}
	defer rows.Close()

	entries := []*shamisen.CatalogEntry{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, handlePostgresError("read all", err)
		}
		var entry shamisen.CatalogEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode catalog entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("read all", err)
	}
	return entries, nil
}

// Staging operations

func (s *Store) ensureStaging(ctx context.Context) (string, error) {
	table := pgx.Identifier{s.stagingTable}.Sanitize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stagingEnsured {
		return table, nil
	}

	err := s.execDDL(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id         TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`, table))
	if err != nil {
		return "", handlePostgresError("ensure staging", err)
	}
	s.stagingEnsured = true
	return table, nil
}

func (s *Store) StageIngest(ctx context.Context, record *shamisen.StagingRecord) error {
	table, err := s.ensureStaging(ctx)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, state, created_at, updated_at) VALUES ($1, $2, $3, $4)`, table)
	if _, err := s.db.Exec(ctx, query, record.ID, string(record.State), record.CreatedAt, record.UpdatedAt); err != nil {
		return handlePostgresError("stage ingest", err)
	}
	return nil
}

func (s *Store) CommitIngest(ctx context.Context, id string) error {
	return s.transition(ctx, id, shamisen.StagingPending, shamisen.StagingCommitted)
}

func (s *Store) ReleaseIngest(ctx context.Context, id string) error {
	return s.transition(ctx, id, shamisen.StagingCommitted, shamisen.StagingPending)
}

func (s *Store) PendingIngests(ctx context.Context, olderThan time.Time) ([]*shamisen.StagingRecord, error) {
	table, err := s.ensureStaging(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, state, created_at, updated_at FROM %s
		WHERE state = $1 AND created_at < $2 ORDER BY created_at`, table)

	rows, err := s.db.Query(ctx, query, string(shamisen.StagingPending), olderThan)
	if err != nil {
		return nil, handlePostgresError("pending ingests", err)
	}
	defer rows.Close()

	var records []*shamisen.StagingRecord
	for rows.Next() {
		var rec shamisen.StagingRecord
		var state string
		if err := rows.Scan(&rec.ID, &state, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, handlePostgresError("pending ingests", err)
		}
		rec.State = shamisen.StagingState(state)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("pending ingests", err)
	}
	return records, nil
}

func (s *Store) ResolveIngest(ctx context.Context, id string, state shamisen.StagingState) error {
	return s.transition(ctx, id, shamisen.StagingPending, state)
}

// transition updates the record only while it is still in state from, so
// concurrent claims on the same attempt resolve to exactly one winner.
func (s *Store) transition(ctx context.Context, id string, from, to shamisen.StagingState) error {
	table, err := s.ensureStaging(ctx)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET state = $3, updated_at = $4 WHERE id = $1 AND state = $2`, table)
	tag, err := s.db.Exec(ctx, query, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return handlePostgresError("transition ingest", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRow(ctx, fmt.Sprintf(`SELECT state FROM %s WHERE id = $1`, table), id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: staging record %s", shamisen.ErrEntryNotFound, id)
	}
	if err != nil {
		return handlePostgresError("transition ingest", err)
	}
	return fmt.Errorf("%w: staging record %s is %s, not %s", shamisen.ErrWriteConflict, id, current, from)
}
