package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/shamisen/pkg/shamisen"
	catalogmemory "github.com/tendant/shamisen/pkg/shamisen/catalog/memory"
	catalogpg "github.com/tendant/shamisen/pkg/shamisen/catalog/postgres"
	"github.com/tendant/shamisen/pkg/shamisen/extract"
	"github.com/tendant/shamisen/pkg/shamisen/grant"
	fsstorage "github.com/tendant/shamisen/pkg/shamisen/storage/fs"
	memorystorage "github.com/tendant/shamisen/pkg/shamisen/storage/memory"
	miniostorage "github.com/tendant/shamisen/pkg/shamisen/storage/minio"
	s3storage "github.com/tendant/shamisen/pkg/shamisen/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:              "8080",
		Environment:       "development",
		CatalogType:       "memory",
		CatalogCollection: shamisen.DefaultCollection,
		Storage:           StorageConfig{Type: "memory"},
		GrantTTL:          24 * time.Hour,
		GrantPermissions:  "r",
		ListMode:          shamisen.ListCatalogBacked,
		MaxUploadBytes:    64 << 20,
		ReconcileInterval: 5 * time.Minute,
		ReconcileGrace:    15 * time.Minute,
	}
}

// ServerConfig represents server configuration for the shamisen service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// PublicBaseURL is where this server is reachable. Object URLs are
	// built on PublicBaseURL + "/blobs", the only place grants are checked.
	PublicBaseURL string

	// Storage account. The key is the shared secret grants are signed with.
	StorageAccount string
	StorageKey     string

	// Catalog configuration
	CatalogType       string // "memory", "postgres"
	CatalogURL        string
	CatalogCollection string

	Storage StorageConfig

	GrantTTL         time.Duration
	GrantPermissions string
	ListMode         shamisen.ListMode
	MaxUploadBytes   int64

	ReconcileInterval time.Duration // 0 disables the background reconciler
	ReconcileGrace    time.Duration
}

// StorageConfig selects and configures the object store backend
type StorageConfig struct {
	Type string // "memory", "fs", "s3", "minio"

	BaseDir string // fs

	Bucket       string // s3, minio
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool // s3
	Secure       bool // minio
	CreateBucket bool
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return &shamisen.ConfigurationError{Field: "PORT", Reason: "is required"}
	}
	if c.StorageAccount == "" {
		return &shamisen.ConfigurationError{Field: "STORAGE_NAME", Reason: "is required"}
	}
	if c.StorageKey == "" {
		return &shamisen.ConfigurationError{Field: "STORAGE_KEY", Reason: "is required"}
	}

	switch c.CatalogType {
	case "memory":
	case "postgres":
		if c.CatalogURL == "" {
			return &shamisen.ConfigurationError{Field: "CATALOG_CONNECTION_STRING", Reason: "is required when using postgres"}
		}
	default:
		return &shamisen.ConfigurationError{Field: "CATALOG_CONNECTION_STRING", Reason: fmt.Sprintf("unsupported catalog type %q", c.CatalogType)}
	}
	if c.CatalogCollection == "" {
		return &shamisen.ConfigurationError{Field: "CATALOG_COLLECTION", Reason: "cannot be empty"}
	}

	switch c.Storage.Type {
	case "memory":
	case "fs":
		if c.Storage.BaseDir == "" {
			return &shamisen.ConfigurationError{Field: "STORAGE_URL", Reason: "filesystem path cannot be empty"}
		}
	case "s3", "minio":
		if c.Storage.Bucket == "" {
			return &shamisen.ConfigurationError{Field: "STORAGE_URL", Reason: "bucket name cannot be empty"}
		}
		if c.Storage.Type == "minio" && c.Storage.Endpoint == "" {
			return &shamisen.ConfigurationError{Field: "STORAGE_URL", Reason: "minio endpoint cannot be empty"}
		}
	default:
		return &shamisen.ConfigurationError{Field: "STORAGE_URL", Reason: fmt.Sprintf("unsupported storage type %q", c.Storage.Type)}
	}

	if c.GrantTTL < time.Second {
		return &shamisen.ConfigurationError{Field: "GRANT_TTL", Reason: "must be at least 1s"}
	}
	perms, err := grant.ParsePermissions(c.GrantPermissions)
	if err != nil || perms == 0 {
		return &shamisen.ConfigurationError{Field: "GRANT_PERMISSIONS", Reason: fmt.Sprintf("invalid permission string %q", c.GrantPermissions)}
	}
	if !c.ListMode.IsValid() {
		return &shamisen.ConfigurationError{Field: "LIST_MODE", Reason: fmt.Sprintf("must be %q or %q", shamisen.ListCatalogBacked, shamisen.ListRawKeys)}
	}
	if c.MaxUploadBytes <= 0 {
		return &shamisen.ConfigurationError{Field: "MAX_UPLOAD_BYTES", Reason: "must be positive"}
	}
	if c.ReconcileInterval < 0 || c.ReconcileGrace < 0 {
		return &shamisen.ConfigurationError{Field: "RECONCILE_INTERVAL", Reason: "cannot be negative"}
	}
	if c.ReconcileInterval > 0 && c.ReconcileGrace <= 0 {
		return &shamisen.ConfigurationError{Field: "RECONCILE_GRACE", Reason: "must be positive when the reconciler is enabled"}
	}

	return nil
}

// ObjectBaseURL is the base every catalog URL and grant URI is built on
func (c *ServerConfig) ObjectBaseURL() string {
	base := c.PublicBaseURL
	if base == "" {
		base = "http://localhost:" + c.Port
	}
	return strings.TrimRight(base, "/") + "/blobs"
}

// Runtime holds the long-lived clients built from a ServerConfig.
type Runtime struct {
	Service shamisen.Service
	Objects shamisen.ObjectStore
	Signer  *grant.Signer

	closers []func()
}

// Close releases the clients held by the runtime
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// BuildService creates every client once and wires them into a Service
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	objects, err := c.buildObjectStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build object store: %w", err)
	}
	rt.Objects = objects

	catalog, staging, closeCatalog, err := c.buildCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog store: %w", err)
	}
	if closeCatalog != nil {
		rt.closers = append(rt.closers, closeCatalog)
	}

	perms, err := grant.ParsePermissions(c.GrantPermissions)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Signer = grant.New(
		grant.WithAccount(c.StorageAccount),
		grant.WithSecretKey(c.StorageKey),
		grant.WithDefaultTTL(c.GrantTTL),
	)

	var eventSink shamisen.EventSink = shamisen.NewNoopEventSink()
	if c.Environment == "development" {
		eventSink = shamisen.NewLoggingEventSink(logger)
	}

	svc, err := shamisen.New(
		shamisen.WithExtractor(extract.New()),
		shamisen.WithObjectStore(objects),
		shamisen.WithCatalogStore(catalog),
		shamisen.WithStagingStore(staging),
		shamisen.WithSigner(rt.Signer),
		shamisen.WithEventSink(eventSink),
		shamisen.WithLogger(logger),
		shamisen.WithBaseURL(c.ObjectBaseURL()),
		shamisen.WithCollection(c.CatalogCollection),
		shamisen.WithGrantPolicy(perms, c.GrantTTL),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

// buildCatalog creates the catalog store. Both backends also serve as the staging ledger.
func (c *ServerConfig) buildCatalog(ctx context.Context) (shamisen.CatalogStore, shamisen.StagingStore, func(), error) {
	switch c.CatalogType {
	case "memory":
		store := catalogmemory.New()
		return store, store, nil, nil
	case "postgres":
		cfg, err := pgxpool.ParseConfig(c.CatalogURL)
		if err != nil {
			return nil, nil, nil, &shamisen.ConfigurationError{Field: "CATALOG_CONNECTION_STRING", Reason: err.Error()}
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		store := catalogpg.NewWithPool(pool, c.CatalogCollection)
		return store, store, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported catalog type: %s", c.CatalogType)
	}
}

// buildObjectStore creates an ObjectStore based on the storage configuration
func (c *ServerConfig) buildObjectStore(ctx context.Context) (shamisen.ObjectStore, error) {
	s := c.Storage
	switch s.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: s.BaseDir})

	case "s3":
		return s3storage.New(ctx, s3storage.Config{
			Region:                 s.Region,
			Bucket:                 s.Bucket,
			AccessKeyID:            s.AccessKey,
			SecretAccessKey:        s.SecretKey,
			Endpoint:               s.Endpoint,
			UsePathStyle:           s.UsePathStyle,
			CreateBucketIfNotExist: s.CreateBucket,
		})

	case "minio":
		return miniostorage.New(ctx, miniostorage.Config{
			Endpoint:               s.Endpoint,
			Bucket:                 s.Bucket,
			AccessKeyID:            s.AccessKey,
			SecretAccessKey:        s.SecretKey,
			Region:                 s.Region,
			Secure:                 s.Secure,
			CreateBucketIfNotExist: s.CreateBucket,
		})

	default:
		return nil, errors.New("unsupported storage backend type: " + s.Type)
	}
}
