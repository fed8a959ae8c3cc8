// Package presets builds ready-to-use runtimes for common setups.
package presets

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/tendant/shamisen/internal/testaudio"
	"github.com/tendant/shamisen/pkg/shamisen/config"
)

const (
	devAccount = "devaccount"
	devKey     = "devsecret"
)

// NewDevelopment creates a runtime for local development.
//
// Features:
//   - In-memory catalog (instant startup, no database required)
//   - Filesystem storage at ./dev-data/ (scratch space for one session)
//   - Logging event sink
//
// Nothing survives the process. The catalog lives in memory, so the
// returned cleanup function closes the runtime and removes the storage
// directory rather than leave blobs no catalog entry points at.
//
// Example:
//
//	rt, cleanup, err := presets.NewDevelopment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func NewDevelopment(opts ...DevelopmentOption) (*config.Runtime, func(), error) {
	cfg := &devConfig{
		storageDir: "./dev-data",
		port:       "8080",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	serverConfig, err := config.Load(
		config.WithEnvironment("development"),
		config.WithPort(cfg.port),
		config.WithStorageAccount(devAccount, devKey),
		config.WithFilesystemStorage(cfg.storageDir),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load development config: %w", err)
	}

	rt, err := serverConfig.BuildService(context.Background(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}

	cleanup := func() {
		rt.Close()
		os.RemoveAll(cfg.storageDir)
	}
	return rt, cleanup, nil
}

// NewTesting creates a runtime for tests with in-memory catalog and storage.
// The runtime is closed when the test completes.
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    rt := presets.NewTesting(t, presets.WithTestFixtures())
//	    listing, err := rt.Service.ListSongs(ctx, shamisen.ListCatalogBacked)
//	    ...
//	}
func NewTesting(t *testing.T, opts ...TestingOption) *config.Runtime {
	t.Helper()

	cfg := &testConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	serverConfig, err := config.Load(
		config.WithEnvironment("testing"),
		config.WithStorageAccount(devAccount, devKey),
		config.WithReconciler(0, 0),
	)
	if err != nil {
		t.Fatalf("failed to load test config: %v", err)
	}

	rt, err := serverConfig.BuildService(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}
	t.Cleanup(rt.Close)

	if cfg.fixtures {
		if _, err := rt.Service.IngestSong(context.Background(), FixtureSong()); err != nil {
			t.Fatalf("failed to ingest fixture song: %v", err)
		}
	}

	return rt
}

// FixtureSong returns a small tagged MP3 with embedded cover art.
func FixtureSong() []byte {
	return testaudio.MP3(testaudio.Tags{
		Title:     "Sakura",
		Artist:    "Unknown",
		Album:     "Demo",
		CoverMIME: "image/jpeg",
		Cover:     testaudio.JPEG(512),
	})
}

// devConfig holds development preset configuration
type devConfig struct {
	storageDir string
	port       string
}

// testConfig holds testing preset configuration
type testConfig struct {
	fixtures bool
}

// DevelopmentOption is a functional option for NewDevelopment
type DevelopmentOption func(*devConfig)

// WithDevStorage sets the development storage directory
func WithDevStorage(dir string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.storageDir = dir
	}
}

// WithDevPort sets the development server port
func WithDevPort(port string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.port = port
	}
}

// TestingOption is a functional option for NewTesting
type TestingOption func(*testConfig)

// WithTestFixtures ingests one fixture song into the runtime
func WithTestFixtures() TestingOption {
	return func(cfg *testConfig) {
		cfg.fixtures = true
	}
}
