package config

import (
	"fmt"
	"time"

	"github.com/tendant/shamisen/pkg/shamisen"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithPublicBaseURL sets the externally reachable URL of the server
func WithPublicBaseURL(baseURL string) Option {
	return func(c *ServerConfig) error {
		c.PublicBaseURL = baseURL
		return nil
	}
}

// WithStorageAccount sets the account name and the grant signing key
func WithStorageAccount(name, key string) Option {
	return func(c *ServerConfig) error {
		if name == "" || key == "" {
			return fmt.Errorf("storage account name and key cannot be empty")
		}
		c.StorageAccount = name
		c.StorageKey = key
		return nil
	}
}

// WithCatalog configures the catalog backend
func WithCatalog(catalogType, url string) Option {
	return func(c *ServerConfig) error {
		if catalogType != "memory" && catalogType != "postgres" {
			return fmt.Errorf("catalog type must be 'memory' or 'postgres', got: %s", catalogType)
		}
		if catalogType == "postgres" && url == "" {
			return fmt.Errorf("catalog URL is required for postgres")
		}
		c.CatalogType = catalogType
		c.CatalogURL = url
		return nil
	}
}

// WithCatalogCollection overrides the collection name
func WithCatalogCollection(name string) Option {
	return func(c *ServerConfig) error {
		c.CatalogCollection = name
		return nil
	}
}

// WithMemoryStorage selects the in-memory object store
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageConfig{Type: "memory"}
		return nil
	}
}

// WithFilesystemStorage selects the filesystem object store
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = StorageConfig{Type: "fs", BaseDir: baseDir}
		return nil
	}
}

// WithObjectStorage selects the object store from a STORAGE_URL style string
func WithObjectStorage(storageURL string) Option {
	return func(c *ServerConfig) error {
		storage, err := parseStorageURL(storageURL)
		if err != nil {
			return err
		}
		c.Storage = storage
		return nil
	}
}

// WithGrantTTL sets the validity of issued access grants
func WithGrantTTL(ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		if ttl < time.Second {
			return fmt.Errorf("grant TTL must be at least 1s, got: %s", ttl)
		}
		c.GrantTTL = ttl
		return nil
	}
}

// WithGrantPermissions sets the permission string of issued grants, e.g. "rl"
func WithGrantPermissions(perms string) Option {
	return func(c *ServerConfig) error {
		c.GrantPermissions = perms
		return nil
	}
}

// WithListMode selects how GET /songs reads the catalog
func WithListMode(mode shamisen.ListMode) Option {
	return func(c *ServerConfig) error {
		if !mode.IsValid() {
			return fmt.Errorf("%w: %q", shamisen.ErrInvalidListMode, mode)
		}
		c.ListMode = mode
		return nil
	}
}

// WithMaxUploadBytes limits the size of accepted uploads
func WithMaxUploadBytes(n int64) Option {
	return func(c *ServerConfig) error {
		if n <= 0 {
			return fmt.Errorf("max upload bytes must be positive, got: %d", n)
		}
		c.MaxUploadBytes = n
		return nil
	}
}

// WithReconciler sets how often pending ingestions are reconciled and how
// old they must be. An interval of 0 disables the background reconciler.
func WithReconciler(interval, grace time.Duration) Option {
	return func(c *ServerConfig) error {
		c.ReconcileInterval = interval
		c.ReconcileGrace = grace
		return nil
	}
}
