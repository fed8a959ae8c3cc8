package fs

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tendant/shamisen/pkg/shamisen"
)

const metaSuffix = ".meta.json"

// Backend is a filesystem implementation of the shamisen.ObjectStore interface.
// Objects live at baseDir/container/key with a JSON sidecar next to them.
type Backend struct {
	mu      sync.RWMutex
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing objects
}

type sidecar struct {
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: filepath.Clean(config.BaseDir)}, nil
}

// PutObject writes the object and its sidecar. The data file is replaced
// atomically via rename.
func (b *Backend) PutObject(ctx context.Context, container, key string, data []byte, contentType string) error {
	filePath, err := b.objectPath(container, key)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	sum := md5.Sum(data)
	meta := sidecar{
		ContentType: contentType,
		Size:        int64(len(data)),
		ETag:        hex.EncodeToString(sum[:]),
		UpdatedAt:   time.Now().UTC(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	if err := writeFileAtomic(filePath, data); err != nil {
		return err
	}
	if err := writeFileAtomic(filePath+metaSuffix, metaBytes); err != nil {
		return err
	}
	return nil
}

// GetObject opens the object file. The caller must close the reader.
func (b *Backend) GetObject(ctx context.Context, container, key string) (io.ReadCloser, *shamisen.ObjectInfo, error) {
	filePath, err := b.objectPath(container, key)
	if err != nil {
		return nil, nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, nil, shamisen.ErrObjectNotFound
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to get file info: %w", err)
	}

	info := &shamisen.ObjectInfo{
		Container: container,
		Key:       key,
		Size:      stat.Size(),
		UpdatedAt: stat.ModTime().UTC(),
	}

	if raw, err := os.ReadFile(filePath + metaSuffix); err == nil {
		var meta sidecar
		if json.Unmarshal(raw, &meta) == nil {
			info.ContentType = meta.ContentType
			info.ETag = meta.ETag
			info.UpdatedAt = meta.UpdatedAt
		}
	}

	// Objects written by something other than PutObject have no sidecar
	if info.ContentType == "" {
		buffer := make([]byte, 512)
		n, _ := file.ReadAt(buffer, 0)
		info.ContentType = http.DetectContentType(buffer[:n])
	}

	return file, info, nil
}

// DeleteObject removes the object and its sidecar. A missing object is not an error.
func (b *Backend) DeleteObject(ctx context.Context, container, key string) error {
	filePath, err := b.objectPath(container, key)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range []string{filePath, filePath + metaSuffix} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}
	return nil
}

// ListObjects yields the object keys of a container, skipping sidecars
// and in-flight temporary files.
func (b *Backend) ListObjects(ctx context.Context, container string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := validateName(container); err != nil {
			yield("", err)
			return
		}

		b.mu.RLock()
		entries, err := os.ReadDir(filepath.Join(b.baseDir, container))
		b.mu.RUnlock()
		if os.IsNotExist(err) {
			return
		} else if err != nil {
			yield("", fmt.Errorf("failed to read container: %w", err))
			return
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".tmp-") {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(name, nil) {
				return
			}
		}
	}
}

func (b *Backend) objectPath(container, key string) (string, error) {
	if err := validateName(container); err != nil {
		return "", err
	}
	if err := validateName(key); err != nil {
		return "", err
	}
	if strings.HasSuffix(key, metaSuffix) || strings.HasPrefix(key, ".tmp-") {
		return "", fmt.Errorf("invalid object key %q: reserved name", key)
	}
	return filepath.Join(b.baseDir, container, key), nil
}

// validateName rejects anything that could escape the container directory
func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid object name %q", name)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
