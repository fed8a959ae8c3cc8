package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/tendant/shamisen/pkg/shamisen"
)

type object struct {
	data        []byte
	contentType string
	updatedAt   time.Time
}

// Backend is an in-memory implementation of the shamisen.ObjectStore interface
type Backend struct {
	mu         sync.RWMutex
	containers map[string]map[string]*object
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		containers: make(map[string]map[string]*object),
	}
}

// PutObject stores a copy of data under container/key
func (b *Backend) PutObject(ctx context.Context, container, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	objects, ok := b.containers[container]
	if !ok {
		objects = make(map[string]*object)
		b.containers[container] = objects
	}
	objects[key] = &object{
		data:        bytes.Clone(data),
		contentType: contentType,
		updatedAt:   time.Now().UTC(),
	}
	return nil
}

// GetObject returns a reader over the stored bytes
func (b *Backend) GetObject(ctx context.Context, container, key string) (io.ReadCloser, *shamisen.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.containers[container][key]
	if !ok {
		return nil, nil, shamisen.ErrObjectNotFound
	}

	sum := md5.Sum(obj.data)
	info := &shamisen.ObjectInfo{
		Container:   container,
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		UpdatedAt:   obj.updatedAt,
		ETag:        hex.EncodeToString(sum[:]),
	}
	return io.NopCloser(bytes.NewReader(obj.data)), info, nil
}

// DeleteObject removes container/key if present
func (b *Backend) DeleteObject(ctx context.Context, container, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.containers[container], key)
	return nil
}

// ListObjects yields a snapshot of the container's keys taken when iteration starts
func (b *Backend) ListObjects(ctx context.Context, container string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		b.mu.RLock()
		keys := make([]string, 0, len(b.containers[container]))
		for k := range b.containers[container] {
			keys = append(keys, k)
		}
		b.mu.RUnlock()

		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(k, nil) {
				return
			}
		}
	}
}
