package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tendant/shamisen/pkg/shamisen"
)

// Config options for the MinIO backend
type Config struct {
	Endpoint        string // host:port
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Secure          bool // Use TLS

	CreateBucketIfNotExist bool
}

// Backend is a MinIO implementation of the shamisen.ObjectStore interface.
// Containers map to key prefixes inside one bucket.
type Backend struct {
	client *minio.Client
	bucket string
}

// New creates a MinIO client and optionally creates the bucket
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.Secure,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	backend := &Backend{client: client, bucket: config.Bucket}

	if config.CreateBucketIfNotExist {
		exists, err := client.BucketExists(ctx, config.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket: %w", err)
		}
		if !exists {
			err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region})
			if err != nil && !isCode(err, "BucketAlreadyOwnedByYou", "BucketAlreadyExists") {
				return nil, fmt.Errorf("failed to create bucket: %w", err)
			}
		}
	}

	return backend, nil
}

// PutObject uploads data to container/key
func (b *Backend) PutObject(ctx context.Context, container, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := b.client.PutObject(ctx, b.bucket, objectName(container, key),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload to MinIO: %w", err)
	}
	return nil
}

// GetObject opens container/key. The caller must close the reader.
func (b *Backend) GetObject(ctx context.Context, container, key string) (io.ReadCloser, *shamisen.ObjectInfo, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, objectName(container, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object from MinIO: %w", err)
	}

	// GetObject is lazy; Stat surfaces a missing key
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isCode(err, "NoSuchKey", "NotFound") {
			return nil, nil, shamisen.ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("failed to stat object in MinIO: %w", err)
	}

	info := &shamisen.ObjectInfo{
		Container:   container,
		Key:         key,
		Size:        stat.Size,
		ContentType: stat.ContentType,
		UpdatedAt:   stat.LastModified,
		ETag:        strings.Trim(stat.ETag, "\""),
	}
	if info.ContentType == "" {
		info.ContentType = "application/octet-stream"
	}
	return obj, info, nil
}

// DeleteObject removes container/key. MinIO does not report missing keys.
func (b *Backend) DeleteObject(ctx context.Context, container, key string) error {
	err := b.client.RemoveObject(ctx, b.bucket, objectName(container, key), minio.RemoveObjectOptions{})
	if err != nil && !isCode(err, "NoSuchKey") {
		return fmt.Errorf("failed to delete from MinIO: %w", err)
	}
	return nil
}

// ListObjects yields keys under the container prefix. Stopping early
// cancels the listing goroutine inside minio-go.
func (b *Backend) ListObjects(ctx context.Context, container string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		prefix := container + "/"
		objectsCh := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		})

		for object := range objectsCh {
			if object.Err != nil {
				yield("", fmt.Errorf("failed to list MinIO objects: %w", object.Err))
				return
			}
			key := strings.TrimPrefix(object.Key, prefix)
			if key == "" || strings.Contains(key, "/") {
				continue
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

func objectName(container, key string) string {
	return container + "/" + key
}

func isCode(err error, codes ...string) bool {
	code := minio.ToErrorResponse(err).Code
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}
