// Package blobstore keeps the source documents uploaded during intake. Keys
// are slash-separated paths such as "intake/<session>/<filename>".
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrBlobNotFound   = errors.New("blob not found")
	ErrMissingKey     = errors.New("blob key is required")
	ErrUnknownDriver  = errors.New("unknown blob driver")
	ErrBucketRequired = errors.New("s3 bucket is required")
)

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is implemented by the memory and S3 drivers.
type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
}

// Config selects and configures a driver.
type Config struct {
	Driver    string // "memory" or "s3"
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// Open returns the Store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
