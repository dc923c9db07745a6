// Package storage moves oversize artifact payloads out of postgres and
// into an S3-compatible object store (MinIO, Hetzner, AWS). The database
// keeps the artifact row and the storage key; the blob holds the bytes.
package storage

import (
	"context"
)

// BlobStore is the abstraction the offload worker and the artifact
// fetch-through path talk to.
type BlobStore interface {
	// Put stores the payload under key and returns nil once the object
	// is durable.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the payload stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}
