package storage

import (
	"context"
	"io"
)

// ObjectStore is the bulk byte-stream sink the upload pipeline writes to.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error
}
