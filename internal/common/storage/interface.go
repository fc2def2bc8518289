package storage

import (
	"context"
	"io"
)

// ObjectStorage is the slice of object storage the comparator needs.
type ObjectStorage interface {
	// GetObject opens a reader for an object. Caller must close it.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// RemoveObjects deletes keys; missing keys are not an error.
	RemoveObjects(ctx context.Context, bucket string, keys []string) error
}
