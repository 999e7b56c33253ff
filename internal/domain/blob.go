package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to a blob store.
type BlobWriter interface {
	// Put uploads data as a single object with the given content type.
	Put(ctx context.Context, path string, data io.Reader, contentType string) error

	// PutMultipart uploads data in parts of partSize bytes, for payloads too
	// large for a single request.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
