package storage

import (
	"context"
	"errors"
	"io"
)

// BlobStore is the object store holding journal images. Implementations must
// be safe for concurrent use.
type BlobStore interface {
	// Upload stores the object under path and returns its public URL.
	Upload(ctx context.Context, path string, r io.Reader, contentType string) (string, error)
	// Delete removes the object at path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
}

var ErrNotConfigured = errors.New("blob store is not configured")

// Disabled is wired when no blob store credentials are present so the API can
// still serve text-only journals.
type Disabled struct{}

func (Disabled) Upload(context.Context, string, io.Reader, string) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) Delete(context.Context, string) error {
	return ErrNotConfigured
}
