// Package payload stores the raw document bytes a storage id refers to. The
// workflow never reads payloads; they are an optional convenience for callers
// that do not run their own content-addressed storage.
package payload

import (
	"context"
	"io"

	id "signet/pkg/domain"
)

// Object is a stored payload. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// Store persists payloads by storage id. Get returns sentinel.ErrNotFound for
// unknown ids.
type Store interface {
	Put(ctx context.Context, ref id.StorageID, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, ref id.StorageID) (*Object, error)
}
