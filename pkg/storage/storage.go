// Package storage stores uploaded files (payment proofs, deliveries, chat
// attachments, digital products) behind a driver-neutral interface.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Open when no object exists at the path.
var ErrNotFound = errors.New("storage: object not found")

type Store interface {
	Put(ctx context.Context, path string, body io.Reader, contentType string) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	URL(path string) string
}

// Object describes a stored upload.
type Object struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}
