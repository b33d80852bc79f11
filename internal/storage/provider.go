// Package storage defines where downloaded assets may be copied besides the
// local asset directory.
package storage

import (
	"context"
	"io"
)

// Mirror receives a copy of every downloaded asset.
type Mirror interface {
	// PutObject uploads data under name and returns the object URI.
	PutObject(ctx context.Context, name string, contentType string, data io.Reader) (string, error)
}

// NoOpMirror discards everything. It is used when no bucket is configured.
type NoOpMirror struct{}

// PutObject for NoOpMirror does nothing and always returns an empty URI.
func (NoOpMirror) PutObject(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}
