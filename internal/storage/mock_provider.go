package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockMirror is a mock implementation of the Mirror interface for testing.
type MockMirror struct {
	mock.Mock
}

// PutObject is the mock implementation of the PutObject method.
func (m *MockMirror) PutObject(ctx context.Context, name string, contentType string, data io.Reader) (string, error) {
	args := m.Called(ctx, name, contentType, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
