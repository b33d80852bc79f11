// Package publisher defines the notifications emitted when items reach the
// asset service.
package publisher

import (
	"context"
	"time"
)

// Event types.
const (
	EventSynchronized = "asset.synchronized"
	EventReconciled   = "asset.reconciled"
)

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) (string, error)
	Close() error
}

// Event describes one item that changed in the asset service.
type Event struct {
	RunID         string    `json:"runId"`
	CategoryID    string    `json:"categoryId"`
	CategoryTitle string    `json:"categoryTitle,omitempty"`
	Sequence      int       `json:"sequence"`
	LocalFilename string    `json:"localFilename,omitempty"`
	SourceURL     string    `json:"sourceUrl,omitempty"`
	RemoteAssetID string    `json:"remoteAssetId"`
	Label         string    `json:"label,omitempty"`
	At            time.Time `json:"at"`
}
