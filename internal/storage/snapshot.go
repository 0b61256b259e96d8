// Package storage defines the raw-page snapshot interface and its trivial
// implementation.
package storage

import (
	"context"
)

// SnapshotStore archives the raw body of a successful fetch and returns a
// URI for the stored artifact.
type SnapshotStore interface {
	Save(ctx context.Context, path string, contentType string, body []byte) (string, error)
}

// NoopSnapshots discards bodies. The default when no bucket is configured.
type NoopSnapshots struct{}

// Save returns an empty URI without storing anything.
func (NoopSnapshots) Save(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
