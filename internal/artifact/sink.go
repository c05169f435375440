// Package artifact persists rendered queries, manifests, and benchmark
// reports, either on the local filesystem or in object storage.
package artifact

import (
	"context"
)

// Sink abstracts where artifacts land. Paths are slash-separated and
// relative to the sink root.
type Sink interface {
	// Put writes one artifact, replacing any existing object
	Put(ctx context.Context, path string, data []byte) error

	// Get reads one artifact back
	Get(ctx context.Context, path string) ([]byte, error)

	// List returns all artifact paths under the given prefix
	List(ctx context.Context, prefix string) ([]string, error)
}
