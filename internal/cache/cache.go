// Package cache persists one converted calendar document per source.
// A Store write happens only after a complete, successful fetch-and-
// convert cycle; readers either see the previous complete document or
// the new one, never a partial write.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no document exists for a key.
// Callers check it to distinguish "not ready yet" from real failures.
var ErrNotFound = errors.New("cache: entry not found")

// Store is the minimal contract the serve and refresh layers need:
// read a document plus its freshness signal, write one atomically.
type Store interface {
	// Get returns the document and the time it was last written.
	// ErrNotFound when the key has never been written.
	Get(ctx context.Context, key string) ([]byte, time.Time, error)
	// Set overwrites the document for key. The write is atomic from a
	// concurrent reader's perspective; racing writers are tolerated
	// (last write wins).
	Set(ctx context.Context, key string, data []byte) error
}
