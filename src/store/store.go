// Package store defines the staging store: a key/value buffer with per-entry
// expiry that holds an accepted batch between acceptance and confirmed publish.
//
// Expiry is a failsafe. Entries are normally removed by the gateway or the
// deferred worker once publish succeeds or is compensated.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store defines the interface for staging payloads.
// Implementations must be safe for concurrent use across different keys.
type Store interface {
	// Put stores value under key, replacing any previous value, until ttl elapses.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value under key without removing it.
	// Missing and expired entries both return ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Purge removes every expired entry and returns how many were removed.
	Purge(ctx context.Context) (int, error)

	// Close closes the store connection
	Close() error
}

// ErrNotFound is returned when a key is absent or has expired.
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("staged entry not found: %s", e.Key)
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
