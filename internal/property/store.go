// Package property is the flat key/value persistence layer shared by bindings,
// sessions, the subscription ledger and ingest cursors. Every value carries a
// version token so read-modify-write callers can detect lost updates.
package property

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key has never been written or was deleted.
	ErrNotFound = errors.New("property: not found")
	// ErrVersionConflict is returned by Put when the stored version differs from the expected one.
	ErrVersionConflict = errors.New("property: version conflict")
)

// Item is a stored value together with its version token.
type Item struct {
	Key     string `db:"prop_key"`
	Value   string `db:"prop_value"`
	Version int64  `db:"version"`
}

// Store is implemented by every property backend.
type Store interface {
	// Get returns the current item or ErrNotFound.
	Get(ctx context.Context, key string) (Item, error)
	// Put writes value only if the stored version equals expected.
	// expected == 0 means the key must not exist yet. It returns the new version.
	Put(ctx context.Context, key, value string, expected int64) (int64, error)
	// Set writes value unconditionally.
	Set(ctx context.Context, key, value string) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
