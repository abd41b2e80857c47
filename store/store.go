// Package store provides the durable identifier → record mapping.
//
// Three single-file backends are available: BoltDB (the default), SQLite and
// a plain JSON document. Each one serializes its writers, so the
// load → check → insert sequence of Insert is atomic with respect to other
// Insert calls in the same process.
package store

import (
	"errors"
	"fmt"

	"github.com/shohanonfire/payment-server/models"
)

// MaxDraws bounds how many generated identifiers Insert tries before giving up.
const MaxDraws = 10

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a caller-supplied identifier is taken.
	ErrConflict = errors.New("id exists")

	// ErrExhaustedRetries is returned when MaxDraws generated identifiers
	// all collided with existing records.
	ErrExhaustedRetries = errors.New("no free identifier after retries")
)

// StorageError reports a failure of the underlying durable storage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IDSource produces candidate identifiers for records inserted without one.
type IDSource func() (string, error)

// Store is the record store.
type Store interface {
	// Load reads the full mapping. Missing storage yields an empty mapping.
	Load() (models.Mapping, error)

	// Persist replaces the full mapping atomically.
	Persist(m models.Mapping) error

	// Get returns the record for id or ErrNotFound.
	Get(id string) (models.Record, error)

	// Insert adds rec under id, or under a fresh identifier from next when id
	// is empty, and returns the identifier used. The record is durable
	// before Insert returns.
	Insert(id string, rec models.Record, next IDSource) (string, error)

	// PurgeExpired deletes records whose non-zero ExpiresAt is before the
	// given millisecond timestamp and returns how many were removed.
	PurgeExpired(before int64) (int, error)

	Close() error
}

// Drivers accepted by Open.
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

// Open returns the backend named by driver, backed by the file at path.
func Open(driver, path string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case DriverBolt, "":
		s, err = New(path)
	case DriverSQLite:
		s, err = NewSQLite(path)
	case DriverJSON:
		s, err = NewFile(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// pickID resolves the identifier for an insert. exists is consulted inside
// the caller's write section.
func pickID(id string, next IDSource, exists func(string) (bool, error)) (string, error) {
	if id != "" {
		taken, err := exists(id)
		if err != nil {
			return "", err
		}
		if taken {
			return "", ErrConflict
		}
		return id, nil
	}

	if next == nil {
		return "", errors.New("no identifier source")
	}
	for i := 0; i < MaxDraws; i++ {
		candidate, err := next()
		if err != nil {
			return "", fmt.Errorf("generate identifier: %w", err)
		}
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhaustedRetries
}

func expiredBefore(r models.Record, before int64) bool {
	return r.ExpiresAt != 0 && r.ExpiresAt < before
}
