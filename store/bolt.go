package store

import (
	"encoding/json"
	"errors"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/shohanonfire/payment-server/models"
)

const bucketName = "records"

// BoltStore keeps the mapping in a single BoltDB bucket. Keys are
// identifiers and values are JSON-encoded records.
//
// BoltDB allows one read-write transaction at a time, which gives Insert its
// check-and-put atomicity without any extra locking.
type BoltStore struct {
	db *bolt.DB
}

// New opens (or creates) a BoltDB database at the given path and ensures the
// records bucket exists.
func New(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, storageErr("open", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, storageErr("open", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load returns every record in the bucket.
func (s *BoltStore) Load() (models.Mapping, error) {
	m := models.Mapping{}

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.ForEach(func(k, v []byte) error {
			var r models.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			m[string(k)] = r
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("load", err)
	}
	return m, nil
}

// Persist drops the bucket and rewrites it from m in one transaction.
func (s *BoltStore) Persist(m models.Mapping) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket([]byte(bucketName))
		if err != nil {
			return err
		}
		for id, r := range m {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
	return storageErr("persist", err)
}

// Get retrieves a single record by identifier.
func (s *BoltStore) Get(id string) (models.Record, error) {
	var r models.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &r)
	})
	if errors.Is(err, ErrNotFound) {
		return models.Record{}, ErrNotFound
	}
	if err != nil {
		return models.Record{}, storageErr("get", err)
	}
	return r, nil
}

// Insert stores rec under id (or a drawn identifier) only if the key is free.
// A duplicate key is a conflict, not a replay: the stored record is left
// untouched and ErrConflict is returned.
func (s *BoltStore) Insert(id string, rec models.Record, next IDSource) (string, error) {
	var chosen string

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		var err error
		chosen, err = pickID(id, next, func(k string) (bool, error) {
			return b.Get([]byte(k)) != nil, nil
		})
		if err != nil {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(chosen), data)
	})
	switch {
	case err == nil:
		return chosen, nil
	case errors.Is(err, ErrConflict), errors.Is(err, ErrExhaustedRetries):
		return "", err
	default:
		return "", storageErr("insert", err)
	}
}

// PurgeExpired deletes records that expired before the cutoff.
func (s *BoltStore) PurgeExpired(before int64) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		// Deleting while iterating a bolt cursor skips keys, so collect first.
		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var r models.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if expiredBefore(r, before) {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(doomed)
		return nil
	})
	if err != nil {
		return 0, storageErr("purge", err)
	}
	return removed, nil
}
