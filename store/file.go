package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/shohanonfire/payment-server/models"
)

// FileStore keeps the mapping as one indented JSON document:
//
//	{"<id>": {"amount": "10.00", "createdAt": 1700000000000, "expiresAt": 1700001800000}}
//
// The whole document is rewritten on every mutation. Writes go to a
// temporary file that is renamed over the target, so a crash never leaves a
// half-written document behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a store backed by the JSON document at path. The file is
// not created until the first write.
func NewFile(path string) (*FileStore, error) {
	return &FileStore{path: path}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) Load() (models.Mapping, error) {
	return s.read()
}

func (s *FileStore) Persist(m models.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(m)
}

func (s *FileStore) Get(id string) (models.Record, error) {
	m, err := s.read()
	if err != nil {
		return models.Record{}, err
	}
	r, ok := m[id]
	if !ok {
		return models.Record{}, ErrNotFound
	}
	return r, nil
}

func (s *FileStore) Insert(id string, rec models.Record, next IDSource) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return "", err
	}

	chosen, err := pickID(id, next, func(k string) (bool, error) {
		_, ok := m[k]
		return ok, nil
	})
	if err != nil {
		return "", err
	}

	m[chosen] = rec
	if err := s.write(m); err != nil {
		return "", err
	}
	return chosen, nil
}

func (s *FileStore) PurgeExpired(before int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return 0, err
	}
	removed := 0
	for id, r := range m {
		if expiredBefore(r, before) {
			delete(m, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.write(m); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *FileStore) read() (models.Mapping, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Mapping{}, nil
	}
	if err != nil {
		return nil, storageErr("load", err)
	}

	m := models.Mapping{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, storageErr("load", err)
	}
	if m == nil {
		m = models.Mapping{}
	}
	return m, nil
}

func (s *FileStore) write(m models.Mapping) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return storageErr("persist", err)
	}
	return storageErr("persist", renameio.WriteFile(s.path, data, 0o600))
}
