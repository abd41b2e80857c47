package store

import (
	"database/sql"
	"errors"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/shohanonfire/payment-server/models"
)

// SQLiteStore keeps the mapping in a single SQLite table.
type SQLiteStore struct {
	// mu serializes writers so check-and-insert runs as one unit.
	mu sync.Mutex
	db *sql.DB
}

// NewSQLite opens (or creates) the SQLite database at dbPath and migrates it.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(1000)")
	if err != nil {
		return nil, storageErr("open", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, storageErr("open", err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			amount TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_expires_at ON records(expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load() (models.Mapping, error) {
	rows, err := s.db.Query("SELECT id, amount, created_at, expires_at FROM records")
	if err != nil {
		return nil, storageErr("load", err)
	}
	defer rows.Close()

	m := models.Mapping{}
	for rows.Next() {
		var id string
		var r models.Record
		if err := rows.Scan(&id, &r.Amount, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, storageErr("load", err)
		}
		m[id] = r
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("load", err)
	}
	return m, nil
}

func (s *SQLiteStore) Persist(m models.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("persist", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM records"); err != nil {
		return storageErr("persist", err)
	}
	for id, r := range m {
		if err := insertRow(tx, id, r); err != nil {
			return storageErr("persist", err)
		}
	}
	return storageErr("persist", tx.Commit())
}

func (s *SQLiteStore) Get(id string) (models.Record, error) {
	var r models.Record
	err := s.db.QueryRow(
		"SELECT amount, created_at, expires_at FROM records WHERE id = ?", id,
	).Scan(&r.Amount, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, ErrNotFound
	}
	if err != nil {
		return models.Record{}, storageErr("get", err)
	}
	return r, nil
}

func (s *SQLiteStore) Insert(id string, rec models.Record, next IDSource) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return "", storageErr("insert", err)
	}
	defer tx.Rollback() //nolint:errcheck

	chosen, err := pickID(id, next, func(k string) (bool, error) {
		var count int
		if err := tx.QueryRow("SELECT COUNT(*) FROM records WHERE id = ?", k).Scan(&count); err != nil {
			return false, storageErr("insert", err)
		}
		return count > 0, nil
	})
	if err != nil {
		return "", err
	}

	if err := insertRow(tx, chosen, rec); err != nil {
		return "", storageErr("insert", err)
	}
	if err := tx.Commit(); err != nil {
		return "", storageErr("insert", err)
	}
	return chosen, nil
}

func (s *SQLiteStore) PurgeExpired(before int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM records WHERE expires_at != 0 AND expires_at < ?", before)
	if err != nil {
		return 0, storageErr("purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("purge", err)
	}
	return int(n), nil
}

func insertRow(tx *sql.Tx, id string, r models.Record) error {
	_, err := tx.Exec(
		"INSERT INTO records (id, amount, created_at, expires_at) VALUES (?, ?, ?, ?)",
		id, r.Amount, r.CreatedAt, r.ExpiresAt,
	)
	return err
}
