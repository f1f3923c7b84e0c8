package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS partitions (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS cache (
			partition TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (partition, key)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("init cache db: %w", err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Open(partition string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return s.open(s.db, partition)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s SQLiteCache) open(db execer, partition string) error {
	_, err := db.Exec("INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)",
		partition, time.Now().Unix())
	return err
}

func (s SQLiteCache) Partitions() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM partitions ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) Get(partition, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow("SELECT bytes FROM cache WHERE partition = ? AND key = ?", partition, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(partition, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := s.open(tx, partition); err != nil {
		tx.Rollback()
		return err
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO cache
		(partition, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
		partition, key, time.Now().Unix(), bytes)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s SQLiteCache) Purge(partition, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE partition = ? AND key = ?", partition, key)
	return err
}

func (s SQLiteCache) Has(partition, key string) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM cache WHERE partition = ? AND key = ?", partition, key).Scan(&one)
	return err == nil
}

func (s SQLiteCache) Keys(partition string, cb func(string)) error {
	rows, err := s.db.Query("SELECT key FROM cache WHERE partition = ? ORDER BY key", partition)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}

func (s SQLiteCache) Delete(partition string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM cache WHERE partition = ?", partition); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("DELETE FROM partitions WHERE name = ?", partition); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
