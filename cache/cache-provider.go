package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a partitioned cache provider.
// It stores and retrieves []byte values, which represent HTTP responses,
// inside named partitions.
// Entries do not expire: they live until overwritten, purged,
// or until their partition is deleted.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Partitions returns the names of all existing partitions.
	Partitions() ([]string, error)
	// HasPartition checks if the named partition exists.
	HasPartition(name string) (bool, error)
	// OpenPartition creates the named partition if it does not exist yet.
	OpenPartition(name string) error
	// DeletePartition removes a partition and all of its entries.
	// It returns false if the partition did not exist.
	DeletePartition(name string) (bool, error)
	// Get returns the entry stored under key in the given partition.
	// The boolean is false if there is no such entry.
	Get(partition, key string) (CacheEntry, bool, error)
	// Put stores the entry in the partition, creating the partition if needed.
	// An existing entry with the same key is overwritten.
	Put(partition string, entry CacheEntry) error
	// Populate stores all entries of all given partitions atomically:
	// either everything is written (and the partitions exist) or nothing is.
	Populate(batch map[string][]CacheEntry) error
	// Purge removes the entry for the given key.
	Purge(partition, key string) error
	// Keys calls the given callback for each key in the partition.
	Keys(partition string, cb func(string)) error
	// Close releases the underlying resources.
	Close() error
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

var ErrNoPartition = errors.New("partition name empty")

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (*SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS partitions (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
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
			return nil, fmt.Errorf("init cache db: %w", err)
		}
	}
	return &SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteCache) Partitions() ([]string, error) {
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

func (s *SQLiteCache) HasPartition(name string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM partitions WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteCache) OpenPartition(name string) error {
	if name == "" {
		return ErrNoPartition
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)", name, time.Now().UnixNano())
	return err
}

func (s *SQLiteCache) DeletePartition(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	res, err := tx.Exec("DELETE FROM partitions WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec("DELETE FROM entries WHERE partition = ?", name); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteCache) Get(partition, key string) (CacheEntry, bool, error) {
	entry := CacheEntry{Key: key}
	var storedAt int64
	err := s.db.QueryRow(
		"SELECT stored_at, bytes FROM entries WHERE partition = ? AND key = ?",
		partition, key,
	).Scan(&storedAt, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}
	entry.StoredAt = time.Unix(0, storedAt)
	return entry, true, nil
}

func (s *SQLiteCache) Put(partition string, entry CacheEntry) error {
	return s.Populate(map[string][]CacheEntry{partition: {entry}})
}

func (s *SQLiteCache) Populate(batch map[string][]CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UnixNano()
	for partition, entries := range batch {
		if partition == "" {
			return ErrNoPartition
		}
		if _, err := tx.Exec("INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)", partition, now); err != nil {
			return err
		}
		for _, ce := range entries {
			_, err := tx.Exec(`INSERT OR REPLACE INTO entries
				(partition, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
				partition, ce.Key, ce.StoredAt.UnixNano(), ce.Bytes)
			if err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *SQLiteCache) Purge(partition, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM entries WHERE partition = ? AND key = ?", partition, key)
	return err
}

func (s *SQLiteCache) Keys(partition string, cb func(string)) error {
	rows, err := s.db.Query("SELECT key FROM entries WHERE partition = ? ORDER BY key", partition)
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

func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
