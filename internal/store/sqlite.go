package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stellarlinkco/modclaw/internal/apperr"

	_ "modernc.org/sqlite"
)

const sqliteFileName = "state.db"

// SQLiteStore keeps every namespace in one kv table. Writes are buffered
// and committed together on Flush.
type SQLiteStore struct {
	db     *sql.DB
	report ErrorReporter

	mu      sync.Mutex
	pending map[string]map[string]json.RawMessage // nil value marks a delete
}

func NewSQLiteStore(dir string, report ErrorReporter) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, sqliteFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	if report == nil {
		report = logReporter
	}

	s := &SQLiteStore{
		db:      db,
		report:  report,
		pending: make(map[string]map[string]json.RawMessage),
	}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w: %w", p, apperr.ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (namespace, key)
	)`)
	if err != nil {
		return fmt.Errorf("create kv table: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ns, key string) (json.RawMessage, bool, error) {
	if err := validNamespace(ns); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[ns]; ok {
		if v, ok := p[key]; ok {
			return clone(v), v != nil, nil
		}
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE namespace = ? AND key = ?`, ns, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w: %w", ns, key, apperr.ErrStoreUnavailable, err)
	}
	if !json.Valid([]byte(value)) {
		s.report(ns, fmt.Errorf("corrupt value for key %s ignored", key))
		return nil, false, nil
	}
	return json.RawMessage(value), true, nil
}

func (s *SQLiteStore) Put(ns, key string, value json.RawMessage) error {
	if err := validNamespace(ns); err != nil {
		return err
	}
	compact, err := normalize(ns, key, value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage(ns)[key] = compact
	return nil
}

func (s *SQLiteStore) Delete(ns, key string) error {
	if err := validNamespace(ns); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage(ns)[key] = nil
	return nil
}

func (s *SQLiteStore) stage(ns string) map[string]json.RawMessage {
	p, ok := s.pending[ns]
	if !ok {
		p = make(map[string]json.RawMessage)
		s.pending[ns] = p
	}
	return p
}

func (s *SQLiteStore) LoadAll(ns string) (map[string]json.RawMessage, error) {
	if err := validNamespace(ns); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key, value FROM kv WHERE namespace = ?`, ns)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w: %w", ns, apperr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w: %w", ns, apperr.ErrStoreUnavailable, err)
		}
		if !json.Valid([]byte(value)) {
			s.report(ns, fmt.Errorf("corrupt value for key %s ignored", key))
			continue
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w: %w", ns, apperr.ErrStoreUnavailable, err)
	}

	for key, v := range s.pending[ns] {
		if v == nil {
			delete(out, key)
		} else {
			out[key] = clone(v)
		}
	}
	return out, nil
}

// Flush commits all buffered writes in one transaction. On failure the
// buffer is kept for the next attempt.
func (s *SQLiteStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.pending))
	for ns := range s.pending {
		names = append(names, ns)
	}
	return s.commit(names)
}

// FlushNamespace commits the writes buffered for ns and leaves the other
// namespaces buffered.
func (s *SQLiteStore) FlushNamespace(ns string) error {
	if err := validNamespace(ns); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit([]string{ns})
}

// Discard drops the writes buffered for ns.
func (s *SQLiteStore) Discard(ns string) {
	s.mu.Lock()
	delete(s.pending, ns)
	s.mu.Unlock()
}

// commit writes the pending entries of names in one transaction. Caller
// holds s.mu.
func (s *SQLiteStore) commit(names []string) error {
	empty := true
	for _, ns := range names {
		if len(s.pending[ns]) > 0 {
			empty = false
		}
	}
	if empty {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin flush: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	for _, ns := range names {
		for key, v := range s.pending[ns] {
			if v == nil {
				_, err = tx.Exec(`DELETE FROM kv WHERE namespace = ? AND key = ?`, ns, key)
			} else {
				_, err = tx.Exec(`INSERT INTO kv (namespace, key, value, updated_at)
					VALUES (?, ?, ?, datetime('now'))
					ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
					ns, key, string(v))
			}
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("flush %s/%s: %w: %w", ns, key, apperr.ErrStoreUnavailable, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	for _, ns := range names {
		delete(s.pending, ns)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	flushErr := s.Flush()
	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}
