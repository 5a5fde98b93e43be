// Package store keeps namespaced JSON documents with durable backing.
//
// Each engine owns one or more namespaces; nothing writes across them.
// Mutations are staged in memory until the namespace is flushed, which
// rewrites it in full. A failed flush can be undone with Discard so that no
// reader sees a write that never reached disk.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/stellarlinkco/modclaw/internal/apperr"
)

type Store interface {
	Get(ns, key string) (json.RawMessage, bool, error)
	Put(ns, key string, value json.RawMessage) error
	Delete(ns, key string) error
	LoadAll(ns string) (map[string]json.RawMessage, error)
	// Flush persists every namespace with staged writes.
	Flush() error
	FlushNamespace(ns string) error
	Discard(ns string)
	Close() error
}

// ErrorReporter receives problems the store recovers from on its own, such
// as a corrupt namespace file that is treated as empty.
type ErrorReporter func(ns string, err error)

func logReporter(ns string, err error) {
	log.Printf("[store] namespace %s: %v", ns, err)
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the backend named by backend rooted at dataDir.
func Open(backend, dataDir string, report ErrorReporter) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(dataDir, report)
	case BackendSQLite:
		return NewSQLiteStore(dataDir, report)
	default:
		return nil, fmt.Errorf("unknown store backend %q: %w", backend, apperr.ErrInvalidInput)
	}
}

// GetJSON decodes the value at ns/key into v.
func GetJSON(s Store, ns, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ns, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", ns, key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it at ns/key.
func PutJSON(s Store, ns, key string, v any) error {
	raw, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", ns, key, err)
	}
	return s.Put(ns, key, raw)
}

// Commit stores v at ns/key and persists ns, so an engine's transition is
// durable once it returns. On failure the write is discarded.
func Commit(s Store, ns, key string, v any) error {
	if err := PutJSON(s, ns, key, v); err != nil {
		return err
	}
	return Persist(s, ns)
}

// Persist flushes ns alone. When that fails every write staged in ns is
// dropped and the namespace reads as it was last saved.
func Persist(s Store, ns string) error {
	if err := s.FlushNamespace(ns); err != nil {
		s.Discard(ns)
		return err
	}
	return nil
}

// encode marshals without HTML escaping; mentions like <@123> stay readable
// on disk.
func encode(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// normalize validates value and returns its compact form. Stored values are
// always compact, so what Get returns matches what was read back from disk.
func normalize(ns, key string, value json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(value) {
		return nil, fmt.Errorf("value for %s/%s is not valid JSON: %w", ns, key, apperr.ErrInvalidInput)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return nil, fmt.Errorf("compact %s/%s: %w", ns, key, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

func validNamespace(ns string) error {
	if ns == "" || strings.ContainsAny(ns, `/\.`) {
		return fmt.Errorf("namespace %q: %w", ns, apperr.ErrInvalidInput)
	}
	return nil
}

func clone(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
