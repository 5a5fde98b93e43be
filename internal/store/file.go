package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stellarlinkco/modclaw/internal/apperr"
)

// FileStore keeps one JSON object per namespace at <dir>/<ns>.json.
type FileStore struct {
	dir    string
	report ErrorReporter

	mu         sync.Mutex
	namespaces map[string]*namespace
}

// namespace holds what is on disk in data and the writes not yet flushed
// in staged, where a nil value marks a delete.
type namespace struct {
	mu     sync.Mutex
	loaded bool
	data   map[string]json.RawMessage
	staged map[string]json.RawMessage
}

func (n *namespace) stage(key string, value json.RawMessage) {
	if n.staged == nil {
		n.staged = make(map[string]json.RawMessage)
	}
	n.staged[key] = value
}

// merged returns data with the staged writes applied.
func (n *namespace) merged() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(n.data)+len(n.staged))
	for k, v := range n.data {
		out[k] = v
	}
	for k, v := range n.staged {
		if v == nil {
			delete(out, k)
		} else {
			out[k] = v
		}
	}
	return out
}

func NewFileStore(dir string, report ErrorReporter) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	if report == nil {
		report = logReporter
	}
	return &FileStore{
		dir:        dir,
		report:     report,
		namespaces: make(map[string]*namespace),
	}, nil
}

func (s *FileStore) path(ns string) string {
	return filepath.Join(s.dir, ns+".json")
}

// open returns the namespace with its lock held, loading it on first use.
func (s *FileStore) open(ns string) (*namespace, error) {
	if err := validNamespace(ns); err != nil {
		return nil, err
	}
	s.mu.Lock()
	n, ok := s.namespaces[ns]
	if !ok {
		n = &namespace{}
		s.namespaces[ns] = n
	}
	s.mu.Unlock()

	n.mu.Lock()
	if !n.loaded {
		n.data = s.load(ns)
		n.loaded = true
	}
	return n, nil
}

func (s *FileStore) load(ns string) map[string]json.RawMessage {
	data := make(map[string]json.RawMessage)
	raw, err := os.ReadFile(s.path(ns))
	if err != nil {
		if !os.IsNotExist(err) {
			s.report(ns, fmt.Errorf("read: %w", err))
		}
		return data
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return data
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		s.report(ns, fmt.Errorf("corrupt file treated as empty: %w", err))
		return make(map[string]json.RawMessage)
	}
	for key, value := range data {
		compact, err := normalize(ns, key, value)
		if err != nil {
			s.report(ns, err)
			delete(data, key)
			continue
		}
		data[key] = compact
	}
	return data
}

func (s *FileStore) Get(ns, key string) (json.RawMessage, bool, error) {
	n, err := s.open(ns)
	if err != nil {
		return nil, false, err
	}
	defer n.mu.Unlock()
	if v, ok := n.staged[key]; ok {
		return clone(v), v != nil, nil
	}
	v, ok := n.data[key]
	return clone(v), ok, nil
}

func (s *FileStore) Put(ns, key string, value json.RawMessage) error {
	compact, err := normalize(ns, key, value)
	if err != nil {
		return err
	}
	n, err := s.open(ns)
	if err != nil {
		return err
	}
	defer n.mu.Unlock()
	n.stage(key, compact)
	return nil
}

func (s *FileStore) Delete(ns, key string) error {
	n, err := s.open(ns)
	if err != nil {
		return err
	}
	defer n.mu.Unlock()
	n.stage(key, nil)
	return nil
}

func (s *FileStore) LoadAll(ns string) (map[string]json.RawMessage, error) {
	n, err := s.open(ns)
	if err != nil {
		return nil, err
	}
	defer n.mu.Unlock()
	out := n.merged()
	for k, v := range out {
		out[k] = clone(v)
	}
	return out, nil
}

// Flush rewrites every namespace with staged writes. A namespace that
// fails keeps them and is retried on the next Flush.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	names := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		names = append(names, ns)
	}
	s.mu.Unlock()

	var firstErr error
	for _, ns := range names {
		if err := s.FlushNamespace(ns); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FlushNamespace rewrites ns alone. Readers see the new content only once
// the file has been replaced.
func (s *FileStore) FlushNamespace(ns string) error {
	n, err := s.open(ns)
	if err != nil {
		return err
	}
	defer n.mu.Unlock()
	if len(n.staged) == 0 {
		return nil
	}

	next := n.merged()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(next); err != nil {
		return fmt.Errorf("encode namespace %s: %w", ns, err)
	}
	if err := WriteFileAtomic(s.path(ns), buf.Bytes()); err != nil {
		return fmt.Errorf("persist namespace %s: %w: %w", ns, apperr.ErrStoreUnavailable, err)
	}
	n.data = next
	n.staged = nil
	return nil
}

// Discard drops the writes staged in ns since its last flush.
func (s *FileStore) Discard(ns string) {
	s.mu.Lock()
	n, ok := s.namespaces[ns]
	s.mu.Unlock()
	if !ok {
		return
	}
	n.mu.Lock()
	n.staged = nil
	n.mu.Unlock()
}

func (s *FileStore) Close() error {
	return s.Flush()
}

// WriteFileAtomic replaces path with data through a synced temp file in the
// same directory and a rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
