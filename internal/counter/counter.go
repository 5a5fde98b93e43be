// Package counter counts messages per key and fires a reminder each time a
// threshold is reached, resetting the count in the same step.
package counter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/store"
)

const (
	NamespaceSuggestions   = "counters"
	NamespaceHelp          = "help_counters"
	NamespaceSuggestCreate = "suggest_counters"

	// GlobalKey is the single key used by server-wide counters.
	GlobalKey = "global"
)

type Rule struct {
	Threshold int
	Message   string
}

// Record is the persisted state of one counter.
type Record struct {
	ChannelID string `json:"channelId"`
	Count     int    `json:"count"`
}

type Result struct {
	Count      int
	Fired      bool
	Directives []bus.Directive
}

type Engine struct {
	store     store.Store
	namespace string
	rule      Rule

	mu sync.Mutex
}

func New(s store.Store, namespace string, rule Rule) (*Engine, error) {
	if rule.Threshold <= 0 {
		return nil, fmt.Errorf("counter %s threshold %d: %w", namespace, rule.Threshold, apperr.ErrInvalidInput)
	}
	return &Engine{store: s, namespace: namespace, rule: rule}, nil
}

func (e *Engine) Namespace() string { return e.namespace }

func (e *Engine) Threshold() int { return e.rule.Threshold }

// OnMessage counts one message in channelID; the reminder goes to the same
// channel.
func (e *Engine) OnMessage(channelID string) (Result, error) {
	return e.Increment(channelID, channelID)
}

// Increment counts one event under key. When the count reaches the
// threshold a reminder for target is emitted and the count returns to 0.
func (e *Engine) Increment(key, target string) (Result, error) {
	if key == "" {
		return Result{}, fmt.Errorf("counter key: %w", apperr.ErrInvalidInput)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.load(key)
	if err != nil {
		return Result{}, err
	}

	rec.Count++
	res := Result{Count: rec.Count}
	if rec.Count >= e.rule.Threshold {
		rec.Count = 0
		res.Fired = true
		res.Directives = []bus.Directive{{
			Kind:      bus.DirectiveSendMessage,
			ChannelID: target,
			Message:   bus.OutboundMessage{Content: e.rule.Message},
		}}
	}

	if err := store.Commit(e.store, e.namespace, key, rec); err != nil {
		return Result{}, fmt.Errorf("save counter %s/%s: %w", e.namespace, key, err)
	}
	return res, nil
}

// Get returns the persisted count for key, 0 when unseen.
func (e *Engine) Get(key string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, err := e.load(key)
	if err != nil {
		return 0, err
	}
	return rec.Count, nil
}

func (e *Engine) Reset(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := store.Commit(e.store, e.namespace, key, Record{ChannelID: key}); err != nil {
		return fmt.Errorf("reset counter %s/%s: %w", e.namespace, key, err)
	}
	return nil
}

// ResetAll zeroes every known counter and returns the keys touched.
func (e *Engine) ResetAll() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	all, err := e.store.LoadAll(e.namespace)
	if err != nil {
		return nil, fmt.Errorf("load counters %s: %w", e.namespace, err)
	}
	keys := make([]string, 0, len(all))
	for key := range all {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := store.PutJSON(e.store, e.namespace, key, Record{ChannelID: key}); err != nil {
			e.store.Discard(e.namespace)
			return nil, err
		}
	}
	if err := store.Persist(e.store, e.namespace); err != nil {
		return nil, fmt.Errorf("reset counters %s: %w", e.namespace, err)
	}
	return keys, nil
}

func (e *Engine) load(key string) (Record, error) {
	rec := Record{ChannelID: key}
	if _, err := store.GetJSON(e.store, e.namespace, key, &rec); err != nil {
		return Record{}, fmt.Errorf("load counter %s/%s: %w", e.namespace, key, err)
	}
	rec.ChannelID = key
	if rec.Count < 0 || rec.Count >= e.rule.Threshold {
		// Threshold lowered since the last run, or a hand-edited file.
		rec.Count = 0
	}
	return rec, nil
}
