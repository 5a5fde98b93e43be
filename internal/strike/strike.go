// Package strike keeps the per-user strike ledger and decides when a
// severity limit is crossed.
package strike

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/store"
)

const Namespace = "strikes"

// RecentLimit is how many strikes a Check snapshot lists.
const RecentLimit = 5

type Severity string

const (
	Minor    Severity = "minor"
	Moderate Severity = "moderate"
	Severe   Severity = "severe"
)

var Severities = []Severity{Minor, Moderate, Severe}

// ParseSeverity accepts the English names and the Spanish command choices.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minor", "leve":
		return Minor, nil
	case "moderate", "moderado":
		return Moderate, nil
	case "severe", "grave":
		return Severe, nil
	}
	return "", fmt.Errorf("unknown severity %q: %w", s, apperr.ErrInvalidInput)
}

// Label is the Spanish display name.
func (s Severity) Label() string {
	switch s {
	case Minor:
		return "Leve"
	case Moderate:
		return "Moderado"
	case Severe:
		return "Grave"
	}
	return string(s)
}

func (s Severity) Emoji() string {
	switch s {
	case Minor:
		return "🟢"
	case Moderate:
		return "🟡"
	case Severe:
		return "🔴"
	}
	return "⚪"
}

type Strike struct {
	Severity   Severity  `json:"severity"`
	Timestamp  time.Time `json:"timestamp"`
	IssuerID   string    `json:"issuerId"`
	IssuerName string    `json:"issuerName"`
	Reason     string    `json:"reason"`
}

type Record struct {
	UserID  string   `json:"userId"`
	Strikes []Strike `json:"strikes"`
}

type Counts map[Severity]int

func (r Record) Counts() Counts {
	c := Counts{Minor: 0, Moderate: 0, Severe: 0}
	for _, s := range r.Strikes {
		c[s.Severity]++
	}
	return c
}

type Level int

const (
	LevelOK Level = iota
	LevelWarning
	LevelLimit
)

type Status struct {
	Level   Level
	Message string
}

type Issuer struct {
	ID   string
	Name string
}

type Options struct {
	Limits   map[string]int
	Warnings map[string]int
	// Escalation is "warn" (status only) or "ban".
	Escalation string
}

type AddResult struct {
	Strike     Strike
	Count      int
	Counts     Counts
	Escalated  bool
	Status     Status
	Directives []bus.Directive
}

type RemoveResult struct {
	Removed Strike
	Count   int
	Counts  Counts
}

type Snapshot struct {
	Record Record
	Counts Counts
	Status Status
	// Recent holds up to RecentLimit strikes, newest first.
	Recent []Strike
}

type Engine struct {
	store      store.Store
	limits     map[Severity]int
	warnings   map[Severity]int
	escalation string
	now        func() time.Time

	mu sync.Mutex
}

func New(s store.Store, opts Options) (*Engine, error) {
	e := &Engine{
		store:      s,
		limits:     make(map[Severity]int),
		warnings:   make(map[Severity]int),
		escalation: opts.Escalation,
		now:        time.Now,
	}
	for name, limit := range opts.Limits {
		sev, err := ParseSeverity(name)
		if err != nil {
			return nil, fmt.Errorf("strike limits: %w", err)
		}
		if limit <= 0 {
			return nil, fmt.Errorf("strike limit %s = %d: %w", sev, limit, apperr.ErrInvalidInput)
		}
		e.limits[sev] = limit
	}
	for name, n := range opts.Warnings {
		sev, err := ParseSeverity(name)
		if err != nil {
			return nil, fmt.Errorf("strike warnings: %w", err)
		}
		e.warnings[sev] = n
	}
	return e, nil
}

func (e *Engine) Limit(sev Severity) int { return e.limits[sev] }

func (e *Engine) Add(userID string, sev Severity, issuer Issuer, reason string) (AddResult, error) {
	if userID == "" {
		return AddResult{}, fmt.Errorf("strike add: missing user: %w", apperr.ErrInvalidInput)
	}
	if _, err := ParseSeverity(string(sev)); err != nil {
		return AddResult{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return AddResult{}, fmt.Errorf("strike add: missing reason: %w", apperr.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, _, err := e.load(userID)
	if err != nil {
		return AddResult{}, err
	}
	s := Strike{
		Severity:   sev,
		Timestamp:  e.now().UTC(),
		IssuerID:   issuer.ID,
		IssuerName: issuer.Name,
		Reason:     reason,
	}
	rec.Strikes = append(rec.Strikes, s)
	if err := e.save(rec); err != nil {
		return AddResult{}, err
	}

	counts := rec.Counts()
	res := AddResult{
		Strike: s,
		Count:  counts[sev],
		Counts: counts,
		Status: e.status(counts),
	}
	if limit, ok := e.limits[sev]; ok && counts[sev] == limit {
		res.Escalated = true
		if e.escalation == "ban" {
			res.Directives = append(res.Directives, bus.Directive{
				Kind:   bus.DirectiveBan,
				UserID: userID,
				Reason: fmt.Sprintf("Límite de strikes %s alcanzado (%d)", strings.ToLower(sev.Label()), limit),
			})
		}
	}
	return res, nil
}

// Remove drops the most recent strike of sev, or the most recent strike of
// any severity when sev is empty.
func (e *Engine) Remove(userID string, sev Severity) (RemoveResult, error) {
	if sev != "" {
		if _, err := ParseSeverity(string(sev)); err != nil {
			return RemoveResult{}, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, _, err := e.load(userID)
	if err != nil {
		return RemoveResult{}, err
	}
	idx := -1
	for i := len(rec.Strikes) - 1; i >= 0; i-- {
		if sev == "" || rec.Strikes[i].Severity == sev {
			idx = i
			break
		}
	}
	if idx < 0 {
		return RemoveResult{}, fmt.Errorf("no strikes to remove for %s: %w", userID, apperr.ErrNotFound)
	}

	removed := rec.Strikes[idx]
	rec.Strikes = append(rec.Strikes[:idx], rec.Strikes[idx+1:]...)
	if err := e.save(rec); err != nil {
		return RemoveResult{}, err
	}
	counts := rec.Counts()
	return RemoveResult{Removed: removed, Count: counts[removed.Severity], Counts: counts}, nil
}

func (e *Engine) Check(userID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, _, err := e.load(userID)
	if err != nil {
		return Snapshot{}, err
	}
	counts := rec.Counts()
	snap := Snapshot{Record: rec, Counts: counts, Status: e.status(counts)}
	for i := len(rec.Strikes) - 1; i >= 0 && len(snap.Recent) < RecentLimit; i-- {
		snap.Recent = append(snap.Recent, rec.Strikes[i])
	}
	return snap, nil
}

// Clear deletes a user's whole record and returns how many strikes it held.
func (e *Engine) Clear(userID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, found, err := e.load(userID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("no strike record for %s: %w", userID, apperr.ErrNotFound)
	}
	if err := e.store.Delete(Namespace, userID); err != nil {
		return 0, fmt.Errorf("clear strikes %s: %w", userID, err)
	}
	if err := store.Persist(e.store, Namespace); err != nil {
		return 0, fmt.Errorf("clear strikes %s: %w", userID, err)
	}
	return len(rec.Strikes), nil
}

// status mirrors the moderation handbook: a reached limit outranks any
// warning, and severe outranks the others.
func (e *Engine) status(c Counts) Status {
	for _, sev := range []Severity{Severe, Minor, Moderate} {
		if limit, ok := e.limits[sev]; ok && c[sev] >= limit {
			msg := fmt.Sprintf("🚨 **POSIBLE DESPIDO** (%d+ strikes %s)", limit, pluralLabel(sev))
			if sev == Severe {
				msg = fmt.Sprintf("🚨 **POSIBLE DESPIDO DIRECTO** (%d+ strikes %s)", limit, pluralLabel(sev))
			}
			return Status{Level: LevelLimit, Message: msg}
		}
	}
	for _, sev := range []Severity{Minor, Moderate, Severe} {
		if n, ok := e.warnings[sev]; ok && n > 0 && c[sev] >= n {
			return Status{
				Level:   LevelWarning,
				Message: fmt.Sprintf("⚠️ **ADVERTENCIA** (%d+ strikes %s)", n, pluralLabel(sev)),
			}
		}
	}
	return Status{Level: LevelOK, Message: "Dentro de los límites"}
}

func pluralLabel(sev Severity) string {
	switch sev {
	case Minor:
		return "leves"
	case Moderate:
		return "moderados"
	case Severe:
		return "graves"
	}
	return string(sev)
}

func (e *Engine) load(userID string) (Record, bool, error) {
	rec := Record{UserID: userID}
	found, err := store.GetJSON(e.store, Namespace, userID, &rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("load strikes %s: %w", userID, err)
	}
	rec.UserID = userID
	return rec, found && len(rec.Strikes) > 0, nil
}

func (e *Engine) save(rec Record) error {
	if err := store.Commit(e.store, Namespace, rec.UserID, rec); err != nil {
		return fmt.Errorf("save strikes %s: %w", rec.UserID, err)
	}
	return nil
}
