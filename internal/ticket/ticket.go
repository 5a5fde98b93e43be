// Package ticket runs the private support channel lifecycle: open, add
// participants, close with a transcript.
package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/permission"
	"github.com/stellarlinkco/modclaw/internal/store"
)

const (
	Namespace = "tickets"

	// sequenceKey holds the last issued ticket number. Ticket IDs are
	// numeric so it can never collide with one.
	sequenceKey = "_sequence"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
	// StatusAborted marks a ticket whose channel was never set up.
	StatusAborted Status = "aborted"
)

type Transcript struct {
	Lines []string `json:"lines"`
	Text  string   `json:"text"`
}

type Ticket struct {
	ID             string      `json:"id"`
	Number         int         `json:"number"`
	CreatorID      string      `json:"creatorId"`
	CreatorName    string      `json:"creatorName"`
	Reason         string      `json:"reason"`
	Status         Status      `json:"status"`
	ChannelID      string      `json:"channelId,omitempty"`
	ParticipantIDs []string    `json:"participantIds,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	ClosedAt       *time.Time  `json:"closedAt,omitempty"`
	ClosedBy       string      `json:"closedBy,omitempty"`
	ClosedByName   string      `json:"closedByName,omitempty"`
	Transcript     *Transcript `json:"transcript,omitempty"`
}

func (t Ticket) HasParticipant(userID string) bool {
	for _, id := range t.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Actor is whoever triggered an operation, with the roles the policy
// evaluates.
type Actor struct {
	ID    string
	Name  string
	Roles []string
}

// HistoryFetcher returns a channel's full message history, oldest first.
type HistoryFetcher interface {
	FetchMessageHistory(ctx context.Context, channelID string) ([]bus.HistoryMessage, error)
}

type Options struct {
	ChannelPrefix     string
	DefaultReason     string
	TranscriptChannel string
	CloseDelay        time.Duration
	// Policy also names the roles let into every ticket channel: those
	// that may manage tickets.
	Policy  *permission.Policy
	History HistoryFetcher
}

type CreateResult struct {
	Ticket Ticket
	// Channel creates the ticket channel; its ID goes back through
	// BindChannel.
	Channel bus.Directive
}

type Result struct {
	Ticket     Ticket
	Directives []bus.Directive
}

type Engine struct {
	store store.Store
	opts  Options
	now   func() time.Time

	mu sync.Mutex
}

func New(s store.Store, opts Options) *Engine {
	return &Engine{store: s, opts: opts, now: time.Now}
}

// SetTranscriptChannel replaces the channel transcripts are posted to,
// once the gateway has resolved it.
func (e *Engine) SetTranscriptChannel(channelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.TranscriptChannel = channelID
}

func (e *Engine) TranscriptChannel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.TranscriptChannel
}

func (e *Engine) Create(creator Actor, reason string) (CreateResult, error) {
	if creator.ID == "" {
		return CreateResult{}, fmt.Errorf("ticket creator is required: %w", apperr.ErrInvalidInput)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = e.opts.DefaultReason
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	number, err := e.nextNumber()
	if err != nil {
		return CreateResult{}, err
	}
	t := Ticket{
		ID:          FormatNumber(number),
		Number:      number,
		CreatorID:   creator.ID,
		CreatorName: creator.Name,
		Reason:      reason,
		Status:      StatusOpen,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.save(t); err != nil {
		return CreateResult{}, err
	}

	return CreateResult{
		Ticket: t,
		Channel: bus.Directive{
			Kind: bus.DirectiveCreateChannel,
			Channel: &bus.ChannelSpec{
				Name:      e.opts.ChannelPrefix + t.ID,
				Topic:     fmt.Sprintf("Ticket #%s - Creado por %s", t.ID, creator.Name),
				Position:  0,
				Overrides: e.channelOverrides(creator.ID),
			},
		},
	}, nil
}

func (e *Engine) channelOverrides(creatorID string) []bus.PermissionOverride {
	member := []bus.Permission{bus.PermView, bus.PermSend, bus.PermReadHistory}
	staff := []bus.Permission{bus.PermView, bus.PermSend, bus.PermManageChannels, bus.PermReadHistory}

	out := []bus.PermissionOverride{
		{Target: bus.TargetEveryone, Deny: []bus.Permission{bus.PermView}},
		{Target: bus.TargetMember, ID: creatorID, Allow: member},
		{Target: bus.TargetSelf, Allow: staff},
	}
	for _, role := range e.opts.Policy.Roles(permission.TicketManage) {
		out = append(out, bus.PermissionOverride{Target: bus.TargetRole, ID: role, Allow: staff})
	}
	return out
}

// BindChannel records the channel created for ticket id and returns the
// welcome message for it.
func (e *Engine) BindChannel(id, channelID string) (Result, error) {
	if channelID == "" {
		return Result{}, fmt.Errorf("ticket %s channel is empty: %w", id, apperr.ErrInvalidInput)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.load(id)
	if err != nil {
		return Result{}, err
	}
	if t.Status != StatusOpen {
		return Result{}, fmt.Errorf("ticket %s is %s: %w", id, t.Status, apperr.ErrInvalidState)
	}
	if t.ChannelID != "" && t.ChannelID != channelID {
		return Result{}, fmt.Errorf("ticket %s already bound to %s: %w", id, t.ChannelID, apperr.ErrInvalidState)
	}
	t.ChannelID = channelID
	if err := e.save(t); err != nil {
		return Result{}, err
	}
	return Result{
		Ticket: t,
		Directives: []bus.Directive{{
			Kind:      bus.DirectiveSendMessage,
			ChannelID: channelID,
			Message:   bus.OutboundMessage{Embed: welcomeEmbed(t)},
		}},
	}, nil
}

// Abort retires an open ticket whose channel could not be created or
// bound, so no open ticket is left without a channel.
func (e *Engine) Abort(id string) (Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.load(id)
	if err != nil {
		return Ticket{}, err
	}
	if t.Status != StatusOpen {
		return Ticket{}, fmt.Errorf("ticket %s is %s: %w", id, t.Status, apperr.ErrInvalidState)
	}
	at := e.now().UTC()
	t.Status = StatusAborted
	t.ClosedAt = &at
	t.ChannelID = ""
	if err := e.save(t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

func (e *Engine) Get(id string) (Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load(id)
}

// ByChannel finds the ticket bound to channelID.
func (e *Engine) ByChannel(channelID string) (Ticket, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byChannel(channelID)
}

func (e *Engine) byChannel(channelID string) (Ticket, bool, error) {
	if channelID == "" {
		return Ticket{}, false, nil
	}
	all, err := e.all()
	if err != nil {
		return Ticket{}, false, err
	}
	for _, t := range all {
		if t.ChannelID == channelID {
			return t, true, nil
		}
	}
	return Ticket{}, false, nil
}

// List returns every ticket ordered by number.
func (e *Engine) List() ([]Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.all()
}

func (e *Engine) AddParticipant(id string, actor Actor, userID string) (Result, error) {
	if !e.opts.Policy.IsAuthorized(actor.Roles, permission.TicketManage) {
		return Result{}, fmt.Errorf("%s cannot add participants: %w", actor.ID, apperr.ErrUnauthorized)
	}
	if userID == "" {
		return Result{}, fmt.Errorf("participant is required: %w", apperr.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.load(id)
	if err != nil {
		return Result{}, err
	}
	if t.Status != StatusOpen {
		return Result{}, fmt.Errorf("ticket %s is %s: %w", id, t.Status, apperr.ErrInvalidState)
	}
	if !t.HasParticipant(userID) && userID != t.CreatorID {
		t.ParticipantIDs = append(t.ParticipantIDs, userID)
		if err := e.save(t); err != nil {
			return Result{}, err
		}
	}
	return Result{
		Ticket: t,
		Directives: []bus.Directive{{
			Kind:      bus.DirectiveSetPermissions,
			ChannelID: t.ChannelID,
			Overrides: []bus.PermissionOverride{{
				Target: bus.TargetMember,
				ID:     userID,
				Allow:  []bus.Permission{bus.PermView, bus.PermSend, bus.PermReadHistory},
			}},
		}},
	}, nil
}

// Close captures the channel transcript and makes the ticket terminal.
// When the history cannot be fetched the ticket stays open.
func (e *Engine) Close(ctx context.Context, id string, actor Actor) (Result, error) {
	if !e.opts.Policy.IsAuthorized(actor.Roles, permission.TicketManage) {
		return Result{}, fmt.Errorf("%s cannot close tickets: %w", actor.ID, apperr.ErrUnauthorized)
	}

	e.mu.Lock()
	t, err := e.load(id)
	e.mu.Unlock()
	if err != nil {
		return Result{}, err
	}
	if t.Status != StatusOpen {
		return Result{}, fmt.Errorf("ticket %s is already %s: %w", id, t.Status, apperr.ErrInvalidState)
	}

	var history []bus.HistoryMessage
	if t.ChannelID != "" && e.opts.History != nil {
		history, err = e.opts.History.FetchMessageHistory(ctx, t.ChannelID)
		if err != nil {
			return Result{}, fmt.Errorf("fetch history for ticket %s: %w", id, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Re-read: another close may have won while history was fetched.
	t, err = e.load(id)
	if err != nil {
		return Result{}, err
	}
	if t.Status != StatusOpen {
		return Result{}, fmt.Errorf("ticket %s is already %s: %w", id, t.Status, apperr.ErrInvalidState)
	}

	closedAt := e.now().UTC()
	t.Status = StatusClosed
	t.ClosedAt = &closedAt
	t.ClosedBy = actor.ID
	t.ClosedByName = actor.Name
	tr := buildTranscript(t, history)
	t.Transcript = &tr
	if err := e.save(t); err != nil {
		return Result{}, err
	}

	var out []bus.Directive
	if ch := e.opts.TranscriptChannel; ch != "" {
		out = append(out, bus.Directive{
			Kind:      bus.DirectiveSendMessage,
			ChannelID: ch,
			Message: bus.OutboundMessage{
				Embed: transcriptEmbed(t),
				File: &bus.File{
					Name:        TranscriptFileName(t),
					ContentType: "text/plain; charset=utf-8",
					Data:        []byte(tr.Text),
				},
			},
		})
	} else {
		log.Printf("[ticket] no transcript channel, transcript for #%s kept in store only", t.ID)
	}
	if t.ChannelID != "" {
		out = append(out, bus.Directive{
			Kind:      bus.DirectiveDeleteChannel,
			ChannelID: t.ChannelID,
			Reason:    fmt.Sprintf("Ticket cerrado por %s", actor.Name),
			Delay:     e.opts.CloseDelay,
		})
	}
	return Result{Ticket: t, Directives: out}, nil
}

// CanPost reports whether channelID belongs to a ticket and, if so,
// whether actor may write in it. Only the creator and staff may post while
// the ticket is open; added participants can read along.
func (e *Engine) CanPost(channelID string, actor Actor) (isTicket, allowed bool, err error) {
	e.mu.Lock()
	t, found, err := e.byChannel(channelID)
	e.mu.Unlock()
	if err != nil || !found {
		return false, false, err
	}
	if e.opts.Policy.IsAuthorized(actor.Roles, permission.RestrictedPost) {
		return true, true, nil
	}
	return true, t.Status == StatusOpen && actor.ID == t.CreatorID, nil
}

func FormatNumber(n int) string {
	return fmt.Sprintf("%04d", n)
}

// ParseID accepts "7", "0007" or "#0007".
func ParseID(s string) (string, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if err != nil || n <= 0 {
		return "", fmt.Errorf("ticket id %q: %w", s, apperr.ErrInvalidInput)
	}
	return FormatNumber(n), nil
}

type sequence struct {
	Last int `json:"last"`
}

func (e *Engine) nextNumber() (int, error) {
	var seq sequence
	if _, err := store.GetJSON(e.store, Namespace, sequenceKey, &seq); err != nil {
		return 0, fmt.Errorf("load ticket sequence: %w", err)
	}
	seq.Last++
	if err := store.PutJSON(e.store, Namespace, sequenceKey, seq); err != nil {
		return 0, fmt.Errorf("save ticket sequence: %w", err)
	}
	return seq.Last, nil
}

func (e *Engine) load(id string) (Ticket, error) {
	var t Ticket
	found, err := store.GetJSON(e.store, Namespace, id, &t)
	if err != nil {
		return Ticket{}, fmt.Errorf("load ticket %s: %w", id, err)
	}
	if !found || id == sequenceKey {
		return Ticket{}, fmt.Errorf("ticket %s: %w", id, apperr.ErrNotFound)
	}
	return t, nil
}

func (e *Engine) all() ([]Ticket, error) {
	raw, err := e.store.LoadAll(Namespace)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	out := make([]Ticket, 0, len(raw))
	for key, value := range raw {
		if key == sequenceKey {
			continue
		}
		var t Ticket
		if err := json.Unmarshal(value, &t); err != nil {
			log.Printf("[ticket] skipping undecodable record %s: %v", key, err)
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (e *Engine) save(t Ticket) error {
	if err := store.Commit(e.store, Namespace, t.ID, t); err != nil {
		return fmt.Errorf("save ticket %s: %w", t.ID, err)
	}
	return nil
}
