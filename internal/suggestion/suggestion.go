// Package suggestion tracks community suggestions from creation through a
// single review decision.
package suggestion

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/counter"
	"github.com/stellarlinkco/modclaw/internal/store"
)

const Namespace = "suggestions"

const (
	UpvoteEmoji   = "👍"
	DownvoteEmoji = "👎"
)

const (
	ColorPending  = 0x3498db
	ColorAccepted = 0x2ecc71
	ColorDenied   = 0xe74c3c
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDenied   Status = "denied"
)

type Votes struct {
	Up   int `json:"up"`
	Down int `json:"down"`
}

type Author struct {
	ID        string
	Name      string
	AvatarURL string
}

type Suggestion struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"authorId"`
	AuthorName string     `json:"authorName"`
	AuthorIcon string     `json:"authorIcon,omitempty"`
	Text       string     `json:"text"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	ChannelID  string     `json:"channelId"`
	MessageID  string     `json:"messageId,omitempty"`
	Votes      Votes      `json:"votes"`
	ReviewerID string     `json:"reviewerId,omitempty"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
	FinalVotes *Votes     `json:"finalVotes,omitempty"`
	Archived   bool       `json:"archived,omitempty"`
}

type CreateResult struct {
	Suggestion Suggestion
	// Post publishes the suggestion; its delivered message ID must be
	// handed back through AttachMessage.
	Post bus.Directive
}

type ReviewResult struct {
	Suggestion Suggestion
	Directives []bus.Directive
}

type Options struct {
	// ResultsChannel receives reviewed suggestions. When empty the suggestion
	// post is edited in place.
	ResultsChannel string
	// ReminderChannel receives the creation-counter reminder.
	ReminderChannel string
	CreateCounter   *counter.Engine
}

type Engine struct {
	store store.Store
	opts  Options
	now   func() time.Time
	newID func() string

	mu sync.Mutex
}

func New(s store.Store, opts Options) *Engine {
	return &Engine{
		store: s,
		opts:  opts,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

func (e *Engine) Create(author Author, text, channelID string) (CreateResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return CreateResult{}, fmt.Errorf("suggestion text is empty: %w", apperr.ErrInvalidInput)
	}
	if author.ID == "" || channelID == "" {
		return CreateResult{}, fmt.Errorf("suggestion author and channel are required: %w", apperr.ErrInvalidInput)
	}

	e.mu.Lock()
	s := Suggestion{
		ID:         e.newID(),
		AuthorID:   author.ID,
		AuthorName: author.Name,
		AuthorIcon: author.AvatarURL,
		Text:       text,
		Status:     StatusPending,
		CreatedAt:  e.now().UTC(),
		ChannelID:  channelID,
	}
	err := e.save(s)
	e.mu.Unlock()
	if err != nil {
		return CreateResult{}, err
	}

	return CreateResult{
		Suggestion: s,
		Post: bus.Directive{
			Kind:      bus.DirectiveSendMessage,
			ChannelID: channelID,
			Message:   bus.OutboundMessage{Embed: postEmbed(s)},
			Reactions: []string{UpvoteEmoji, DownvoteEmoji},
		},
	}, nil
}

// AttachMessage records where the suggestion was posted.
func (e *Engine) AttachMessage(id, channelID, messageID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.resolve(id)
	if err != nil {
		return err
	}
	s.ChannelID = channelID
	s.MessageID = messageID
	return e.save(s)
}

// Discard removes a suggestion whose post never went out. Posted or
// reviewed suggestions are kept.
func (e *Engine) Discard(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.resolve(id)
	if err != nil {
		return err
	}
	if s.Status != StatusPending || s.MessageID != "" {
		return fmt.Errorf("suggestion %s already posted: %w", id, apperr.ErrInvalidState)
	}
	if err := e.store.Delete(Namespace, s.ID); err != nil {
		return fmt.Errorf("discard suggestion %s: %w", s.ID, err)
	}
	if err := store.Persist(e.store, Namespace); err != nil {
		return fmt.Errorf("discard suggestion %s: %w", s.ID, err)
	}
	return nil
}

// CountCreation feeds one published suggestion to the creation counter and
// returns its reminder, if it fired.
func (e *Engine) CountCreation(channelID string) ([]bus.Directive, error) {
	if e.opts.CreateCounter == nil {
		return nil, nil
	}
	target := e.opts.ReminderChannel
	if target == "" {
		target = channelID
	}
	res, err := e.opts.CreateCounter.Increment(counter.GlobalKey, target)
	if err != nil {
		return nil, fmt.Errorf("suggestion reminder counter: %w", err)
	}
	return res.Directives, nil
}

// RecordVote applies delta to the live tally of the suggestion posted as
// messageID. Emoji other than the vote pair and reviewed suggestions are
// ignored; the returned bool reports whether the tally changed.
func (e *Engine) RecordVote(messageID, emoji string, delta int) (bool, error) {
	if emoji != UpvoteEmoji && emoji != DownvoteEmoji {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.byMessage(messageID)
	if err != nil {
		return false, err
	}
	if s.Status != StatusPending {
		return false, nil
	}
	if emoji == UpvoteEmoji {
		s.Votes.Up = max(0, s.Votes.Up+delta)
	} else {
		s.Votes.Down = max(0, s.Votes.Down+delta)
	}
	return true, e.save(s)
}

// Accept marks a pending suggestion accepted. ref is the suggestion ID or
// the ID of the message it was posted as. A nil tally falls back to the
// live vote count.
func (e *Engine) Accept(ref, reviewerID string, tally *Votes) (ReviewResult, error) {
	return e.review(ref, reviewerID, tally, StatusAccepted)
}

func (e *Engine) Deny(ref, reviewerID string, tally *Votes) (ReviewResult, error) {
	return e.review(ref, reviewerID, tally, StatusDenied)
}

func (e *Engine) review(ref, reviewerID string, tally *Votes, to Status) (ReviewResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.resolve(ref)
	if err != nil {
		return ReviewResult{}, err
	}
	if s.Status != StatusPending {
		return ReviewResult{}, fmt.Errorf("suggestion %s is already %s: %w", s.ID, s.Status, apperr.ErrInvalidState)
	}

	final := s.Votes
	if tally != nil {
		final = *tally
	}
	reviewedAt := e.now().UTC()
	s.Status = to
	s.ReviewerID = reviewerID
	s.ReviewedAt = &reviewedAt
	s.FinalVotes = &final
	s.Archived = e.opts.ResultsChannel != ""
	if err := e.save(s); err != nil {
		return ReviewResult{}, err
	}
	return ReviewResult{Suggestion: s, Directives: e.archive(s)}, nil
}

func (e *Engine) archive(s Suggestion) []bus.Directive {
	embed := reviewedEmbed(s)
	if e.opts.ResultsChannel != "" {
		out := []bus.Directive{{
			Kind:      bus.DirectiveSendMessage,
			ChannelID: e.opts.ResultsChannel,
			Message:   bus.OutboundMessage{Embed: embed},
		}}
		if s.MessageID != "" {
			out = append(out, bus.Directive{
				Kind:      bus.DirectiveDeleteMessage,
				ChannelID: s.ChannelID,
				MessageID: s.MessageID,
			})
		}
		return out
	}
	if s.MessageID == "" {
		return nil
	}
	return []bus.Directive{{
		Kind:      bus.DirectiveEditMessage,
		ChannelID: s.ChannelID,
		MessageID: s.MessageID,
		Message:   bus.OutboundMessage{Embed: embed},
	}}
}

func (e *Engine) Get(ref string) (Suggestion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolve(ref)
}

// List returns every suggestion, oldest first.
func (e *Engine) List() ([]Suggestion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.all()
}

func (e *Engine) resolve(ref string) (Suggestion, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Suggestion{}, fmt.Errorf("suggestion reference is empty: %w", apperr.ErrInvalidInput)
	}
	var s Suggestion
	found, err := store.GetJSON(e.store, Namespace, ref, &s)
	if err != nil {
		return Suggestion{}, fmt.Errorf("load suggestion %s: %w", ref, err)
	}
	if found {
		return s, nil
	}
	return e.byMessage(ref)
}

func (e *Engine) byMessage(messageID string) (Suggestion, error) {
	all, err := e.all()
	if err != nil {
		return Suggestion{}, err
	}
	for _, s := range all {
		if messageID != "" && s.MessageID == messageID {
			return s, nil
		}
	}
	return Suggestion{}, fmt.Errorf("suggestion %s: %w", messageID, apperr.ErrNotFound)
}

func (e *Engine) all() ([]Suggestion, error) {
	raw, err := e.store.LoadAll(Namespace)
	if err != nil {
		return nil, fmt.Errorf("load suggestions: %w", err)
	}
	out := make([]Suggestion, 0, len(raw))
	for key, value := range raw {
		var s Suggestion
		if err := json.Unmarshal(value, &s); err != nil {
			log.Printf("[suggestion] skipping undecodable record %s: %v", key, err)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (e *Engine) save(s Suggestion) error {
	if err := store.Commit(e.store, Namespace, s.ID, s); err != nil {
		return fmt.Errorf("save suggestion %s: %w", s.ID, err)
	}
	return nil
}
