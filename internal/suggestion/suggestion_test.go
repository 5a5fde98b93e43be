package suggestion

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/counter"
	"github.com/stellarlinkco/modclaw/internal/store"
)

var author = Author{ID: "u1", Name: "Luis", AvatarURL: "https://cdn.example/u1.png"}

func newTestEngine(t *testing.T, opts Options) (*Engine, store.Store) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	e := New(s, opts)
	seq := 0
	e.newID = func() string {
		seq++
		return fmt.Sprintf("s%d", seq)
	}
	clock := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return e, s
}

func createPosted(t *testing.T, e *Engine, msgID string) Suggestion {
	t.Helper()
	res, err := e.Create(author, "Más eventos IC", "sug")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.AttachMessage(res.Suggestion.ID, "sug", msgID); err != nil {
		t.Fatalf("AttachMessage error: %v", err)
	}
	s, _ := e.Get(res.Suggestion.ID)
	return s
}

func TestEngine_Create(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	res, err := e.Create(author, "  Más eventos IC  ", "sug")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	s := res.Suggestion
	if s.Status != StatusPending || s.Text != "Más eventos IC" || s.AuthorID != "u1" {
		t.Errorf("suggestion = %+v", s)
	}
	p := res.Post
	if p.Kind != bus.DirectiveSendMessage || p.ChannelID != "sug" {
		t.Errorf("post = %+v", p)
	}
	if p.Message.Embed == nil || p.Message.Embed.Color != ColorPending || p.Message.Embed.Description != "Más eventos IC" {
		t.Errorf("post embed = %+v", p.Message.Embed)
	}
	if len(p.Reactions) != 2 || p.Reactions[0] != UpvoteEmoji || p.Reactions[1] != DownvoteEmoji {
		t.Errorf("reactions = %v", p.Reactions)
	}

	if _, err := e.Create(author, "   ", "sug"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty text err = %v", err)
	}
}

func TestEngine_CountCreation(t *testing.T) {
	s, _ := store.NewFileStore(t.TempDir(), nil)
	c, _ := counter.New(s, counter.NamespaceSuggestCreate, counter.Rule{Threshold: 2, Message: "¿Tienes alguna sugerencia?"})
	e := New(s, Options{ReminderChannel: "sug", CreateCounter: c})

	ds, err := e.CountCreation("other")
	if err != nil || len(ds) != 0 {
		t.Errorf("first count = %+v, %v", ds, err)
	}
	ds, err = e.CountCreation("other")
	if err != nil || len(ds) != 1 || ds[0].ChannelID != "sug" {
		t.Errorf("second count = %+v, %v", ds, err)
	}

	if ds, err := New(s, Options{}).CountCreation("other"); ds != nil || err != nil {
		t.Errorf("no counter = %+v, %v", ds, err)
	}
}

func TestEngine_DiscardUnposted(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	res, err := e.Create(author, "borrador", "sug")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := e.Discard(res.Suggestion.ID); err != nil {
		t.Fatalf("Discard error: %v", err)
	}
	if _, err := e.Get(res.Suggestion.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("discarded suggestion err = %v, want ErrNotFound", err)
	}

	posted := createPosted(t, e, "m1")
	if err := e.Discard(posted.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("discard posted err = %v, want ErrInvalidState", err)
	}
	if list, _ := e.List(); len(list) != 1 {
		t.Errorf("list = %+v, want the posted suggestion only", list)
	}
}

func TestEngine_AcceptTwice(t *testing.T) {
	e, _ := newTestEngine(t, Options{ResultsChannel: "results"})
	s := createPosted(t, e, "m1")

	res, err := e.Accept(s.ID, "admin", &Votes{Up: 4, Down: 1})
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	got := res.Suggestion
	if got.Status != StatusAccepted || got.ReviewerID != "admin" || got.ReviewedAt == nil {
		t.Errorf("suggestion = %+v", got)
	}
	if got.FinalVotes == nil || *got.FinalVotes != (Votes{Up: 4, Down: 1}) {
		t.Errorf("final votes = %+v", got.FinalVotes)
	}

	if _, err := e.Accept(s.ID, "admin", nil); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("second Accept err = %v, want ErrInvalidState", err)
	}
	if _, err := e.Deny("m1", "admin", nil); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("Deny after Accept err = %v, want ErrInvalidState", err)
	}

	after, _ := e.Get(s.ID)
	if after.Status != StatusAccepted {
		t.Errorf("terminal state changed to %s", after.Status)
	}
}

func TestEngine_ArchiveToResultsChannel(t *testing.T) {
	e, _ := newTestEngine(t, Options{ResultsChannel: "results"})
	createPosted(t, e, "m1")

	res, err := e.Deny("m1", "admin", &Votes{Up: 0, Down: 3})
	if err != nil {
		t.Fatalf("Deny error: %v", err)
	}
	if len(res.Directives) != 2 {
		t.Fatalf("directives = %+v", res.Directives)
	}
	post, del := res.Directives[0], res.Directives[1]
	if post.Kind != bus.DirectiveSendMessage || post.ChannelID != "results" || post.Message.Embed.Color != ColorDenied {
		t.Errorf("post = %+v", post)
	}
	if del.Kind != bus.DirectiveDeleteMessage || del.ChannelID != "sug" || del.MessageID != "m1" {
		t.Errorf("delete = %+v", del)
	}
	if !res.Suggestion.Archived {
		t.Error("suggestion should be marked archived")
	}
}

func TestEngine_ArchiveInPlaceWithoutResultsChannel(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	createPosted(t, e, "m1")

	res, err := e.Accept("m1", "admin", nil)
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if len(res.Directives) != 1 {
		t.Fatalf("directives = %+v", res.Directives)
	}
	d := res.Directives[0]
	if d.Kind != bus.DirectiveEditMessage || d.MessageID != "m1" || d.Message.Embed.Color != ColorAccepted {
		t.Errorf("directive = %+v", d)
	}
	if d.Message.Embed.Footer != "Estado: ✅ ACEPTADA" {
		t.Errorf("footer = %q", d.Message.Embed.Footer)
	}
}

func TestEngine_NotFound(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	if _, err := e.Accept("missing", "admin", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := e.Deny("", "admin", nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestEngine_RecordVote(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	s := createPosted(t, e, "m1")

	e.RecordVote("m1", UpvoteEmoji, 1)
	e.RecordVote("m1", UpvoteEmoji, 1)
	e.RecordVote("m1", DownvoteEmoji, 1)
	e.RecordVote("m1", DownvoteEmoji, -1)
	e.RecordVote("m1", DownvoteEmoji, -1)
	if changed, _ := e.RecordVote("m1", "🎉", 1); changed {
		t.Error("other emoji should be ignored")
	}
	if _, err := e.RecordVote("unknown", UpvoteEmoji, 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown message err = %v", err)
	}

	got, _ := e.Get(s.ID)
	if got.Votes != (Votes{Up: 2, Down: 0}) {
		t.Errorf("votes = %+v, want {2 0}", got.Votes)
	}

	// Without an explicit tally the live count is frozen at review time.
	res, _ := e.Accept(s.ID, "admin", nil)
	if *res.Suggestion.FinalVotes != (Votes{Up: 2}) {
		t.Errorf("final votes = %+v", res.Suggestion.FinalVotes)
	}
	if changed, _ := e.RecordVote("m1", UpvoteEmoji, 1); changed {
		t.Error("votes after review should be ignored")
	}
}

func TestEngine_ListPersisted(t *testing.T) {
	dir := t.TempDir()
	s, _ := store.NewFileStore(dir, nil)
	e := New(s, Options{})
	e.Create(author, "a", "sug")
	e.Create(author, "b", "sug")

	reopened, _ := store.NewFileStore(dir, nil)
	list, err := New(reopened, Options{}).List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Error("list not ordered by creation")
	}
}
