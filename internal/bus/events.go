package bus

import (
	"strings"
	"time"
)

type EventKind string

const (
	EventMessage        EventKind = "message"
	EventInteraction    EventKind = "interaction"
	EventReactionAdd    EventKind = "reaction_add"
	EventReactionRemove EventKind = "reaction_remove"
	EventMemberJoin     EventKind = "member_join"
	EventMemberLeave    EventKind = "member_leave"
)

// Member is the acting user as seen by the guild.
type Member struct {
	ID          string
	Username    string
	DisplayName string
	Bot         bool
	RoleIDs     []string
	RoleNames   []string
	AvatarURL   string
}

func (m Member) Mention() string {
	return "<@" + m.ID + ">"
}

func (m Member) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Username
}

// Roles returns role IDs and names together; the permission policy matches
// either form.
func (m Member) Roles() []string {
	out := make([]string, 0, len(m.RoleIDs)+len(m.RoleNames))
	out = append(out, m.RoleIDs...)
	out = append(out, m.RoleNames...)
	return out
}

// Interaction identifies a slash-command invocation so it can be answered.
// Once the platform has acknowledged it, Deferred is set and Ephemeral
// records the visibility the pending response was opened with.
type Interaction struct {
	ID    string
	AppID string
	Token string

	Deferred  bool
	Ephemeral bool
}

// Command is a parsed slash command: name, optional subcommand and its
// options flattened to strings (user/role options carry IDs).
type Command struct {
	Name       string
	Subcommand string
	Options    map[string]string
}

func (c *Command) Option(name string) string {
	if c == nil || c.Options == nil {
		return ""
	}
	return strings.TrimSpace(c.Options[name])
}

// Path returns "name" or "name sub".
func (c *Command) Path() string {
	if c == nil {
		return ""
	}
	if c.Subcommand == "" {
		return c.Name
	}
	return c.Name + " " + c.Subcommand
}

type Event struct {
	Kind        EventKind
	GuildID     string
	ChannelID   string
	ChannelName string
	MessageID   string
	Content     string
	Author      Member
	Command     *Command
	Interaction *Interaction
	Emoji       string
	Timestamp   time.Time
}
