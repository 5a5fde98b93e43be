package bus

import "time"

type DirectiveKind string

const (
	DirectiveReply          DirectiveKind = "reply"
	DirectiveSendMessage    DirectiveKind = "send_message"
	DirectiveEditMessage    DirectiveKind = "edit_message"
	DirectiveDeleteMessage  DirectiveKind = "delete_message"
	DirectiveDirectMessage  DirectiveKind = "direct_message"
	DirectiveCreateChannel  DirectiveKind = "create_channel"
	DirectiveSetPermissions DirectiveKind = "set_permissions"
	DirectiveDeleteChannel  DirectiveKind = "delete_channel"
	DirectiveBan            DirectiveKind = "ban"
	DirectiveAssignRole     DirectiveKind = "assign_role"
)

// Directive is a desired external side effect. Engines produce them, the
// dispatcher executes them against the gateway. Directives with a non-zero
// Delay are handed to the scheduler instead of running inline.
type Directive struct {
	Kind        DirectiveKind        `json:"kind"`
	ChannelID   string               `json:"channelId,omitempty"`
	MessageID   string               `json:"messageId,omitempty"`
	UserID      string               `json:"userId,omitempty"`
	RoleID      string               `json:"roleId,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Message     OutboundMessage      `json:"message"`
	Reactions   []string             `json:"reactions,omitempty"`
	Channel     *ChannelSpec         `json:"channel,omitempty"`
	Overrides   []PermissionOverride `json:"overrides,omitempty"`
	Interaction *Interaction         `json:"interaction,omitempty"`
	Delay       time.Duration        `json:"delay,omitempty"`
}

type OutboundMessage struct {
	Content   string `json:"content,omitempty"`
	Embed     *Embed `json:"embed,omitempty"`
	File      *File  `json:"file,omitempty"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      string       `json:"footer,omitempty"`
	AuthorName  string       `json:"authorName,omitempty"`
	AuthorIcon  string       `json:"authorIcon,omitempty"`
	Timestamp   time.Time    `json:"timestamp,omitzero"`
}

func (e *Embed) AddField(name, value string, inline bool) *Embed {
	e.Fields = append(e.Fields, EmbedField{Name: name, Value: value, Inline: inline})
	return e
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type File struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Data        []byte `json:"data"`
}

// ChannelSpec describes a guild text channel to create. Role overrides are
// given by name and resolved by the gateway.
type ChannelSpec struct {
	Name      string               `json:"name"`
	Topic     string               `json:"topic,omitempty"`
	Position  int                  `json:"position"`
	Overrides []PermissionOverride `json:"overrides,omitempty"`
}

type OverrideTarget string

const (
	TargetEveryone OverrideTarget = "everyone"
	TargetMember   OverrideTarget = "member"
	TargetRole     OverrideTarget = "role"
	TargetSelf     OverrideTarget = "self"
)

// PermissionOverride grants or denies channel access for one target.
// For TargetRole, ID may be a role ID or a role name.
type PermissionOverride struct {
	Target OverrideTarget `json:"target"`
	ID     string         `json:"id,omitempty"`
	Allow  []Permission   `json:"allow,omitempty"`
	Deny   []Permission   `json:"deny,omitempty"`
}

type Permission string

const (
	PermView           Permission = "view"
	PermSend           Permission = "send"
	PermReadHistory    Permission = "read_history"
	PermManageChannels Permission = "manage_channels"
)

// HistoryMessage is one message of a channel history, oldest first.
type HistoryMessage struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Bot        bool      `json:"bot,omitempty"`
	Content    string    `json:"content"`
	HasEmbeds  bool      `json:"hasEmbeds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Delivery reports what the gateway created while executing a directive.
type Delivery struct {
	MessageID string
	ChannelID string
}
