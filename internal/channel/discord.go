package channel

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/modclaw/internal/apperr"
	"github.com/stellarlinkco/modclaw/internal/bus"
	"github.com/stellarlinkco/modclaw/internal/config"
)

const (
	discordChannelName = "discord"
	historyPageSize    = 100
	roleCacheTTL       = time.Minute
)

const discordIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsMessageContent

// DiscordSession is the subset of the Discord API the channel uses, so tests
// can replace the real session.
type DiscordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	SelfID() string

	SendMessage(ctx context.Context, channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
	EditMessage(ctx context.Context, edit *discordgo.MessageEdit) (*discordgo.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
	Messages(ctx context.Context, channelID string, limit int, beforeID string) ([]*discordgo.Message, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	Respond(ctx context.Context, in *discordgo.Interaction, resp *discordgo.InteractionResponse) error
	EditResponse(ctx context.Context, in *discordgo.Interaction, edit *discordgo.WebhookEdit) error
	DeleteResponse(ctx context.Context, in *discordgo.Interaction) error
	Followup(ctx context.Context, in *discordgo.Interaction, params *discordgo.WebhookParams) error
	UserChannel(ctx context.Context, userID string) (*discordgo.Channel, error)

	CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error)
	SetPermission(ctx context.Context, channelID, targetID string, kind discordgo.PermissionOverwriteType, allow, deny int64) error
	DeleteChannel(ctx context.Context, channelID, reason string) error
	Channels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	Ban(ctx context.Context, guildID, userID, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error

	RegisterCommands(appID, guildID string, cmds []*discordgo.ApplicationCommand) error
}

// sessionWrapper adapts *discordgo.Session to DiscordSession.
type sessionWrapper struct {
	s *discordgo.Session
}

func (w *sessionWrapper) Open() error  { return w.s.Open() }
func (w *sessionWrapper) Close() error { return w.s.Close() }

func (w *sessionWrapper) AddHandler(handler interface{}) func() {
	return w.s.AddHandler(handler)
}

func (w *sessionWrapper) SelfID() string {
	if w.s.State == nil || w.s.State.User == nil {
		return ""
	}
	return w.s.State.User.ID
}

func (w *sessionWrapper) SendMessage(ctx context.Context, channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	return w.s.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) EditMessage(ctx context.Context, edit *discordgo.MessageEdit) (*discordgo.Message, error) {
	return w.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return w.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) Message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	return w.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) Messages(ctx context.Context, channelID string, limit int, beforeID string) ([]*discordgo.Message, error) {
	return w.s.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
}

func (w *sessionWrapper) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return w.s.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) Respond(ctx context.Context, in *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	return w.s.InteractionRespond(in, resp, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) EditResponse(ctx context.Context, in *discordgo.Interaction, edit *discordgo.WebhookEdit) error {
	_, err := w.s.InteractionResponseEdit(in, edit, discordgo.WithContext(ctx))
	return err
}

func (w *sessionWrapper) DeleteResponse(ctx context.Context, in *discordgo.Interaction) error {
	return w.s.InteractionResponseDelete(in, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) Followup(ctx context.Context, in *discordgo.Interaction, params *discordgo.WebhookParams) error {
	_, err := w.s.FollowupMessageCreate(in, true, params, discordgo.WithContext(ctx))
	return err
}

func (w *sessionWrapper) UserChannel(ctx context.Context, userID string) (*discordgo.Channel, error) {
	return w.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	return w.s.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) SetPermission(ctx context.Context, channelID, targetID string, kind discordgo.PermissionOverwriteType, allow, deny int64) error {
	return w.s.ChannelPermissionSet(channelID, targetID, kind, allow, deny, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) DeleteChannel(ctx context.Context, channelID, reason string) error {
	_, err := w.s.ChannelDelete(channelID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return err
}

func (w *sessionWrapper) Channels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	return w.s.GuildChannels(guildID, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	return w.s.GuildRoles(guildID, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) Ban(ctx context.Context, guildID, userID, reason string) error {
	return w.s.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return w.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (w *sessionWrapper) RegisterCommands(appID, guildID string, cmds []*discordgo.ApplicationCommand) error {
	_, err := w.s.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	return err
}

// SessionFactory creates DiscordSession instances (allows mocking)
type SessionFactory func(token string) (DiscordSession, error)

var defaultSessionFactory SessionFactory = func(token string) (DiscordSession, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordIntents
	return &sessionWrapper{s: s}, nil
}

type DiscordChannel struct {
	BaseChannel
	token          string
	guildID        string
	appID          string
	session        DiscordSession
	sessionFactory SessionFactory
	cancel         context.CancelFunc
	removers       []func()

	rolesMu  sync.Mutex
	roles    []*discordgo.Role
	rolesAt  time.Time
	rolesTTL time.Duration
	nowFunc  func() time.Time
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.MessageBus) (*DiscordChannel, error) {
	return NewDiscordChannelWithFactory(cfg, b, defaultSessionFactory)
}

func NewDiscordChannelWithFactory(cfg config.DiscordConfig, b *bus.MessageBus, factory SessionFactory) (*DiscordChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("discord token is required: %w", apperr.ErrInvalidInput)
	}
	if factory == nil {
		factory = defaultSessionFactory
	}
	var allow []string
	if cfg.GuildID != "" {
		allow = []string{cfg.GuildID}
	}
	return &DiscordChannel{
		BaseChannel:    NewBaseChannel(discordChannelName, b, allow),
		token:          cfg.Token,
		guildID:        cfg.GuildID,
		appID:          cfg.AppID,
		sessionFactory: factory,
		rolesTTL:       roleCacheTTL,
		nowFunc:        time.Now,
	}, nil
}

// SetSession sets the session (for testing)
func (d *DiscordChannel) SetSession(s DiscordSession) {
	d.session = s
}

func (d *DiscordChannel) Start(ctx context.Context) error {
	if d.session == nil {
		s, err := d.sessionFactory(d.token)
		if err != nil {
			return fmt.Errorf("create discord session: %w", err)
		}
		d.session = s
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.removers = append(d.removers,
		d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			d.handleMessage(ctx, m.Message)
		}),
		d.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			d.handleInteraction(ctx, i.Interaction)
		}),
		d.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
			d.handleReaction(ctx, bus.EventReactionAdd, r.MessageReaction)
		}),
		d.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
			d.handleReaction(ctx, bus.EventReactionRemove, r.MessageReaction)
		}),
		d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
			d.handleMember(ctx, bus.EventMemberJoin, m.Member)
		}),
		d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
			d.handleMember(ctx, bus.EventMemberLeave, m.Member)
		}),
	)

	if err := d.session.Open(); err != nil {
		d.cancel()
		return fmt.Errorf("open discord session: %w", err)
	}

	appID := d.appID
	if appID == "" {
		appID = d.session.SelfID()
	}
	if appID != "" {
		if err := d.session.RegisterCommands(appID, d.guildID, SlashCommands()); err != nil {
			log.Printf("[discord] register commands: %v", err)
		} else {
			log.Printf("[discord] registered %d commands", len(SlashCommands()))
		}
	}

	log.Printf("[discord] connected as %s (guild %s)", d.session.SelfID(), d.guildID)
	return nil
}

func (d *DiscordChannel) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	for _, remove := range d.removers {
		remove()
	}
	d.removers = nil
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			return fmt.Errorf("close discord session: %w", err)
		}
	}
	log.Printf("[discord] stopped")
	return nil
}

func (d *DiscordChannel) publish(ctx context.Context, ev bus.Event) {
	if ev.GuildID == "" || !d.IsAllowed(ev.GuildID) {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.nowFunc()
	}
	if !d.bus.Publish(ctx, ev) {
		log.Printf("[discord] dropped %s event: shutting down", ev.Kind)
	}
}

func (d *DiscordChannel) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil {
		return
	}
	d.publish(ctx, bus.Event{
		Kind:      bus.EventMessage,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Author:    d.member(ctx, m.Author, m.Member),
		Timestamp: m.Timestamp,
	})
}

func (d *DiscordChannel) handleInteraction(ctx context.Context, in *discordgo.Interaction) {
	if in == nil || in.Type != discordgo.InteractionApplicationCommand {
		return
	}
	var user *discordgo.User
	if in.Member != nil {
		user = in.Member.User
	}
	if user == nil {
		user = in.User
	}
	if user == nil {
		return
	}
	if in.GuildID == "" || !d.IsAllowed(in.GuildID) {
		return
	}
	cmd := parseCommand(in.ApplicationCommandData())
	ref := &bus.Interaction{ID: in.ID, AppID: in.AppID, Token: in.Token}
	// Discord drops interactions not acknowledged within three seconds, and
	// the event may wait behind others in the bus.
	ephemeral := !cmd.PublicReply()
	if err := d.deferResponse(ctx, in, ephemeral); err != nil {
		log.Printf("[discord] defer /%s failed: %v", cmd.Path(), err)
	} else {
		ref.Deferred = true
		ref.Ephemeral = ephemeral
	}
	d.publish(ctx, bus.Event{
		Kind:        bus.EventInteraction,
		GuildID:     in.GuildID,
		ChannelID:   in.ChannelID,
		Author:      d.member(ctx, user, in.Member),
		Command:     cmd,
		Interaction: ref,
	})
}

func (d *DiscordChannel) deferResponse(ctx context.Context, in *discordgo.Interaction, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return d.session.Respond(ctx, in, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

// parseCommand flattens a slash command. A leading subcommand becomes
// Subcommand and its options are lifted to the top level.
func parseCommand(data discordgo.ApplicationCommandInteractionData) *bus.Command {
	cmd := &bus.Command{Name: data.Name, Options: make(map[string]string)}
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		cmd.Subcommand = opts[0].Name
		opts = opts[0].Options
	}
	for _, o := range opts {
		if o == nil || o.Value == nil {
			continue
		}
		cmd.Options[o.Name] = fmt.Sprint(o.Value)
	}
	return cmd
}

func (d *DiscordChannel) handleReaction(ctx context.Context, kind bus.EventKind, r *discordgo.MessageReaction) {
	if r == nil {
		return
	}
	author := bus.Member{ID: r.UserID}
	if self := d.session.SelfID(); self != "" && r.UserID == self {
		author.Bot = true
	}
	d.publish(ctx, bus.Event{
		Kind:      kind,
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     r.Emoji.Name,
		Author:    author,
	})
}

func (d *DiscordChannel) handleMember(ctx context.Context, kind bus.EventKind, m *discordgo.Member) {
	if m == nil || m.User == nil {
		return
	}
	d.publish(ctx, bus.Event{
		Kind:    kind,
		GuildID: m.GuildID,
		Author:  d.member(ctx, m.User, m),
	})
}

func (d *DiscordChannel) member(ctx context.Context, u *discordgo.User, gm *discordgo.Member) bus.Member {
	m := bus.Member{
		ID:        u.ID,
		Username:  u.Username,
		Bot:       u.Bot,
		AvatarURL: u.AvatarURL(""),
	}
	if gm == nil {
		return m
	}
	m.DisplayName = gm.Nick
	m.RoleIDs = append([]string(nil), gm.Roles...)
	if len(gm.Roles) == 0 {
		return m
	}
	roles, err := d.guildRoles(ctx)
	if err != nil {
		log.Printf("[discord] resolve roles for %s: %v", u.ID, err)
		return m
	}
	byID := make(map[string]string, len(roles))
	for _, r := range roles {
		byID[r.ID] = r.Name
	}
	for _, id := range gm.Roles {
		if name, ok := byID[id]; ok {
			m.RoleNames = append(m.RoleNames, name)
		}
	}
	return m
}

func (d *DiscordChannel) guildRoles(ctx context.Context) ([]*discordgo.Role, error) {
	d.rolesMu.Lock()
	defer d.rolesMu.Unlock()
	if d.roles != nil && d.nowFunc().Sub(d.rolesAt) < d.rolesTTL {
		return d.roles, nil
	}
	roles, err := d.session.Roles(ctx, d.guildID)
	if err != nil {
		return nil, err
	}
	d.roles = roles
	d.rolesAt = d.nowFunc()
	return roles, nil
}

func (d *DiscordChannel) ready() error {
	if d.session == nil {
		return fmt.Errorf("discord session not initialized")
	}
	return nil
}

func (d *DiscordChannel) SendMessage(ctx context.Context, channelID string, msg bus.OutboundMessage) (bus.Delivery, error) {
	if err := d.ready(); err != nil {
		return bus.Delivery{}, err
	}
	sent, err := d.session.SendMessage(ctx, channelID, toMessageSend(msg))
	if err != nil {
		return bus.Delivery{}, fmt.Errorf("send discord message: %w", err)
	}
	return bus.Delivery{ChannelID: sent.ChannelID, MessageID: sent.ID}, nil
}

func (d *DiscordChannel) EditMessage(ctx context.Context, channelID, messageID string, msg bus.OutboundMessage) error {
	if err := d.ready(); err != nil {
		return err
	}
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(msg.Content)
	if msg.Embed != nil {
		edit.SetEmbeds([]*discordgo.MessageEmbed{toEmbed(msg.Embed)})
	}
	if _, err := d.session.EditMessage(ctx, edit); err != nil {
		return fmt.Errorf("edit discord message: %w", err)
	}
	return nil
}

func (d *DiscordChannel) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.session.DeleteMessage(ctx, channelID, messageID); err != nil {
		return fmt.Errorf("delete discord message: %w", err)
	}
	return nil
}

// Respond answers an interaction. A deferred interaction has its pending
// response edited; when the reply wants the other visibility the pending
// response is removed and the reply goes out as a followup.
func (d *DiscordChannel) Respond(ctx context.Context, in *bus.Interaction, msg bus.OutboundMessage) error {
	if err := d.ready(); err != nil {
		return err
	}
	target := &discordgo.Interaction{ID: in.ID, AppID: in.AppID, Token: in.Token}
	send := toMessageSend(msg)
	var flags discordgo.MessageFlags
	if msg.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	if !in.Deferred {
		err := d.session.Respond(ctx, target, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: send.Content,
				Embeds:  send.Embeds,
				Files:   send.Files,
				Flags:   flags,
			},
		})
		if err != nil {
			return fmt.Errorf("respond to interaction: %w", err)
		}
		return nil
	}

	if msg.Ephemeral == in.Ephemeral {
		edit := &discordgo.WebhookEdit{Content: &send.Content, Files: send.Files}
		if len(send.Embeds) > 0 {
			edit.Embeds = &send.Embeds
		}
		if err := d.session.EditResponse(ctx, target, edit); err != nil {
			return fmt.Errorf("edit interaction response: %w", err)
		}
		return nil
	}

	if err := d.session.DeleteResponse(ctx, target); err != nil {
		log.Printf("[discord] delete deferred response %s: %v", in.ID, err)
	}
	err := d.session.Followup(ctx, target, &discordgo.WebhookParams{
		Content: send.Content,
		Embeds:  send.Embeds,
		Files:   send.Files,
		Flags:   flags,
	})
	if err != nil {
		return fmt.Errorf("follow up interaction: %w", err)
	}
	return nil
}

func (d *DiscordChannel) SendDirectMessage(ctx context.Context, userID string, msg bus.OutboundMessage) error {
	if err := d.ready(); err != nil {
		return err
	}
	dm, err := d.session.UserChannel(ctx, userID)
	if err != nil {
		return fmt.Errorf("open dm with %s: %w", userID, err)
	}
	if _, err := d.session.SendMessage(ctx, dm.ID, toMessageSend(msg)); err != nil {
		return fmt.Errorf("send dm to %s: %w", userID, err)
	}
	return nil
}

func (d *DiscordChannel) CreateChannel(ctx context.Context, spec bus.ChannelSpec) (bus.Delivery, error) {
	if err := d.ready(); err != nil {
		return bus.Delivery{}, err
	}
	overwrites, err := d.overwrites(ctx, spec.Overrides)
	if err != nil {
		return bus.Delivery{}, err
	}
	ch, err := d.session.CreateChannel(ctx, d.guildID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		Position:             spec.Position,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return bus.Delivery{}, fmt.Errorf("create channel %s: %w", spec.Name, err)
	}
	return bus.Delivery{ChannelID: ch.ID}, nil
}

func (d *DiscordChannel) SetChannelPermissions(ctx context.Context, channelID string, overrides []bus.PermissionOverride) error {
	if err := d.ready(); err != nil {
		return err
	}
	overwrites, err := d.overwrites(ctx, overrides)
	if err != nil {
		return err
	}
	for _, o := range overwrites {
		if err := d.session.SetPermission(ctx, channelID, o.ID, o.Type, o.Allow, o.Deny); err != nil {
			return fmt.Errorf("set permissions on %s for %s: %w", channelID, o.ID, err)
		}
	}
	return nil
}

func (d *DiscordChannel) DeleteChannel(ctx context.Context, channelID, reason string) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.session.DeleteChannel(ctx, channelID, reason); err != nil {
		return fmt.Errorf("delete channel %s: %w", channelID, err)
	}
	return nil
}

func (d *DiscordChannel) BanUser(ctx context.Context, userID, reason string) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.session.Ban(ctx, d.guildID, userID, reason); err != nil {
		return fmt.Errorf("ban %s: %w", userID, err)
	}
	return nil
}

func (d *DiscordChannel) AssignRole(ctx context.Context, userID, roleID string) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.session.AddRole(ctx, d.guildID, userID, roleID); err != nil {
		return fmt.Errorf("assign role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

func (d *DiscordChannel) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.session.AddReaction(ctx, channelID, messageID, emoji); err != nil {
		return fmt.Errorf("react %s: %w", emoji, err)
	}
	return nil
}

func (d *DiscordChannel) CountReactions(ctx context.Context, channelID, messageID string) (map[string]int, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	m, err := d.session.Message(ctx, channelID, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	counts := make(map[string]int, len(m.Reactions))
	for _, r := range m.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		n := r.Count
		if r.Me {
			n--
		}
		counts[r.Emoji.Name] = n
	}
	return counts, nil
}

// FetchMessageHistory pages backwards through the channel and returns the
// messages oldest first.
func (d *DiscordChannel) FetchMessageHistory(ctx context.Context, channelID string) ([]bus.HistoryMessage, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	var out []bus.HistoryMessage
	before := ""
	for {
		page, err := d.session.Messages(ctx, channelID, historyPageSize, before)
		if err != nil {
			return nil, fmt.Errorf("fetch history of %s: %w", channelID, err)
		}
		for _, m := range page {
			h := bus.HistoryMessage{
				ID:        m.ID,
				Content:   m.Content,
				HasEmbeds: len(m.Embeds) > 0,
				Timestamp: m.Timestamp,
			}
			if m.Author != nil {
				h.AuthorID = m.Author.ID
				h.AuthorName = m.Author.Username
				h.Bot = m.Author.Bot
			}
			out = append(out, h)
		}
		if len(page) < historyPageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (d *DiscordChannel) FindChannelByName(ctx context.Context, name string) (string, bool, error) {
	if err := d.ready(); err != nil {
		return "", false, err
	}
	chans, err := d.session.Channels(ctx, d.guildID)
	if err != nil {
		return "", false, fmt.Errorf("list channels: %w", err)
	}
	for _, c := range chans {
		if c.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(c.Name, name) {
			return c.ID, true, nil
		}
	}
	return "", false, nil
}

// overwrites resolves targets to Discord IDs. Roles may be given by ID or
// name; unknown roles are skipped.
func (d *DiscordChannel) overwrites(ctx context.Context, overrides []bus.PermissionOverride) ([]*discordgo.PermissionOverwrite, error) {
	var out []*discordgo.PermissionOverwrite
	var roles []*discordgo.Role
	for _, o := range overrides {
		ow := &discordgo.PermissionOverwrite{Allow: permissionBits(o.Allow), Deny: permissionBits(o.Deny)}
		switch o.Target {
		case bus.TargetEveryone:
			ow.ID, ow.Type = d.guildID, discordgo.PermissionOverwriteTypeRole
		case bus.TargetMember:
			ow.ID, ow.Type = o.ID, discordgo.PermissionOverwriteTypeMember
		case bus.TargetSelf:
			ow.ID, ow.Type = d.session.SelfID(), discordgo.PermissionOverwriteTypeMember
		case bus.TargetRole:
			if roles == nil {
				var err error
				if roles, err = d.guildRoles(ctx); err != nil {
					return nil, fmt.Errorf("list roles: %w", err)
				}
			}
			id, ok := findRole(roles, o.ID)
			if !ok {
				log.Printf("[discord] role %q not found, skipping override", o.ID)
				continue
			}
			ow.ID, ow.Type = id, discordgo.PermissionOverwriteTypeRole
		default:
			return nil, fmt.Errorf("override target %q: %w", o.Target, apperr.ErrInvalidInput)
		}
		if ow.ID == "" {
			continue
		}
		out = append(out, ow)
	}
	return out, nil
}

func findRole(roles []*discordgo.Role, ref string) (string, bool) {
	for _, r := range roles {
		if r.ID == ref {
			return r.ID, true
		}
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, ref) {
			return r.ID, true
		}
	}
	return "", false
}

func permissionBits(perms []bus.Permission) int64 {
	var bits int64
	for _, p := range perms {
		switch p {
		case bus.PermView:
			bits |= discordgo.PermissionViewChannel
		case bus.PermSend:
			bits |= discordgo.PermissionSendMessages
		case bus.PermReadHistory:
			bits |= discordgo.PermissionReadMessageHistory
		case bus.PermManageChannels:
			bits |= discordgo.PermissionManageChannels
		}
	}
	return bits
}

func toMessageSend(msg bus.OutboundMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{Content: msg.Content}
	if msg.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
	}
	if msg.File != nil {
		send.Files = []*discordgo.File{{
			Name:        msg.File.Name,
			ContentType: msg.File.ContentType,
			Reader:      bytes.NewReader(msg.File.Data),
		}}
	}
	return send
}

func toEmbed(e *bus.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if e.AuthorName != "" {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, IconURL: e.AuthorIcon}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.Format(time.RFC3339)
	}
	return out
}
