package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultSuggestionThreshold    = 5
	DefaultHelpThreshold          = 10
	DefaultSuggestCreateThreshold = 5
	DefaultBufSize                = 100
	DefaultStoreBackend           = StoreBackendFile
	DefaultTicketPrefix           = "🎟️-ticket-"
	DefaultTicketReason           = "Sin motivo especificado"
	DefaultTicketCloseDelay       = "3s"
	DefaultWarningTTL             = "10s"
	DefaultTranscriptChannelName  = "transcript"
	DefaultEscalation             = EscalationWarn

	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"

	EscalationWarn = "warn"
	EscalationBan  = "ban"
)

const DefaultSuggestionReminder = "💬 __***¿Tienes alguna sugerencia?***__\n" +
	"Puedes enviar ideas tanto 🧠 **OOC**, 🎭 **IC** como del 🌐 **Discord**.\n" +
	"Usa el comando 👉 `/suggest create` para hacer tu propuesta."

const DefaultHelpReminder = "🆘 __***¿Te hace falta ayuda al momento?***__\n" +
	"Escribe por aquí y te echamos una mano rápido entre todos. 👇"

const (
	DefaultWelcomeMessage = "👋 ¡Bienvenido/a, {mention}! Gracias por unirte a nuestro servidor."
	DefaultGoodbyeMessage = "👋 {name} ha salido del servidor. ¡Hasta pronto!"
)

var DefaultAdminRoles = []string{"Gerente", "Subgerente", "👑 Gerente", "👑 Subgerente"}

type Config struct {
	Discord       DiscordConfig        `json:"discord"`
	Channels      ChannelsConfig       `json:"channels"`
	Reminders     RemindersConfig      `json:"reminders"`
	Permissions   PermissionsConfig    `json:"permissions"`
	Strikes       StrikesConfig        `json:"strikes"`
	Tickets       TicketsConfig        `json:"tickets"`
	Messages      MessagesConfig       `json:"messages"`
	Store         StoreConfig          `json:"store"`
	Workspace     string               `json:"workspace"`
	Announcements []AnnouncementConfig `json:"announcements,omitempty"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guildId"`
	AppID   string `json:"appId,omitempty"`
}

type ChannelsConfig struct {
	Suggestions           string `json:"suggestions"`
	SuggestionResults     string `json:"suggestionResults,omitempty"`
	Welcome               string `json:"welcome,omitempty"`
	Transcripts           string `json:"transcripts,omitempty"`
	TranscriptChannelName string `json:"transcriptChannelName,omitempty"`
}

// ReminderConfig drives one counter instance.
type ReminderConfig struct {
	Threshold int    `json:"threshold"`
	Message   string `json:"message"`
}

type RemindersConfig struct {
	SuggestionChannel ReminderConfig `json:"suggestionChannel"`
	Help              ReminderConfig `json:"help"`
	SuggestCreate     ReminderConfig `json:"suggestCreate"`
}

type PermissionsConfig struct {
	AdminRoles []string `json:"adminRoles"`
}

type StrikesConfig struct {
	Limits     map[string]int `json:"limits"`
	Warnings   map[string]int `json:"warnings,omitempty"`
	Escalation string         `json:"escalation"`
}

type TicketsConfig struct {
	ChannelPrefix string `json:"channelPrefix"`
	DefaultReason string `json:"defaultReason"`
	CloseDelay    string `json:"closeDelay"`
	WarningTTL    string `json:"warningTtl"`
}

type MessagesConfig struct {
	Welcome string `json:"welcome"`
	Goodbye string `json:"goodbye"`
	// ServerName fills {server} in the greeting texts.
	ServerName string `json:"serverName,omitempty"`
}

type StoreConfig struct {
	Backend string `json:"backend"`
	DataDir string `json:"dataDir,omitempty"`
}

// AnnouncementConfig is a recurring message posted either on a cron
// schedule (six-field expression with seconds) or every fixed interval.
type AnnouncementConfig struct {
	Name      string `json:"name"`
	Schedule  string `json:"schedule,omitempty"`
	Every     string `json:"every,omitempty"`
	ChannelID string `json:"channelId"`
	Message   string `json:"message"`
}

// Interval parses Every. It is 0 when the announcement uses a cron schedule.
func (a AnnouncementConfig) Interval() (time.Duration, error) {
	if strings.TrimSpace(a.Every) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(a.Every))
	if err != nil {
		return 0, fmt.Errorf("announcement %s every: %w", a.Name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("announcement %s every must be positive", a.Name)
	}
	return d, nil
}

func DefaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{
			TranscriptChannelName: DefaultTranscriptChannelName,
		},
		Reminders: RemindersConfig{
			SuggestionChannel: ReminderConfig{Threshold: DefaultSuggestionThreshold, Message: DefaultSuggestionReminder},
			Help:              ReminderConfig{Threshold: DefaultHelpThreshold, Message: DefaultHelpReminder},
			SuggestCreate:     ReminderConfig{Threshold: DefaultSuggestCreateThreshold, Message: DefaultSuggestionReminder},
		},
		Permissions: PermissionsConfig{
			AdminRoles: append([]string(nil), DefaultAdminRoles...),
		},
		Strikes: StrikesConfig{
			Limits:     map[string]int{"minor": 5, "moderate": 3, "severe": 1},
			Warnings:   map[string]int{"minor": 3, "moderate": 2},
			Escalation: DefaultEscalation,
		},
		Tickets: TicketsConfig{
			ChannelPrefix: DefaultTicketPrefix,
			DefaultReason: DefaultTicketReason,
			CloseDelay:    DefaultTicketCloseDelay,
			WarningTTL:    DefaultWarningTTL,
		},
		Messages: MessagesConfig{
			Welcome: DefaultWelcomeMessage,
			Goodbye: DefaultGoodbyeMessage,
		},
		Store: StoreConfig{
			Backend: DefaultStoreBackend,
		},
		Workspace: filepath.Join(ConfigDir(), "workspace"),
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".modclaw")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DataDir is where persisted namespaces and scheduler jobs live.
func (c *Config) DataDir() string {
	if dir := strings.TrimSpace(c.Store.DataDir); dir != "" {
		return dir
	}
	return filepath.Join(ConfigDir(), "data")
}

// JobsPath is where the scheduler keeps its jobs.
func (c *Config) JobsPath() string {
	return filepath.Join(c.DataDir(), "cron", "jobs.json")
}

func LoadConfig() (*Config, error) {
	// A missing .env is the normal case in production.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("MODCLAW_DISCORD_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if token := os.Getenv("BOT_TOKEN"); token != "" && cfg.Discord.Token == "" {
		cfg.Discord.Token = token
	}
	if guild := os.Getenv("MODCLAW_GUILD_ID"); guild != "" {
		cfg.Discord.GuildID = guild
	}
	if ch := os.Getenv("MODCLAW_SUGGESTIONS_CHANNEL"); ch != "" {
		cfg.Channels.Suggestions = ch
	}
	if ch := os.Getenv("CHANNEL_ID"); ch != "" && cfg.Channels.Suggestions == "" {
		cfg.Channels.Suggestions = ch
	}
	if ch := os.Getenv("MODCLAW_RESULTS_CHANNEL"); ch != "" {
		cfg.Channels.SuggestionResults = ch
	}
	if ch := os.Getenv("MODCLAW_WELCOME_CHANNEL"); ch != "" {
		cfg.Channels.Welcome = ch
	}
	if ch := os.Getenv("MODCLAW_TRANSCRIPT_CHANNEL"); ch != "" {
		cfg.Channels.Transcripts = ch
	}
	if threshold := os.Getenv("MESSAGE_THRESHOLD"); threshold != "" {
		if parsed, err := strconv.Atoi(threshold); err == nil {
			cfg.Reminders.SuggestionChannel.Threshold = parsed
		}
	}
	if msg := os.Getenv("REMINDER_MESSAGE"); msg != "" {
		cfg.Reminders.SuggestionChannel.Message = msg
	}
	if roles := os.Getenv("MODCLAW_ADMIN_ROLES"); roles != "" {
		cfg.Permissions.AdminRoles = splitList(roles)
	}
	if name := os.Getenv("MODCLAW_SERVER_NAME"); name != "" {
		cfg.Messages.ServerName = name
	}
	if backend := os.Getenv("MODCLAW_STORE_BACKEND"); backend != "" {
		cfg.Store.Backend = backend
	}
	if dir := os.Getenv("MODCLAW_DATA_DIR"); dir != "" {
		cfg.Store.DataDir = dir
	}

	if cfg.Workspace == "" {
		cfg.Workspace = DefaultConfig().Workspace
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Strikes.Escalation == "" {
		cfg.Strikes.Escalation = DefaultEscalation
	}
	if cfg.Tickets.ChannelPrefix == "" {
		cfg.Tickets.ChannelPrefix = DefaultTicketPrefix
	}
	if cfg.Tickets.DefaultReason == "" {
		cfg.Tickets.DefaultReason = DefaultTicketReason
	}
	if cfg.Channels.TranscriptChannelName == "" {
		cfg.Channels.TranscriptChannelName = DefaultTranscriptChannelName
	}

	return cfg, nil
}

// Validate reports every problem that prevents the gateway from starting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, errors.New("discord token is required (MODCLAW_DISCORD_TOKEN or BOT_TOKEN)"))
	}
	if strings.TrimSpace(c.Channels.Suggestions) == "" {
		errs = append(errs, errors.New("suggestions channel is required (MODCLAW_SUGGESTIONS_CHANNEL or CHANNEL_ID)"))
	}
	reminders := map[string]ReminderConfig{
		"suggestionChannel": c.Reminders.SuggestionChannel,
		"help":              c.Reminders.Help,
		"suggestCreate":     c.Reminders.SuggestCreate,
	}
	for _, name := range []string{"suggestionChannel", "help", "suggestCreate"} {
		if reminders[name].Threshold <= 0 {
			errs = append(errs, fmt.Errorf("reminders.%s.threshold must be greater than 0", name))
		}
	}
	for severity, limit := range c.Strikes.Limits {
		if limit <= 0 {
			errs = append(errs, fmt.Errorf("strikes.limits.%s must be greater than 0", severity))
		}
	}
	switch c.Strikes.Escalation {
	case EscalationWarn, EscalationBan:
	default:
		errs = append(errs, fmt.Errorf("strikes.escalation must be %q or %q", EscalationWarn, EscalationBan))
	}
	switch c.Store.Backend {
	case StoreBackendFile, StoreBackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q", StoreBackendFile, StoreBackendSQLite))
	}
	for _, a := range c.Announcements {
		if (a.Schedule == "") == (a.Every == "") {
			errs = append(errs, fmt.Errorf("announcement %s needs exactly one of schedule or every", a.Name))
			continue
		}
		if _, err := a.Interval(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t TicketsConfig) CloseDelayDuration() time.Duration {
	return parseDuration(t.CloseDelay, DefaultTicketCloseDelay)
}

func (t TicketsConfig) WarningTTLDuration() time.Duration {
	return parseDuration(t.WarningTTL, DefaultWarningTTL)
}

func parseDuration(value, fallback string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d < 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
