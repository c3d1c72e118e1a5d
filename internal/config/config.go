package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/neverbot/internal/chat"
	"github.com/nextlevelbuilder/neverbot/internal/completion"
	"github.com/nextlevelbuilder/neverbot/internal/conversation"
	"github.com/nextlevelbuilder/neverbot/internal/insight"
	"github.com/nextlevelbuilder/neverbot/internal/resilience"
	"github.com/nextlevelbuilder/neverbot/internal/store"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the NeverBot gateway.
type Config struct {
	Discord      DiscordConfig      `json:"discord"`
	Provider     ProviderConfig     `json:"provider"`
	Conversation ConversationConfig `json:"conversation"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Resilience   ResilienceConfig   `json:"resilience"`
	Database     DatabaseConfig     `json:"database,omitempty"`
	Telemetry    TelemetryConfig    `json:"telemetry,omitempty"`
	Policy       PolicyConfig       `json:"policy,omitempty"`
	Persona      PersonaConfig      `json:"persona,omitempty"`
	Insight      InsightConfig      `json:"insight,omitempty"`
	mu           sync.RWMutex
}

// DiscordConfig configures the Discord connection and engagement behaviour.
// Everything except Token and the registration fields is hot-reloadable.
type DiscordConfig struct {
	Token            string              `json:"token"`
	GuildID          string              `json:"guild_id,omitempty"`          // register commands to one guild only (dev)
	RegisterCommands *bool               `json:"register_commands,omitempty"` // default true
	BotNames         FlexibleStringSlice `json:"bot_names,omitempty"`         // extra trigger names; the bot's own name is always added
	StopKeywords     FlexibleStringSlice `json:"stop_keywords,omitempty"`
	Reaction         *string             `json:"reaction,omitempty"` // default "🤔", "" disables
	ReactOnQuestions bool                `json:"react_on_questions,omitempty"`
	StopAck          string              `json:"stop_ack,omitempty"`
	SlowDown         string              `json:"slow_down,omitempty"`
	FallbackLines    []string            `json:"fallback_lines,omitempty"`
	HistoryLimit     int                 `json:"history_limit,omitempty"`      // follow-up history messages (default 12)
	MaxMessageLength int                 `json:"max_message_length,omitempty"` // default 2000
}

// ShouldRegisterCommands reports whether slash commands are pushed on start.
func (d DiscordConfig) ShouldRegisterCommands() bool {
	return d.RegisterCommands == nil || *d.RegisterCommands
}

// ProviderConfig configures the completion backend.
type ProviderConfig struct {
	APIKey      string  `json:"api_key"`
	APIBase     string  `json:"api_base,omitempty"` // default "https://api.openai.com/v1"
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Timeout     string  `json:"timeout,omitempty"` // per attempt, default "30s"
	Retries     *int    `json:"retries,omitempty"` // default 2
}

// ConversationConfig bounds conversation state.
type ConversationConfig struct {
	Timeout           string `json:"timeout,omitempty"`     // follow-up window, default "2m"
	MaxEntries        int    `json:"max_entries,omitempty"` // hot contexts kept, default 10000
	PersistMaxAge     string `json:"persist_max_age,omitempty"`
	PersistMaxEntries int    `json:"persist_max_entries,omitempty"`
	SweepInterval     string `json:"sweep_interval,omitempty"` // default "1m"
}

// RateLimitConfig configures per-actor rate limiting.
type RateLimitConfig struct {
	Window        string `json:"window,omitempty"` // default "60s"
	Max           int    `json:"max,omitempty"`    // default 10
	SweepInterval string `json:"sweep_interval,omitempty"`
}

// ResilienceConfig is the default profile for Discord API calls.
type ResilienceConfig struct {
	Retries   *int   `json:"retries,omitempty"`
	BaseDelay string `json:"base_delay,omitempty"`
	MaxDelay  string `json:"max_delay,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	Jitter    string `json:"jitter,omitempty"`
}

// DatabaseConfig selects the durable store.
// PostgresDSN is never read from the config file, only from NEVERBOT_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"`        // "standalone" (default, SQLite) or "managed" (Postgres)
	SQLitePath  string `json:"sqlite_path,omitempty"` // default "neverbot.db"
}

// IsManagedMode returns true if the gateway stores state in Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures OpenTelemetry export for traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "neverbot"
	Headers     map[string]string `json:"headers,omitempty"`
}

// PolicyConfig holds behaviour switches for failure cases.
type PolicyConfig struct {
	// FailClosedOnConfigError ignores messages when the channel allow-list
	// cannot be read. The default is to treat the channel as enabled.
	FailClosedOnConfigError bool `json:"fail_closed_on_config_error,omitempty"`
}

// PersonaConfig overrides the bot persona.
type PersonaConfig struct {
	Instructions    []string `json:"instructions,omitempty"`
	InsightTemplate string   `json:"insight_template,omitempty"`
}

// InsightConfig schedules the personality summary refresh.
type InsightConfig struct {
	Enabled   *bool  `json:"enabled,omitempty"`  // default true
	Interval  string `json:"interval,omitempty"` // default "24h"
	Lookback  string `json:"lookback,omitempty"` // users seen this recently are refreshed; default: interval
	Samples   int    `json:"samples,omitempty"`  // recent messages per user, default 20
	BatchSize int    `json:"batch_size,omitempty"`
}

// IsEnabled reports whether the periodic refresh runs in the gateway.
func (ic InsightConfig) IsEnabled() bool {
	return ic.Enabled == nil || *ic.Enabled
}

// ToUpdaterConfig converts InsightConfig to insight.Config.
func (ic InsightConfig) ToUpdaterConfig() insight.Config {
	interval := parseDuration(ic.Interval, insight.DefaultInterval)
	return insight.Config{
		Interval:  interval,
		Lookback:  parseDuration(ic.Lookback, interval),
		Samples:   ic.Samples,
		BatchSize: ic.BatchSize,
	}
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

// ToProfile converts ResilienceConfig to a resilience.Profile with defaults applied.
func (rc ResilienceConfig) ToProfile() resilience.Profile {
	p := resilience.DefaultProfile()
	if rc.Retries != nil {
		p = p.WithRetries(*rc.Retries)
	}
	p.BaseDelay = parseDuration(rc.BaseDelay, p.BaseDelay)
	p.MaxDelay = parseDuration(rc.MaxDelay, p.MaxDelay)
	p.Timeout = parseDuration(rc.Timeout, p.Timeout)
	p.Jitter = parseDuration(rc.Jitter, p.Jitter)
	return p
}

// ToProfile returns the completion call profile.
func (pc ProviderConfig) ToProfile() resilience.Profile {
	p := resilience.CompletionProfile()
	if pc.Retries != nil {
		p = p.WithRetries(*pc.Retries)
	}
	p.Timeout = parseDuration(pc.Timeout, p.Timeout)
	return p
}

// ToStoreConfig converts DatabaseConfig to store.StoreConfig.
func (dc DatabaseConfig) ToStoreConfig() store.StoreConfig {
	path := dc.SQLitePath
	if path == "" {
		path = "neverbot.db"
	}
	return store.StoreConfig{Mode: dc.Mode, PostgresDSN: dc.PostgresDSN, SQLitePath: path}
}

// ToStoreConfig converts ConversationConfig to conversation.Config.
func (cc ConversationConfig) ToStoreConfig() conversation.Config {
	return conversation.Config{
		Timeout:           parseDuration(cc.Timeout, conversation.DefaultTimeout),
		MaxEntries:        cc.MaxEntries,
		PersistMaxAge:     parseDuration(cc.PersistMaxAge, conversation.DefaultPersistMaxAge),
		PersistMaxEntries: cc.PersistMaxEntries,
	}
}

// SweepEvery returns the expired-context sweep interval.
func (cc ConversationConfig) SweepEvery() time.Duration {
	return parseDuration(cc.SweepInterval, time.Minute)
}

// WindowDuration returns the rate-limit window.
func (rc RateLimitConfig) WindowDuration() time.Duration {
	return parseDuration(rc.Window, 60*time.Second)
}

// SweepEvery returns the idle-window sweep interval.
func (rc RateLimitConfig) SweepEvery() time.Duration {
	return parseDuration(rc.SweepInterval, 5*time.Minute)
}

// ChatSettings builds the live engagement settings from the discord section.
func (c *Config) ChatSettings() chat.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := chat.DefaultSettings()
	d := c.Discord
	if len(d.BotNames) > 0 {
		s.BotNames = append([]string(nil), d.BotNames...)
	}
	if len(d.StopKeywords) > 0 {
		s.StopKeywords = append([]string(nil), d.StopKeywords...)
	}
	if d.Reaction != nil {
		s.Reaction = *d.Reaction
	}
	s.ReactOnQuestions = d.ReactOnQuestions
	if d.StopAck != "" {
		s.StopAck = d.StopAck
	}
	if d.SlowDown != "" {
		s.SlowDown = d.SlowDown
	}
	if len(d.FallbackLines) > 0 {
		s.FallbackLines = append([]string(nil), d.FallbackLines...)
	}
	if d.HistoryLimit > 0 {
		s.HistoryLimit = d.HistoryLimit
	}
	if d.MaxMessageLength > 0 {
		s.MaxMessageLength = d.MaxMessageLength
	}
	s.FailClosed = c.Policy.FailClosedOnConfigError
	return s
}

// CompletionPersona returns the persona with configured overrides applied.
func (c *Config) CompletionPersona() completion.Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := completion.DefaultPersona()
	if len(c.Persona.Instructions) > 0 {
		p.Instructions = append([]string(nil), c.Persona.Instructions...)
	}
	if c.Persona.InsightTemplate != "" {
		p.InsightTemplate = c.Persona.InsightTemplate
	}
	return p
}
