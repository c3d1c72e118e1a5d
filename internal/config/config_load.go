package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			APIBase:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.8,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "neverbot.db",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "neverbot",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	envBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr(&c.Discord.Token, "NEVERBOT_DISCORD_TOKEN", "BOT_TOKEN")
	envStr(&c.Discord.GuildID, "NEVERBOT_DISCORD_GUILD_ID")

	envStr(&c.Provider.APIKey, "NEVERBOT_OPENAI_API_KEY", "OPENAI_API_KEY")
	envStr(&c.Provider.APIBase, "NEVERBOT_OPENAI_API_BASE")
	envStr(&c.Provider.Model, "NEVERBOT_MODEL")
	if v := os.Getenv("NEVERBOT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Provider.MaxTokens = n
		}
	}

	envStr(&c.Database.PostgresDSN, "NEVERBOT_POSTGRES_DSN")
	envStr(&c.Database.Mode, "NEVERBOT_MODE")
	envStr(&c.Database.SQLitePath, "NEVERBOT_SQLITE_PATH")

	envStr(&c.Telemetry.Endpoint, "NEVERBOT_TELEMETRY_ENDPOINT")
	envStr(&c.Telemetry.Protocol, "NEVERBOT_TELEMETRY_PROTOCOL")
	envStr(&c.Telemetry.ServiceName, "NEVERBOT_TELEMETRY_SERVICE_NAME")
	envBool(&c.Telemetry.Enabled, "NEVERBOT_TELEMETRY_ENABLED")
	envBool(&c.Telemetry.Insecure, "NEVERBOT_TELEMETRY_INSECURE")

	envBool(&c.Policy.FailClosedOnConfigError, "NEVERBOT_FAIL_CLOSED")
}

// Validate reports configuration that makes the gateway unable to start.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Discord.Token == "" {
		return fmt.Errorf("discord token is required (set NEVERBOT_DISCORD_TOKEN or discord.token)")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api key is required (set NEVERBOT_OPENAI_API_KEY or provider.api_key)")
	}
	if c.Database.Mode == "managed" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("managed mode requires NEVERBOT_POSTGRES_DSN")
	}
	return nil
}

// Hash returns a short SHA-256 of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a copy of the config with secret fields masked, for
// logging and the config print command.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	maskNonEmpty(&cp.Discord.Token)
	maskNonEmpty(&cp.Provider.APIKey)
	for k := range cp.Telemetry.Headers {
		cp.Telemetry.Headers[k] = secretMask
	}
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}
