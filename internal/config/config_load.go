package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8420,
			RateLimitRPM: 60,
		},
		LLM: LLMConfig{
			Model:         "claude-sonnet-4-5-20250929",
			MaxTokens:     4096,
			MaxToolRounds: 5,
			MaxImageMB:    5,
			WebSearch:     true,
		},
		Embeddings: EmbeddingsConfig{
			Model: "nomic-embed-text",
		},
		Notify: NotifyConfig{
			MaxPerHour:     10,
			DefaultQuietTZ: "UTC",
		},
		Scheduler: SchedulerConfig{
			PollSeconds: 30,
		},
		Sync: SyncConfig{
			IntervalMinutes: 15,
		},
		Retention: RetentionConfig{
			AuditDays: 30,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "gobutler",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
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

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays BUTLER_* environment variables. Secrets only exist here.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.Database.DSN, "BUTLER_POSTGRES_DSN")
	setStr(&c.Server.AuthToken, "BUTLER_AUTH_TOKEN")
	setStr(&c.Server.Host, "BUTLER_HOST")
	setInt(&c.Server.Port, "BUTLER_PORT")

	setStr(&c.LLM.APIKey, "BUTLER_ANTHROPIC_API_KEY")
	setStr(&c.LLM.Model, "BUTLER_MODEL")
	setInt(&c.LLM.MaxToolRounds, "BUTLER_MAX_TOOL_ROUNDS")

	setStr(&c.Embeddings.URL, "BUTLER_EMBEDDINGS_URL")
	setStr(&c.Embeddings.Model, "BUTLER_EMBEDDINGS_MODEL")

	setStr(&c.Notify.GatewayURL, "BUTLER_NOTIFY_GATEWAY_URL")
	setStr(&c.Notify.TelegramToken, "BUTLER_TELEGRAM_TOKEN")
	setInt(&c.Notify.MaxPerHour, "BUTLER_NOTIFY_MAX_PER_HOUR")

	setStr(&c.Webhook.Secret, "BUTLER_WEBHOOK_SECRET")

	setInt(&c.Scheduler.PollSeconds, "BUTLER_SCHEDULER_POLL_SECONDS")
	setInt(&c.Retention.AuditDays, "BUTLER_AUDIT_RETENTION_DAYS")

	setStr(&c.Services.HomeAssistantURL, "BUTLER_HA_URL")
	setStr(&c.Services.HomeAssistantToken, "BUTLER_HA_TOKEN")
	setStr(&c.Services.MediaURL, "BUTLER_MEDIA_URL")
	setStr(&c.Services.MediaAPIKey, "BUTLER_MEDIA_API_KEY")
	setStr(&c.Services.WeatherURL, "BUTLER_WEATHER_URL")

	setStr(&c.Telemetry.OTLPEndpoint, "BUTLER_OTLP_ENDPOINT")
}

// MaxImageBytes returns the attachment size cap in bytes.
func (c *Config) MaxImageBytes() int {
	mb := c.LLM.MaxImageMB
	if mb <= 0 {
		mb = 5
	}
	return mb * 1024 * 1024
}
