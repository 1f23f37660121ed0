package config

// Config is the root configuration for the butler server.
// Secrets (DSN, API keys, webhook secret) are read from env only and are
// never written back to the config file.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	LLM        LLMConfig        `json:"llm"`
	Embeddings EmbeddingsConfig `json:"embeddings"`
	Notify     NotifyConfig     `json:"notify"`
	Webhook    WebhookConfig    `json:"webhook"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Sync       SyncConfig       `json:"sync"`
	Retention  RetentionConfig  `json:"retention"`
	Services   ServicesConfig   `json:"services"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm"` // per-client inbound limit; <=0 disables
	AuthToken    string `json:"-"`              // from env BUTLER_AUTH_TOKEN only
}

// DatabaseConfig configures Postgres.
// DSN is never read from the config file, only from env BUTLER_POSTGRES_DSN.
type DatabaseConfig struct {
	DSN string `json:"-"`
}

// LLMConfig configures the Anthropic provider.
type LLMConfig struct {
	APIKey        string `json:"-"` // from env BUTLER_ANTHROPIC_API_KEY only
	Model         string `json:"model"`
	MaxTokens     int    `json:"max_tokens"`
	MaxToolRounds int    `json:"max_tool_rounds"`
	MaxImageMB    int    `json:"max_image_mb"`
	WebSearch     bool   `json:"web_search"` // expose the provider-hosted web search tool
}

// EmbeddingsConfig configures the external embedding service.
// An empty URL disables semantic recall (category search still works).
type EmbeddingsConfig struct {
	URL   string `json:"url,omitempty"`
	Model string `json:"model,omitempty"`
}

// NotifyConfig configures outbound notification delivery.
type NotifyConfig struct {
	GatewayURL     string `json:"gateway_url,omitempty"` // WhatsApp HTTP gateway
	TelegramToken  string `json:"-"`                     // from env BUTLER_TELEGRAM_TOKEN only
	MaxPerHour     int    `json:"max_per_hour"`          // per-user sliding window
	DefaultQuietTZ string `json:"default_quiet_tz"`      // IANA zone for HH:MM windows
}

// WebhookConfig configures inbound event ingestion.
// Secret comes from env BUTLER_WEBHOOK_SECRET only; unset rejects all posts.
type WebhookConfig struct {
	Secret string `json:"-"`
}

// SchedulerConfig configures the background task worker.
type SchedulerConfig struct {
	PollSeconds int `json:"poll_seconds"`
}

// SyncConfig configures the periodic metadata sync loop.
type SyncConfig struct {
	IntervalMinutes int `json:"interval_minutes"`
}

// RetentionConfig configures background pruning.
type RetentionConfig struct {
	AuditDays int `json:"audit_days"`
}

// ServicesConfig holds downstream service endpoints used by tools and the
// sync loop. Credentials come from env only.
type ServicesConfig struct {
	HomeAssistantURL   string `json:"home_assistant_url,omitempty"`
	HomeAssistantToken string `json:"-"` // env BUTLER_HA_TOKEN
	MediaURL           string `json:"media_url,omitempty"`
	MediaAPIKey        string `json:"-"` // env BUTLER_MEDIA_API_KEY
	WeatherURL         string `json:"weather_url,omitempty"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"` // e.g. "localhost:4318"; empty = no-op tracer
	ServiceName  string `json:"service_name,omitempty"`
}
