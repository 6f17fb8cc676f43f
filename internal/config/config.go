package config

import "time"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `yaml:"addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	MaxRequestBytes   int64    `yaml:"max_request_bytes"`

	// AllowedOrigins lists browser origins allowed by CORS. Credentials are always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`
	// Secret signs the session cookie (HS256). Required outside development.
	Secret        string   `yaml:"secret"`
	TTL           Duration `yaml:"ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
	SecureCookie  bool     `yaml:"secure_cookie"`
}

type StoreConfig struct {
	// Type is "memory" or "redis".
	Type          string `yaml:"type"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type GeminiConfig struct {
	TextModel  string `yaml:"text_model"`
	ImageModel string `yaml:"image_model"`
	// Endpoint overrides the gRPC endpoint (host:port); empty uses the library default.
	Endpoint string `yaml:"endpoint"`
	// MaxClients caps the per-key client cache; the least recently used idle client is closed first.
	MaxClients int `yaml:"max_clients"`
}

type OpenAIConfig struct {
	BaseURL    string `yaml:"base_url"`
	TextModel  string `yaml:"text_model"`
	ImageModel string `yaml:"image_model"`
	ImageSize  string `yaml:"image_size"`
	// MaxResponseBytes caps every upstream body read, downloaded images included.
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
}

type GatewayConfig struct {
	// Provider is "gemini", "openai" or "mock".
	Provider string   `yaml:"provider"`
	Timeout  Duration `yaml:"timeout"`
	// Language is the natural language topics and steps are written in.
	Language         string       `yaml:"language"`
	TopicCount       int          `yaml:"topic_count"`
	ImageConcurrency int          `yaml:"image_concurrency"`
	Gemini           GeminiConfig `yaml:"gemini"`
	OpenAI           OpenAIConfig `yaml:"openai"`
}

type RealtimeConfig struct {
	// Bus is "local" (single process) or "redis" (fan out across replicas through pub/sub).
	Bus          string   `yaml:"bus"`
	Channel      string   `yaml:"channel"`
	ClientBuffer int      `yaml:"client_buffer"`
	Heartbeat    Duration `yaml:"heartbeat"`
}

type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	OTelEnabled    bool    `yaml:"otel_enabled"`
	OTelEndpoint   string  `yaml:"otel_endpoint"`
	OTelInsecure   bool    `yaml:"otel_insecure"`
	OTelSampleRate float64 `yaml:"otel_sample_rate"`
}

type Config struct {
	Env       string          `yaml:"env"`
	LogLevel  string          `yaml:"log_level"`
	HTTP      HTTPConfig      `yaml:"http"`
	Session   SessionConfig   `yaml:"session"`
	Store     StoreConfig     `yaml:"store"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func (c *Config) IsProduction() bool {
	return c != nil && (c.Env == "prod" || c.Env == "production")
}
