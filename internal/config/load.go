package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/repairguide-backend/internal/platform/envutil"
)

const devSessionSecret = "repairguide-dev-secret"

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got kind %d", node.Kind)
	}
	s := strings.TrimSpace(node.Value)
	if s == "" || s == "null" || s == "~" {
		d.Duration = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(n)
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

func Default() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
			MaxRequestBytes:   1 << 20,
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:5173",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:5173",
			},
		},
		Session: SessionConfig{
			CookieName:    "rg_session",
			TTL:           Duration{Duration: 2 * time.Hour},
			SweepInterval: Duration{Duration: time.Minute},
		},
		Store: StoreConfig{
			Type:      "memory",
			KeyPrefix: "repairguide",
		},
		Gateway: GatewayConfig{
			Provider:         "gemini",
			Timeout:          Duration{Duration: 90 * time.Second},
			Language:         "Brazilian Portuguese",
			TopicCount:       12,
			ImageConcurrency: 4,
			Gemini: GeminiConfig{
				TextModel:  "gemini-2.5-flash",
				ImageModel: "gemini-2.5-flash-image",
				MaxClients: 256,
			},
			OpenAI: OpenAIConfig{
				BaseURL:          "https://api.openai.com",
				TextModel:        "gpt-4.1-mini",
				ImageModel:       "gpt-image-1",
				ImageSize:        "1024x1024",
				MaxResponseBytes: 32 << 20,
			},
		},
		Realtime: RealtimeConfig{
			Bus:          "local",
			Channel:      "repairguide:sse",
			ClientBuffer: 16,
			Heartbeat:    Duration{Duration: 15 * time.Second},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "repairguide",
			OTelSampleRate: 0.1,
		},
	}
}

// Load reads defaults, then the YAML file (RG_CONFIG_PATH or ./config/config.yaml), then env overrides.
func Load() (*Config, error) {
	cfg := Default()

	cfgPath, _ := envutil.String("RG_CONFIG_PATH")
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "config.yaml")
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
			}
		}
	}
	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", cfgPath, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := envutil.String("LOG_MODE"); ok {
		cfg.Env = v
	}
	if v, ok := envutil.String("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := envutil.String("RG_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	}
	if v, ok := envutil.String("PORT"); ok && !strings.Contains(v, ":") {
		cfg.HTTP.Addr = ":" + v
	}
	if v, ok := envutil.String("RG_ALLOWED_ORIGINS"); ok {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	if v, ok := envutil.String("RG_SESSION_SECRET"); ok {
		cfg.Session.Secret = v
	}
	cfg.Session.TTL.Duration = envutil.Duration("RG_SESSION_TTL", cfg.Session.TTL.Duration)
	cfg.Session.SecureCookie = envutil.Bool("RG_SECURE_COOKIE", cfg.Session.SecureCookie)
	if v, ok := envutil.String("RG_STORE"); ok {
		cfg.Store.Type = v
	}
	if v, ok := envutil.String("REDIS_ADDR"); ok {
		cfg.Store.RedisAddr = v
		if _, explicit := envutil.String("RG_STORE"); !explicit {
			cfg.Store.Type = "redis"
		}
	}
	if v, ok := envutil.String("REDIS_PASSWORD"); ok {
		cfg.Store.RedisPassword = v
	}
	cfg.Store.RedisDB = envutil.Int("REDIS_DB", cfg.Store.RedisDB)
	if v, ok := envutil.String("RG_GATEWAY_PROVIDER"); ok {
		cfg.Gateway.Provider = v
	}
	cfg.Gateway.Timeout.Duration = envutil.Duration("RG_GATEWAY_TIMEOUT", cfg.Gateway.Timeout.Duration)
	if v, ok := envutil.String("RG_LANGUAGE"); ok {
		cfg.Gateway.Language = v
	}
	if v, ok := envutil.String("OPENAI_BASE_URL"); ok {
		cfg.Gateway.OpenAI.BaseURL = v
	}
	if v, ok := envutil.String("RG_REALTIME_BUS"); ok {
		cfg.Realtime.Bus = v
	}
	cfg.Telemetry.MetricsEnabled = envutil.Bool("METRICS_ENABLED", cfg.Telemetry.MetricsEnabled)
	cfg.Telemetry.OTelEnabled = envutil.Bool("OTEL_ENABLED", cfg.Telemetry.OTelEnabled)
	if v, ok := envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		cfg.Telemetry.OTelEndpoint = v
	}
	cfg.Telemetry.OTelInsecure = envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Telemetry.OTelInsecure)
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "development"
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.MaxRequestBytes <= 0 {
		c.HTTP.MaxRequestBytes = 1 << 20
	}

	if strings.TrimSpace(c.Session.CookieName) == "" {
		c.Session.CookieName = "rg_session"
	}
	if c.Session.TTL.Duration <= 0 {
		return errors.New("session.ttl must be positive")
	}
	if c.Session.SweepInterval.Duration <= 0 {
		c.Session.SweepInterval = Duration{Duration: time.Minute}
	}
	if strings.TrimSpace(c.Session.Secret) == "" {
		if c.IsProduction() {
			return errors.New("session.secret (RG_SESSION_SECRET) is required in production")
		}
		c.Session.Secret = devSessionSecret
	}

	c.Store.Type = strings.ToLower(strings.TrimSpace(c.Store.Type))
	switch c.Store.Type {
	case "", "memory":
		c.Store.Type = "memory"
	case "redis":
		if strings.TrimSpace(c.Store.RedisAddr) == "" {
			return errors.New("store.redis_addr (REDIS_ADDR) is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid store.type=%q", c.Store.Type)
	}
	if strings.TrimSpace(c.Store.KeyPrefix) == "" {
		c.Store.KeyPrefix = "repairguide"
	}

	c.Gateway.Provider = strings.ToLower(strings.TrimSpace(c.Gateway.Provider))
	switch c.Gateway.Provider {
	case "gemini", "mock":
	case "openai", "oai_http":
		c.Gateway.Provider = "openai"
		c.Gateway.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.Gateway.OpenAI.BaseURL), "/")
		if c.Gateway.OpenAI.BaseURL == "" {
			return errors.New("gateway.openai.base_url is required for the openai provider")
		}
	default:
		return fmt.Errorf("invalid gateway.provider=%q", c.Gateway.Provider)
	}
	if c.Gateway.Timeout.Duration < 0 {
		return errors.New("gateway.timeout must not be negative")
	}
	if c.Gateway.Gemini.MaxClients <= 0 {
		c.Gateway.Gemini.MaxClients = 256
	}
	if c.Gateway.OpenAI.MaxResponseBytes <= 0 {
		c.Gateway.OpenAI.MaxResponseBytes = 32 << 20
	}
	if c.Gateway.TopicCount <= 0 {
		c.Gateway.TopicCount = 12
	}
	if c.Gateway.ImageConcurrency <= 0 {
		c.Gateway.ImageConcurrency = 4
	}
	if strings.TrimSpace(c.Gateway.Language) == "" {
		c.Gateway.Language = "Brazilian Portuguese"
	}

	c.Realtime.Bus = strings.ToLower(strings.TrimSpace(c.Realtime.Bus))
	switch c.Realtime.Bus {
	case "", "local":
		c.Realtime.Bus = "local"
	case "redis":
		if strings.TrimSpace(c.Store.RedisAddr) == "" {
			return errors.New("realtime.bus=redis requires store.redis_addr (REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("invalid realtime.bus=%q", c.Realtime.Bus)
	}
	if strings.TrimSpace(c.Realtime.Channel) == "" {
		c.Realtime.Channel = "repairguide:sse"
	}
	if c.Realtime.ClientBuffer <= 0 {
		c.Realtime.ClientBuffer = 16
	}
	if c.Realtime.Heartbeat.Duration <= 0 {
		c.Realtime.Heartbeat = Duration{Duration: 15 * time.Second}
	}

	if c.Telemetry.OTelSampleRate < 0 {
		c.Telemetry.OTelSampleRate = 0
	}
	if c.Telemetry.OTelSampleRate > 1 {
		c.Telemetry.OTelSampleRate = 1
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = "repairguide"
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
