// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port               string        `env:"PORT"                  envDefault:"8080"`
	FrontendURL        string        `env:"FRONTEND_URL"`
	DBPath             string        `env:"DB_PATH"               envDefault:"./data/prdesk.db"`
	SessionIdleTTL     time.Duration `env:"SESSION_IDLE_TTL"      envDefault:"60m"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL"        envDefault:"1m"`
	ProfilesSeedPath   string        `env:"PROFILES_SEED_PATH"`
	RateLimitRequests  int           `env:"RATE_LIMIT_REQUESTS"   envDefault:"30"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW"     envDefault:"1m"`
	MaxRequestBodySize int64         `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	Inference       InferenceConfig       `envPrefix:"INFERENCE_"`
	ConversationLog ConversationLogConfig `envPrefix:"CONVERSATION_LOG_"`
}

// InferenceConfig selects and addresses the inference provider.
type InferenceConfig struct {
	Transport        string        `env:"TRANSPORT"         envDefault:"http"`
	HTTPURL          string        `env:"HTTP_URL"          envDefault:"http://localhost:8000"`
	GRPCAddr         string        `env:"GRPC_ADDR"         envDefault:"localhost:50051"`
	Timeout          time.Duration `env:"TIMEOUT"           envDefault:"60s"`
	ConnectTimeout   time.Duration `env:"CONNECT_TIMEOUT"   envDefault:"5s"`
	KeepaliveTime    time.Duration `env:"KEEPALIVE_TIME"    envDefault:"2m"`
	KeepaliveTimeout time.Duration `env:"KEEPALIVE_TIMEOUT" envDefault:"10s"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `env:"ENABLED"        envDefault:"true"`
	Dir           string `env:"DIR"            envDefault:"./data/logs/conversations"`
	GlobalEnabled bool   `env:"GLOBAL_ENABLED" envDefault:"false"`
	GlobalPath    string `env:"GLOBAL_PATH"    envDefault:"./data/logs/conversations/all.ndjson"`
	QueueSize     int    `env:"QUEUE_SIZE"     envDefault:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads configuration from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Inference.Transport = strings.ToLower(strings.TrimSpace(cfg.Inference.Transport))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionIdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL cannot be negative")
	}
	if c.SessionIdleTTL > 0 && c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0 when SESSION_IDLE_TTL is set")
	}
	if c.RateLimitRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS cannot be negative")
	}
	if c.RateLimitRequests > 0 && c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}

	switch c.Inference.Transport {
	case "http":
		if c.Inference.HTTPURL == "" {
			return fmt.Errorf("INFERENCE_HTTP_URL cannot be empty")
		}
	case "grpc":
		if c.Inference.GRPCAddr == "" {
			return fmt.Errorf("INFERENCE_GRPC_ADDR cannot be empty")
		}
		if c.Inference.ConnectTimeout <= 0 {
			return fmt.Errorf("INFERENCE_CONNECT_TIMEOUT must be > 0")
		}
		if c.Inference.KeepaliveTime <= 0 || c.Inference.KeepaliveTimeout <= 0 {
			return fmt.Errorf("INFERENCE_KEEPALIVE_TIME and INFERENCE_KEEPALIVE_TIMEOUT must be > 0")
		}
	default:
		return fmt.Errorf("INFERENCE_TRANSPORT must be http or grpc, got %q", c.Inference.Transport)
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be > 0")
	}

	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS and WebSocket origins to accept.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"http://localhost:5173", "http://localhost:8080"}
	}
	return []string{c.FrontendURL}
}
