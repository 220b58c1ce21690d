// Package config provides peer configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Prefix is prepended to every variable name, e.g. PEER_MAX_CONCURRENCY.
const Prefix = "PEER"

// Config holds peer and peerctl configuration.
type Config struct {
	// Peer limits. Zero timeouts mean wait indefinitely.
	MaxConcurrency int           `envconfig:"MAX_CONCURRENCY" default:"100"`
	InvokeTimeout  time.Duration `envconfig:"INVOKE_TIMEOUT"`
	ExecTimeout    time.Duration `envconfig:"EXEC_TIMEOUT"`
	Compress       bool          `envconfig:"COMPRESS" default:"false"`

	// Transport: "tcp" or "nats".
	Transport string        `envconfig:"TRANSPORT" default:"tcp"`
	Addr      string        `envconfig:"ADDR" default:"127.0.0.1:5020"`
	Heartbeat time.Duration `envconfig:"HEARTBEAT" default:"30s"`

	NATSURL       string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	LocalSubject  string `envconfig:"LOCAL_SUBJECT"`
	RemoteSubject string `envconfig:"REMOTE_SUBJECT"`

	// Inbound handler limits. A zero timeout or retry count disables the
	// corresponding middleware.
	HandlerTimeout time.Duration `envconfig:"HANDLER_TIMEOUT"`
	HandlerRetries int           `envconfig:"HANDLER_RETRIES"`
	RetryBackoff   time.Duration `envconfig:"RETRY_BACKOFF" default:"50ms"`

	// Inbound rate limit in requests per second; zero disables it.
	RateLimit float64 `envconfig:"RATE_LIMIT"`
	RateBurst int     `envconfig:"RATE_BURST" default:"10"`

	// Service registration (empty endpoints = no registry)
	EtcdEndpoints []string `envconfig:"ETCD_ENDPOINTS"`
	ServiceName   string   `envconfig:"SERVICE_NAME" default:"peer-rpc"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, fmt.Errorf("%s - failed to process env: %w", logPrefix, err)
	}
	return &c, nil
}

// Validate checks values that envconfig cannot.
func (c *Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("%s - PEER_MAX_CONCURRENCY must be positive, got %d", logPrefix, c.MaxConcurrency)
	}
	if c.InvokeTimeout < 0 {
		return fmt.Errorf("%s - PEER_INVOKE_TIMEOUT must not be negative", logPrefix)
	}
	if c.ExecTimeout < 0 {
		return fmt.Errorf("%s - PEER_EXEC_TIMEOUT must not be negative", logPrefix)
	}
	if c.HandlerTimeout < 0 || c.HandlerRetries < 0 || c.RetryBackoff < 0 {
		return fmt.Errorf("%s - PEER_HANDLER_TIMEOUT, PEER_HANDLER_RETRIES and PEER_RETRY_BACKOFF must not be negative", logPrefix)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("%s - PEER_HEARTBEAT must not be negative", logPrefix)
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst <= 0) {
		return fmt.Errorf("%s - PEER_RATE_LIMIT and PEER_RATE_BURST must be positive", logPrefix)
	}
	switch c.Transport {
	case "tcp":
		if c.Addr == "" {
			return fmt.Errorf("%s - PEER_ADDR is required for tcp transport", logPrefix)
		}
	case "nats":
		if c.NATSURL == "" || c.LocalSubject == "" || c.RemoteSubject == "" {
			return fmt.Errorf("%s - PEER_NATS_URL, PEER_LOCAL_SUBJECT and PEER_REMOTE_SUBJECT are required for nats transport", logPrefix)
		}
	default:
		return fmt.Errorf("%s - unknown PEER_TRANSPORT %q", logPrefix, c.Transport)
	}
	return nil
}

// Level maps LogLevel to a slog level; unknown values mean info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
