// Package config defines the service configuration and its YAML loader.
// Values in the file may reference environment variables with ${VAR} or
// ${VAR:-default} syntax.
package config

import (
	"fmt"
	"time"
)

// Config is the full service configuration.
type Config struct {
	NATS         NATSConfig         `yaml:"nats"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Participants ParticipantsConfig `yaml:"participants"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// NATSConfig configures the JetStream connection.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// GatewayConfig configures the HTTP front door.
type GatewayConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	TaskDeadline   time.Duration `yaml:"task_deadline"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// PipelineConfig configures streams, timers, and retention.
type PipelineConfig struct {
	StreamMaxAge  time.Duration `yaml:"stream_max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`
	Retention     time.Duration `yaml:"retention"`
	EventBuffer   int           `yaml:"event_buffer"`
}

// ParticipantsConfig points at the participant table file. An empty path
// uses the built-in defaults; Watch enables hot reload.
type ParticipantsConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "contrail",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Gateway: GatewayConfig{
			ListenAddr:     ":8080",
			TaskDeadline:   5 * time.Minute,
			WaitTimeout:    2 * time.Minute,
			MaxUploadBytes: 10 << 20,
		},
		Pipeline: PipelineConfig{
			StreamMaxAge:  24 * time.Hour,
			SweepInterval: 5 * time.Second,
			InvokeTimeout: 30 * time.Second,
			Retention:     30 * time.Minute,
			EventBuffer:   16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Gateway.ListenAddr == "" {
		return fmt.Errorf("gateway.listen_addr is required")
	}
	if c.Gateway.TaskDeadline <= 0 {
		return fmt.Errorf("gateway.task_deadline must be positive")
	}
	if c.Gateway.WaitTimeout <= 0 {
		return fmt.Errorf("gateway.wait_timeout must be positive")
	}
	if c.Pipeline.SweepInterval <= 0 {
		return fmt.Errorf("pipeline.sweep_interval must be positive")
	}
	if c.Pipeline.InvokeTimeout <= 0 {
		return fmt.Errorf("pipeline.invoke_timeout must be positive")
	}
	if c.Pipeline.InvokeTimeout >= c.Gateway.TaskDeadline {
		return fmt.Errorf("pipeline.invoke_timeout must be below gateway.task_deadline")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
