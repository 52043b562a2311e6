package gateway

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// gatewaySchema defines the configuration schema.
var gatewaySchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the HTTP gateway component.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `json:"listen_addr"`

	// TaskDeadline is how long a task may wait for all participants.
	TaskDeadline time.Duration `json:"task_deadline"`

	// WaitTimeout bounds synchronous submissions (?wait=true).
	WaitTimeout time.Duration `json:"wait_timeout"`

	// MaxUploadBytes caps the accepted document size.
	MaxUploadBytes int64 `json:"max_upload_bytes"`

	// ShutdownGrace is how long in-flight requests get on stop.
	ShutdownGrace time.Duration `json:"shutdown_grace"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		TaskDeadline:   5 * time.Minute,
		WaitTimeout:    2 * time.Minute,
		MaxUploadBytes: 10 << 20,
		ShutdownGrace:  10 * time.Second,
		Ports: &component.PortConfig{
			Outputs: []component.PortDefinition{
				{
					Name:        "submissions",
					Type:        "jetstream",
					Subject:     "contract.submitted.>",
					StreamName:  "CONTRACTS",
					Description: "Publish accepted contract submissions",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.TaskDeadline <= 0 {
		return fmt.Errorf("task_deadline must be positive")
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("wait_timeout must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	return nil
}
