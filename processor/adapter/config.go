package adapter

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// adapterSchema defines the configuration schema.
var adapterSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the participant adapter component.
type Config struct {
	// StreamName is the JetStream stream carrying analysis requests.
	StreamName string `json:"stream_name"`

	// InvokeTimeout is the default per-call timeout for participants that
	// do not set their own.
	InvokeTimeout time.Duration `json:"invoke_timeout"`

	// AckWait must exceed the invoke timeout so a slow call is not
	// redelivered while still in flight.
	AckWait time.Duration `json:"ack_wait"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:    "CONTRACTS",
		InvokeTimeout: 30 * time.Second,
		AckWait:       2 * time.Minute,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "analysis-requests",
					Type:        "jetstream",
					Subject:     "analysis.request.>",
					StreamName:  "CONTRACTS",
					Description: "Consume per-participant analysis requests",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "analysis-results",
					Type:        "jetstream",
					Subject:     "analysis.result.>",
					StreamName:  "ANALYSIS",
					Description: "Publish participant result envelopes",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.InvokeTimeout <= 0 {
		return fmt.Errorf("invoke_timeout must be positive")
	}
	if c.AckWait <= c.InvokeTimeout {
		return fmt.Errorf("ack_wait must exceed invoke_timeout")
	}
	return nil
}
