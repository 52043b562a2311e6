package aggregator

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// aggregatorSchema defines the configuration schema.
var aggregatorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the aggregator component.
type Config struct {
	// StreamName is the JetStream stream carrying result envelopes.
	StreamName string `json:"stream_name"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name"`

	// SweepInterval is how often expired tasks are timed out.
	SweepInterval time.Duration `json:"sweep_interval"`

	// AckWait is how long JetStream waits before redelivering an
	// unacknowledged envelope.
	AckWait time.Duration `json:"ack_wait"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:    "ANALYSIS",
		ConsumerName:  "aggregator",
		SweepInterval: 5 * time.Second,
		AckWait:       time.Minute,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "analysis-results",
					Type:        "jetstream",
					Subject:     "analysis.result.>",
					StreamName:  "ANALYSIS",
					Description: "Consume participant result envelopes",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "final-results",
					Type:        "jetstream",
					Subject:     "contract.final.>",
					StreamName:  "ANALYSIS",
					Description: "Publish aggregated terminal outcomes",
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
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("ack_wait must be positive")
	}
	return nil
}
