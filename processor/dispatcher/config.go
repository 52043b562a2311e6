package dispatcher

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// dispatcherSchema defines the configuration schema.
var dispatcherSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the dispatcher component.
type Config struct {
	// StreamName is the JetStream stream carrying submissions.
	StreamName string `json:"stream_name"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name"`

	// AckWait is how long JetStream waits before redelivering an
	// unacknowledged submission.
	AckWait time.Duration `json:"ack_wait"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:   "CONTRACTS",
		ConsumerName: "dispatcher",
		AckWait:      time.Minute,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "submissions",
					Type:        "jetstream",
					Subject:     "contract.submitted.>",
					StreamName:  "CONTRACTS",
					Description: "Consume accepted contract submissions",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "analysis-requests",
					Type:        "jetstream",
					Subject:     "analysis.request.>",
					StreamName:  "CONTRACTS",
					Description: "Publish per-participant analysis requests",
					Required:    true,
				},
				{
					Name:        "failure-results",
					Type:        "jetstream",
					Subject:     "analysis.result.>",
					StreamName:  "ANALYSIS",
					Description: "Publish synthetic envelopes for fan-out failures",
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
	if c.AckWait <= 0 {
		return fmt.Errorf("ack_wait must be positive")
	}
	return nil
}
