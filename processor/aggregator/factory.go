package aggregator

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/component"

	"github.com/contrail-ai/contrail/processor"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the aggregator component with the given registry.
func Register(registry RegistryInterface, rt processor.Runtime) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name: "aggregator",
		Factory: func(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
			return NewComponent(rawConfig, deps, rt)
		},
		Schema:      aggregatorSchema,
		Type:        "processor",
		Protocol:    "jetstream",
		Domain:      "contract",
		Description: "Aggregates participant results and publishes final outcomes",
		Version:     "0.1.0",
	})
}
