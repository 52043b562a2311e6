package dispatcher

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

// Register registers the dispatcher component with the given registry.
func Register(registry RegistryInterface, rt processor.Runtime) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name: "dispatcher",
		Factory: func(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
			return NewComponent(rawConfig, deps, rt)
		},
		Schema:      dispatcherSchema,
		Type:        "processor",
		Protocol:    "jetstream",
		Domain:      "contract",
		Description: "Fans contract submissions out to analysis participants",
		Version:     "0.1.0",
	})
}
