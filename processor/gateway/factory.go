package gateway

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

// Register registers the gateway component with the given registry. The
// runtime is captured in the factory closure so registry-built instances
// share the process-wide store, notifier, and participant table.
func Register(registry RegistryInterface, rt processor.Runtime) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name: "gateway",
		Factory: func(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
			return NewComponent(rawConfig, deps, rt)
		},
		Schema:      gatewaySchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "contract",
		Description: "HTTP front door accepting contracts and serving task status",
		Version:     "0.1.0",
	})
}
