// Package processor holds the shared runtime handed to every pipeline
// component. The task store, progress notifier, and participant table are
// process-wide singletons; components receive them at construction instead
// of rebuilding their own.
package processor

import (
	"fmt"

	"github.com/contrail-ai/contrail/pipeline"
	"github.com/contrail-ai/contrail/progress"
	"github.com/contrail-ai/contrail/tracking"
)

// Runtime bundles the shared state injected into pipeline components.
type Runtime struct {
	Store        *tracking.Store
	Notifier     *progress.Notifier
	Participants *pipeline.Table
}

// Validate checks that every shared dependency is present.
func (r Runtime) Validate() error {
	if r.Store == nil {
		return fmt.Errorf("task store is required")
	}
	if r.Notifier == nil {
		return fmt.Errorf("progress notifier is required")
	}
	if r.Participants == nil {
		return fmt.Errorf("participant table is required")
	}
	return nil
}
