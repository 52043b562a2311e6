package tracking

import "errors"

var (
	// ErrDuplicateTask is returned when creating a task whose ID already exists.
	ErrDuplicateTask = errors.New("task already exists")

	// ErrUnknownTask is returned when an operation names a task the registry
	// has never seen or has already evicted.
	ErrUnknownTask = errors.New("unknown task")

	// ErrCorruption is returned when a task record violates a registry
	// invariant, such as a pending participant missing from the expected set.
	ErrCorruption = errors.New("task registry corruption")
)
