// Package tracking maintains the in-memory registry of analysis tasks. It
// records which participants each task still waits on, merges their results
// with at-least-once delivery in mind, and expires tasks whose deadline has
// passed.
package tracking

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending means no participant has reported yet.
	StatusPending Status = "pending"
	// StatusPartial means some, but not all, participants have reported.
	StatusPartial Status = "partial"
	// StatusCompleted means every expected participant has reported.
	StatusCompleted Status = "complete"
	// StatusTimedOut means the deadline passed with participants outstanding.
	StatusTimedOut Status = "timed_out"
	// StatusFailed means the task could not be dispatched at all.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusTimedOut, StatusFailed:
		return true
	default:
		return false
	}
}

// Result is one participant's recorded outcome for a task.
type Result struct {
	Participant string          `json:"participant"`
	StatusCode  int             `json:"status_code"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	Timestamp   time.Time       `json:"timestamp"`
}

// OK reports whether the result is a successful analysis.
func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.Error == ""
}

// Task is the registry's record of one submitted contract.
type Task struct {
	ID        string            `json:"id"`
	Filename  string            `json:"filename"`
	Status    Status            `json:"status"`
	Expected  []string          `json:"expected"`
	Pending   []string          `json:"pending"`
	Results   map[string]Result `json:"results"`
	CreatedAt time.Time         `json:"created_at"`
	Deadline  time.Time         `json:"deadline"`
	DoneAt    time.Time         `json:"done_at,omitzero"`
}

// snapshot returns a deep copy safe to hand out after the shard lock drops.
func (t *Task) snapshot() *Task {
	cp := *t
	cp.Expected = append([]string(nil), t.Expected...)
	cp.Pending = append([]string(nil), t.Pending...)
	cp.Results = make(map[string]Result, len(t.Results))
	for k, v := range t.Results {
		cp.Results[k] = v
	}
	return &cp
}
