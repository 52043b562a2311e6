package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/contrail-ai/contrail/document"
	"github.com/contrail-ai/contrail/tracking"
)

// Error kinds carried by failed result envelopes.
const (
	ErrKindTimeout         = "timeout"
	ErrKindRemoteError     = "remote_error"
	ErrKindInvalidResponse = "invalid_response"
	ErrKindPublishFailure  = "publish_failure"
)

// StatusCodeFor maps an error kind to the HTTP-style status code reported in
// envelopes and final results. Unknown kinds map to 500.
func StatusCodeFor(kind string) int {
	switch kind {
	case "":
		return 200
	case ErrKindTimeout:
		return 504
	case ErrKindRemoteError, ErrKindInvalidResponse:
		return 502
	case ErrKindPublishFailure:
		return 503
	default:
		return 500
	}
}

// SubmittedPayload announces a newly accepted contract. The gateway splits
// the document before publishing, so the payload carries the full section
// bag rather than raw bytes.
type SubmittedPayload struct {
	TaskID   string               `json:"task_id"`
	Filename string               `json:"filename"`
	Title    string               `json:"title,omitempty"`
	Sections *document.SectionBag `json:"sections"`
	Deadline time.Time            `json:"deadline"`
}

// Schema implements message.Payload.
func (p *SubmittedPayload) Schema() message.Type {
	return SubmittedType
}

// Validate implements message.Payload.
func (p *SubmittedPayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if p.Sections == nil {
		return fmt.Errorf("sections are required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *SubmittedPayload) MarshalJSON() ([]byte, error) {
	type Alias SubmittedPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *SubmittedPayload) UnmarshalJSON(data []byte) error {
	type Alias SubmittedPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// SubmittedType is the message type for contract submissions.
var SubmittedType = message.Type{
	Domain:   "contract",
	Category: "submitted",
	Version:  "v1",
}

// AnalysisRequest is the per-participant fan-out of a submission. Sections
// is the subset of the bag the participant's patterns select.
type AnalysisRequest struct {
	TaskID      string               `json:"task_id"`
	Participant string               `json:"participant"`
	Filename    string               `json:"filename"`
	Sections    *document.SectionBag `json:"sections"`
	Deadline    time.Time            `json:"deadline"`
}

// Schema implements message.Payload.
func (p *AnalysisRequest) Schema() message.Type {
	return AnalysisRequestType
}

// Validate implements message.Payload.
func (p *AnalysisRequest) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if p.Participant == "" {
		return fmt.Errorf("participant is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *AnalysisRequest) MarshalJSON() ([]byte, error) {
	type Alias AnalysisRequest
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *AnalysisRequest) UnmarshalJSON(data []byte) error {
	type Alias AnalysisRequest
	return json.Unmarshal(data, (*Alias)(p))
}

// AnalysisRequestType is the message type for analysis requests.
var AnalysisRequestType = message.Type{
	Domain:   "contract",
	Category: "analysis-request",
	Version:  "v1",
}

// ResultEnvelope is one participant's verdict on a task. A successful call
// carries the participant's JSON in Payload; any failure carries Error and
// one of the ErrKind constants instead.
type ResultEnvelope struct {
	TaskID      string          `json:"task_id"`
	Participant string          `json:"participant"`
	StatusCode  int             `json:"status_code"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Schema implements message.Payload.
func (p *ResultEnvelope) Schema() message.Type {
	return ResultType
}

// Validate implements message.Payload.
func (p *ResultEnvelope) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if p.Participant == "" {
		return fmt.Errorf("participant is required")
	}
	if p.Error != "" && p.ErrorKind == "" {
		return fmt.Errorf("error_kind is required on failed envelopes")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *ResultEnvelope) MarshalJSON() ([]byte, error) {
	type Alias ResultEnvelope
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ResultEnvelope) UnmarshalJSON(data []byte) error {
	type Alias ResultEnvelope
	return json.Unmarshal(data, (*Alias)(p))
}

// ResultType is the message type for participant results.
var ResultType = message.Type{
	Domain:   "contract",
	Category: "analysis-result",
	Version:  "v1",
}

// ToResult converts the envelope into the registry's result record.
func (p *ResultEnvelope) ToResult() tracking.Result {
	return tracking.Result{
		Participant: p.Participant,
		StatusCode:  p.StatusCode,
		Payload:     p.Payload,
		Error:       p.Error,
		ErrorKind:   p.ErrorKind,
		ElapsedMS:   p.ElapsedMS,
		Timestamp:   p.Timestamp,
	}
}

// FailureEnvelope builds a failed envelope with the status code implied by
// the error kind.
func FailureEnvelope(taskID, participant, kind string, err error, elapsed time.Duration) *ResultEnvelope {
	msg := kind
	if err != nil {
		msg = err.Error()
	}
	return &ResultEnvelope{
		TaskID:      taskID,
		Participant: participant,
		StatusCode:  StatusCodeFor(kind),
		Error:       msg,
		ErrorKind:   kind,
		ElapsedMS:   elapsed.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}
}

// FinalResult is the aggregated outcome published when a task reaches a
// terminal state. Each Results value is the participant's analysis payload
// on success, {"error": <kind>} on failure, or the bare "timeout" marker
// when the participant never answered.
type FinalResult struct {
	TaskID    string                     `json:"task_id"`
	Filename  string                     `json:"filename"`
	Status    tracking.Status            `json:"status"`
	Results   map[string]json.RawMessage `json:"results"`
	Missing   []string                   `json:"missing,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	DoneAt    time.Time                  `json:"done_at"`
}

// Schema implements message.Payload.
func (p *FinalResult) Schema() message.Type {
	return FinalType
}

// Validate implements message.Payload.
func (p *FinalResult) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if !p.Status.Terminal() {
		return fmt.Errorf("final result must carry a terminal status, got %q", p.Status)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *FinalResult) MarshalJSON() ([]byte, error) {
	type Alias FinalResult
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *FinalResult) UnmarshalJSON(data []byte) error {
	type Alias FinalResult
	return json.Unmarshal(data, (*Alias)(p))
}

// FinalType is the message type for aggregated final results.
var FinalType = message.Type{
	Domain:   "contract",
	Category: "final",
	Version:  "v1",
}

// timeoutMarker is the Results value for a participant that ran out of time.
var timeoutMarker = json.RawMessage(`"timeout"`)

// FinalFromTask builds the final result for a terminal task. Participants
// that never reported appear in Missing with timeout markers in Results so
// consumers see the full expected set.
func FinalFromTask(task *tracking.Task) *FinalResult {
	fr := &FinalResult{
		TaskID:    task.ID,
		Filename:  task.Filename,
		Status:    task.Status,
		Results:   make(map[string]json.RawMessage, len(task.Expected)),
		CreatedAt: task.CreatedAt,
		DoneAt:    task.DoneAt,
	}
	for k, v := range task.Results {
		if k == "" {
			continue
		}
		fr.Results[k] = resultValue(v)
	}
	for _, p := range task.Pending {
		fr.Missing = append(fr.Missing, p)
		fr.Results[p] = timeoutMarker
	}
	return fr
}

// resultValue projects a recorded result onto the published wire shape.
func resultValue(res tracking.Result) json.RawMessage {
	switch {
	case res.OK():
		if len(res.Payload) == 0 {
			return json.RawMessage("null")
		}
		return res.Payload
	case res.ErrorKind == ErrKindTimeout:
		return timeoutMarker
	default:
		kind := res.ErrorKind
		if kind == "" {
			kind = "unknown"
		}
		v, _ := json.Marshal(map[string]string{"error": kind})
		return v
	}
}

// ParsePayload extracts a typed payload from a BaseMessage envelope. Raw
// payloads published without the envelope are accepted as a fallback.
func ParsePayload[T any](data []byte) (*T, error) {
	var rawMsg struct {
		Payload json.RawMessage `json:"payload"`
	}
	raw := data
	if err := json.Unmarshal(data, &rawMsg); err == nil && len(rawMsg.Payload) > 0 {
		raw = rawMsg.Payload
	}

	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payload into %T: %w", result, err)
	}
	return &result, nil
}
