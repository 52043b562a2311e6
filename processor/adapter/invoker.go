package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/contrail-ai/contrail/pipeline"
)

// maxResponseBytes caps how much of a participant response is read.
const maxResponseBytes = 4 << 20

// Invoker calls one participant service with an analysis request. It always
// returns an envelope; failures are classified into the pipeline error
// kinds rather than surfaced as errors.
type Invoker interface {
	Invoke(ctx context.Context, p pipeline.Participant, req *pipeline.AnalysisRequest) *pipeline.ResultEnvelope
}

// HTTPInvoker posts analysis requests to participant HTTP endpoints.
type HTTPInvoker struct {
	client         *http.Client
	defaultTimeout time.Duration
}

// NewHTTPInvoker creates an invoker with the given per-call default timeout.
// Participants may override it in their table entry.
func NewHTTPInvoker(defaultTimeout time.Duration) *HTTPInvoker {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &HTTPInvoker{
		client: &http.Client{
			// The per-request context carries the timeout; the client-level
			// timeout is a hard backstop.
			Timeout: 5 * time.Minute,
		},
		defaultTimeout: defaultTimeout,
	}
}

// Invoke calls the participant and classifies the outcome.
func (h *HTTPInvoker) Invoke(ctx context.Context, p pipeline.Participant, req *pipeline.AnalysisRequest) *pipeline.ResultEnvelope {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = h.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	body, err := json.Marshal(struct {
		TaskID   string `json:"task_id"`
		Filename string `json:"filename"`
		Sections any    `json:"sections"`
	}{
		TaskID:   req.TaskID,
		Filename: req.Filename,
		Sections: req.Sections,
	})
	if err != nil {
		return pipeline.FailureEnvelope(req.TaskID, p.Name,
			pipeline.ErrKindInvalidResponse,
			fmt.Errorf("marshal request: %w", err), time.Since(start))
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return pipeline.FailureEnvelope(req.TaskID, p.Name,
			pipeline.ErrKindRemoteError, err, time.Since(start))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		kind := pipeline.ErrKindRemoteError
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			kind = pipeline.ErrKindTimeout
		}
		return pipeline.FailureEnvelope(req.TaskID, p.Name, kind, err, time.Since(start))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	elapsed := time.Since(start)
	if err != nil {
		kind := pipeline.ErrKindRemoteError
		if callCtx.Err() == context.DeadlineExceeded {
			kind = pipeline.ErrKindTimeout
		}
		return pipeline.FailureEnvelope(req.TaskID, p.Name, kind,
			fmt.Errorf("read response: %w", err), elapsed)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		env := pipeline.FailureEnvelope(req.TaskID, p.Name,
			pipeline.ErrKindRemoteError,
			fmt.Errorf("%s returned %d", p.Name, resp.StatusCode), elapsed)
		env.StatusCode = resp.StatusCode
		return env
	}

	if !json.Valid(payload) {
		return pipeline.FailureEnvelope(req.TaskID, p.Name,
			pipeline.ErrKindInvalidResponse,
			fmt.Errorf("%s returned non-JSON body", p.Name), elapsed)
	}

	return &pipeline.ResultEnvelope{
		TaskID:      req.TaskID,
		Participant: p.Name,
		StatusCode:  resp.StatusCode,
		Payload:     json.RawMessage(payload),
		ElapsedMS:   elapsed.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}
}
