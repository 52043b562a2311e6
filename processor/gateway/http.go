package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/contrail-ai/contrail/document"
	"github.com/contrail-ai/contrail/pipeline"
	"github.com/contrail-ai/contrail/progress"
	"github.com/contrail-ai/contrail/tracking"
)

func (c *Component) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /contracts", c.handleSubmit)
	mux.HandleFunc("GET /tasks/{id}", c.handleTask)
	mux.HandleFunc("GET /tasks/{id}/events", c.handleEvents)
	mux.HandleFunc("GET /healthz", c.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// submitResponse is the body returned for asynchronous submissions.
type submitResponse struct {
	TaskID   string   `json:"task_id"`
	Status   string   `json:"status"`
	Expected []string `json:"expected,omitempty"`
}

func (c *Component) handleSubmit(w http.ResponseWriter, r *http.Request) {
	c.touch()

	filename, contentType, content, err := readUpload(r, c.config.MaxUploadBytes)
	if err != nil {
		c.reject(w, r, err)
		return
	}

	doc, err := c.parsers.Parse(contentType, filename, content)
	if err != nil {
		c.reject(w, r, err)
		return
	}

	bag, err := document.Split(doc.Body)
	if err != nil {
		c.reject(w, r, err)
		return
	}

	targets := c.rt.Participants.Targets(bag)
	expected := make([]string, len(targets))
	for i, p := range targets {
		expected[i] = p.Name
	}

	taskID := uuid.NewString()
	deadline := time.Now().UTC().Add(c.config.TaskDeadline)

	payload := &pipeline.SubmittedPayload{
		TaskID:   taskID,
		Filename: doc.Filename,
		Title:    doc.Title,
		Sections: bag,
		Deadline: deadline,
	}

	// Subscribe before publishing so a fast pipeline cannot finish between
	// publish and subscribe.
	wait := r.URL.Query().Get("wait") == "true"
	events := c.rt.Notifier.Subscribe(taskID)
	if !wait {
		events.Cancel()
	}

	if err := c.publishSubmission(r.Context(), payload); err != nil {
		events.Cancel()
		c.submissionsRejected.Add(1)
		metricSubmissions.WithLabelValues("publish_failure").Inc()
		c.logger.Error("failed to publish submission", "task_id", taskID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "submission could not be queued")
		return
	}

	c.submissionsAccepted.Add(1)
	metricSubmissions.WithLabelValues("accepted").Inc()
	c.logger.Info("contract accepted",
		"task_id", taskID,
		"filename", doc.Filename,
		"participants", len(expected))

	if !wait {
		writeJSON(w, http.StatusAccepted, submitResponse{
			TaskID:   taskID,
			Status:   "accepted",
			Expected: expected,
		})
		return
	}

	c.waitForOutcome(w, r, taskID, events)
}

// waitForOutcome blocks a synchronous submission until the task reaches a
// terminal state or the wait window closes.
func (c *Component) waitForOutcome(w http.ResponseWriter, r *http.Request, taskID string, events *progress.Subscription) {
	defer events.Cancel()

	timer := time.NewTimer(c.config.WaitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-timer.C:
			writeJSON(w, http.StatusGatewayTimeout, submitResponse{
				TaskID: taskID,
				Status: "still_running",
			})
			return

		case ev, ok := <-events.C:
			if !ok {
				// Channel closed without a terminal event in hand; report
				// whatever the registry has.
				task, err := c.rt.Store.Get(taskID)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "task state unavailable")
					return
				}
				writeJSON(w, http.StatusOK, pipeline.FinalFromTask(task))
				return
			}
			if ev.Terminal() && ev.Task != nil {
				writeJSON(w, http.StatusOK, pipeline.FinalFromTask(ev.Task))
				return
			}
		}
	}
}

func (c *Component) handleTask(w http.ResponseWriter, r *http.Request) {
	c.touch()

	task, err := c.rt.Store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, tracking.ErrUnknownTask) {
			writeError(w, http.StatusNotFound, "unknown task")
			return
		}
		writeError(w, http.StatusInternalServerError, "task lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (c *Component) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	health := c.Health()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": health.Status,
		"tasks":  c.rt.Store.Len(),
		"topics": c.rt.Notifier.Topics(),
	})
}

// publishSubmission wraps the payload in a BaseMessage and publishes it to
// the contracts stream.
func (c *Component) publishSubmission(ctx context.Context, payload *pipeline.SubmittedPayload) error {
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid submission: %w", err)
	}

	baseMsg := message.NewBaseMessage(payload.Schema(), payload, "gateway")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	subject := pipeline.SubjectSubmitted(payload.TaskID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// readUpload extracts the document bytes from either a multipart form
// ("file" field) or the raw request body.
func readUpload(r *http.Request, maxBytes int64) (filename, contentType string, content []byte, err error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return "", "", nil, fmt.Errorf("%w: %v", document.ErrUnsupportedFormat, err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", "", nil, fmt.Errorf("%w: missing file field", document.ErrUnsupportedFormat)
		}
		defer file.Close()

		content, err = io.ReadAll(file)
		if err != nil {
			return "", "", nil, fmt.Errorf("read upload: %w", err)
		}
		return header.Filename, header.Header.Get("Content-Type"), content, nil
	}

	content, err = io.ReadAll(r.Body)
	if err != nil {
		return "", "", nil, fmt.Errorf("read upload: %w", err)
	}
	filename = r.URL.Query().Get("filename")
	if filename == "" {
		filename = "contract"
	}
	return filename, r.Header.Get("Content-Type"), content, nil
}

// reject maps splitter and parser failures onto HTTP status codes.
func (c *Component) reject(w http.ResponseWriter, _ *http.Request, err error) {
	c.submissionsRejected.Add(1)

	var status int
	var reason string
	switch {
	case errors.Is(err, document.ErrEmptyDocument):
		status, reason = http.StatusBadRequest, "empty_document"
	case errors.Is(err, document.ErrParseFailure):
		status, reason = http.StatusBadRequest, "parse_failure"
	case errors.Is(err, document.ErrUnsupportedFormat):
		status, reason = http.StatusUnsupportedMediaType, "unsupported_format"
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status, reason = http.StatusRequestEntityTooLarge, "too_large"
		} else {
			status, reason = http.StatusBadRequest, "bad_request"
		}
	}

	metricSubmissions.WithLabelValues(reason).Inc()
	c.logger.Warn("submission rejected", "reason", reason, "error", err)
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
