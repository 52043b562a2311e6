package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// heartbeat keeps idle SSE connections alive through proxies.
const sseHeartbeat = 15 * time.Second

// handleEvents streams task progress as server-sent events. The stream ends
// after the terminal event; clients subscribing after the task finished get
// the retained terminal snapshot immediately.
func (c *Component) handleEvents(w http.ResponseWriter, r *http.Request) {
	c.touch()
	taskID := r.PathValue("id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	flusher.Flush()

	sub := c.rt.Notifier.Subscribe(taskID)
	defer sub.Cancel()

	// Current state first, so the client does not start blind. Unknown tasks
	// still get the stream; the task may not have been dispatched yet.
	if task, err := c.rt.Store.Get(taskID); err == nil {
		if err := sendSSEEvent(w, flusher, "status", task); err != nil {
			return
		}
		if task.Status.Terminal() {
			return
		}
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			name := "progress"
			if ev.Terminal() {
				name = "final"
			}
			if err := sendSSEEvent(w, flusher, name, ev); err != nil {
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}
}

// sendSSEEvent writes one named SSE event with a JSON data payload.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
