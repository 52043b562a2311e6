// Unit tests for the dispatcher component.
//
// Covered here: configuration validation through NewComponent, lifecycle
// behavior without a NATS connection, and the submission handling paths that
// stop before fan-out. The full publish path requires JetStream and is
// covered by integration tests.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/contrail-ai/contrail/document"
	"github.com/contrail-ai/contrail/pipeline"
	"github.com/contrail-ai/contrail/processor"
	"github.com/contrail-ai/contrail/progress"
	"github.com/contrail-ai/contrail/tracking"
)

func testRuntime(t *testing.T, participants []pipeline.Participant) processor.Runtime {
	t.Helper()
	table, err := pipeline.NewTable(participants)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return processor.Runtime{
		Store:        tracking.NewStore(time.Minute),
		Notifier:     progress.NewNotifier(8, time.Minute),
		Participants: table,
	}
}

func TestNewComponent_Unit(t *testing.T) {
	rt := testRuntime(t, pipeline.DefaultParticipants())
	deps := component.Dependencies{Logger: slog.Default()}

	tests := []struct {
		name    string
		config  json.RawMessage
		wantErr string
	}{
		{
			name:   "empty config gets defaults",
			config: json.RawMessage(`{}`),
		},
		{
			name:   "explicit consumer name",
			config: json.RawMessage(`{"consumer_name":"dispatcher-a"}`),
		},
		{
			name:    "invalid JSON",
			config:  json.RawMessage(`{not json`),
			wantErr: "unmarshal config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp, err := NewComponent(tt.config, deps, rt)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewComponent: %v", err)
			}
			if comp == nil {
				t.Fatal("expected component, got nil")
			}
		})
	}
}

func TestNewComponent_InvalidRuntime(t *testing.T) {
	deps := component.Dependencies{Logger: slog.Default()}
	_, err := NewComponent(json.RawMessage(`{}`), deps, processor.Runtime{})
	if err == nil || !strings.Contains(err.Error(), "invalid runtime") {
		t.Fatalf("error = %v, want invalid runtime", err)
	}
}

func TestComponent_Lifecycle(t *testing.T) {
	c := &Component{
		name:   "dispatcher",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     testRuntime(t, pipeline.DefaultParticipants()),
	}

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail without NATS client")
	}
	if c.Health().Status != "stopped" {
		t.Errorf("Health().Status = %q, want stopped", c.Health().Status)
	}
	if err := c.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// fakeMsg implements jetstream.Msg for handler tests.
type fakeMsg struct {
	data  []byte
	acked bool
	naked bool
}

func (m *fakeMsg) Data() []byte                              { return m.data }
func (m *fakeMsg) Ack() error                                { m.acked = true; return nil }
func (m *fakeMsg) Nak() error                                { m.naked = true; return nil }
func (m *fakeMsg) NakWithDelay(time.Duration) error          { m.naked = true; return nil }
func (m *fakeMsg) DoubleAck(context.Context) error           { m.acked = true; return nil }
func (m *fakeMsg) InProgress() error                         { return nil }
func (m *fakeMsg) Term() error                               { return nil }
func (m *fakeMsg) TermWithReason(string) error               { return nil }
func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) { return &jetstream.MsgMetadata{}, nil }
func (m *fakeMsg) Headers() nats.Header                      { return nil }
func (m *fakeMsg) Subject() string                           { return "" }
func (m *fakeMsg) Reply() string                             { return "" }

func TestHandleSubmission_MalformedPayload(t *testing.T) {
	c := &Component{
		name:   "dispatcher",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     testRuntime(t, pipeline.DefaultParticipants()),
	}

	msg := &fakeMsg{data: []byte("garbage")}
	c.handleSubmission(context.Background(), msg)

	if !msg.naked {
		t.Error("malformed submission should be NAKed")
	}
}

func TestHandleSubmission_InvalidPayload(t *testing.T) {
	c := &Component{
		name:   "dispatcher",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     testRuntime(t, pipeline.DefaultParticipants()),
	}

	// Valid JSON but no task_id. Redelivery cannot fix it, so it is consumed.
	msg := &fakeMsg{data: []byte(`{"filename":"c.md"}`)}
	c.handleSubmission(context.Background(), msg)

	if !msg.acked {
		t.Error("invalid submission should be ACKed")
	}
	if msg.naked {
		t.Error("invalid submission should not be NAKed")
	}
}

func TestHandleSubmission_NoMatchingParticipants(t *testing.T) {
	// One participant that only wants the specification table.
	only := []pipeline.Participant{
		{Name: "econom", Endpoint: "http://econom:8080/analyze", Sections: []string{"part_16"}},
	}
	rt := testRuntime(t, only)
	c := &Component{
		name:   "dispatcher",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     rt,
	}

	bag := document.NewSectionBag()
	bag.SetPart(1, "1. Subject\nDelivery of goods.")
	submission := pipeline.SubmittedPayload{
		TaskID:   "empty-fanout",
		Filename: "c.md",
		Sections: bag,
		Deadline: time.Now().Add(time.Minute),
	}
	data, err := json.Marshal(&submission)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	msg := &fakeMsg{data: data}
	c.handleSubmission(context.Background(), msg)

	if !msg.acked {
		t.Error("unmatched submission should be ACKed")
	}

	task, err := rt.Store.Get("empty-fanout")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != tracking.StatusFailed {
		t.Errorf("task status = %q, want %q", task.Status, tracking.StatusFailed)
	}
}

func TestHandleSubmission_Redelivery(t *testing.T) {
	rt := testRuntime(t, pipeline.DefaultParticipants())
	c := &Component{
		name:   "dispatcher",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     rt,
	}

	// Pre-register the task as a first delivery would have.
	if _, err := rt.Store.Create("dup", "c.md", []string{"legal"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	bag := document.NewSectionBag()
	bag.SetPart(1, "1. Subject")
	submission := pipeline.SubmittedPayload{
		TaskID:   "dup",
		Filename: "c.md",
		Sections: bag,
		Deadline: time.Now().Add(time.Minute),
	}
	data, err := json.Marshal(&submission)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	msg := &fakeMsg{data: data}
	c.handleSubmission(context.Background(), msg)

	if !msg.acked {
		t.Error("redelivered submission should be ACKed")
	}
	if msg.naked {
		t.Error("redelivered submission should not be NAKed")
	}
}
