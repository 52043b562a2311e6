// Unit tests for the aggregator component.
//
// Covered here: configuration validation through NewComponent, lifecycle
// behavior without a NATS connection, and the envelope merge paths that do
// not reach the final publish. Publishing finals requires JetStream and is
// covered by integration tests.
package aggregator

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

	"github.com/contrail-ai/contrail/pipeline"
	"github.com/contrail-ai/contrail/processor"
	"github.com/contrail-ai/contrail/progress"
	"github.com/contrail-ai/contrail/tracking"
)

func testRuntime(t *testing.T) processor.Runtime {
	t.Helper()
	table, err := pipeline.NewTable(pipeline.DefaultParticipants())
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
	rt := testRuntime(t)
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
			name:   "explicit stream name",
			config: json.RawMessage(`{"stream_name":"ANALYSIS"}`),
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
		name:   "aggregator",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     testRuntime(t),
	}

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail without NATS client")
	}
	if c.Health().Healthy {
		t.Fatal("component should not report healthy after failed start")
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

func envelopeBytes(t *testing.T, env *pipeline.ResultEnvelope) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestHandleEnvelope_MalformedPayload(t *testing.T) {
	c := &Component{
		name:   "aggregator",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     testRuntime(t),
	}

	msg := &fakeMsg{data: []byte("garbage")}
	c.handleEnvelope(context.Background(), msg)

	if !msg.naked {
		t.Error("malformed envelope should be NAKed")
	}
}

func TestHandleEnvelope_InvalidEnvelope(t *testing.T) {
	c := &Component{
		name:   "aggregator",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     testRuntime(t),
	}

	// Valid JSON but missing participant. Consumed, not redelivered.
	msg := &fakeMsg{data: []byte(`{"task_id":"t1"}`)}
	c.handleEnvelope(context.Background(), msg)

	if !msg.acked {
		t.Error("invalid envelope should be ACKed")
	}
	if msg.naked {
		t.Error("invalid envelope should not be NAKed")
	}
}

func TestHandleEnvelope_UnknownTask(t *testing.T) {
	c := &Component{
		name:   "aggregator",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     testRuntime(t),
	}

	env := &pipeline.ResultEnvelope{
		TaskID:      "never-registered",
		Participant: "legal",
		StatusCode:  200,
		Payload:     json.RawMessage(`{}`),
		Timestamp:   time.Now().UTC(),
	}
	msg := &fakeMsg{data: envelopeBytes(t, env)}
	c.handleEnvelope(context.Background(), msg)

	if !msg.acked {
		t.Error("envelope for unknown task should be ACKed")
	}
	if c.envelopesDropped.Load() != 1 {
		t.Errorf("envelopesDropped = %d, want 1", c.envelopesDropped.Load())
	}
}

func TestHandleEnvelope_PartialMerge(t *testing.T) {
	rt := testRuntime(t)
	c := &Component{
		name:   "aggregator",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     rt,
	}

	if _, err := rt.Store.Create("t1", "c.md", []string{"legal", "econom"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	env := &pipeline.ResultEnvelope{
		TaskID:      "t1",
		Participant: "legal",
		StatusCode:  200,
		Payload:     json.RawMessage(`{"risk":"low"}`),
		Timestamp:   time.Now().UTC(),
	}
	msg := &fakeMsg{data: envelopeBytes(t, env)}
	c.handleEnvelope(context.Background(), msg)

	if !msg.acked {
		t.Error("merged envelope should be ACKed")
	}

	task, err := rt.Store.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != tracking.StatusPartial {
		t.Errorf("task status = %q, want %q", task.Status, tracking.StatusPartial)
	}
	if _, ok := task.Results["legal"]; !ok {
		t.Error("legal result should be recorded")
	}
}

func TestHandleEnvelope_DuplicateDropped(t *testing.T) {
	rt := testRuntime(t)
	c := &Component{
		name:   "aggregator",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     rt,
	}

	if _, err := rt.Store.Create("t1", "c.md", []string{"legal", "econom"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	env := &pipeline.ResultEnvelope{
		TaskID:      "t1",
		Participant: "legal",
		StatusCode:  200,
		Payload:     json.RawMessage(`{"risk":"low"}`),
		Timestamp:   time.Now().UTC(),
	}

	first := &fakeMsg{data: envelopeBytes(t, env)}
	c.handleEnvelope(context.Background(), first)

	// Redelivery of the same envelope merges nothing but is still consumed.
	second := &fakeMsg{data: envelopeBytes(t, env)}
	c.handleEnvelope(context.Background(), second)

	if !second.acked {
		t.Error("duplicate envelope should be ACKed")
	}
	if c.envelopesDropped.Load() != 1 {
		t.Errorf("envelopesDropped = %d, want 1", c.envelopesDropped.Load())
	}
}

func TestHandleEnvelope_UnexpectedParticipant(t *testing.T) {
	rt := testRuntime(t)
	c := &Component{
		name:   "aggregator",
		logger: slog.Default(),
		config: DefaultConfig(),
		rt:     rt,
	}

	if _, err := rt.Store.Create("t1", "c.md", []string{"legal", "econom"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	env := &pipeline.ResultEnvelope{
		TaskID:      "t1",
		Participant: "gatecrasher",
		StatusCode:  200,
		Payload:     json.RawMessage(`{}`),
		Timestamp:   time.Now().UTC(),
	}
	msg := &fakeMsg{data: envelopeBytes(t, env)}
	c.handleEnvelope(context.Background(), msg)

	if !msg.acked {
		t.Error("unexpected participant envelope should be ACKed")
	}

	task, err := rt.Store.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != tracking.StatusPending {
		t.Errorf("task status = %q, want %q", task.Status, tracking.StatusPending)
	}
}
