// Package adapter bridges analysis requests to the participant services.
// One consume loop runs per participant, each with its own durable consumer,
// so a slow participant never blocks the others. The result envelope is
// published before the request is acknowledged; if the publish fails the
// request is NAKed and redelivered.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/contrail-ai/contrail/pipeline"
	"github.com/contrail-ai/contrail/processor"
)

// Component implements the participant adapter.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	rt      processor.Runtime
	invoker Invoker

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	loops     sync.WaitGroup

	// Metrics
	requestsProcessed atomic.Int64
	invokeFailures    atomic.Int64
	publishFailures   atomic.Int64
	lastActivityMu    sync.RWMutex
	lastActivity      time.Time
}

// NewComponent creates a new adapter component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies, rt processor.Runtime) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.InvokeTimeout == 0 {
		config.InvokeTimeout = defaults.InvokeTimeout
	}
	if config.AckWait == 0 {
		config.AckWait = defaults.AckWait
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := rt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runtime: %w", err)
	}

	return &Component{
		name:       "adapter",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		rt:         rt,
		invoker:    NewHTTPInvoker(config.InvokeTimeout),
	}, nil
}

// SetInvoker replaces the participant invoker. Call before Start; tests use
// this to avoid real HTTP.
func (c *Component) SetInvoker(inv Invoker) {
	c.invoker = inv
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized adapter",
		"stream", c.config.StreamName,
		"invoke_timeout", c.config.InvokeTimeout)
	return nil
}

// Start launches one consume loop per enabled participant. Participants
// added to the table afterwards need a restart to get a loop; endpoint and
// timeout edits apply on the next message.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}

	participants := c.rt.Participants.All()
	for _, p := range participants {
		consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
			Durable:       "adapter-" + p.Name,
			FilterSubject: pipeline.SubjectRequestFor(p.Name),
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       c.config.AckWait,
			MaxDeliver:    3,
		})
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("create consumer for %s: %w", p.Name, err)
		}

		c.loops.Add(1)
		go c.consumeLoop(subCtx, p.Name, consumer)
	}

	c.logger.Info("adapter started",
		"stream", c.config.StreamName,
		"participants", len(participants))
	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes one participant's requests.
func (c *Component) consumeLoop(ctx context.Context, participant string, consumer jetstream.Consumer) {
	defer c.loops.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error",
				"participant", participant, "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleRequest(ctx, participant, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error",
				"participant", participant, "error", msgs.Error())
		}
	}
}

// handleRequest invokes the participant and publishes the envelope. The
// message is acknowledged only after the envelope is safely in the stream,
// so a crash between invoke and publish costs a duplicate call, never a
// lost result.
func (c *Component) handleRequest(ctx context.Context, participant string, msg jetstream.Msg) {
	c.requestsProcessed.Add(1)
	c.updateLastActivity()

	request, err := pipeline.ParsePayload[pipeline.AnalysisRequest](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse analysis request",
			"participant", participant, "error", err)
		c.nak(msg)
		return
	}
	if err := request.Validate(); err != nil {
		c.logger.Error("Invalid analysis request",
			"participant", participant, "error", err)
		c.ack(msg)
		return
	}

	p, ok := c.rt.Participants.Get(participant)
	if !ok || p.Disabled {
		// Removed from the table after the request was queued.
		c.logger.Warn("Participant no longer in table, dropping request",
			"participant", participant, "task_id", request.TaskID)
		c.ack(msg)
		return
	}

	envelope := c.invoker.Invoke(ctx, p, request)
	if envelope.Error != "" {
		c.invokeFailures.Add(1)
		c.logger.Warn("Participant invocation failed",
			"participant", participant,
			"task_id", request.TaskID,
			"error_kind", envelope.ErrorKind,
			"error", envelope.Error)
	} else {
		c.logger.Info("Participant responded",
			"participant", participant,
			"task_id", request.TaskID,
			"elapsed_ms", envelope.ElapsedMS)
	}

	if err := c.publishEnvelope(ctx, envelope); err != nil {
		c.publishFailures.Add(1)
		c.logger.Error("Failed to publish result envelope, will redeliver",
			"participant", participant,
			"task_id", request.TaskID,
			"error", err)
		c.nak(msg)
		return
	}

	c.ack(msg)
}

// publishEnvelope puts a result envelope on the analysis stream.
func (c *Component) publishEnvelope(ctx context.Context, envelope *pipeline.ResultEnvelope) error {
	baseMsg := message.NewBaseMessage(envelope.Schema(), envelope, "adapter")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := pipeline.SubjectResult(envelope.TaskID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (c *Component) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}
}

func (c *Component) nak(msg jetstream.Msg) {
	if err := msg.Nak(); err != nil {
		c.logger.Warn("Failed to NAK message", "error", err)
	}
}

// Stop gracefully stops the component, waiting for in-flight loops.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("adapter stop timed out waiting for consume loops")
	}

	c.logger.Info("adapter stopped",
		"requests_processed", c.requestsProcessed.Load(),
		"invoke_failures", c.invokeFailures.Load(),
		"publish_failures", c.publishFailures.Load())
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "adapter",
		Type:        "processor",
		Description: "Invokes participant services and publishes result envelopes",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return adapterSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		LastActivity: c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
