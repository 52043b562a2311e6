// Package aggregator collects participant result envelopes into the task
// registry and publishes the aggregated outcome exactly once per task. A
// periodic sweep times out tasks whose deadline passed with participants
// still outstanding; their final results carry synthetic timeout markers.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/contrail-ai/contrail/tracking"
)

// Component implements the result aggregator.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	rt       processor.Runtime
	consumer jetstream.Consumer

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	envelopesProcessed atomic.Int64
	envelopesDropped   atomic.Int64
	finalsPublished    atomic.Int64
	sweepsPerformed    atomic.Int64
	tasksTimedOut      atomic.Int64
	lastActivityMu     sync.RWMutex
	lastActivity       time.Time
}

// NewComponent creates a new aggregator component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies, rt processor.Runtime) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = defaults.SweepInterval
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
		name:       "aggregator",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		rt:         rt,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized aggregator",
		"stream", c.config.StreamName,
		"sweep_interval", c.config.SweepInterval)
	return nil
}

// Start begins consuming envelopes and sweeping deadlines.
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

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: pipeline.SubjectResultAll,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.config.AckWait,
		MaxDeliver:    3,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)
	go c.sweepLoop(subCtx)

	c.logger.Info("aggregator started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"sweep_interval", c.config.SweepInterval)
	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes result envelopes.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEnvelope(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleEnvelope merges one envelope into the registry. Duplicates, late
// arrivals on terminal tasks, and unexpected participants are dropped with
// a warning and acked so they are not redelivered forever.
func (c *Component) handleEnvelope(ctx context.Context, msg jetstream.Msg) {
	c.envelopesProcessed.Add(1)
	c.updateLastActivity()

	envelope, err := pipeline.ParsePayload[pipeline.ResultEnvelope](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse result envelope", "error", err)
		c.nak(msg)
		return
	}
	if err := envelope.Validate(); err != nil {
		c.logger.Error("Invalid result envelope", "error", err)
		c.ack(msg)
		return
	}

	update, err := c.rt.Store.Record(envelope.TaskID, envelope.ToResult())
	if err != nil {
		if errors.Is(err, tracking.ErrUnknownTask) {
			// Task evicted or never registered; nothing to aggregate into.
			c.envelopesDropped.Add(1)
			c.logger.Warn("Result for unknown task dropped",
				"task_id", envelope.TaskID,
				"participant", envelope.Participant)
			c.ack(msg)
			return
		}
		c.logger.Error("Failed to record result",
			"task_id", envelope.TaskID, "error", err)
		c.nak(msg)
		return
	}

	if !update.Merged {
		c.envelopesDropped.Add(1)
		c.logger.Warn("Result not merged",
			"task_id", envelope.TaskID,
			"participant", envelope.Participant,
			"task_status", update.Task.Status)
		c.ack(msg)
		return
	}

	c.logger.Info("Result recorded",
		"task_id", envelope.TaskID,
		"participant", envelope.Participant,
		"status", update.Task.Status,
		"pending", len(update.Task.Pending))

	if update.Transitioned {
		// The transition already happened in the registry, so a NAK here
		// would redeliver an envelope that can no longer merge. Retry the
		// publish inline instead.
		if err := c.publishFinalWithRetry(ctx, update.Task); err != nil {
			c.logger.Error("Failed to publish final result",
				"task_id", envelope.TaskID, "error", err)
		}
	}

	c.ack(msg)
}

// sweepLoop periodically times out tasks past their deadline.
func (c *Component) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep expires overdue tasks and publishes their timed-out finals.
func (c *Component) sweep(ctx context.Context) {
	c.sweepsPerformed.Add(1)

	expired := c.rt.Store.SweepExpired(time.Now())
	for _, task := range expired {
		c.tasksTimedOut.Add(1)
		c.logger.Info("Task deadline expired",
			"task_id", task.ID,
			"missing", task.Pending)

		if err := c.publishFinal(ctx, task); err != nil {
			c.logger.Error("Failed to publish timed-out final",
				"task_id", task.ID, "error", err)
		}
	}
}

// publishFinalWithRetry publishes the final result, retrying transient
// failures with a short backoff.
func (c *Component) publishFinalWithRetry(ctx context.Context, task *tracking.Task) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = c.publishFinal(ctx, task); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 250 * time.Millisecond):
		}
	}
	return err
}

// publishFinal emits the aggregated outcome for a terminal task.
func (c *Component) publishFinal(ctx context.Context, task *tracking.Task) error {
	final := pipeline.FinalFromTask(task)

	baseMsg := message.NewBaseMessage(final.Schema(), final, "aggregator")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal final result: %w", err)
	}

	subject := pipeline.SubjectFinal(task.ID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	c.finalsPublished.Add(1)
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

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("aggregator stopped",
		"envelopes_processed", c.envelopesProcessed.Load(),
		"envelopes_dropped", c.envelopesDropped.Load(),
		"finals_published", c.finalsPublished.Load(),
		"tasks_timed_out", c.tasksTimedOut.Load())
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "aggregator",
		Type:        "processor",
		Description: "Aggregates participant results and publishes final outcomes",
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
	return aggregatorSchema
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
