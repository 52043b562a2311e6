// Package dispatcher consumes accepted contract submissions, registers the
// task, and fans out one analysis request per matching participant. Each
// request carries only the section subset the participant's patterns select.
package dispatcher

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

// Component implements the fan-out dispatcher.
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
	submissionsProcessed atomic.Int64
	requestsPublished    atomic.Int64
	fanoutFailures       atomic.Int64
	lastActivityMu       sync.RWMutex
	lastActivity         time.Time
}

// NewComponent creates a new dispatcher component.
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
		name:       "dispatcher",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		rt:         rt,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized dispatcher",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName)
	return nil
}

// Start begins consuming submissions.
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
		FilterSubject: pipeline.SubjectSubmittedAll,
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

	c.logger.Info("dispatcher started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName)
	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes submissions.
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
			c.handleSubmission(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleSubmission registers the task and fans requests out. Redelivered
// submissions hit the duplicate-task guard and are simply acked.
func (c *Component) handleSubmission(ctx context.Context, msg jetstream.Msg) {
	c.submissionsProcessed.Add(1)
	c.updateLastActivity()

	submission, err := pipeline.ParsePayload[pipeline.SubmittedPayload](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse submission", "error", err)
		c.nak(msg)
		return
	}
	if err := submission.Validate(); err != nil {
		// Malformed beyond repair; redelivery cannot fix it.
		c.logger.Error("Invalid submission", "error", err)
		c.ack(msg)
		return
	}

	targets := c.rt.Participants.Targets(submission.Sections)
	if len(targets) == 0 {
		c.failEmptyFanout(submission)
		c.ack(msg)
		return
	}

	expected := make([]string, len(targets))
	for i, p := range targets {
		expected[i] = p.Name
	}

	if _, err := c.rt.Store.Create(submission.TaskID, submission.Filename, expected, submission.Deadline); err != nil {
		if errors.Is(err, tracking.ErrDuplicateTask) {
			c.logger.Info("Submission redelivered, task already registered",
				"task_id", submission.TaskID)
			c.ack(msg)
			return
		}
		c.logger.Error("Failed to create task", "task_id", submission.TaskID, "error", err)
		c.nak(msg)
		return
	}

	c.logger.Info("Dispatching contract",
		"task_id", submission.TaskID,
		"filename", submission.Filename,
		"participants", expected)

	for _, p := range targets {
		if err := c.publishRequest(ctx, submission, p); err != nil {
			c.fanoutFailures.Add(1)
			c.logger.Error("Failed to publish analysis request",
				"task_id", submission.TaskID,
				"participant", p.Name,
				"error", err)
			c.publishFailureEnvelope(ctx, submission.TaskID, p.Name, err)
		} else {
			c.requestsPublished.Add(1)
		}
	}

	c.ack(msg)
}

// failEmptyFanout marks a task failed when no participant wants any of its
// sections. The task is created first so the outcome is queryable.
func (c *Component) failEmptyFanout(submission *pipeline.SubmittedPayload) {
	c.logger.Warn("No participants matched submission", "task_id", submission.TaskID)

	_, err := c.rt.Store.Create(submission.TaskID, submission.Filename,
		[]string{"dispatcher"}, submission.Deadline)
	if err != nil {
		c.logger.Warn("Could not register unmatched task",
			"task_id", submission.TaskID, "error", err)
		return
	}
	if _, err := c.rt.Store.Fail(submission.TaskID, "no participants matched the document"); err != nil {
		c.logger.Error("Could not fail unmatched task",
			"task_id", submission.TaskID, "error", err)
	}
}

// publishRequest sends one participant its section subset.
func (c *Component) publishRequest(ctx context.Context, submission *pipeline.SubmittedPayload, p pipeline.Participant) error {
	request := &pipeline.AnalysisRequest{
		TaskID:      submission.TaskID,
		Participant: p.Name,
		Filename:    submission.Filename,
		Sections:    submission.Sections.Subset(p.Sections),
		Deadline:    submission.Deadline,
	}

	baseMsg := message.NewBaseMessage(request.Schema(), request, "dispatcher")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	subject := pipeline.SubjectRequest(p.Name, submission.TaskID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// publishFailureEnvelope emits a synthetic publish_failure result so the
// aggregator does not wait out the deadline for a request that never left.
// If even that publish fails, the failure is recorded into the registry
// directly so the task still converges.
func (c *Component) publishFailureEnvelope(ctx context.Context, taskID, participant string, cause error) {
	envelope := pipeline.FailureEnvelope(taskID, participant,
		pipeline.ErrKindPublishFailure, cause, 0)

	baseMsg := message.NewBaseMessage(envelope.Schema(), envelope, "dispatcher")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		c.logger.Error("Failed to marshal failure envelope",
			"task_id", taskID, "participant", participant, "error", err)
		c.recordFailureDirect(taskID, envelope)
		return
	}

	subject := pipeline.SubjectResult(taskID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		c.logger.Error("Failed to publish failure envelope",
			"task_id", taskID, "participant", participant, "error", err)
		c.recordFailureDirect(taskID, envelope)
	}
}

// recordFailureDirect merges a failure envelope into the registry without
// going through the result stream. Used only when NATS publishing is down;
// the aggregator still sees the transition through the store.
func (c *Component) recordFailureDirect(taskID string, envelope *pipeline.ResultEnvelope) {
	update, err := c.rt.Store.Record(taskID, envelope.ToResult())
	if err != nil {
		c.logger.Error("Failed to record failure directly",
			"task_id", taskID, "participant", envelope.Participant, "error", err)
		return
	}
	if update.Transitioned {
		c.logger.Warn("Task reached terminal state via direct record, final result not published",
			"task_id", taskID, "status", update.Task.Status)
	}
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
	c.logger.Info("dispatcher stopped",
		"submissions_processed", c.submissionsProcessed.Load(),
		"requests_published", c.requestsPublished.Load(),
		"fanout_failures", c.fanoutFailures.Load())
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "dispatcher",
		Type:        "processor",
		Description: "Fans contract submissions out to analysis participants",
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
	return dispatcherSchema
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
