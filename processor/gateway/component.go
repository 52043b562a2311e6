// Package gateway provides the HTTP front door of the pipeline. It accepts
// contract uploads, splits them into sections, registers the task, and
// publishes the submission for the dispatcher. It also serves task status,
// SSE progress streams, health, and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/contrail-ai/contrail/document/parser"
	"github.com/contrail-ai/contrail/processor"
)

// Component implements the contract gateway.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	rt      processor.Runtime
	parsers *parser.Registry
	server  *http.Server

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	submissionsAccepted atomic.Int64
	submissionsRejected atomic.Int64
	lastActivityMu      sync.RWMutex
	lastActivity        time.Time
}

// NewComponent creates a new gateway component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies, rt processor.Runtime) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.ListenAddr == "" {
		config.ListenAddr = defaults.ListenAddr
	}
	if config.TaskDeadline == 0 {
		config.TaskDeadline = defaults.TaskDeadline
	}
	if config.WaitTimeout == 0 {
		config.WaitTimeout = defaults.WaitTimeout
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = defaults.MaxUploadBytes
	}
	if config.ShutdownGrace == 0 {
		config.ShutdownGrace = defaults.ShutdownGrace
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
		name:    "gateway",
		config:  config,
		rt:      rt,
		parsers: parser.NewRegistry(),
		logger:  deps.GetLogger(),

		natsClient: deps.NATSClient,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized gateway",
		"listen_addr", c.config.ListenAddr,
		"task_deadline", c.config.TaskDeadline)
	return nil
}

// Start begins serving HTTP.
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

	c.server = &http.Server{
		Addr:              c.config.ListenAddr,
		Handler:           c.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.mu.Unlock()

	go func() {
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("gateway HTTP server failed", "error", err)
		}
	}()

	go func() {
		<-subCtx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), c.config.ShutdownGrace)
		defer done()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("gateway shutdown incomplete", "error", err)
		}
	}()

	c.logger.Info("gateway started", "listen_addr", c.config.ListenAddr)
	return nil
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
	c.logger.Info("gateway stopped",
		"submissions_accepted", c.submissionsAccepted.Load(),
		"submissions_rejected", c.submissionsRejected.Load())
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "gateway",
		Type:        "processor",
		Description: "HTTP front door accepting contracts and serving task status",
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
	return gatewaySchema
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

func (c *Component) touch() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
