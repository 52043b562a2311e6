// contrail runs the contract analysis pipeline: HTTP gateway, dispatcher,
// participant adapter, and aggregator in one process over NATS JetStream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/spf13/cobra"

	"github.com/contrail-ai/contrail/config"
	"github.com/contrail-ai/contrail/pipeline"
	"github.com/contrail-ai/contrail/processor"
	"github.com/contrail-ai/contrail/processor/adapter"
	"github.com/contrail-ai/contrail/processor/aggregator"
	"github.com/contrail-ai/contrail/processor/dispatcher"
	"github.com/contrail-ai/contrail/processor/gateway"
	"github.com/contrail-ai/contrail/progress"
	"github.com/contrail-ai/contrail/tracking"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "contrail",
		Short: "Contract analysis pipeline",
		Long: `contrail accepts contract documents over HTTP, splits them into
sections, fans them out to analysis participants over NATS JetStream, and
aggregates the results.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("contrail", version)
		},
	})

	return cmd
}

func run(ctx context.Context, configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	natsClient, err := connectToNATS(signalCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := natsClient.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	if err := ensureStreams(signalCtx, cfg, natsClient, logger); err != nil {
		return err
	}

	rt, err := buildRuntime(signalCtx, cfg, logger)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(rt)
	if err != nil {
		return err
	}
	logger.Debug("Component factories registered", "count", len(registry.ListFactories()))

	components, err := buildComponents(cfg, natsClient, logger, rt)
	if err != nil {
		return err
	}

	for _, c := range components {
		if err := c.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", c.Meta().Name, err)
		}
	}

	started := make([]component.LifecycleComponent, 0, len(components))
	for _, c := range components {
		if err := c.Start(signalCtx); err != nil {
			stopAll(started, logger)
			return fmt.Errorf("start %s: %w", c.Meta().Name, err)
		}
		started = append(started, c)
	}

	logger.Info("contrail running",
		"version", version,
		"listen_addr", cfg.Gateway.ListenAddr,
		"participants", len(rt.Participants.All()))

	<-signalCtx.Done()
	logger.Info("Received shutdown signal")

	stopAll(started, logger)
	return nil
}

// buildRuntime wires the shared store, notifier, and participant table, and
// installs the store observer that feeds progress events and metrics.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (processor.Runtime, error) {
	store := tracking.NewStore(cfg.Pipeline.Retention)
	notifier := progress.NewNotifier(cfg.Pipeline.EventBuffer, cfg.Pipeline.Retention)

	participants := pipeline.DefaultParticipants()
	if cfg.Participants.File != "" {
		loaded, err := pipeline.LoadParticipants(cfg.Participants.File)
		if err != nil {
			return processor.Runtime{}, err
		}
		participants = loaded
	}
	table, err := pipeline.NewTable(participants)
	if err != nil {
		return processor.Runtime{}, err
	}

	if cfg.Participants.File != "" && cfg.Participants.Watch {
		go func() {
			if err := pipeline.WatchParticipants(ctx, cfg.Participants.File, table, logger); err != nil && ctx.Err() == nil {
				logger.Error("participant watcher exited", "error", err)
			}
		}()
	}

	store.SetObserver(func(task *tracking.Task) {
		notifier.Publish(progress.FromTask(task))
		if task.Status.Terminal() {
			gateway.CountFinished(string(task.Status))
		}
	})
	gateway.SetTrackedTasksFunc(store.Len)

	return processor.Runtime{
		Store:        store,
		Notifier:     notifier,
		Participants: table,
	}, nil
}

// buildRegistry registers the pipeline component factories. The registry is
// what discovery tooling introspects; the shared runtime is captured in each
// factory closure.
func buildRegistry(rt processor.Runtime) (*component.Registry, error) {
	registry := component.NewRegistry()

	if err := gateway.Register(registry, rt); err != nil {
		return nil, fmt.Errorf("register gateway: %w", err)
	}
	if err := dispatcher.Register(registry, rt); err != nil {
		return nil, fmt.Errorf("register dispatcher: %w", err)
	}
	if err := adapter.Register(registry, rt); err != nil {
		return nil, fmt.Errorf("register adapter: %w", err)
	}
	if err := aggregator.Register(registry, rt); err != nil {
		return nil, fmt.Errorf("register aggregator: %w", err)
	}

	return registry, nil
}

// buildComponents constructs the four pipeline components with their
// configs derived from the service configuration.
func buildComponents(cfg *config.Config, natsClient *natsclient.Client, logger *slog.Logger, rt processor.Runtime) ([]component.LifecycleComponent, error) {
	deps := component.Dependencies{
		Logger:     logger,
		NATSClient: natsClient,
	}

	gatewayCfg, err := json.Marshal(gateway.Config{
		ListenAddr:     cfg.Gateway.ListenAddr,
		TaskDeadline:   cfg.Gateway.TaskDeadline,
		WaitTimeout:    cfg.Gateway.WaitTimeout,
		MaxUploadBytes: cfg.Gateway.MaxUploadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal gateway config: %w", err)
	}

	adapterCfg, err := json.Marshal(adapter.Config{
		InvokeTimeout: cfg.Pipeline.InvokeTimeout,
		AckWait:       cfg.Pipeline.InvokeTimeout + time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal adapter config: %w", err)
	}

	aggregatorCfg, err := json.Marshal(aggregator.Config{
		SweepInterval: cfg.Pipeline.SweepInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal aggregator config: %w", err)
	}

	var components []component.LifecycleComponent

	// The aggregator starts before anything can publish results; the
	// dispatcher before the gateway accepts submissions.
	agg, err := aggregator.NewComponent(aggregatorCfg, deps, rt)
	if err != nil {
		return nil, fmt.Errorf("create aggregator: %w", err)
	}
	components = append(components, agg)

	adp, err := adapter.NewComponent(adapterCfg, deps, rt)
	if err != nil {
		return nil, fmt.Errorf("create adapter: %w", err)
	}
	components = append(components, adp)

	dsp, err := dispatcher.NewComponent(json.RawMessage("{}"), deps, rt)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	components = append(components, dsp)

	gw, err := gateway.NewComponent(gatewayCfg, deps, rt)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	components = append(components, gw)

	return components, nil
}

func stopAll(components []component.LifecycleComponent, logger *slog.Logger) {
	// Stop in reverse start order so the gateway drains first.
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.Stop(shutdownTimeout); err != nil {
			logger.Warn("component stop failed",
				"component", c.Meta().Name, "error", err)
		}
	}
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func connectToNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	natsURL := cfg.NATS.URL
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		natsURL = envURL
	}

	logger.Info("Connecting to NATS", "url", natsURL)

	client, err := natsclient.NewClient(natsURL,
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	logger.Info("Connected to NATS", "url", natsURL)
	return client, nil
}

// wrapNATSError provides guidance when the NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL to point to your NATS server.`, err, url)
	}
	return fmt.Errorf("NATS connection failed: %w", err)
}

// ensureStreams creates or updates the pipeline's JetStream streams.
func ensureStreams(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client, logger *slog.Logger) error {
	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	for _, sc := range pipeline.StreamConfigs(cfg.Pipeline.StreamMaxAge) {
		if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("ensure stream %s: %w", sc.Name, err)
		}
		logger.Debug("JetStream stream ready", "stream", sc.Name)
	}
	return nil
}
