// Package main provides the steward binary entry point. Steward is the
// execution-governance core for a multi-agent engineering platform: a task
// lifecycle engine with gated transitions, a reflection-to-insight pipeline,
// watchdog workers, webhook delivery and a noise-budgeted chat log, all on
// NATS JetStream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/spf13/cobra"

	"github.com/c360studio/steward/audit"
	"github.com/c360studio/steward/calendar"
	"github.com/c360studio/steward/chat"
	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/events"
	"github.com/c360studio/steward/httpapi"
	"github.com/c360studio/steward/model"
	"github.com/c360studio/steward/noise"
	"github.com/c360studio/steward/pipeline"
	"github.com/c360studio/steward/prcheck"
	"github.com/c360studio/steward/routing"
	"github.com/c360studio/steward/sse"
	"github.com/c360studio/steward/store"
	"github.com/c360studio/steward/task"
	"github.com/c360studio/steward/watchdog"
	"github.com/c360studio/steward/webhook"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "steward"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "steward",
		Short: "Execution-governance core for agent teams",
		Long: `Steward governs how a team of coding agents works: every task
mutation passes a gate chain, reflections cluster into insights that
spawn follow-up work, watchdogs keep agents and the board honest, and
all automated chatter flows through a per-channel noise budget.

State lives in NATS JetStream key-value buckets; domain events fan out
over NATS subjects and Server-Sent Events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}
	st, err := store.NewStore(ctx, js)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}

	logger.Info("Steward ready", "version", Version, "http", cfg.HTTP.Addr)

	// Shared infrastructure.
	policy := config.NewPolicyStore(cfg.Policy)
	publisher := events.NewPublisher(natsClient, logger)
	models := model.NewDefaultRegistry()
	ledger := audit.NewLedger(st, logger)
	alerter := audit.NewAlerter(st, publisher, func() time.Duration {
		return policy.Get().MutationAlertDebounce
	}, logger)

	var checker prcheck.Checker
	if cfg.GitHub.Offline {
		checker = prcheck.Offline{}
	} else {
		checker = prcheck.NewGitHub(cfg.GitHub.Token, cfg.GitHub.Timeout, logger)
	}

	// Domain components.
	engine := task.NewEngine(st, policy, models, publisher, ledger, alerter, checker, logger)
	pipe := pipeline.New(st, engine, cfg.Pipeline, publisher, cfg.Routing.DefaultReviewer, logger)
	router := routing.New(st, engine, publisher, cfg.Routing.Protected, logger)
	gate := noise.NewGatekeeper(st, policy, logger)
	chatSvc := chat.NewService(st, publisher, gate, logger)
	calSvc := calendar.NewService(st, engine, logger)
	broker := sse.NewBroker(logger)
	publisher.Tap(broker.Publish)
	defer broker.Close()

	// HTTP server carries its own metrics registry; the webhook engine
	// registers its collectors there.
	server := httpapi.NewServer(cfg.HTTP, st, policy, nil, logger)
	webhookMetrics := webhook.NewMetrics(server.Registry())
	deliverer := webhook.NewEngine(st, cfg.Webhooks, publisher, webhookMetrics, logger)

	// Watchdogs.
	deps := &watchdog.Deps{
		Store:     st,
		Engine:    engine,
		Policy:    policy,
		Chat:      chatSvc,
		Publisher: publisher,
		Checker:   checker,
		Logger:    logger,
	}
	board := watchdog.NewBoardWorker(deps)
	sched := watchdog.NewScheduler(logger,
		watchdog.NewIdleWorker(deps),
		watchdog.NewCadenceWorker(deps),
		watchdog.NewMentionWorker(deps),
		board,
		watchdog.NewSweeperWorker(deps),
		watchdog.NewReminderWorker(deps),
	)

	// Mount HTTP surfaces.
	server.Mount(task.NewHandler(engine))
	server.Mount(audit.NewHandler(st))
	server.Mount(pipeline.NewHandler(pipe))
	server.Mount(webhook.NewHandler(deliverer))
	server.Mount(routing.NewHandler(router))
	server.Mount(noise.NewHandler(gate, chatSvc.PostDigest))
	server.Mount(chat.NewHandler(chatSvc))
	server.Mount(calendar.NewHandler(calSvc))
	server.Mount(watchdog.NewHandler(sched, board, st))
	server.Mount(sse.NewHandler(broker))

	// Background loops.
	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go deliverer.Run(runCtx)
	go gate.RunDigestFlusher(runCtx, chatSvc.PostDigest)
	go pipe.RunHealthMonitor(runCtx)
	go calSvc.Run(runCtx)
	go runRetentionSweeps(runCtx, st, deliverer, router, policy, logger)
	sched.Start(runCtx)
	defer sched.Stop()

	if configPath != "" {
		go func() {
			if err := policy.Watch(runCtx, configPath, logger); err != nil {
				logger.Warn("Policy watcher stopped", "error", err)
			}
		}()
	}

	// Serve until signalled.
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-runCtx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", "error", err)
	}

	logger.Info("Steward shutdown complete")
	return nil
}

// runRetentionSweeps prunes settled webhooks, expired routing overrides and
// aged mutation-alert debounce records on an hourly cadence.
func runRetentionSweeps(ctx context.Context, st *store.Store, deliverer *webhook.Engine,
	router *routing.Router, policy *config.PolicyStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := deliverer.Cleanup(ctx); err != nil {
				logger.Warn("Webhook cleanup failed", "error", err)
			} else if n > 0 {
				logger.Info("Pruned settled webhooks", "count", n)
			}
			if n, err := router.SweepOverrides(ctx); err != nil {
				logger.Warn("Override sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("Swept expired routing overrides", "count", n)
			}
			cutoff := time.Now().UTC().Add(-24 * time.Hour)
			if n, err := st.PruneMutationAlerts(ctx, cutoff); err != nil {
				logger.Warn("Mutation alert prune failed", "error", err)
			} else if n > 0 {
				logger.Info("Pruned mutation alert records", "count", n)
			}
		}
	}
}

func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	loader := config.NewLoader(logger)
	if configPath != "" {
		return loader.LoadFile(configPath)
	}
	return loader.Load()
}

func connectToNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	natsURL := "nats://localhost:4222"
	if cfg.NATS.URL != "" {
		natsURL = cfg.NATS.URL
	}

	logger.Info("Connecting to NATS", "url", natsURL)

	client, err := natsclient.NewClient(natsURL,
		natsclient.WithName(appName),
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

To start NATS with JetStream:
  docker run -d -p 4222:4222 nats:latest -js

Or set STEWARD_NATS_URL to point to your NATS server.`, err, url)
	}
	return fmt.Errorf("NATS connection failed: %w", err)
}
