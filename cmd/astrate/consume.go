package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/astrate-platform/astrate"
	"github.com/astrate-platform/astrate/broker"
	"github.com/astrate-platform/astrate/config"
	"github.com/astrate-platform/astrate/core"
	"github.com/astrate-platform/astrate/core/middleware"
	"github.com/astrate-platform/astrate/internal/logging"
	"github.com/astrate-platform/astrate/metric"
	"github.com/astrate-platform/astrate/worker"

	// Plugins register themselves with the broker registry.
	_ "github.com/astrate-platform/astrate/plugins/kafka"
	_ "github.com/astrate-platform/astrate/plugins/nats"
	_ "github.com/astrate-platform/astrate/plugins/rabbitmq"
)

func newConsumeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Run the dispatcher until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConsume(ctx, root.configPath)
		},
	}
}

func runConsume(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)
	log := logger.With("component", "cmd.consume")

	connector, err := broker.Create(cfg.Broker.Type, cfg.BrokerConfig())
	if err != nil {
		return err
	}

	reg := metric.NewRegistry()
	metrics, err := metric.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metric.Serve(ctx, cfg.Metrics.Addr, reg, log); err != nil {
				log.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	e := astrate.New(connector,
		astrate.WithLogger(logger),
		astrate.WithDispatcherOptions(
			core.WithConfigSource(config.Source{Path: configPath}),
			core.WithReconnectInterval(cfg.ReconnectInterval),
			core.WithHeaderNames(cfg.HeaderNames()),
			core.WithMalformedPolicy(cfg.Policy()),
			core.WithMetrics(metrics),
		),
		astrate.WithWorkerOptions(
			worker.WithIdleTimeout(cfg.Worker.IdleTimeout),
			worker.WithRequeueOnError(cfg.RequeueOnError()),
		),
	)
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logging(logger))
	e.Use(middleware.Metrics(metrics))
	e.Handle("*", logTrigger(logger))

	log.Info("consumer starting",
		"broker", cfg.Broker.Type,
		"queue", cfg.Broker.Queue,
		"exchange", cfg.Broker.Exchange,
		"prefetch", cfg.Broker.Prefetch,
	)
	if err := e.Run(ctx); err != nil {
		return err
	}
	log.Info("consumer stopped")
	return nil
}

// logTrigger is the built-in handler: it records each trigger and lets the
// worker acknowledge it. Policy evaluation lives in services embedding the
// astrate package.
func logTrigger(logger *slog.Logger) core.HandlerFunc {
	return func(c core.Context) error {
		ev := c.Event()
		logger.Info("trigger received",
			"realm", ev.Key.Realm,
			"policy", ev.Key.Policy,
			"message_id", ev.Delivery.MessageID,
			"bytes", len(ev.Delivery.Body),
			"redelivered", ev.Delivery.Redelivered,
		)
		return nil
	}
}
