// Command flowbridge runs the booking-to-Zoho Flow bridge: the HTTP event
// and admin API, the deferred re-check scheduler and, optionally, a Kafka
// event feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xraph/flowbridge"
	"github.com/xraph/flowbridge/api"
	"github.com/xraph/flowbridge/feed/kafka"
	"github.com/xraph/flowbridge/observability"
	"github.com/xraph/flowbridge/settings"
)

func main() {
	configPath := flag.String("config", "", "path to flowbridge.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "flowbridge:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	b, err := flowbridge.New(
		flowbridge.WithStore(st),
		flowbridge.WithLogger(logger),
		flowbridge.WithConfig(bridgeConfig(cfg)),
		flowbridge.WithTracer(observability.NewTracer()),
	)
	if err != nil {
		return err
	}

	if err := seedOptions(ctx, b, cfg.file, logger); err != nil {
		return err
	}

	b.Start(ctx)

	var handlerOpts []api.HandlerOption
	if cfg.Inbound.Secret != "" {
		handlerOpts = append(handlerOpts, api.WithInboundSecret(cfg.Inbound.Secret, cfg.Inbound.Tolerance))
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewHandler(b, logger, handlerOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(kafka.NewReader(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}), b, logger)
		defer consumer.Close()

		go func() {
			logger.Info("kafka feed started", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)
			if err := consumer.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("component failed, shutting down", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("http shutdown", "error", serr)
	}
	if serr := b.Stop(shutdownCtx); serr != nil {
		logger.Error("bridge shutdown", "error", serr)
	}
	return err
}

func bridgeConfig(cfg *Config) flowbridge.Config {
	bc := flowbridge.DefaultConfig()
	bc.RecordType = cfg.RecordType
	if cfg.EventName != "" {
		bc.EventName = cfg.EventName
	}
	if cfg.EventIDPrefix != "" {
		bc.EventIDPrefix = cfg.EventIDPrefix
	}
	bc.RecheckDelay = cfg.Recheck.Delay
	bc.MaxRechecks = cfg.Recheck.MaxRechecks
	if cfg.Recheck.PollInterval > 0 {
		bc.PollInterval = cfg.Recheck.PollInterval
	}
	if cfg.Shutdown > 0 {
		bc.ShutdownTimeout = cfg.Shutdown
	}
	return bc
}

// seedOptions writes option values found in the config file or the
// environment, without overwriting values already stored.
func seedOptions(ctx context.Context, b *flowbridge.Bridge, file string, logger *slog.Logger) error {
	values, err := settings.LoadFile(file)
	if err != nil {
		return err
	}
	n, err := b.Settings().Seed(ctx, values)
	if err != nil {
		return fmt.Errorf("seed options: %w", err)
	}
	if n > 0 {
		logger.Info("options seeded", "count", n)
	}
	return nil
}

func newLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: observability.ParseLevel(level)}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
