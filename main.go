package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"edgemetrics/collector"
	"edgemetrics/config"
	"edgemetrics/logger"
	"edgemetrics/server"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "edgemetrics:", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("set up logger: %w", err)
	}
	defer func() { err = multierr.Append(err, logger.Flush(log.Logger)) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := collector.NewSnapshotStore()
	sampler := collector.NewSampler(store, config.SampleInterval, log.Logger, collector.NewSyntheticCollector())

	opts := []server.Option{server.WithRefresh(config.SampleInterval)}
	if cfg.AccessLog {
		opts = append(opts, server.WithAccessLog(log))
	}
	srv := server.NewServer(config.ListenAddr, store, log, opts...)

	samplerDone := startSampler(ctx, sampler)
	// the sampler logs until it returns, so it must finish before Flush
	defer func() {
		stop()
		<-samplerDone
	}()

	printBanner(os.Stdout, config.PublicBaseURL)

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start(ctx) }()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Logger.Info("shutting down", zap.String("reason", context.Cause(ctx).Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = srv.Stop(shutdownCtx)
	if serveErr := <-errChan; serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		err = multierr.Append(err, serveErr)
	}

	return err
}

// startSampler runs s in the background. The returned channel is closed
// once s has returned, which happens after ctx is cancelled.
func startSampler(ctx context.Context, s *collector.Sampler) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	return done
}

func printBanner(w io.Writer, baseURL string) {
	rule := strings.Repeat("=", 50)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Edge Metrics Server Started")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Endpoints:")
	fmt.Fprintf(w, "  - %s/        (HTML view)\n", baseURL)
	fmt.Fprintf(w, "  - %s/metrics (Prometheus format)\n", baseURL)
	fmt.Fprintln(w, rule)
}
