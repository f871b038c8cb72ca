// Command evalcored runs the evaluation core daemon: it consumes
// runner results from the broker, reconciles them with the submission
// store, and serves Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evalhq/evalcore/eval"
	"github.com/evalhq/evalcore/eval/broker"
	"github.com/evalhq/evalcore/eval/config"
	"github.com/evalhq/evalcore/eval/emit"
	"github.com/evalhq/evalcore/eval/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "evalcored: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	emitter := emit.NewLogEmitter(os.Stdout, true)
	metrics := eval.NewMetrics(prometheus.DefaultRegisterer)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := broker.NewConsumer(ctx, cfg.AMQPURL, cfg.ExchangeName, cfg.ResultQueueName, emitter)
	defer consumer.Close()

	listener := eval.NewListener(st, emitter, metrics)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				emitter.Emit(emit.Event{
					Severity: emit.SeverityError,
					Msg:      "metrics_server_failed",
					Meta:     map[string]any{"error": err.Error()},
				})
			}
		}()
	}

	emitter.Emit(emit.Event{Msg: "daemon_started", Meta: map[string]any{
		"store":    cfg.DatabaseDriver,
		"exchange": cfg.ExchangeName,
		"queue":    cfg.ResultQueueName,
	}})

	err = listener.Run(ctx, consumer)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	emitter.Emit(emit.Event{Msg: "daemon_stopped", Meta: nil})
	return nil
}

// openStore selects the store backend from configuration.
func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.DatabaseURL)
	case "mysql":
		return store.NewMySQLStore(cfg.DatabaseURL)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
}
