// Command orbitd runs the workflow orchestration daemon: it opens the
// configured store, reconciles state left by an unclean shutdown, and
// keeps the scheduler, idempotency sweeper and metrics endpoint running
// until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/orbitq/orbit/emit"
	"github.com/orbitq/orbit/engine"
	"github.com/orbitq/orbit/idempotency"
	"github.com/orbitq/orbit/schedule"
	"github.com/orbitq/orbit/store"
	"github.com/orbitq/orbit/vars"
	"github.com/orbitq/orbit/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	genKey := flag.Bool("generate-key", false, "print a fresh encryption key and exit")
	flag.Parse()

	if *genKey {
		key, err := vars.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orbitd: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orbitd: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("orbitd exited", zap.Error(err))
	}
}

func run(cfg *Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	log.Info("store ready",
		zap.String("driver", cfg.Database.Driver),
		zap.String("dsn", cfg.Database.DSN))

	var cipher *vars.Cipher
	if cfg.EncryptionKey != "" {
		cipher, err = vars.NewCipher(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption key: %w", err)
		}
	} else {
		log.Warn("no encryption key configured, secrets are disabled")
	}
	varsSvc := vars.NewService(st, cipher, log.Named("vars"))

	registry := prometheus.NewRegistry()
	metrics := engine.NewMetrics(registry)

	bus := emit.NewBus(0, log.Named("bus"))
	defer bus.Close()
	logEmitter := emit.NewLogEmitter(log.Named("events"))
	bus.Subscribe(func(ev emit.Event) error {
		logEmitter.Emit(ev)
		return nil
	})
	otelEmitter := emit.NewOTelEmitter(otel.Tracer("orbitd"))
	bus.Subscribe(func(ev emit.Event) error {
		otelEmitter.Emit(ev)
		return nil
	})

	guard := idempotency.NewGuard(st, cfg.idemTTL, log.Named("idempotency"))
	runner := engine.NewRunner(st, engine.NewRegistry(), engine.Options{
		Emitter:      bus,
		Interpolator: varsSvc,
		Idempotency:  guard,
		Metrics:      metrics,
		Logger:       log.Named("engine"),
	})

	// Workflows persisted as running belong to a previous process; no
	// one is executing them anymore.
	n, err := runner.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	if n > 0 {
		log.Warn("reconciled orphaned workflows", zap.Int("count", n))
	}

	launch := func(ctx context.Context, id uuid.UUID) {
		metrics.ScheduledExecution()
		// The firing outlives the scheduler tick that triggered it.
		go func() {
			runCtx := context.WithoutCancel(ctx)
			if _, err := runner.Execute(runCtx, id, workflow.TriggerSchedule); err != nil {
				log.Warn("scheduled execution failed",
					zap.String("workflow_id", id.String()),
					zap.Error(err))
			}
		}()
	}
	sched := schedule.NewScheduler(st, launch, cfg.tickInterval, log.Named("scheduler"))
	go sched.Run(ctx)
	go guard.RunSweeper(ctx, cfg.sweepInterval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:         cfg.Metrics.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("metrics endpoint: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics endpoint shutdown", zap.Error(err))
	}
	return nil
}

func openStore(cfg *Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		return store.NewSQLite(cfg.Database.DSN)
	case "mysql":
		return store.NewMySQL(cfg.Database.DSN)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

func newLogger(cfg *Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}
