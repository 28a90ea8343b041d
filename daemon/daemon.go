// Package daemon assembles the orchestrator: store, tool surface,
// trigger processor, broadcaster, runner, and the HTTP adapter, with
// cooperative shutdown across all of them.
//
// Configuration is threaded explicitly from here into every component;
// nothing reads process globals.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/taskrelay/board/store"
	"github.com/dshills/taskrelay/board/tool"
	"github.com/dshills/taskrelay/broadcast"
	"github.com/dshills/taskrelay/config"
	"github.com/dshills/taskrelay/runner"
	"github.com/dshills/taskrelay/server"
	"github.com/dshills/taskrelay/trigger"
)

// shutdownGrace is how long subprocesses get between terminate and kill.
const shutdownGrace = 5 * time.Second

// Daemon is a fully wired orchestrator instance.
type Daemon struct {
	cfg         *config.Config
	store       *store.Store
	surface     *tool.Surface
	registry    *runner.Registry
	runner      *runner.Runner
	processor   *trigger.Processor
	broadcaster *broadcast.Broadcaster
	httpServer  *http.Server
	tracing     *sdktrace.TracerProvider
	log         *slog.Logger
}

// New opens the store and wires every component.
func New(cfg *config.Config, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	surface := tool.New(st,
		tool.WithGitProbe(runner.GitProbe{}),
		tool.WithLogger(log),
	)

	registry := runner.NewRegistry()
	coordinator := runner.NewCoordinator(cfg.WorktreesPath)
	agentRunner := runner.New(st, coordinator, registry, runner.Config{
		AgentBinary:  cfg.AgentBinary,
		DefaultModel: cfg.DefaultModel,
		RepoPath:     cfg.RepoPath,
		BaseBranch:   cfg.BaseBranch,
		DBPath:       cfg.DBPath,
	}, log)

	promReg := prometheus.NewRegistry()
	processor := trigger.NewProcessor(surface, agentRunner, agentRunner, cfg.MaxParallelAgents,
		trigger.WithLogger(log),
		trigger.WithMetrics(trigger.NewMetrics(promReg)),
	)

	broadcaster := broadcast.New(st,
		broadcast.WithLogger(log),
		broadcast.WithRegisterer(promReg),
	)

	tracing := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tracing)
	broadcaster.Register(broadcast.NewOTelListener(tracing.Tracer("taskrelay")))

	transcripts := runner.NewTranscriptReader("")
	httpAdapter := server.New(surface, broadcaster, transcripts, cfg, promReg, log)

	return &Daemon{
		cfg:         cfg,
		store:       st,
		surface:     surface,
		registry:    registry,
		runner:      agentRunner,
		processor:   processor,
		broadcaster: broadcaster,
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           httpAdapter.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		tracing: tracing,
		log:     log,
	}, nil
}

// Surface returns the wired tool surface (used by the one-shot CLI
// paths).
func (d *Daemon) Surface() *tool.Surface {
	return d.surface
}

// Runner returns the wired agent runner.
func (d *Daemon) Runner() *runner.Runner {
	return d.runner
}

// Run starts the schedulers and the HTTP server and blocks until ctx is
// cancelled, then shuts everything down in order: HTTP first, then the
// schedulers (already cancelled via ctx), then the live subprocesses,
// then the store.
func (d *Daemon) Run(ctx context.Context) error {
	go d.processor.Run(ctx)
	go d.broadcaster.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		d.log.Info("http server listening", "addr", d.cfg.ListenAddr)
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		d.shutdown()
		return err
	case <-ctx.Done():
		d.log.Info("shutting down")
		d.shutdown()
		return nil
	}
}

func (d *Daemon) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = d.httpServer.Shutdown(shutdownCtx)

	d.registry.Shutdown(shutdownGrace)
	_ = d.tracing.Shutdown(shutdownCtx)
	if err := d.store.Close(); err != nil {
		d.log.Error("failed to close store", "error", err)
	}
}

// Close releases resources without running the schedulers (one-shot CLI
// paths).
func (d *Daemon) Close() error {
	d.registry.Shutdown(shutdownGrace)
	return d.store.Close()
}
