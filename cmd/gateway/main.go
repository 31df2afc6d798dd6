package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hubenschmidt/finmodel-orchestrator/internal/api"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/artifact"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/datasource"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/ledger"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/logbus"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/orchestrator"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/pipeline"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/qa"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/session"
	"github.com/hubenschmidt/finmodel-orchestrator/internal/workbook"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", "error", err)
	}
	cfg := loadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	if err := cfg.validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := pipeline.NewPooledHTTPClient(cfg.httpPoolSize, 30*time.Second)
	router, probes := reasoners(cfg, httpClient)
	engine, err := router.Route(cfg.engine)
	if err != nil {
		slog.Error("reasoning engine", "error", err)
		os.Exit(1)
	}
	if engine.Name() != cfg.engine {
		slog.Warn("reasoning engine unavailable, using fallback", "requested", cfg.engine, "using", engine.Name())
	}

	catalog, err := datasource.LoadCatalog(cfg.catalogPath)
	if err != nil {
		slog.Error("load catalog", "error", err)
		os.Exit(1)
	}
	source, cache, err := dataSource(ctx, cfg, httpClient)
	if err != nil {
		slog.Error("data source", "error", err)
		os.Exit(1)
	}
	probes["cache"] = orchestrator.ComponentMeta{Checker: cache}

	ledgerStore, err := openLedger(cfg)
	if err != nil {
		slog.Error("open ledger", "error", err)
		os.Exit(1)
	}
	var ledgerProbe orchestrator.Checker
	if ledgerStore != nil {
		ledgerProbe = ledgerStore
		defer ledgerStore.Close()
	}
	probes["ledger"] = orchestrator.ComponentMeta{Checker: ledgerProbe}
	tracer := ledger.NewTracer(ledgerStore)

	files, err := artifact.NewFileStore(cfg.outputDir)
	if err != nil {
		slog.Error("artifact store", "error", err)
		os.Exit(1)
	}

	store := session.NewStore()
	bus := logbus.New(cfg.logBuffer, cfg.subscriberQ)
	exec := pipeline.NewExecutor(store, bus, tracer, pipeline.Config{
		Workers:      cfg.maxPipelines,
		StageTimeout: cfg.stageTimeout,
		MaxAttempts:  cfg.maxAttempts,
	})
	builder := workbook.NewBuilder()

	svc := orchestrator.New(orchestrator.Config{
		Store:    store,
		Bus:      bus,
		Executor: exec,
		Research: pipeline.NewResearchGroup(
			pipeline.NewResearch(catalog, source, cfg.peerConcurrency),
			pipeline.NewAnalysis(engine, cfg.reasoningTimeout),
			pipeline.NewPlanning(),
		),
		Build: pipeline.NewBuildGroup(
			pipeline.NewBuild(builder),
			pipeline.NewAudit(qa.Default(), builder, cfg.maxCorrections),
			pipeline.NewDelivery(files, nil),
		),
		Artifacts:     files,
		Tracer:        tracer,
		Reasoners:     router,
		Engine:        engine.Name(),
		Registry:      orchestrator.NewRegistry(probes, 3*time.Second),
		StatusLogTail: cfg.statusLogTail,
		ChatTimeout:   cfg.reasoningTimeout,
	})

	go store.Janitor(ctx, cfg.sweepInterval, cfg.idleTTL, svc.Expire)

	addr := ":" + cfg.port
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(svc, ledgerStore, cfg.maxStreams, cfg.apiKey, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// pipelines publish their done events before the streams are cut,
		// so srv.Shutdown does not wait on open log streams
		slog.Info("draining pipelines")
		if err := exec.Close(shutdownCtx); err != nil {
			slog.Warn("pipelines cancelled", "error", err)
		}
		bus.EndAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		tracer.Close()
		if c, ok := cache.(io.Closer); ok {
			c.Close()
		}
	}()

	slog.Info("gateway starting",
		"addr", addr,
		"engine", engine.Name(),
		"engines", router.Engines(),
		"max_pipelines", cfg.maxPipelines,
		"source", source.Name(),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-stopped
	slog.Info("gateway stopped")
}
