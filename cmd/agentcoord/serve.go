package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentcoord/internal/agent"
	"agentcoord/internal/config"
	"agentcoord/internal/coordinator"
	"agentcoord/internal/domain"
	"agentcoord/internal/messaging/inproc"
	sqlitestore "agentcoord/internal/store/sqlite"
	"agentcoord/internal/telemetry"
)

type serveOptions struct {
	configPath string
	addr       string
	dbPath     string
	demo       bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination service",
		Long: `Starts the coordinator with its watchdog and dispatch loops and serves the
HTTP JSON API. With --demo three in-process workers join and a small task
graph is queued.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to config.toml (default: ~/.agentcoord/config.toml)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "http listen address override")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "sqlite journal path override")
	cmd.Flags().BoolVar(&opts.demo, "demo", false, "start demo workers and queue demo tasks")
	return cmd
}

func runServe(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := log.Default()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	addr := firstNonEmpty(opts.addr, cfg.Server.Addr, ":8091")
	dbPath := filepath.Clean(firstNonEmpty(opts.dbPath, cfg.Server.DBPath, "data/agentcoord.db"))
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "agentcoord")
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}

	coordCfg, err := cfg.ToCoordinator()
	if err != nil {
		return err
	}
	bus := inproc.New(256)
	svc, err := coordinator.New(store, bus, coordCfg, logger)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}
	svc.Start(ctx)

	if cfg.Path != "" {
		go func() {
			err := config.Watch(ctx, cfg.Path, logger, func(next config.Config) {
				applyThresholds(ctx, svc, next, logger)
			})
			if err != nil {
				logger.Printf("config watch disabled: %v", err)
			}
		}()
	}

	var workers []*agent.Worker
	if opts.demo {
		workers, err = startDemo(ctx, svc, coordCfg.Curriculum, logger)
		if err != nil {
			logger.Printf("demo bootstrap failed: %v", err)
		}
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(logger, newAPI(svc, cfg).routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf(
		"agentcoord started addr=%s db=%s auto_assign=%t curriculum_steps=%d config=%s",
		addr,
		dbPath,
		coordCfg.AutoAssign,
		len(coordCfg.Curriculum),
		firstNonEmpty(cfg.Path, "(defaults)"),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	cancel()
	for _, w := range workers {
		w.Wait()
	}
	svc.Wait()
	return nil
}

func applyThresholds(ctx context.Context, svc *coordinator.Service, next config.Config, logger *log.Logger) {
	thresholds, err := next.Thresholds()
	if err != nil {
		logger.Printf("config reload: %v", err)
		return
	}
	for priority, value := range thresholds {
		if err := svc.SetPriorityThreshold(ctx, priority, value); err != nil {
			logger.Printf("config reload threshold %s: %v", priority, err)
		}
	}
	logger.Printf("config reloaded thresholds=%d", len(thresholds))
}

func startDemo(ctx context.Context, svc *coordinator.Service, curriculum []domain.OnboardingStep, logger *log.Logger) ([]*agent.Worker, error) {
	specs := []agent.WorkerConfig{
		{ID: "planner", Capabilities: []string{"plan", "design"}},
		{ID: "coder", Capabilities: []string{"implement", "python", "go"}},
		{ID: "reviewer", Capabilities: []string{"review", "test"}},
	}
	handler := agent.ScriptedHandler{Steps: curriculum, WorkDuration: 2 * time.Second, Logger: logger}
	workers := make([]*agent.Worker, 0, len(specs))
	for _, spec := range specs {
		spec.PollInterval = time.Second
		w := agent.NewWorker(spec, svc, handler, logger)
		if err := w.Start(ctx); err != nil {
			return workers, err
		}
		workers = append(workers, w)
	}

	demoTasks := []coordinator.CreateTaskInput{
		{ID: "demo-design", Description: "design the ingestion pipeline", Priority: domain.PriorityHigh},
		{ID: "demo-implement", Description: "implement the pipeline in go", Priority: domain.PriorityMedium, Dependencies: []string{"demo-design"}},
		{ID: "demo-review", Description: "review and test the pipeline", Priority: domain.PriorityMedium, Dependencies: []string{"demo-implement"}},
	}
	for _, in := range demoTasks {
		if _, err := svc.CreateTask(ctx, in); err != nil {
			return workers, err
		}
	}
	if _, err := svc.Broadcast(ctx, "planner", "demo started", domain.PriorityLow); err != nil {
		return workers, err
	}
	logger.Printf("demo started workers=%d tasks=%d", len(workers), len(demoTasks))
	return workers, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
