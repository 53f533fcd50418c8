// Command hmrd runs the hot-reload runtime as a standalone daemon: it
// discovers modules under a directory (one Go plugin-buildable package
// per subdirectory), builds and registers each, watches the directory
// tree for changes, and drives the Reload Scheduler on a fixed tick
// while exposing a small HTTP control plane.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hotreload/hmr/internal/api/middleware"
	"github.com/hotreload/hmr/internal/buildpipeline"
	"github.com/hotreload/hmr/internal/registry"
	"github.com/hotreload/hmr/internal/runtimeconfig"
	"github.com/hotreload/hmr/internal/watcher"
	"github.com/hotreload/hmr/pkg/hmr"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		modulesDir string
		addr       string
		logPath    string
		apiKey     string
	)

	root := &cobra.Command{
		Use:     "hmrd",
		Short:   "Hot-reload runtime daemon",
		Version: "0.1.0",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, modulesDir, addr, logPath, apiKey)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to a runtime configuration YAML file")
	root.Flags().StringVar(&modulesDir, "modules-dir", "./modules", "directory containing one subdirectory per hot-reloadable module")
	root.Flags().StringVar(&addr, "addr", ":8090", "control API listen address")
	root.Flags().StringVar(&logPath, "log-file", "", "write logs to this file (rotated) instead of stdout")
	root.Flags().StringVar(&apiKey, "api-key", "", "API key an operator presents as 'Authorization: ApiKey <key>' for /v1 endpoints (also read from HMRD_API_KEY)")

	return root
}

func runServe(ctx context.Context, configPath, modulesDir, addr, logPath, apiKey string) error {
	logger := newLogger(logPath)

	opts, err := runtimeconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()

	stageDir := filepath.Join(filepath.Dir(opts.WALPath), "staged-plugins")
	builder, err := newPluginBuilder(stageDir)
	if err != nil {
		return err
	}

	rt, err := hmr.New(ctx, hmr.Config{
		Options:    *opts,
		Logger:     logger,
		Registerer: reg,
		Resolve:    resolvePluginExports(stageDir),
		Build:      builder.Build,
	})
	if err != nil {
		return fmt.Errorf("initializing runtime: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	moduleDirs, err := discoverModules(modulesDir)
	if err != nil {
		return fmt.Errorf("discovering modules: %w", err)
	}
	for name, dir := range moduleDirs {
		if err := registerAndLoadModule(ctx, rt, builder, name, dir, logger); err != nil {
			logger.Error("initial module build/load failed", "module", name, "error", err)
		}
	}

	w, err := watcher.New(watcher.Config{Debounce: 300 * time.Millisecond, Logger: logger})
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	defer w.Close()
	for _, dir := range moduleDirs {
		if err := w.Add(dir); err != nil {
			logger.Warn("failed to watch module directory", "dir", dir, "error", err)
		}
	}
	go w.Run()

	classifier := newModuleClassifier(moduleDirs)
	go rt.Pipeline().Feed(ctx, w.Events(), classifier)

	reloadHandler := newReloadHandler(rt.Coordinator(), logger, newReloadMetrics(reg))
	reloadHandler.Start()
	defer reloadHandler.Stop()

	if apiKey == "" {
		apiKey = os.Getenv("HMRD_API_KEY")
	}
	authCfg := middleware.AuthConfig{EnableAPIKey: true, APIKeys: map[string]*middleware.User{
		apiKey: {ID: "operator", Username: "operator", Role: middleware.RoleAdmin, APIKey: apiKey},
	}}
	server := &http.Server{Addr: addr, Handler: newControlRouter(rt, logger, authCfg)}
	go func() {
		logger.Info("control API listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control API failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	runFrameLoop(ctx, rt, logger)
	return nil
}

// runFrameLoop drives FrameTick at a fixed cadence until ctx is
// cancelled — the "host simulation" a real embedder would already
// have; the daemon stands in for it so hmrd is independently useful
// for modules with no host process of their own.
func runFrameLoop(ctx context.Context, rt *hmr.Runtime, logger *slog.Logger) {
	const frameInterval = 16 * time.Millisecond // ~60Hz
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var frame uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info("frame loop stopping")
			return
		case <-ticker.C:
			if _, err := rt.FrameTick(ctx, frame); err != nil {
				logger.Warn("frame tick reported an error", "frame", frame, "error", err)
			}
			frame++
		}
	}
}

func discoverModules(root string) (map[string]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	dirs := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			dirs[e.Name()] = filepath.Join(root, e.Name())
		}
	}
	return dirs, nil
}

func registerAndLoadModule(ctx context.Context, rt *hmr.Runtime, builder *pluginBuilder, name, dir string, logger *slog.Logger) error {
	artifactPath, err := builder.Build(buildpipeline.Job{Target: name, SourcePath: dir, Priority: buildpipeline.PriorityCritical, Timeout: 2 * time.Minute})
	if err != nil {
		return fmt.Errorf("initial build: %w", err)
	}

	mod, err := loadModuleInstance(artifactPath)
	if err != nil {
		return fmt.Errorf("loading module instance: %w", err)
	}

	names := mod.DeclaredDependencies()
	deps := make([]registry.DependencyRequirement, len(names))
	for i, n := range names {
		// The plugin entry point only names dependencies, not the
		// minimum version it was built against, so the floor here is
		// "any Active version" — version-pinned deps need a direct
		// RegisterModule call with an explicit MinVersion.
		deps[i] = registry.DependencyRequirement{ModuleName: n}
	}

	handle, err := rt.RegisterModule(ctx, registry.Descriptor{
		Name:         name,
		Dependencies: deps,
	}, mod)
	if err != nil {
		return fmt.Errorf("registering module: %w", err)
	}

	if err := rt.Load(ctx, handle, artifactPath, mod.DeclaredVersion()); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	logger.Info("module registered", "module", name, "version", mod.DeclaredVersion().String())
	return nil
}

// newModuleClassifier maps a debounced watcher event back to the
// module whose directory contains it, submitting a normal-priority
// rebuild job.
func newModuleClassifier(moduleDirs map[string]string) buildpipeline.Classifier {
	dirToName := make(map[string]string, len(moduleDirs))
	for name, dir := range moduleDirs {
		dirToName[dir] = name
	}
	return func(ev watcher.Event) buildpipeline.Job {
		dir := filepath.Dir(ev.Path)
		name := dirToName[dir]
		if name == "" {
			name = filepath.Base(dir)
		}
		return buildpipeline.Job{
			Target:     name,
			SourcePath: dir,
			Priority:   buildpipeline.PriorityNormal,
			Timeout:    2 * time.Minute,
		}
	}
}

func newLogger(logPath string) *slog.Logger {
	if logPath == "" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
