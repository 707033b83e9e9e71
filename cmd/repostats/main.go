// Package main is the entry point for the repostats CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/repostats/repostats/internal/app"
	"github.com/repostats/repostats/internal/buildinfo"
	"github.com/repostats/repostats/internal/config"
	"github.com/repostats/repostats/internal/plugin"
)

// metricsSampleInterval is how often sampleMetrics refreshes the
// bus/queue/coordinator gauges, mirroring the teacher's metrics
// collector tick (cuemby-warren/pkg/metrics's periodic collector).
const metricsSampleInterval = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() == 0 {
		printUsage()
		return
	}

	switch flag.Arg(0) {
	case "scan":
		runScan(logger, *configPath, flag.Args()[1:])
	case "plugins":
		runPlugins(logger, *configPath)
	case "version":
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("repostats - git repository analysis coordination engine")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  scan <dump --json -- output --compact>   Run a scan through a chain of plugins")
	fmt.Println("  plugins                               List discovered plugins")
	fmt.Println("  version                                Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func loadConfig(logger *slog.Logger, configPath string) *config.Config {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Debug("no config file found, using defaults", "error", err)
		return config.Default()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	return cfg
}

// reconfigureLevel rebuilds the logger at the config-declared level, the
// same two-pass pattern the teacher's entrypoint uses: a default logger
// loads config, then a second logger carries the configured level.
func reconfigureLevel(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if parsed, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func runPlugins(logger *slog.Logger, configPath string) {
	cfg := loadConfig(logger, configPath)
	logger = reconfigureLevel(cfg)

	sys, err := app.New(cfg, logger, nil)
	if err != nil {
		logger.Error("failed to initialize system", "error", err)
		os.Exit(1)
	}

	for _, name := range sys.Registry.PluginNames() {
		p, ok := sys.Registry.Get(name)
		if !ok {
			continue
		}
		info := p.PluginInfo()
		fmt.Printf("%-16s %-12s v%-10s %s\n", info.Name, info.Type, info.Version, info.Description)
	}
}

// runScan parses the raw CLI arguments into `--`-delimited command
// segments (spec §4.5, §6.4), activates the plugins they name, runs one
// scan, and waits for graceful shutdown on SIGINT/SIGTERM or scan
// completion.
func runScan(logger *slog.Logger, configPath string, args []string) {
	cfg := loadConfig(logger, configPath)
	logger = reconfigureLevel(cfg)
	logger.Info("starting repostats", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	segments := splitSegments(args)
	if len(segments) == 0 {
		fmt.Fprintln(os.Stderr, "usage: repostats scan <plugin> [args...] -- <plugin> [args...] ...")
		os.Exit(1)
	}

	sys, err := app.New(cfg, logger, nil)
	if err != nil {
		logger.Error("failed to initialize system", "error", err)
		os.Exit(1)
	}

	if err := sys.ActivatePlugins(segments); err != nil {
		logger.Error("failed to activate plugins", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	stopObservability := startObservability(ctx, logger, sys, cfg.ObservabilityAddr)
	defer stopObservability()

	scanID := app.NewScanID()
	coordinator, err := sys.StartScan(ctx, scanID)
	if err != nil {
		logger.Error("scan failed to start", "scan_id", scanID, "error", err)
		os.Exit(1)
	}
	go sampleMetrics(ctx, sys, scanID, coordinator)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-ticker.C:
			if status, _ := coordinator.Status(); status != plugin.StatusPending {
				break wait
			}
		}
	}

	status, detail := coordinator.Status()
	logger.Info("scan finished", "scan_id", scanID, "status", status, "detail", detail)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), plugin.CompletionTimeout)
	defer shutdownCancel()
	if err := sys.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", "error", err)
		os.Exit(3)
	}
}

// startObservability attaches the diagnostics websocket broadcaster to
// sys.Bus and serves it alongside the Prometheus /metrics endpoint,
// mirroring cuemby-warren/cmd/warren/main.go's "metrics HTTP server in
// background" pattern (http.Handle("/metrics", metrics.Handler()) plus
// http.ListenAndServe on a dedicated address). An empty addr disables
// the server entirely; the returned func stops it.
func startObservability(ctx context.Context, logger *slog.Logger, sys *app.System, addr string) func() {
	if addr == "" {
		return func() {}
	}

	detach := sys.Diagnostics.Attach(sys.Bus)

	mux := http.NewServeMux()
	mux.Handle("/metrics", sys.Metrics.Handler())
	mux.Handle("/diagnostics", sys.Diagnostics)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("observability endpoint listening", "addr", addr, "metrics", "/metrics", "diagnostics", "/diagnostics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("observability server error", "error", err)
		}
	}()

	var stopOnce bool
	return func() {
		if stopOnce {
			return
		}
		stopOnce = true
		detach()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability server shutdown error", "error", err)
		}
	}
}

// sampleMetrics refreshes the bus/queue/coordinator gauges on a ticker
// until ctx is done, so /metrics reflects live state during a scan
// instead of only the values recorded at construction.
func sampleMetrics(ctx context.Context, sys *app.System, scanID string, coordinator *plugin.Coordinator) {
	ticker := time.NewTicker(metricsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sys.Metrics.SampleBus(sys.Bus)
			sys.Metrics.SampleQueue(app.ScanQueueID, sys.Queue)
			sys.Metrics.SampleCoordinator(scanID, coordinator)
		}
	}
}

// splitSegments turns a flat argv slice into CommandSegments at each
// bare "--" separator, e.g. ["dump", "--json", "--", "output",
// "--csv"] becomes [{dump [--json]} {output [--csv]}].
func splitSegments(args []string) []plugin.CommandSegment {
	var segments []plugin.CommandSegment
	var current []string
	for _, a := range args {
		if a == "--" {
			if len(current) > 0 {
				segments = append(segments, plugin.CommandSegment{CommandName: current[0], Args: current[1:]})
			}
			current = nil
			continue
		}
		current = append(current, a)
	}
	if len(current) > 0 {
		segments = append(segments, plugin.CommandSegment{CommandName: current[0], Args: current[1:]})
	}
	return segments
}
