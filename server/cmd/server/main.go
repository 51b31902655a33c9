package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/server/internal/alerts"
	"github.com/netpulse/netpulse/server/internal/api"
	"github.com/netpulse/netpulse/server/internal/catalog"
	"github.com/netpulse/netpulse/server/internal/config"
	"github.com/netpulse/netpulse/server/internal/generator"
	"github.com/netpulse/netpulse/server/internal/networks"
	"github.com/netpulse/netpulse/server/internal/publish"
	"github.com/netpulse/netpulse/server/internal/telemetry"
	"github.com/netpulse/netpulse/server/internal/ticker"
	"github.com/netpulse/netpulse/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with webhook URLs and the Redis password")
	flag.Parse()

	// A missing .env is normal; secrets may already be in the environment.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Defaults(), nil
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	slog.Info("netpulse-server starting",
		"config", *configPath,
		"http_port", cfg.Server.HTTPPort,
		"root_network", cfg.Server.RootNetwork,
		"metric", cfg.Generator.MetricName,
		"update_interval", cfg.Server.UpdateInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gen := generator.New(generator.Options{
		MetricName:      cfg.Generator.MetricName,
		HistoryLength:   cfg.Generator.HistoryLength,
		HistoryInterval: cfg.Generator.HistoryInterval,
		Ranges:          thresholds(cfg),
		Seed:            cfg.Generator.Seed,
		Trend:           cfg.Generator.Trend,
	})

	// dir stays nil when networks come from an HTTP catalog; only a local
	// directory can be watched for edits.
	var (
		src catalog.Source
		dir *catalog.DirSource
	)
	if cfg.Catalog.BaseURL != "" {
		src = catalog.NewHTTPSource(cfg.Catalog.BaseURL)
	} else {
		dir = catalog.NewDirSource(cfg.Catalog.Dir)
		src = dir
	}
	cat := catalog.New(src)

	dispatcher := alerts.NewDispatcher(cfg.Alerts)

	// The hub opens networks through the service, which needs the scheduler,
	// which fans out to the hub.
	var svc *networks.Service
	hub := ws.New(func(ctx context.Context, id string) (*types.Network, error) {
		return svc.Open(ctx, id)
	}, cfg.Server.RootNetwork)
	go hub.Run(ctx)

	recorder := telemetry.New(func() int { return len(gen.NetworkIDs()) }, hub.Count)

	sinks := []ticker.Sink{recorder, hub, dispatcher}
	var latest api.LatestSource
	if cfg.Redis.Enabled() {
		client, err := publish.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password())
		if err != nil {
			slog.Error("redis unavailable, publishing disabled", "addr", cfg.Redis.Addr, "err", err)
		} else {
			pub := publish.New(client, cfg.Redis.Prefix, cfg.Redis.TTL)
			defer pub.Close() //nolint:errcheck
			sinks = append(sinks, pub)
			latest = pub
			slog.Info("publishing updates to redis", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
		}
	}

	sched := ticker.New(gen, cfg.Server.UpdateInterval, sinks...)
	svc = networks.New(gen, cat, sched)

	if _, err := svc.Open(ctx, cfg.Server.RootNetwork); err != nil {
		slog.Error("failed to open root network", "network", cfg.Server.RootNetwork, "err", err)
		os.Exit(1)
	}
	sched.Start()

	// Hot-reload alert thresholds when config.yaml changes.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			prev := gen.Options().Ranges
			gen.SetThresholds(thresholds(next))
			slog.Info("alert ranges reloaded",
				"warning", next.Generator.Ranges.Warning,
				"critical", next.Generator.Ranges.Critical,
				"previous_warning", prev.Warning,
				"previous_critical", prev.Critical,
			)
		})
		if err != nil {
			slog.Warn("config watch disabled", "path", *configPath, "err", err)
		}
	}()

	if cfg.Catalog.Watch && dir != nil {
		go func() {
			err := catalog.WatchDir(ctx, dir.Dir(), func(id string) {
				reset, err := svc.Reload(ctx, id)
				switch {
				case errors.Is(err, catalog.ErrNotFound):
					if svc.Retire(id) {
						recorder.Forget(id)
						dispatcher.Forget(id)
					}
				case err != nil:
					slog.Error("network reload failed", "network", id, "err", err)
				case reset:
					slog.Info("network reloaded", "network", id)
				}
			})
			if err != nil {
				slog.Warn("catalog watch disabled", "dir", dir.Dir(), "err", err)
			}
		}()
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(api.Deps{
		RootNetwork: cfg.Server.RootNetwork,
		Metric:      cfg.Generator.MetricName,
		Registry:    gen,
		Ticker:      sched,
		Networks:    svc,
		Alerts:      dispatcher,
		Latest:      latest,
		Clients:     hub.Count,
		Watching:    sched.Watching,
		RateLimit:   cfg.Server.RateLimit,
	}))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", recorder.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("netpulse-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		slog.Warn("timed out waiting for running ticks")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		slog.Warn("alert deliveries abandoned", "err", err)
	}
}

func thresholds(cfg *config.Config) alerts.Thresholds {
	return alerts.Thresholds{
		Warning:  cfg.Generator.Ranges.Warning,
		Critical: cfg.Generator.Ranges.Critical,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
