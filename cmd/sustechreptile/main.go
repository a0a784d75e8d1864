package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/whiteki08/SUSTechReptile/internal/cache"
	"github.com/whiteki08/SUSTechReptile/internal/config"
	appLog "github.com/whiteki08/SUSTechReptile/internal/log"
	"github.com/whiteki08/SUSTechReptile/internal/refresh"
	"github.com/whiteki08/SUSTechReptile/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	logLevel   string
}

func main() {
	flags := parseFlags()
	appLog.SetLevel(appLog.ParseLevel(flags.logLevel))
	appLog.Info("sustechreptile starting")

	// Best-effort .env for local runs; deployments set real env vars.
	_ = godotenv.Load()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(); err != nil {
		appLog.Error("failed to apply env overrides", err)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"fetch_on_demand", conf.FetchOnDemand,
		"past_days", conf.PastDays,
		"future_days", conf.FutureDays,
		"cache_backend", conf.Cache.Backend,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	store, err := newStore(ctx, conf)
	if err != nil {
		appLog.Error("failed to initialize cache store", err, "backend", conf.Cache.Backend)
		os.Exit(1)
	}

	refresher := refresh.New(conf, store)

	if flags.once {
		results := refresher.Run(ctx, "all")
		for source, status := range results {
			appLog.Info("refresh result", "source", source, "status", status)
		}
		for _, status := range results {
			if status != "success" {
				os.Exit(1)
			}
		}
		return
	}

	// Background scheduler for periodic refreshes.
	var scheduler *cron.Cron
	if conf.RefreshCron != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(conf.RefreshCron, func() {
			results := refresher.Run(ctx, "all")
			for source, status := range results {
				appLog.Info("scheduled refresh result", "source", source, "status", status)
			}
		})
		if err != nil {
			appLog.Error("invalid refresh cron expression", err, "refresh", conf.RefreshCron)
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, store, refresher).Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLog.Error("http server shutdown failed", err)
		}
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("http server failed", err)
		os.Exit(1)
	}
	appLog.Info("sustechreptile exiting")
}

func newStore(ctx context.Context, conf *config.Config) (cache.Store, error) {
	switch conf.Cache.Backend {
	case "redis":
		return cache.NewRedisStore(ctx, conf.Cache.RedisURL)
	case "memory":
		return cache.NewMemoryStore(), nil
	default:
		return cache.NewFileStore(conf.Cache.Dir)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch-and-cache cycle for all sources and exit")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "Log level (debug, info, error)")

	flag.Parse()

	return cfg
}
