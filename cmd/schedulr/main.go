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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"schedulr/internal/config"
	"schedulr/internal/ics"
	appLog "schedulr/internal/log"
	"schedulr/internal/refresh"
	"schedulr/internal/store"
	"schedulr/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	appLog.Info("schedulr starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"backfill_days", conf.BackfillDays,
		"groups", len(conf.Groups),
		"sources", len(conf.Sources),
		"postgres", conf.DatabaseURL != "",
		"once", flags.once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(ctx, conf.DatabaseURL)
	if err != nil {
		appLog.Error("failed to open event store", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	loc := web.ResolveLocationOrLocal(conf.Timezone)
	refresher := refresh.New(
		ics.NewFetcher(conf.CacheDir, nil),
		st,
		refresh.NewMetrics(reg),
		refresh.Options{
			Sources:      refresh.SourcesFromConfig(conf),
			Location:     loc,
			HorizonDays:  conf.HorizonDays,
			BackfillDays: conf.BackfillDays,
		},
	)

	if _, err := refresher.RunOnce(ctx); err != nil {
		appLog.Error("initial refresh aborted", err)
	}
	if flags.once {
		appLog.Info("schedulr exiting after single refresh")
		return
	}

	if err := refresher.Start(ctx, conf.RefreshCron); err != nil {
		appLog.Error("failed to start refresh scheduler", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr: conf.Listen,
		Handler: web.NewServer(conf, st, refresher, web.Options{
			Registerer: reg,
			Gatherer:   reg,
		}).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown error", err)
	}
	appLog.Info("schedulr exiting")
}

// openStore returns the Postgres store when dsn is set and the in-memory
// store otherwise.
func openStore(ctx context.Context, dsn string) (store.EventStore, func(), error) {
	if dsn == "" {
		appLog.Info("using in-memory event store")
		return store.NewMemory(), func() {}, nil
	}

	pg, closePool, err := store.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	appLog.Info("using postgres event store")
	return pg, closePool, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/schedulr/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh cycle and exit")

	flag.Parse()

	return cfg
}
