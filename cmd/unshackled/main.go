// SPDX-License-Identifier: MIT

// Command unshackled runs the download orchestration daemon. Invoked with
// the "worker" subcommand it instead executes one download job and exits;
// the daemon re-execs itself this way for every job.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/unshackle-dl/unshackle/internal/api"
	"github.com/unshackle-dl/unshackle/internal/cache"
	"github.com/unshackle-dl/unshackle/internal/config"
	"github.com/unshackle-dl/unshackle/internal/health"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/scheduler"
	"github.com/unshackle-dl/unshackle/internal/service"
	"github.com/unshackle-dl/unshackle/internal/service/example"
	"github.com/unshackle-dl/unshackle/internal/update"
	"github.com/unshackle-dl/unshackle/internal/vault"
	"github.com/unshackle-dl/unshackle/internal/version"
)

// configEnv carries the config path into re-exec'd worker children.
const configEnv = "UNSHACKLE_CONFIG"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		os.Exit(runWorker(os.Args[2:]))
	}
	os.Exit(runDaemon())
}

func runDaemon() int {
	var (
		configPath  = flag.String("config", os.Getenv(configEnv), "path to the YAML configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("unshackled %s (%s, %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	// Children read the same config through the environment.
	if *configPath != "" {
		_ = os.Setenv(configEnv, *configPath)
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "unshackled"})
	logger := log.WithComponent("daemon")
	logger.Info().Str("version", version.Version).Msg("starting")

	db, err := vault.Open(cfg.VaultPath)
	if err != nil {
		logger.Error().Err(err).Msg("cannot open key vault")
		return 1
	}
	defer db.Close()

	registry := service.NewRegistry(cfg.ServicesDir)
	example.Register(registry)

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		QueueCapacity: cfg.Scheduler.QueueCapacity,
		Retention:     cfg.Scheduler.Retention.Std(),
		TempDir:       cfg.TempDir,
	}, &scheduler.SubprocessExecutor{TempDir: cfg.TempDir})

	store := cache.NewStore(cacheDir(cfg))
	checker := update.NewChecker(cfg.Update.Repo, cfg.Update.CacheTTL.Std(), cfg.Update.Disabled, store)

	server := api.NewServer(api.Deps{
		Scheduler:           sched,
		Registry:            registry,
		Health:              health.NewManager(checker),
		GlobalServiceConfig: cfg.Services,
		Debug:               cfg.Debug,
		RequestsPerMinute:   cfg.API.RequestsPerMinute,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return server.Run(ctx, cfg.Listen, cfg.API.ShutdownTimeout.Std()) })
	g.Go(func() error { return config.WatchServices(ctx, cfg.ServicesDir, registry.ReloadConfigs) })

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		return 1
	}
	logger.Info().Msg("shutdown complete")
	return 0
}

// cacheDir is where on-disk cache entries (e.g. the update check) live.
func cacheDir(cfg config.Config) string {
	if cfg.TempDir != "" {
		return cfg.TempDir + "/cache"
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "cache"
	}
	return dir + "/unshackle"
}
