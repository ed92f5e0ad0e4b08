// Package main runs the game backend kernel: one process hosting many
// isolated projects, each with its own store and plugin set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/audit"
	"github.com/forgeline/gamekernel/internal/config"
	"github.com/forgeline/gamekernel/internal/logging"
	"github.com/forgeline/gamekernel/internal/plugins/leaderboards"
	"github.com/forgeline/gamekernel/internal/project"
	"github.com/forgeline/gamekernel/internal/server"

	// Compiled-in plugins register themselves at init time.
	_ "github.com/forgeline/gamekernel/internal/plugins/achievements"
	_ "github.com/forgeline/gamekernel/internal/plugins/economy"
)

// Exit codes: 1 generic failure, 2 configuration error, 3 startup migration
// failure.
const (
	exitFailure   = 1
	exitConfig    = 2
	exitMigration = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the kernel configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfig
	}

	log := logging.New(cfg.LogLevel)
	log.Info().Str("config", *configPath).Int("port", cfg.Server.Port).Msg("starting game kernel")

	registry, err := project.OpenRegistry(cfg.ProjectManager.DataDir, logging.Component(log, "registry"))
	if err != nil {
		log.Error().Err(err).Msg("open project registry")
		if apperr.KindOf(err) == apperr.KindMigration {
			return exitMigration
		}
		return exitFailure
	}
	defer registry.Close()

	projects := project.NewManager(cfg, registry, logging.Component(log, "projects"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := projects.Initialize(ctx); err != nil {
		log.Error().Err(err).Msg("initialize configured projects")
		if apperr.KindOf(err) == apperr.KindMigration {
			return exitMigration
		}
		return exitFailure
	}

	auditLog := audit.NewLogger(logging.Component(log, "audit"))
	srv := server.New(cfg, projects, auditLog, log)

	scheduler := leaderboards.NewScheduler(projects, log)
	if err := scheduler.Start(); err != nil {
		log.Error().Err(err).Msg("start reset scheduler")
		return exitFailure
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
			scheduler.Stop()
			return exitFailure
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	scheduler.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
		return exitFailure
	}
	log.Info().Msg("kernel stopped")
	return 0
}
