package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vitae-app/vitae/internal/compiler"
	"github.com/vitae-app/vitae/internal/config"
	"github.com/vitae-app/vitae/internal/domain"
	"github.com/vitae-app/vitae/internal/editor"
	"github.com/vitae-app/vitae/internal/platform/docker"
	"github.com/vitae-app/vitae/internal/platform/feed"
	"github.com/vitae-app/vitae/internal/store"
	"github.com/vitae-app/vitae/internal/workflow"
	"github.com/vitae-app/vitae/internal/workspace"
)

// app is the wired object graph shared by all commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sql.DB
	feed    domain.CompileFeed
	service *editor.Service

	closers []func() error
}

// newApp loads the config and wires store, compiler, feed, and service.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, domain.ErrStoreInit.Wrap(err)
	}
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	runner, err := a.newRunner()
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.RedisAddr != "" {
		rf, err := feed.NewRedisFeed(ctx, cfg.RedisAddr, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.feed = rf
		a.closers = append(a.closers, rf.Close)
	} else {
		a.feed = feed.NewMemoryFeed(logger)
	}

	ws := workspace.NewManager(cfg.Workspace, logger)
	inv := compiler.NewInvoker(ws, runner, cfg.Compiler.Binary, logger)
	coord := workflow.NewCoordinator(ws, inv, logger)

	a.service = editor.NewService(db, coord, a.feed, logger)
	a.service.Timeout = cfg.CompileTimeout()

	logger.Debug("application wired",
		"db_path", cfg.DBPath,
		"workspace", cfg.Workspace,
		"runner", cfg.Compiler.Runner,
		"binary", cfg.Compiler.Binary,
		"redis", cfg.RedisAddr != "",
	)
	return a, nil
}

func (a *app) newRunner() (domain.CompilerRunner, error) {
	switch a.cfg.Compiler.Runner {
	case config.RunnerDocker:
		r, err := docker.NewRunner(a.cfg.Compiler.DockerImage, a.logger)
		if err != nil {
			return nil, fmt.Errorf("docker runner: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	default:
		return compiler.NewExecRunner(a.logger), nil
	}
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
