package main

import (
	"fmt"
	"io"
	"time"

	"github.com/boltonhq/bolton/internal/config"
	"github.com/boltonhq/bolton/internal/db"
	"github.com/boltonhq/bolton/internal/explain"
	"github.com/boltonhq/bolton/internal/githost"
	"github.com/boltonhq/bolton/internal/notify"
	"github.com/boltonhq/bolton/internal/registry"
	"github.com/boltonhq/bolton/internal/sandbox"
	"github.com/boltonhq/bolton/internal/store"
	"github.com/boltonhq/bolton/internal/worker"
	"gorm.io/gorm"
)

const defaultConfigPath = "bolton.yaml"

// runtime bundles the wired components shared by serve and worker.
type runtime struct {
	cfg      *config.Config
	db       *gorm.DB
	registry *registry.Registry
	store    *store.Store
	sandbox  *sandbox.Manager
	worker   *worker.Scheduler
}

// buildRuntime loads config and wires the store, sandbox, git client,
// notifiers, and scheduler.
func buildRuntime(configPath string, out io.Writer) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}

	reg, err := registry.Load()
	if err != nil {
		return nil, err
	}

	git, err := githost.NewGitHub(githost.Opts{
		Token:   cfg.GitHub.Token,
		APIURL:  cfg.GitHub.APIURL,
		Timeout: time.Duration(cfg.GitHub.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	mgr := sandbox.NewManager(sandbox.Opts{
		DB:             gormDB,
		Fetcher:        git,
		Git:            git,
		Registry:       reg,
		ConflictPolicy: cfg.Sandbox.ConflictPolicy,
	})

	st := store.New(gormDB, reg)

	var notifier notify.Notifier
	if multi := buildNotifiers(cfg.Notify); len(multi) > 0 {
		notifier = multi
	}

	var explainer worker.Explainer
	if runner := explain.New(cfg.Explain); runner.Enabled() {
		explainer = runner
	}

	sched, err := worker.New(worker.Opts{
		Store:       st,
		Sandbox:     mgr,
		Git:         git,
		Explainer:   explainer,
		Notifier:    notifier,
		Interval:    time.Duration(cfg.Worker.IntervalSec) * time.Second,
		Cron:        cfg.Worker.Cron,
		MaxAttempts: cfg.Worker.MaxAttempts,
		Backoff:     time.Duration(cfg.Worker.BackoffSec) * time.Second,
		Out:         out,
	})
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		db:       gormDB,
		registry: reg,
		store:    st,
		sandbox:  mgr,
		worker:   sched,
	}, nil
}

// buildNotifiers creates one notifier per configured chat platform.
func buildNotifiers(cfg config.NotifyConfig) notify.Multi {
	var multi notify.Multi
	if cfg.Slack.BotToken != "" {
		if n, err := notify.NewSlack(cfg.Slack); err == nil {
			multi = append(multi, n)
		}
	}
	if cfg.Discord.BotToken != "" {
		if n, err := notify.NewDiscord(cfg.Discord); err == nil {
			multi = append(multi, n)
		}
	}
	return multi
}

// openStore wires just the database and job store, for commands that do not
// talk to the git host.
func openStore(configPath string) (*config.Config, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	reg, err := registry.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, store.New(gormDB, reg), nil
}
