package main

import (
	"fmt"
	"os"

	"github.com/JustJay7/court-lead-harvester/internal/cache"
	"github.com/JustJay7/court-lead-harvester/internal/config"
	"github.com/JustJay7/court-lead-harvester/internal/courts"
	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/internal/harvest"
	"github.com/JustJay7/court-lead-harvester/internal/review"
	"github.com/JustJay7/court-lead-harvester/internal/scraper"
	"github.com/JustJay7/court-lead-harvester/internal/store"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"gorm.io/gorm"
)

// app is everything a command needs, wired from the environment
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *gorm.DB
	cache    cache.Cache
	cases    *store.Store
	states   *store.StateStore
	review   *review.FileSink
	registry *courts.Registry
	service  *harvest.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	sink, err := review.NewFileSink(cfg.ReviewDir, log)
	if err != nil {
		database.Close(db)
		return nil, err
	}

	sessions, err := scraper.NewSessionFactory(cfg, log)
	if err != nil {
		database.Close(db)
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		cache:    cache.NewCache(cfg.CacheSize, cfg.CacheTTL),
		states:   store.NewStateStore(db),
		review:   sink,
		registry: courts.NewRegistry(),
	}
	a.cases = store.New(db, a.cache, log)

	deps := courts.Deps{
		Config:   cfg,
		Logger:   log,
		Solver:   scraper.NewCaptchaSolver(cfg, log),
		Sessions: sessions,
	}
	a.service = harvest.NewService(cfg, a.registry, deps, a.cases, a.states, a.review, log)
	return a, nil
}

func (a *app) close() {
	if err := database.Close(a.db); err != nil {
		a.log.Warn("Failed to close database", "error", err)
	}
	a.log.Sync()
}

// withApp builds the app for one command run and tears it down afterwards
func withApp(fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := fn(a); err != nil {
		a.log.Error("Command failed", "command", os.Args[1:], "error", err)
		return err
	}
	return nil
}
