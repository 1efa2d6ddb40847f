package main

import (
	"fmt"

	"github.com/teleologic/telos/pkg/bus"
	"github.com/teleologic/telos/pkg/config"
	"github.com/teleologic/telos/pkg/cost"
	"github.com/teleologic/telos/pkg/logging"
	"github.com/teleologic/telos/pkg/model"
	"github.com/teleologic/telos/pkg/registry"
	"github.com/teleologic/telos/pkg/router"
	"github.com/teleologic/telos/pkg/sandbox"
	"github.com/teleologic/telos/pkg/storage"
	"github.com/teleologic/telos/pkg/synth"
	"github.com/teleologic/telos/pkg/truth"
)

// app bundles the assembled runtime for CLI subcommands.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	logger   *logging.Logger
	provider model.Provider
	pricing  model.Pricing
	runner   sandbox.Runner
	registry *registry.Registry
	router   *router.Router
	truth    *truth.Service
	tracker  *cost.Tracker
	orch     *synth.Orchestrator
	bus      *bus.MemoryBus
}

// buildApp assembles the full runtime from configuration. Close must be
// called when done.
func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir)
	if err != nil {
		return nil, fmt.Errorf("open log directory: %w", err)
	}
	logger.SetMinLevel(logging.ParseLevel(cfg.Logging.MinLevel))

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	provider, err := model.NewProvider(cfg.Provider)
	if err != nil {
		store.Close()
		logger.Close()
		return nil, err
	}
	pricing := model.Pricing{
		InputPerMTok:  cfg.Provider.InputCostPerMTok,
		OutputPerMTok: cfg.Provider.OutputCostPerMTok,
	}

	runner, err := sandbox.New(sandbox.Config{
		Command:       cfg.Sandbox.Command,
		Timeout:       cfg.Sandbox.Timeout,
		MaxOutputSize: cfg.Sandbox.MaxOutputSize,
		WorkDir:       cfg.Sandbox.WorkDir,
	})
	if err != nil {
		store.Close()
		logger.Close()
		return nil, err
	}

	reg, err := registry.New(store, runner, provider, pricing, cfg.Router.ChainCacheSize)
	if err != nil {
		store.Close()
		logger.Close()
		return nil, err
	}

	tracker, err := cost.New(store, cfg.Budget.Daily, cfg.Budget.Monthly)
	if err != nil {
		store.Close()
		logger.Close()
		return nil, err
	}

	b := bus.NewMemoryBus()

	rt := router.New(store, reg, tracker, logger, router.Options{
		SolverTimeout: cfg.Router.SolverTimeout,
		AITimeout:     cfg.Provider.Timeout,
	})

	orch := synth.New(store, reg, provider, pricing, runner, b, logger, synth.Options{
		AccuracyThreshold: cfg.Synthesis.AccuracyThreshold,
		IterationBudget:   cfg.Synthesis.IterationBudget,
		CandidateCount:    cfg.Synthesis.CandidateCount,
		BenchmarkTrials:   cfg.Synthesis.BenchmarkTrials,
		MinTruthEntries:   cfg.Synthesis.MinTruthEntries,
	})

	return &app{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		provider: provider,
		pricing:  pricing,
		runner:   runner,
		registry: reg,
		router:   rt,
		truth:    truth.NewService(store, logger),
		tracker:  tracker,
		orch:     orch,
		bus:      b,
	}, nil
}

func (a *app) Close() {
	a.bus.Close()
	a.store.Close()
	a.logger.Close()
}
