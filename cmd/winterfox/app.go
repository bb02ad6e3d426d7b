package main

import (
	"fmt"
	"os"
	"path/filepath"

	"winterfox/internal/config"
	"winterfox/internal/cycle"
	"winterfox/internal/events"
	"winterfox/internal/graph"
	"winterfox/internal/lead"
	"winterfox/internal/llm"
	"winterfox/internal/logging"
	"winterfox/internal/report"
	"winterfox/internal/research"
	"winterfox/internal/store"
	"winterfox/internal/tools"
	toolsresearch "winterfox/internal/tools/research"
	"winterfox/internal/types"
	"winterfox/internal/usage"
	"winterfox/internal/worker"
)

// app holds the wired engine for one CLI invocation.
type app struct {
	cfg          *config.Config
	store        *store.Store
	bus          *events.Bus
	tracker      *usage.Tracker
	orchestrator *cycle.Orchestrator
	report       *report.Synthesizer
	docs         *research.DocWatcher
}

// buildApp loads config from the workspace directory and wires the
// full engine: store, adapters, toolsets, workers, executor, report.
func buildApp(dir string) (*app, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(cfg.Workspace.Dir); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	st, err := store.Open(config.DatabasePath(cfg.Workspace.Dir))
	if err != nil {
		return nil, err
	}
	if err := st.EnsureWorkspace(cfg.Workspace.ID, cfg.Workspace.ID); err != nil {
		st.Close()
		return nil, err
	}

	tracker, err := usage.NewTracker(cfg.Workspace.Dir)
	if err != nil {
		st.Close()
		return nil, err
	}

	prompts, err := lead.LoadPrompts(filepath.Join(cfg.Workspace.Dir, ".winterfox"))
	if err != nil {
		st.Close()
		return nil, err
	}

	leadClient, err := llm.NewClient(cfg.Lead.Spec())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("lead adapter: %w", err)
	}

	searcher := buildSearchManager(cfg.Search)
	fetcher := toolsresearch.NewFetcher(cfg.Search.ReaderBase)

	workers := make([]*worker.Worker, 0, len(cfg.Workers))
	for _, wc := range cfg.Workers {
		client, err := llm.NewClient(wc.Spec())
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("worker adapter %s: %w", wc.Name, err)
		}
		toolset := func(record func(types.SearchRecord)) *tools.Registry {
			return toolsresearch.NewToolset(toolsresearch.ToolsetConfig{
				Store:       st,
				WorkspaceID: cfg.Workspace.ID,
				Searcher:    searcher,
				Fetcher:     fetcher,
				MaxSearches: cfg.Limits.MaxSearches,
				Recorder:    record,
			})
		}
		workers = append(workers, worker.New(worker.Config{
			Name:          wc.Name,
			Role:          "researcher",
			Client:        client,
			Toolset:       toolset,
			Usage:         tracker,
			MaxIterations: cfg.Limits.MaxIterations,
		}))
	}

	bus := events.NewBus()
	merger := graph.NewMerger(st, graph.MergerConfig{
		MergeThreshold:     cfg.Thresholds.Merge,
		DedupThreshold:     cfg.Thresholds.Dedup,
		ConfidenceDiscount: cfg.Thresholds.ConfidenceDiscount,
	})

	executor := cycle.NewExecutor(cycle.ExecutorConfig{
		Store:          st,
		Bus:            bus,
		Lead:           lead.New(leadClient, prompts).WithUsage(tracker),
		Workers:        workers,
		Merger:         merger,
		ContextBuilder: research.NewContextBuilder(st, research.DefaultSectionBudgets()),
		WorkspaceID:    cfg.Workspace.ID,
		WorkspaceDir:   filepath.Join(cfg.Workspace.Dir, ".winterfox"),
		Mission:        cfg.Mission,
		ConsensusBoost: cfg.Thresholds.ConsensusBoost,
	})

	reportClient, err := llm.NewClient(cfg.Report.Spec())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("report adapter: %w", err)
	}

	a := &app{
		cfg:          cfg,
		store:        st,
		bus:          bus,
		tracker:      tracker,
		orchestrator: cycle.NewOrchestrator(executor, st, cfg.Workspace.ID),
		report:       report.NewSynthesizer(st, reportClient, tracker),
	}

	// Context documents are synced opportunistically; a missing
	// directory is not an error.
	if _, statErr := os.Stat(cfg.Workspace.ContextDir); statErr == nil {
		if dw, err := research.NewDocWatcher(st, cfg.Workspace.ID, cfg.Workspace.ContextDir); err == nil {
			if err := dw.Sync(); err != nil {
				logging.Get(logging.CategoryBoot).Warn("Context document sync failed: %v", err)
			}
			a.docs = dw
		}
	}

	return a, nil
}

// Close flushes usage stats and releases the store.
func (a *app) Close() {
	if a.docs != nil {
		a.docs.Stop()
	}
	if a.tracker != nil {
		_ = a.tracker.Save()
	}
	a.bus.Close()
	_ = a.store.Close()
}

// buildSearchManager assembles providers in the configured priority
// order, skipping keyed providers whose API key is absent.
func buildSearchManager(sc config.SearchConfig) *toolsresearch.SearchManager {
	var providers []toolsresearch.SearchProvider
	for _, name := range sc.Providers {
		switch name {
		case "brave":
			if key := os.Getenv(sc.BraveAPIKeyEnv); key != "" {
				providers = append(providers, toolsresearch.NewBraveProvider(key))
			}
		case "tavily":
			if key := os.Getenv(sc.TavilyAPIKeyEnv); key != "" {
				providers = append(providers, toolsresearch.NewTavilyProvider(key))
			}
		case "duckduckgo":
			providers = append(providers, toolsresearch.NewDuckDuckGoProvider())
		}
	}
	if len(providers) == 0 {
		providers = append(providers, toolsresearch.NewDuckDuckGoProvider())
	}
	return toolsresearch.NewSearchManager(providers...)
}
