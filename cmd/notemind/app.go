package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/michaelbrown/notemind/internal/capability"
	"github.com/michaelbrown/notemind/internal/config"
	"github.com/michaelbrown/notemind/internal/generate"
	"github.com/michaelbrown/notemind/internal/notes"
	"github.com/michaelbrown/notemind/internal/orchestrator"
	"github.com/michaelbrown/notemind/internal/persona"
	"github.com/michaelbrown/notemind/internal/queue"
	"github.com/michaelbrown/notemind/internal/retrieval"
	"github.com/michaelbrown/notemind/internal/server"
	"github.com/michaelbrown/notemind/internal/storage/sqlite"
	"github.com/michaelbrown/notemind/internal/tools"
	"github.com/michaelbrown/notemind/internal/usage"
)

// app holds everything a command needs, built from config.
type app struct {
	cfg        *config.Config
	store      *sqlite.SQLiteStore
	ledger     *usage.Ledger
	router     *capability.Router
	gen        *generate.Generator
	retriever  *retrieval.Retriever
	external   *tools.External
	dispatcher *orchestrator.Dispatcher
	importer   *notes.Importer
	titles     *queue.Queue
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if schemeFlag != "" {
		cfg.Scheme = schemeFlag
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(lc config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(lc.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// openApp wires the store, providers and services. External MCP tool
// servers are only started when withTools is set.
func openApp(withTools bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	ledger := usage.NewLedger(cfg.Prices())
	router, err := cfg.Router(ledger.Observe)
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		store:     store,
		ledger:    ledger,
		router:    router,
		gen:       generate.New(router, cfg.Orchestrator.ContextTokens),
		retriever: retrieval.New(router),
		external:  tools.NewExternal(),
		importer:  notes.NewImporter(cfg.Import.Timeout),
	}
	if withTools {
		for name, toolCfg := range cfg.Tools {
			if err := a.external.Register(name, toolCfg); err != nil {
				slog.Warn("failed to start tool server", "server", name, "error", err)
			}
		}
	}
	a.dispatcher = orchestrator.NewDispatcher(store, a.retriever, a.external)
	a.titles = queue.New("titles", server.TitleWork(store, a.gen), cfg.Queue.Concurrency, cfg.Queue.Timeout)
	a.dispatcher.OnNoteCreated = func(n notes.Note) {
		if n.Title == "" {
			a.titles.Schedule(n.ID)
		}
	}

	a.syncProfiles(context.Background())
	return a, nil
}

// syncProfiles stores YAML-defined agents so sessions can reference them.
func (a *app) syncProfiles(ctx context.Context) {
	profiles, err := persona.LoadProfiles(a.cfg.Agents.ProfilesDir)
	if err != nil {
		slog.Warn("failed to load agent profiles", "dir", a.cfg.Agents.ProfilesDir, "error", err)
		return
	}
	for i := range profiles {
		if err := a.store.SaveAgent(ctx, &profiles[i]); err != nil {
			slog.Warn("skipping agent profile", "name", profiles[i].Name, "error", err)
		}
	}
}

func (a *app) sessionOptions() server.SessionOptions {
	return server.SessionOptions{
		Orchestrator: orchestrator.Options{
			MaxDecisions: a.cfg.Orchestrator.MaxDecisions,
			ExtraTools:   a.dispatcher.ExternalTools(),
			WebSearch:    a.cfg.Orchestrator.WebSearch,
		},
		DebateTurns:  a.cfg.Orchestrator.DebateTurns,
		PodcastTurns: a.cfg.Orchestrator.PodcastTurns,
	}
}

func (a *app) sessionManager() *server.SessionManager {
	return server.NewSessionManager(a.store, a.gen, a.dispatcher, a.sessionOptions())
}

func (a *app) Close() {
	a.titles.Wait()
	a.titles.Close()
	a.external.Close()
	a.store.Close()
}

// openStore opens only the database, for commands that never call a model.
func openStore() (*sqlite.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.Storage.DBPath)
}
