package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"nlcal/internal/config"
	"nlcal/internal/confirm"
	"nlcal/internal/conflict"
	"nlcal/internal/ics"
	"nlcal/internal/llm"
	appLog "nlcal/internal/log"
	"nlcal/internal/matcher"
	"nlcal/internal/orchestrator"
	"nlcal/internal/store"
)

// app holds the wired backends shared by every subcommand.
type app struct {
	cfg      *config.Config
	store    store.EventStore
	sessions *confirm.MemoryStore // nil when sessions live in redis
	orch     *orchestrator.Orchestrator
	closers  []func() error
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if cfg == nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		appLog.Error("failed to write default config", err, "config_path", path)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	switch cfg.Store.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.Store.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		st, err := store.OpenSQLite(cfg.Store.Path, nil)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	default:
		a.store = store.NewMemoryStore(nil)
	}

	var sessions confirm.Store
	switch cfg.Session.Driver {
	case "redis":
		rdb, err := confirm.DialRedis(ctx, cfg.Session.RedisAddr, cfg.Session.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		sessions = confirm.NewRedisStore(rdb)
	default:
		a.sessions = confirm.NewMemoryStore(nil)
		sessions = a.sessions
	}

	loc := cfg.Location()
	var assistant llm.Assistant = llm.Offline{}
	if cfg.LLM.Provider == "gemini" {
		g, err := llm.NewGemini(ctx, llm.APIKey(cfg.LLM.APIKeyEnv), cfg.LLM.Model, cfg.LLM.Timeout, loc)
		switch {
		case err == nil:
			assistant = g
			a.closers = append(a.closers, g.Close)
		case errors.Is(err, llm.ErrUnavailable):
			appLog.Info("llm disabled: no api key", "env", cfg.LLM.APIKeyEnv)
		default:
			appLog.Error("llm init failed, continuing offline", err)
		}
	}

	whStart, whEnd := cfg.WorkingWindow()
	a.orch = orchestrator.New(a.store, confirm.NewMachine(sessions, cfg.ConfirmationTTL, nil), orchestrator.Options{
		Location:        loc,
		DefaultDuration: time.Duration(cfg.DefaultDurationMinutes) * time.Minute,
		WorkingHours:    conflict.WorkingHours{Start: whStart, End: whEnd},
		SearchDays:      cfg.SearchDays,
		Matcher: matcher.Options{
			Fuzzy:           matcher.ParseMode(cfg.Matcher.Fuzzy),
			BatchConfidence: cfg.Matcher.BatchConfidence,
			MaxListed:       cfg.Matcher.MaxListed,
			MaxCandidates:   cfg.Matcher.MaxCandidates,
			Location:        loc,
		},
		Assistant:  assistant,
		LLMTimeout: cfg.LLM.Timeout,
	})

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"store", cfg.Store.Driver,
		"session", cfg.Session.Driver,
		"llm", cfg.LLM.Provider,
		"fuzzy", cfg.Matcher.Fuzzy,
		"ics_count", len(cfg.ICS),
	)
	return a, nil
}

func (a *app) subscriber() *ics.Subscriber {
	sources := make([]ics.Source, 0, len(a.cfg.ICS))
	for _, s := range a.cfg.ICS {
		sources = append(sources, ics.Source{ID: s.ID, URL: s.URL, Name: s.Name})
	}
	return ics.NewSubscriber(ics.NewFetcher(a.cfg.ICSCacheDir, nil), a.store, sources, a.cfg.Location(), nil)
}

// Close releases backends in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			appLog.Error("close failed", err)
		}
	}
	a.closers = nil
}
