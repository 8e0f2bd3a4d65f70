package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/szaher/voxgate/internal/config"
	"github.com/szaher/voxgate/internal/conversation"
	"github.com/szaher/voxgate/internal/llm"
	"github.com/szaher/voxgate/internal/session"
	"github.com/szaher/voxgate/internal/telemetry"
)

// loadConfig reads --config and applies --verbose.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger. The returned LevelVar lets a config
// reload change the level without rebuilding handlers.
func newLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	if l, err := config.ParseLevel(cfg.Log.Level); err == nil {
		level.Set(l)
	}
	return telemetry.NewLogger(os.Stderr, cfg.Log.Format, level), level
}

func newSessionStore(cfg *config.Config, logger *slog.Logger, obs session.Observer) *session.Store {
	opts := []session.Option{
		session.WithMaxSessions(cfg.Session.MaxSessions),
		session.WithMaxHistory(cfg.Session.MaxHistory),
		session.WithIdleTimeout(cfg.Session.IdleTimeout),
		session.WithCleanupInterval(cfg.Session.CleanupInterval),
		session.WithLogger(logger.With("component", "session")),
	}
	if obs != nil {
		opts = append(opts, session.WithObserver(obs))
	}
	return session.NewStore(opts...)
}

func newGateway(ctx context.Context, cfg *config.Config, store *session.Store, logger *slog.Logger, rec conversation.Recorder) (*conversation.Gateway, error) {
	client, model, err := llm.NewClient(ctx, llm.ClientOptions{
		Provider: llm.Provider(cfg.LLM.Provider),
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		Region:   cfg.LLM.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	opts := []conversation.Option{
		conversation.WithModel(model),
		conversation.WithMaxTokens(cfg.LLM.MaxTokens),
		conversation.WithSampling(cfg.LLM.Temperature, cfg.LLM.TopP),
		conversation.WithSystem(cfg.LLM.System),
		conversation.WithLogger(logger.With("component", "conversation")),
	}
	if rec != nil {
		opts = append(opts, conversation.WithRecorder(rec))
	}
	provider, _ := llm.ResolveProvider(llm.Provider(cfg.LLM.Provider), cfg.LLM.Model)
	logger.Info("llm client ready", "provider", provider, "model", model)
	return conversation.NewGateway(store, client, opts...), nil
}
