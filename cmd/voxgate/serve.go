package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/szaher/voxgate/internal/audio"
	"github.com/szaher/voxgate/internal/config"
	"github.com/szaher/voxgate/internal/janitor"
	"github.com/szaher/voxgate/internal/server"
	"github.com/szaher/voxgate/internal/telemetry"
	"github.com/szaher/voxgate/internal/transcribe"
)

func newServeCmd() *cobra.Command {
	var (
		addr  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the voice assistant API. Sessions live in memory and are lost on exit.
With --watch, edits to the config file change the log level without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return runServer(ctx, cfg, watch)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the config file on change")

	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, watch bool) error {
	logger, level := newLogger(cfg)
	metrics := telemetry.NewMetrics()

	store := newSessionStore(cfg, logger, metrics)
	gateway, err := newGateway(ctx, cfg, store, logger, metrics)
	if err != nil {
		return err
	}

	audioStore, err := audio.NewStore(cfg.Audio.Dir, logger.With("component", "audio"))
	if err != nil {
		return err
	}

	tc := cfg.Transcribe
	transcriber, err := transcribe.New(transcribe.Config{
		Provider:     transcribe.Provider(tc.Provider),
		Region:       tc.Region,
		Bucket:       tc.Bucket,
		Language:     tc.Language,
		MediaFormat:  tc.MediaFormat,
		PollInterval: tc.PollInterval,
		SampleRateHz: tc.SampleRateHz,
	})
	if err != nil {
		return err
	}

	jan := janitor.New(logger.With("component", "janitor"))
	if err := jan.ScheduleSweep(cfg.Session.SweepSchedule, store); err != nil {
		return err
	}
	if err := jan.SchedulePurge(cfg.Audio.CleanupSchedule, cfg.Audio.Retention, audioStore); err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithTracer(telemetry.NewTracer(telemetry.LogExporter(logger))),
		server.WithAudioStore(audioStore),
		server.WithRateLimit(server.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}),
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
	}
	if transcriber != nil {
		opts = append(opts, server.WithTranscriber(transcriber, tc.Provider))
	}
	srv := server.New(store, gateway, opts...)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if jan.Jobs() > 0 {
		g.Go(func() error { return jan.Run(ctx) })
	}

	if watch && configFile != "" {
		g.Go(func() error {
			return config.Watch(ctx, configFile, logger, func(next *config.Config) {
				if l, err := config.ParseLevel(next.Log.Level); err == nil {
					level.Set(l)
					logger.Info("log level updated", "level", l.String())
				}
			})
		})
	}

	logger.Info("voxgate ready",
		"addr", ln.Addr().String(),
		"max_sessions", cfg.Session.MaxSessions,
		"transcriber", tc.Provider,
	)
	return g.Wait()
}
