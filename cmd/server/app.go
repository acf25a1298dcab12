package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/bugfix-relay/internal/config"
	"github.com/DoyleJ11/bugfix-relay/internal/engine"
	"github.com/DoyleJ11/bugfix-relay/internal/games"
	"github.com/DoyleJ11/bugfix-relay/internal/httpapi"
	"github.com/DoyleJ11/bugfix-relay/internal/persist"
	"github.com/DoyleJ11/bugfix-relay/internal/players"
	"github.com/DoyleJ11/bugfix-relay/internal/session"
	"github.com/DoyleJ11/bugfix-relay/internal/store"
	"github.com/DoyleJ11/bugfix-relay/internal/store/memory"
	"github.com/DoyleJ11/bugfix-relay/internal/store/postgres"
	redisstore "github.com/DoyleJ11/bugfix-relay/internal/store/redis"
	"github.com/DoyleJ11/bugfix-relay/internal/ws"
)

const shutdownGrace = 10 * time.Second

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case "postgres":
		return postgres.Open(ctx, cfg.DatabaseURL)
	case "redis":
		rc := redisstore.DefaultConfig()
		rc.URL = cfg.RedisURL
		return redisstore.New(ctx, rc)
	default:
		return memory.New(), nil
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	writer := persist.NewWriter(st, log, cfg.StoreQueue, cfg.StoreTimeout)

	// Registries outlive the request contexts and stop with the process.
	appCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	pr := players.New(appCtx, st, writer, log, players.Config{BcryptCost: cfg.BcryptCost})
	gr := games.NewRegistry(appCtx, pr, log, games.Config{
		DefaultCode: cfg.DefaultCode,
		Policy:      engine.PolicyFor(cfg.StrictTurns),
	})
	d := session.NewDispatcher(pr, gr, writer, log, session.Config{
		WriteTimeout: cfg.WriteTimeout,
		OutboxSize:   cfg.OutboxSize,
	})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Sessions: d,
			Players:  pr,
			Games:    gr,
			Log:      log,
			WS:       ws.Config{ReadLimit: cfg.ReadLimit, OriginPatterns: cfg.OriginHosts},
		}),
		ReadHeaderTimeout: 5 * time.Second,
		// Hijacked websocket connections only see this context.
		BaseContext: func(net.Listener) context.Context { return appCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.Store),
			zap.Bool("strictTurns", cfg.StrictTurns))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()

		// Stop accepting, end open sessions, then let queued records land.
		err := srv.Shutdown(shutdownCtx)
		cancel()
		err = multierr.Append(err, writer.Close(shutdownCtx))
		return multierr.Append(err, st.Close())
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
