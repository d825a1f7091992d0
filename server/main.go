package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/api"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/auth"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/config"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/leaderboard"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/metrics"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/progression"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/srv"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/telemetry"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.LogPretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Str("service", "tapgrow").Logger()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("config")
	}
	log := newLogger(cfg)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "tapgrow", version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	rec, err := metrics.New(otel.GetMeterProvider())
	if err != nil {
		return err
	}

	levels, err := config.LoadLevels(cfg.LevelsFile, log)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	a, err := auth.NewAuth(cfg.DataDir, cfg.JWTSecret, cfg.TokenTTL, log,
		auth.WithLoginHook(func(ctx context.Context, wallet string) error {
			_, err := store.GetOrCreate(ctx, wallet)
			return err
		}))
	if err != nil {
		return err
	}

	board := leaderboard.NewService(store, levels, cfg.LeaderboardCacheTTL, log)
	hub := srv.NewHub(srv.HubConfig{
		Progression:    progression.NewService(store, levels, log),
		Store:          store,
		Leaderboard:    board,
		Metrics:        rec,
		Log:            log,
		SaveDebounce:   cfg.SaveDebounce,
		AutoTick:       cfg.AutoTick,
		ActionRate:     rate.Limit(cfg.ActionRate),
		ActionBurst:    cfg.ActionBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpSrv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.NewRouter(api.Deps{
			Store:          store,
			Leaderboard:    board,
			Auth:           a,
			WS:             http.HandlerFunc(hub.HandleWS),
			AllowedOrigins: cfg.AllowedOrigins,
			Log:            log,
			Version:        version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", cfg.Addr).
			Str("store", cfg.StoreDriver).
			Int("levels", levels.Len()).
			Bool("default_timing", cfg.IsDefaultTiming()).
			Msg("server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Sessions flush their pending saves before the store closes.
		hubErr := hub.Shutdown(sctx)
		return errors.Join(hubErr, httpSrv.Shutdown(sctx))
	})
	return g.Wait()
}
