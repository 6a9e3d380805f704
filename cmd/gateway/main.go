package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/larriantoniy/wa_gateway/internal/adapters/browser"
	httpadapter "github.com/larriantoniy/wa_gateway/internal/adapters/http"
	"github.com/larriantoniy/wa_gateway/internal/adapters/qr"
	"github.com/larriantoniy/wa_gateway/internal/adapters/redisstate"
	"github.com/larriantoniy/wa_gateway/internal/adapters/tg"
	"github.com/larriantoniy/wa_gateway/internal/config"
	"github.com/larriantoniy/wa_gateway/internal/ports"
	"github.com/larriantoniy/wa_gateway/internal/useCases"
)

const (
	envDev  = "dev"
	envProd = "prod"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := setupLogger(cfg.Env)
	logger.Info("starting gateway", "env", cfg.Env, "driver", cfg.Transport.Driver, "addr", cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory := newTransportFactory(ctx, cfg, logger)

	hub := httpadapter.NewHub(logger)
	observers := []ports.StateObserver{hub}

	if cfg.QR.Terminal {
		observers = append(observers, qr.NewTerminalRenderer(os.Stdout, logger))
	}

	if cfg.Redis.Addr != "" {
		rdb := redisstate.NewClient(redisstate.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			// go-redis переподключится сам, стартуем без зеркала
			logger.Warn("redis ping failed", "addr", cfg.Redis.Addr, "error", err)
		}

		pub := redisstate.NewPublisher(rdb, cfg.Redis.KeyPrefix, logger)
		go pub.Run(ctx)
		observers = append(observers, pub)
	}

	session := useCases.NewSessionManager(factory, logger, cfg.Session.Options(), observers...)

	watchdog := useCases.NewSuspensionWatchdog(session, logger, cfg.Watchdog.Period, cfg.Watchdog.Threshold, nil)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpadapter.NewServer(session, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(hub.Close)

	runner := useCases.NewRunner(logger, session, watchdog, srv)
	if err := runner.Run(ctx); err != nil {
		logger.Error("runner.Run error", "error", err)
		os.Exit(1)
	}

	logger.Info("exit")
}

func newTransportFactory(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) ports.TransportFactory {
	switch cfg.Transport.Driver {
	case config.DriverTelegram:
		repo := config.NewJSONSessionConfigRepo(cfg.Telegram.BaseDir)
		if sessions, err := repo.ListSessions(ctx); err != nil {
			logger.Warn("cannot list tdlib sessions", "base_dir", cfg.Telegram.BaseDir, "error", err)
		} else if !slices.Contains(sessions, cfg.Telegram.Session) {
			logger.Info("tdlib session not found, a new one will be created", "session", cfg.Telegram.Session, "known", sessions)
		}

		opts := tg.Options{
			ApiID:   cfg.Telegram.ApiID,
			ApiHash: cfg.Telegram.ApiHash,
			BaseDir: cfg.Telegram.BaseDir,
			Session: cfg.Telegram.Session,
		}
		return func(emit func(ports.Event), l *slog.Logger) (ports.Transport, error) {
			return tg.NewTransport(opts, repo, emit, l.With("session", opts.Session)), nil
		}

	default:
		opts := browser.Options{
			URL:           cfg.Browser.URL,
			UserDataDir:   cfg.Browser.UserDataDir,
			Bin:           cfg.Browser.Bin,
			Headless:      cfg.Browser.Headless,
			PollInterval:  cfg.Browser.PollInterval,
			LookupTimeout: cfg.Browser.LookupTimeout,
		}
		return func(emit func(ports.Event), l *slog.Logger) (ports.Transport, error) {
			return browser.NewTransport(opts, emit, l), nil
		}
	}
}

func setupLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	switch env {
	case envDev:
		level = slog.LevelDebug
	case envProd:
		level = slog.LevelInfo
	}

	return slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	)
}
