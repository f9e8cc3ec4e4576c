package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/metahook/internal/accounts"
	"github.com/memohai/metahook/internal/config"
	"github.com/memohai/metahook/internal/db"
	"github.com/memohai/metahook/internal/events"
	"github.com/memohai/metahook/internal/handlers"
	"github.com/memohai/metahook/internal/healthcheck"
	"github.com/memohai/metahook/internal/logger"
	"github.com/memohai/metahook/internal/media"
	"github.com/memohai/metahook/internal/media/providers/localfs"
	"github.com/memohai/metahook/internal/outbound"
	"github.com/memohai/metahook/internal/server"
	"github.com/memohai/metahook/internal/webhook"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideAccountStore,
			provideAccountService,
			provideMediaService,
			provideClientCache,
			provideLiveDispatcher,
			outbound.NewDispatcher,
			providePublisher,
			provideResolver,
			provideExtractor,
			provideWebhookService,
			provideKeepAlive,
			provideKeepAliveScheduler,
			provideServerHandler(providePingHandler),
			provideServerHandler(handlers.NewKeepAliveHandler),
			provideServerHandler(handlers.NewWebhookHandler),
			provideServer,
		),
		fx.Invoke(
			startKeepAliveScheduler,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideAccountStore(conn *pgxpool.Pool) *accounts.Store { return accounts.NewStore(conn) }

func provideAccountService(log *slog.Logger, cfg config.Config, store *accounts.Store) *accounts.Service {
	return accounts.NewService(log, store, accounts.ResolveOptions{
		Development:              cfg.IsDevelopment(),
		DefaultBusinessAccountID: cfg.Meta.BusinessAccountID,
	})
}

func provideMediaService(log *slog.Logger, cfg config.Config) (*media.Service, error) {
	provider, err := localfs.New(cfg.Media.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("init media storage: %w", err)
	}
	return media.NewService(log, provider), nil
}

func provideClientCache(log *slog.Logger, cfg config.Config, accountService *accounts.Service) *outbound.ClientCache {
	return outbound.NewClientCache(log, accountService, outbound.ClientCacheOptions{
		BaseURL:     cfg.Graph.BaseURL,
		Version:     cfg.Meta.VersionAPI,
		Timeout:     cfg.Graph.Timeout,
		TTL:         cfg.Graph.ClientTTL,
		Development: cfg.IsDevelopment(),
		Default: outbound.DefaultCredentials{
			AccessToken:   cfg.Meta.BearerTokenAccess,
			PhoneNumberID: cfg.Meta.PhoneNumberID,
		},
	})
}

func provideLiveDispatcher(log *slog.Logger, cfg config.Config, cache *outbound.ClientCache, mediaService *media.Service) *outbound.Live {
	return outbound.NewLive(log, cache, mediaService, cfg.Media.MaxBytes)
}

func providePublisher(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) events.Publisher {
	if cfg.Events.URL == "" {
		log.Info("events broker not configured, inbound events are not published")
		return events.Noop{}
	}
	pub, err := events.NewAMQPPublisher(context.Background(), log, events.AMQPConfig{
		URL:           cfg.Events.URL,
		Exchange:      cfg.Events.Exchange,
		DialTimeout:   cfg.Events.DialTimeout,
		RedialBackoff: cfg.Events.RedialBackoff,
	})
	if err != nil {
		log.Error("events broker unavailable, inbound events are not published", slog.Any("error", err))
		return events.Noop{}
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return pub.Close() }})
	return pub
}

func provideResolver(log *slog.Logger, accountService *accounts.Service) *webhook.Resolver {
	return webhook.NewResolver(log, accountService)
}

func provideExtractor(log *slog.Logger, cfg config.Config, dispatcher outbound.Dispatcher) *webhook.Extractor {
	return webhook.NewExtractor(log, dispatcher, cfg.Webhook.MediaTimeout)
}

func provideWebhookService(log *slog.Logger, cfg config.Config, resolver *webhook.Resolver, extractor *webhook.Extractor, dispatcher outbound.Dispatcher, publisher events.Publisher) *webhook.Service {
	return webhook.NewService(log, resolver, extractor, dispatcher, publisher, webhook.Options{
		ProcessTimeout: cfg.Webhook.ProcessTimeout,
		DedupTTL:       cfg.Webhook.DedupTTL,
		PublishTimeout: cfg.Webhook.PublishTimeout,
	})
}

func provideKeepAlive(log *slog.Logger, cfg config.Config) *healthcheck.KeepAlive {
	return healthcheck.NewKeepAlive(log, healthcheck.KeepAliveOptions{
		PublicURL:   cfg.KeepAlive.PublicURL,
		NgrokAPIURL: cfg.KeepAlive.NgrokAPIURL,
		VerifyToken: cfg.VerifyToken(),
	})
}

func provideKeepAliveScheduler(log *slog.Logger, cfg config.Config, keepAlive *healthcheck.KeepAlive) (*healthcheck.Scheduler, error) {
	if cfg.KeepAlive.PublicURL == "" {
		return nil, nil
	}
	return healthcheck.NewScheduler(log, keepAlive, cfg.KeepAlive.Schedule)
}

func providePingHandler(log *slog.Logger, conn *pgxpool.Pool) *handlers.PingHandler {
	return handlers.NewPingHandler(log, conn)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.API.Addr(), params.ServerHandlers...)
}

func startKeepAliveScheduler(lc fx.Lifecycle, scheduler *healthcheck.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { scheduler.Start(); return nil },
		OnStop:  func(ctx context.Context) error { return scheduler.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config, webhookService *webhook.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting metahook",
				slog.String("addr", cfg.API.Addr()),
				slog.String("environment", cfg.API.Environment),
				slog.Bool("fake_sender", cfg.UseFakeSender()),
			)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			if err := webhookService.Shutdown(ctx); err != nil {
				logger.Warn("webhook deliveries still in flight at shutdown", slog.Any("error", err))
			}
			return nil
		},
	})
}
