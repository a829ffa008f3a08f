package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/memoh-feishu/internal/channel"
	"github.com/memohai/memoh-feishu/internal/channel/adapters/feishu"
	"github.com/memohai/memoh-feishu/internal/config"
	"github.com/memohai/memoh-feishu/internal/gateway"
	"github.com/memohai/memoh-feishu/internal/handlers"
	"github.com/memohai/memoh-feishu/internal/logger"
	"github.com/memohai/memoh-feishu/internal/pairing"
	"github.com/memohai/memoh-feishu/internal/server"
	"github.com/memohai/memoh-feishu/internal/version"
)

func newServeCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run account connections, the webhook endpoint and the admin API",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := newServeApp(opts)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newServeApp(opts *cliOptions) *fx.App {
	return fx.New(
		fx.Supply(opts),
		fx.Provide(
			provideConfig,
			provideLogger,
			providePairingStore,
			provideAdapter,
			fx.Annotate(provideAccountSource, fx.As(new(channel.AccountSource), new(feishu.AccountResolver))),
			fx.Annotate(provideGatewayClient, fx.As(new(feishu.ReplyDispatcher))),
			feishu.NewProcessor,
			provideChannelManager,

			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideStatusHandler),
			provideServerHandler(provideAdminHandler),

			provideServer,
		),
		fx.Invoke(
			startChannelManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(opts *cliOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func providePairingStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (pairing.Store, error) {
	store, closeStore, err := openPairingStore(context.Background(), log, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pairing store: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := closeStore(); err != nil {
				return fmt.Errorf("close pairing store: %w", err)
			}
			return nil
		},
	})
	return store, nil
}

func provideAdapter(log *slog.Logger, cfg config.Config, store pairing.Store) (*feishu.Adapter, error) {
	return newAdapter(log, cfg, store)
}

func provideAccountSource(log *slog.Logger, opts *cliOptions) *config.Source {
	return opts.source(log)
}

func provideGatewayClient(log *slog.Logger, cfg config.Config) *gateway.Client {
	return gateway.NewClient(log, cfg.AgentGateway.BaseURL(), cfg.AgentGateway.Token, cfg.AgentGateway.Timeout())
}

func provideChannelManager(log *slog.Logger, cfg config.Config, source channel.AccountSource, adapter *feishu.Adapter, processor *feishu.Processor) *channel.Manager {
	manager := channel.NewManager(log, source, adapter, processor)
	manager.SetOutboundPolicy(channel.OutboundPolicy{
		TextChunkLimit: cfg.Messages.TextChunkLimit,
		ChunkerMode:    channel.ChunkerModeMarkdown,
	})
	manager.SetRefreshInterval(cfg.Channels.Refresh())
	return manager
}

func provideWebhookHandler(log *slog.Logger, resolver feishu.AccountResolver, adapter *feishu.Adapter, manager *channel.Manager) *feishu.WebhookHandler {
	return feishu.NewWebhookHandler(log, resolver, adapter, manager)
}

func provideStatusHandler(log *slog.Logger, manager *channel.Manager) *handlers.StatusHandler {
	return handlers.NewStatusHandler(log, manager)
}

func provideAdminHandler(log *slog.Logger, store pairing.Store, resolver feishu.AccountResolver, adapter *feishu.Adapter, manager *channel.Manager) *handlers.AdminHandler {
	h := handlers.NewAdminHandler(log, store, resolver, adapter)
	h.SetSender(manager)
	return h
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

func startChannelManager(lc fx.Lifecycle, manager *channel.Manager) {
	// The start context is cancelled once startup completes, so connections
	// get their own.
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			manager.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return manager.Shutdown(stopCtx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	fmt.Fprintf(os.Stderr, "Starting Feishu channel %s\n", version.GetInfo())
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is not set; admin API disabled")
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
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
			return nil
		},
	})
}
