package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/neverbot/internal/channels"
	"github.com/nextlevelbuilder/neverbot/internal/channels/discord"
	"github.com/nextlevelbuilder/neverbot/internal/chat"
	"github.com/nextlevelbuilder/neverbot/internal/commands"
	"github.com/nextlevelbuilder/neverbot/internal/completion"
	"github.com/nextlevelbuilder/neverbot/internal/config"
	"github.com/nextlevelbuilder/neverbot/internal/conversation"
	"github.com/nextlevelbuilder/neverbot/internal/insight"
	"github.com/nextlevelbuilder/neverbot/internal/metrics"
	"github.com/nextlevelbuilder/neverbot/internal/providers"
	"github.com/nextlevelbuilder/neverbot/internal/store"
	"github.com/nextlevelbuilder/neverbot/internal/store/pg"
	"github.com/nextlevelbuilder/neverbot/internal/store/sqlite"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Connect to Discord and serve messages and slash commands (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context())
		},
	}
}

func runGateway(ctx context.Context) error {
	setupLogging()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := setupTracing(ctx, cfg.Telemetry)
	if err != nil {
		// Tracing is optional; the bot runs without it.
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	registry := metrics.NewRegistry()

	generator := newGenerator(cfg, registry)

	conversations := conversation.NewStore(cfg.Conversation.ToStoreConfig(), stores.Servers)
	// Messages and commands share one budget per user.
	limiter := channels.NewRateLimiter(cfg.RateLimit.WindowDuration(), cfg.RateLimit.Max)
	dedup := channels.NewDedupGuard()

	dc, err := discord.New(discord.Options{
		Token:            cfg.Discord.Token,
		GuildID:          cfg.Discord.GuildID,
		RegisterCommands: cfg.Discord.ShouldRegisterCommands(),
	})
	if err != nil {
		return err
	}

	svc := chat.NewService(chat.Deps{
		Conversations:   conversations,
		Generator:       generator,
		Replier:         dc.Replier(),
		Servers:         stores.Servers,
		Users:           stores.Users,
		Limiter:         limiter,
		Dedup:           dedup,
		Metrics:         registry,
		PlatformProfile: cfg.Resilience.ToProfile(),
		Settings:        cfg.ChatSettings(),
	})

	dispatcher := commands.NewDispatcher(commands.DispatcherConfig{
		Registry: commands.Builtin(commands.Deps{
			Generator:        generator,
			Conversations:    conversations,
			Servers:          stores.Servers,
			Users:            stores.Users,
			Stats:            registry,
			ServerCount:      dc.ServerCount,
			StartedAt:        time.Now(),
			MaxMessageLength: svc.Settings().MaxMessageLength,
		}),
		Servers: stores.Servers,
		Users:   stores.Users,
		Limiter: limiter,
		Dedup:   dedup,
		Metrics: registry,
	})

	dc.Bind(svc, dispatcher)
	manager := channels.NewManager()
	manager.RegisterChannel(dc)
	if err := manager.StartAll(ctx); err != nil {
		return err
	}

	slog.Info("neverbot running",
		"version", Version,
		"mode", cfg.Database.Mode,
		"model", cfg.Provider.Model,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		every(gctx, cfg.RateLimit.SweepEvery(), func() {
			if n := limiter.Sweep(); n > 0 {
				slog.Debug("rate limiter swept", "removed", n, "remaining", limiter.Len())
			}
		})
		return nil
	})
	g.Go(func() error {
		every(gctx, cfg.Conversation.SweepEvery(), func() {
			if n := conversations.SweepExpired(time.Now()); n > 0 {
				slog.Debug("conversation contexts expired", "removed", n, "remaining", conversations.Len())
			}
		})
		return nil
	})
	if cfg.Insight.IsEnabled() {
		updater := insight.NewUpdater(stores.Users, generator, cfg.Insight.ToUpdaterConfig())
		g.Go(func() error { return updater.Run(gctx) })
	}
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, func(next *config.Config) {
			svc.UpdateSettings(next.ChatSettings())
		})
		if err != nil {
			slog.Warn("config hot reload unavailable", "error", err)
		}
		return nil
	})

	<-gctx.Done()
	slog.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.StopAll(stopCtx); err != nil {
		slog.Warn("channel shutdown incomplete", "error", err)
	}
	return g.Wait()
}

func newGenerator(cfg *config.Config, rec metrics.Recorder) *completion.Gateway {
	provider := providers.NewOpenAIProvider("openai", cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model)
	return completion.NewGateway(provider, completion.Config{
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
		Profile:     cfg.Provider.ToProfile(),
		Persona:     cfg.CompletionPersona(),
		Metrics:     rec,
	})
}

// openStores selects the backend: Postgres in managed mode, embedded SQLite otherwise.
func openStores(cfg *config.Config) (*store.Stores, error) {
	sc := cfg.Database.ToStoreConfig()
	if cfg.IsManagedMode() {
		stores, err := pg.NewPGStores(sc)
		if err != nil {
			return nil, fmt.Errorf("open managed stores: %w", err)
		}
		slog.Info("using postgres stores")
		return stores, nil
	}
	stores, err := sqlite.NewSQLiteStores(sc)
	if err != nil {
		return nil, fmt.Errorf("open standalone stores: %w", err)
	}
	slog.Info("using sqlite stores", "path", sc.SQLitePath)
	return stores, nil
}

// every calls fn on each tick of interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
