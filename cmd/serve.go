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

	"github.com/nextlevelbuilder/gobutler/internal/agent"
	"github.com/nextlevelbuilder/gobutler/internal/alerts"
	"github.com/nextlevelbuilder/gobutler/internal/bootstrap"
	"github.com/nextlevelbuilder/gobutler/internal/config"
	"github.com/nextlevelbuilder/gobutler/internal/extract"
	"github.com/nextlevelbuilder/gobutler/internal/gateway"
	"github.com/nextlevelbuilder/gobutler/internal/memory"
	"github.com/nextlevelbuilder/gobutler/internal/notify"
	"github.com/nextlevelbuilder/gobutler/internal/providers"
	"github.com/nextlevelbuilder/gobutler/internal/scheduler"
	"github.com/nextlevelbuilder/gobutler/internal/store"
	"github.com/nextlevelbuilder/gobutler/internal/store/pg"
	"github.com/nextlevelbuilder/gobutler/internal/syncer"
	"github.com/nextlevelbuilder/gobutler/internal/tools"
	"github.com/nextlevelbuilder/gobutler/internal/tracing"
	"github.com/nextlevelbuilder/gobutler/internal/webhook"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.LLM.APIKey == "" {
		slog.Error("BUTLER_ANTHROPIC_API_KEY is not set")
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		slog.Error("BUTLER_POSTGRES_DSN is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	pool, err := pg.OpenPool(ctx, cfg.Database.DSN)
	if err != nil {
		slog.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	stores := pg.NewStores(pool)

	if err := bootstrap.Seed(ctx, stores.Users); err != nil {
		slog.Error("bootstrap seed failed", "error", err)
		os.Exit(1)
	}

	llm := providers.NewClient(cfg.LLM.APIKey)
	embedder := memory.NewEmbedder(cfg.Embeddings.URL, cfg.Embeddings.Model)
	mem := memory.NewService(stores.Users, stores.Facts, embedder)
	builder := memory.NewContextBuilder(stores.Users, stores.Facts, stores.Conversation)

	notifier := buildNotifier(cfg, stores.Users)
	registry := buildRegistry(cfg, stores, mem, notifier)
	defer registry.Close()
	dispatcher := tools.NewDispatcher(stores.Audit)

	extractor := extract.New(llm, mem, cfg.LLM.Model)
	turns := agent.NewService(
		agent.NewOrchestrator(llm, dispatcher),
		registry, builder, stores.Users, stores.Conversation, extractor,
		agent.Config{
			Model:         cfg.LLM.Model,
			MaxTokens:     cfg.LLM.MaxTokens,
			MaxToolRounds: cfg.LLM.MaxToolRounds,
			MaxImageBytes: int64(cfg.MaxImageBytes()),
			ServerTools:   serverTools(cfg),
		},
	)

	alertSvc := alerts.NewService(stores.Alerts)
	alertSvc.AddChannel("broadcast", func(ctx context.Context, severity, title, message string) error {
		n, err := notifier.Broadcast(ctx, fmt.Sprintf("[%s] %s: %s", severity, title, message), "alerts")
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no recipients reached")
		}
		return nil
	})

	hooks := webhook.NewService(stores.Events, notifier, alertSvc)

	sched := scheduler.New(stores.Tasks, stores.Users, registry, dispatcher, notifier,
		time.Duration(cfg.Scheduler.PollSeconds)*time.Second)
	sync := syncer.New(stores.State, cfg.Services.MediaURL, cfg.Services.MediaAPIKey,
		time.Duration(cfg.Sync.IntervalMinutes)*time.Minute)

	go sched.Run(ctx)
	go sync.Run(ctx)
	go alertSvc.RunRetry(ctx, 5*time.Minute)
	go dispatcher.RunRetention(ctx, time.Duration(cfg.Retention.AuditDays)*24*time.Hour)

	srv := gateway.NewServer(cfg, turns, hooks, stores.Users, stores.Audit)
	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}

	// Let in-flight fact extractions land before the pool closes.
	extractor.Wait()
	slog.Info("shutdown complete")
}

func buildNotifier(cfg *config.Config, users store.UserStore) *notify.Notifier {
	var transports []notify.Transport
	if cfg.Notify.GatewayURL != "" {
		transports = append(transports, notify.NewWhatsAppTransport(cfg.Notify.GatewayURL))
	}
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramTransport(cfg.Notify.TelegramToken)
		if err != nil {
			slog.Warn("telegram transport unavailable", "error", err)
		} else {
			transports = append(transports, tg)
		}
	}
	if len(transports) == 0 {
		slog.Warn("no notification transports configured; outbound messages will fail")
	}
	return notify.NewNotifier(users, cfg.Notify.MaxPerHour, cfg.Notify.DefaultQuietTZ, transports...)
}

func buildRegistry(cfg *config.Config, stores *store.Stores, mem *memory.Service, notifier *notify.Notifier) *tools.Registry {
	registry := tools.NewRegistry()

	registry.Register(tools.NewRememberTool(mem), "")
	registry.Register(tools.NewRecallTool(mem), "")
	registry.Register(tools.NewForgetTool(mem), "")
	registry.Register(tools.NewScheduleTool(stores.Tasks), "")
	registry.Register(tools.NewNotifyTool(notifier), "")
	registry.Register(tools.NewWeatherTool(cfg.Services.WeatherURL), "")

	registry.Register(tools.NewHomeAssistantTool(
		cfg.Services.HomeAssistantURL, cfg.Services.HomeAssistantToken), store.PermHome)
	registry.Register(tools.NewMediaTool(
		cfg.Services.MediaURL, cfg.Services.MediaAPIKey, stores.State), store.PermMedia)

	registry.RegisterPerUser(tools.NewCalendarFactory(stores.Tokens), "")
	return registry
}

func serverTools(cfg *config.Config) []providers.ServerTool {
	if !cfg.LLM.WebSearch {
		return nil
	}
	return []providers.ServerTool{{
		"type":     "web_search_20250305",
		"name":     "web_search",
		"max_uses": 3,
	}}
}
