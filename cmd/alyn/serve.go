package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alynlabs/alyn/internal/agents/execution"
	"github.com/alynlabs/alyn/internal/agents/interaction"
	"github.com/alynlabs/alyn/internal/config"
	"github.com/alynlabs/alyn/internal/conversation"
	"github.com/alynlabs/alyn/internal/gateway"
	"github.com/alynlabs/alyn/internal/httpapi"
	"github.com/alynlabs/alyn/internal/journal"
	"github.com/alynlabs/alyn/internal/lessons"
	"github.com/alynlabs/alyn/internal/llm"
	"github.com/alynlabs/alyn/internal/outbound"
	"github.com/alynlabs/alyn/internal/outbound/telegram"
	"github.com/alynlabs/alyn/internal/profile"
	"github.com/alynlabs/alyn/internal/roster"
	"github.com/alynlabs/alyn/internal/triggers"
)

const shutdownTimeout = 10 * time.Second

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant server",
		Long: `Start the assistant server.

The server will:
1. Load configuration from the given file (defaults apply without one)
2. Open the conversation log, journals and trigger/lesson databases
3. Start the Telegram client when a bot token is configured
4. Start the trigger scheduler
5. Start the HTTP API for messages, conversation access and metrics

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with defaults and environment variables
  alyn serve

  # Start with a config file
  alyn serve --config /etc/alyn/alyn.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	configureLogging(cfg, debug)
	logger := slog.Default().With("component", "serve")

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Persistent stores.
	convo, err := conversation.OpenLog(cfg.ConversationLogPath())
	if err != nil {
		return err
	}
	agentRoster, err := roster.Open(cfg.RosterPath())
	if err != nil {
		return err
	}
	journals, err := journal.NewStore(cfg.JournalDir())
	if err != nil {
		return err
	}
	triggerStore, err := triggers.OpenStore(cfg.TriggerDBPath())
	if err != nil {
		return err
	}
	defer triggerStore.Close()
	lessonStore, err := lessons.OpenStore(cfg.LessonDBPath())
	if err != nil {
		return err
	}
	defer lessonStore.Close()
	profileStore, err := profile.Open(cfg.ProfilePath())
	if err != nil {
		return err
	}

	// Agent runtimes and the gateway between them.
	provider := llm.NewOpenAIClient(llm.ClientConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
	})

	// Every run gets its own registry so the trigger tools scope their
	// records to the agent actually running.
	buildRegistry := func(agentName string) *execution.Registry {
		registry := execution.NewRegistry()
		execution.RegisterTriggerTools(registry, triggerStore, profileStore, agentName)
		return registry
	}
	executionRuntime := execution.NewRuntime(provider, cfg.LLM.ExecutionModel, buildRegistry, journals)

	// The Telegram handler needs the gateway and the gateway needs the
	// outbound transport, so the client closes over a late-bound pointer.
	var gw *gateway.Gateway
	var transport outbound.Transport
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.New(telegram.Config{Token: cfg.Telegram.BotToken},
			func(ctx context.Context, chatID, text string) {
				gw.HandleInbound(chatID, text)
			})
		if err != nil {
			return fmt.Errorf("start telegram client: %w", err)
		}
		transport = telegramClient
	} else {
		logger.Info("telegram disabled, outbound messages are logged only")
		transport = logTransport{logger: slog.Default().With("component", "outbound-log")}
	}
	dispatcher := outbound.NewDispatcher(transport)

	gw = gateway.New(executionRuntime, dispatcher)
	gw.Bind(interaction.NewRuntime(interaction.Deps{
		Provider: provider,
		Model:    cfg.LLM.InteractionModel,
		Convo:    convo,
		Dedup:    conversation.NewDuplicateDetector(cfg.Dedup.Window, cfg.Dedup.CacheSize),
		Roster:   agentRoster,
		Journals: journals,
		Lessons:  lessonStore,
		Profile:  profileStore,
		Spawner:  gw,
		Sender:   dispatcher,
	}))

	scheduler := triggers.NewScheduler(triggerStore, gw,
		triggers.WithPollInterval(cfg.Scheduler.PollInterval))

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: httpapi.NewServer(gw, convo, triggerStore).Router(),
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Start(runCtx); err != nil {
		return fmt.Errorf("start trigger scheduler: %w", err)
	}
	if telegramClient != nil {
		go telegramClient.Start(runCtx)
		logger.Info("telegram client started")
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-runCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		stop()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("trigger scheduler drain timed out", "error", err)
	}
	gw.Drain()
	logger.Info("shutdown complete")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

// configureLogging installs the process-wide slog handler from the
// logging config. The --debug flag wins over the configured level.
func configureLogging(cfg *config.Config, debug bool) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// logTransport is the outbound fallback when no chat channel is
// configured; replies still land in the conversation log.
type logTransport struct {
	logger *slog.Logger
}

func (t logTransport) Send(_ context.Context, channelID, text string) error {
	t.logger.Info("outbound message", "channel_id", channelID, "length", len(text))
	return nil
}
