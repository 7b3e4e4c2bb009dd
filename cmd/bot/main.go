package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xaenox/dump-bot/internal/app"
	"github.com/xaenox/dump-bot/internal/bot"
	"github.com/xaenox/dump-bot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "bot",
		Short:        "Telegram bot that turns chat messages into classified dumps",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			run(configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the config file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}
	if cfg.Telegram.Token == "" {
		logger.Fatal("Telegram token is not set (telegram.token or TELEGRAM_TOKEN)")
	}

	// Initialize storage
	store, err := app.OpenStorage(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	ws := app.NewWorkspace(cfg, store, logger)

	// Initialize bot
	b, err := bot.New(cfg.Telegram.Token, ws, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Bot started")
	if err := b.Start(ctx); err != nil {
		logger.Error("Bot error", zap.Error(err))
	}
	logger.Info("Bot stopped")
}
