package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pasta/chat/internal/auth"
	"pasta/chat/internal/chatapi"
	"pasta/chat/internal/chathub"
	"pasta/chat/internal/config"
	"pasta/chat/internal/localization"
	"pasta/chat/internal/logging"
	"pasta/chat/internal/speech"
	"pasta/chat/internal/storage"
	"pasta/chat/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	configPath string
	lang       string
)

// rootCmd runs the terminal client
var rootCmd = &cobra.Command{
	Use:   "pasta",
	Short: "PASTA chat client",
	Long: `Terminal client for the PASTA chatbots.

Sign in, pick a chatbot from the menu (tab) and chat. History streams live from the
configured message store; replies come from each chatbot's endpoint.`,
	SilenceUsage: true,
	RunE:         runClient,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PASTA_CONFIG"), "Path to config.yaml")
	rootCmd.Flags().StringVar(&lang, "lang", "", "UI language (default: from $LANG)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// The UI owns stdout.
	if err := logging.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath, true); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authClient := auth.NewClient(auth.Options{
		APIKey:        cfg.Auth.APIKey,
		IdentityURL:   cfg.Auth.IdentityURL,
		TokenURL:      cfg.Auth.TokenURL,
		RefreshMargin: cfg.Auth.RefreshMargin,
		SessionFile:   cfg.Auth.SessionFile,
	}, nil)

	watcher, closeStore, err := storage.NewWatcher(ctx, cfg.Store, authClient.IDToken)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logging.Error("failed to close message store", err)
		}
	}()

	sessions := chathub.NewManagerService(authClient, watcher, chatapi.NewClient(nil), speech.New(cfg.Speech), chathub.Options{
		HistoryLimit:   cfg.Chat.HistoryLimit,
		RequestTimeout: cfg.Chat.RequestTimeout,
	})

	text, err := localization.Default()
	if err != nil {
		return err
	}
	if lang == "" {
		lang = localization.Normalize(os.Getenv("LANG"))
	}

	app := ui.NewApp(ctx, ui.Deps{
		Auth:     authClient,
		Sessions: sessions,
		Features: cfg.Features,
		Text:     text,
		Lang:     lang,
		Restore: func(ctx context.Context) error {
			_, err := authClient.Restore(ctx)
			return err
		},
	})
	defer app.Close()

	logging.Infow("client started", "store", cfg.Store.Backend, "features", len(cfg.Features))
	if _, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ui failed: %w", err)
	}
	return nil
}
