package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pasta/chat/internal/api/handler"
	"pasta/chat/internal/auth"
	"pasta/chat/internal/config"
	"pasta/chat/internal/logging"
	"pasta/chat/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pasta-backend",
	Short: "PASTA development backend",
	Long: `Local stand-in for the services the client talks to: the identity REST endpoints,
one chat endpoint per chatbot and the websocket message stream. Messages live in
PostgreSQL; changes are announced over Redis.`,
	SilenceUsage: true,
	RunE:         runBackend,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PASTA_CONFIG"), "Path to config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBackend(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath, false); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	logging.Info("Starting PASTA backend...")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := storage.OpenService(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logging.Error("failed to close store", err)
		}
	}()
	if err := svc.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logging.Info("Database and Redis connections established, migrations complete.")

	if cfg.Server.JWTSecret == "" {
		logging.Warnf("server.jwt_secret is not set; tokens will not survive a restart")
	}
	tokens := auth.NewTokenManager(cfg.Server.JWTSecret, cfg.Server.TokenTTL)
	refreshSecret := ""
	if cfg.Server.JWTSecret != "" {
		refreshSecret = cfg.Server.JWTSecret + ":refresh"
	}
	refresh := auth.NewTokenManager(refreshSecret, cfg.Server.RefreshTTL)

	responder := handler.NewResponder(cfg.Server.LLM)
	if cfg.Server.LLM.BaseURL == "" {
		logging.Info("No LLM configured; chatbots answer with canned replies")
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(svc, svc, tokens, refresh, cfg.Features, responder)
	h.HistoryLimit = cfg.Chat.HistoryLimit

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Infow("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logging.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
