// Package main provides the askdocs server CLI.
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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/askdocs/askdocs/internal/auth"
	"github.com/askdocs/askdocs/internal/cleanup"
	"github.com/askdocs/askdocs/internal/config"
	"github.com/askdocs/askdocs/internal/embedding"
	"github.com/askdocs/askdocs/internal/index"
	"github.com/askdocs/askdocs/internal/llm"
	"github.com/askdocs/askdocs/internal/loader"
	"github.com/askdocs/askdocs/internal/rag"
	"github.com/askdocs/askdocs/internal/server"
	"github.com/askdocs/askdocs/internal/splitter"
	"github.com/askdocs/askdocs/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "askdocs",
	Short: "Personal document question-answering service",
	Long:  "askdocs indexes each user's uploaded documents in Qdrant and answers questions grounded in them",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the askdocs HTTP API.

Environment variables:
  QDRANT_HOST         Qdrant hostname (default: localhost)
  QDRANT_PORT         Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY      OpenAI API key for embeddings (required)
  GROQ_API_KEY        Groq API key for answer generation (required)
  ASKDOCS_JWT_SECRET  JWT signing secret (required)
  ASKDOCS_DATA_DIR    Data directory (default: ./data)
  ASKDOCS_PORT        HTTP listen port (default: 8080)`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.Chat.APIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("ASKDOCS_JWT_SECRET is required")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer st.Close()

	logger.Info("Connecting to Qdrant", "host", cfg.Qdrant.Host, "port", cfg.Qdrant.Port)
	vectorStore, err := index.NewStore(cfg.Qdrant.Host, cfg.Qdrant.Port)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()

	embeddingClient, err := embedding.NewClient(cfg.OpenAI.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(embeddingClient, 0) // default batch size

	generator, err := llm.NewGenerator(llm.Config{
		APIKey:      cfg.Chat.APIKey,
		BaseURL:     cfg.Chat.BaseURL,
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temp,
	})
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	docLoader := loader.New()
	textSplitter := splitter.New(cfg.Engine.ChunkSize, cfg.Engine.ChunkOverlap)

	engines := func(userID int64) (server.Engine, string) {
		userIndex := vectorStore.ForUser(userID, cfg.DataDir, embedder, logger)
		engine := rag.New(rag.Config{
			UserID:    userID,
			Index:     userIndex,
			Loader:    docLoader,
			Splitter:  textSplitter,
			Generator: generator,
			K:         cfg.Engine.RetrieverK,
			FetchK:    cfg.Engine.FetchK,
			Logger:    logger,
		})
		return engine, userIndex.DataDir()
	}

	authn := auth.New(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHrs)*time.Hour)
	srv := server.New(st, authn, engines, cfg, logger)

	purger := cleanup.New(cleanup.Config{Store: st, Logger: logger})
	purger.Start()
	defer purger.Stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
