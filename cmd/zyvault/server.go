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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/zyvault/zyvault/internal/account"
	"github.com/zyvault/zyvault/internal/answer"
	"github.com/zyvault/zyvault/internal/api"
	"github.com/zyvault/zyvault/internal/chunker"
	"github.com/zyvault/zyvault/internal/config"
	"github.com/zyvault/zyvault/internal/ingest"
	"github.com/zyvault/zyvault/internal/llm"
	"github.com/zyvault/zyvault/internal/normalize"
	"github.com/zyvault/zyvault/internal/retrieval"
	"github.com/zyvault/zyvault/internal/storage"
	"github.com/zyvault/zyvault/internal/vector"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the zyvault server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "zyvault version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	client := llm.New(llm.Config{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		ChatModel:  cfg.Provider.ChatModel,
		AgentModel: cfg.Provider.AgentModel,
		EmbedModel: cfg.Provider.EmbedModel,
		Timeout:    time.Duration(cfg.Provider.TimeoutSec) * time.Second,
		RPS:        cfg.Provider.RPS,
	})

	normalizer := normalize.New(normalize.Options{
		MaxPages:      cfg.OCR.MaxPages,
		DPI:           cfg.OCR.DPI,
		PdftoppmPath:  cfg.OCR.PdftoppmPath,
		TesseractPath: cfg.OCR.TesseractPath,
	})

	vectorStore := vector.NewSQLiteStore(store.DB())
	coordinator := ingest.New(store, vectorStore, normalizer, client, chunker.Options{
		MinTokens: cfg.Chunking.MinTokens,
		MaxTokens: cfg.Chunking.MaxTokens,
		Overlap:   cfg.Chunking.Overlap,
	}, logger)

	retriever := retrieval.New(client, vectorStore, nil, logger)
	orchestrator := answer.New(client, answer.Options{
		ChatModel:    client.ChatModel(),
		AgentModel:   client.AgentModel(),
		AgentTimeout: time.Duration(cfg.Ask.AgentTimeoutSec) * time.Second,
		Temperature:  cfg.Ask.Temperature,
	}, logger)

	accounts := account.NewManager(store, logger)
	bridge := account.NewBridge(accounts, coordinator)

	handler := api.NewHandler(api.Deps{
		Store:       store,
		Accounts:    accounts,
		Bridge:      bridge,
		Ingestor:    coordinator,
		Retriever:   retriever,
		Answerer:    orchestrator,
		AdminToken:  cfg.Server.AdminToken,
		DefaultTopK: cfg.Ask.TopK,
		Logger:      logger,
	})

	// Drive drop-folder watcher, when configured.
	if cfg.Watch.Dir != "" {
		watcher := ingest.NewWatcher(cfg.Watch.Dir, cfg.Watch.AccountID, coordinator, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("drive watcher stopped", "error", err)
			}
		}()
	}

	// MCP server over stdio. The account is resolved per connection via the
	// ZYVAULT_MCP_ACCOUNT variable; skipped when unset.
	if mcpAccount := os.Getenv("ZYVAULT_MCP_ACCOUNT"); mcpAccount != "" {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Retriever: retriever,
			Answerer:  orchestrator,
			AccountID: mcpAccount,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	srv := &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "zyvault listening on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
