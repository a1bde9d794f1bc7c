package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/zyvault/zyvault/internal/chunker"
	"github.com/zyvault/zyvault/internal/config"
	"github.com/zyvault/zyvault/internal/ingest"
	"github.com/zyvault/zyvault/internal/llm"
	"github.com/zyvault/zyvault/internal/normalize"
	"github.com/zyvault/zyvault/internal/storage"
	"github.com/zyvault/zyvault/internal/vector"
)

func init() {
	ingestCmd.Flags().String("account", "", "account ID to ingest into")
	ingestCmd.Flags().String("title", "", "document title (defaults to the file name)")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a file directly into the vault",
	Long: `Ingest a file directly into the vault without going through the server.

Examples:
  zyvault ingest ./q3-report.pdf --account acct-123
  zyvault ingest ./notes.txt --account acct-123 --title "Call notes"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetString("account")
		title, _ := cmd.Flags().GetString("title")
		if accountID == "" {
			return fmt.Errorf("--account is required")
		}

		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		if title == "" {
			title = filepath.Base(path)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		client := llm.New(llm.Config{
			BaseURL:    cfg.Provider.BaseURL,
			APIKey:     cfg.Provider.APIKey,
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
		coordinator := ingest.New(store, vector.NewSQLiteStore(store.DB()), normalizer, client, chunker.Options{
			MinTokens: cfg.Chunking.MinTokens,
			MaxTokens: cfg.Chunking.MaxTokens,
			Overlap:   cfg.Chunking.Overlap,
		}, nil)

		doc, err := coordinator.Ingest(context.Background(), ingest.Request{
			AccountID: accountID,
			Title:     title,
			Source:    storage.SourceUpload,
			Path:      path,
			Who:       "cli",
			Data:      data,
		})
		if err != nil {
			printError("ingestion failed: %v", err)
			return err
		}

		printSuccess("Indexed %s (doc %s)", title, doc.ID)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <account>",
	Short: "Export an account's embeddings as JSON",
	Long: `Export every stored chunk embedding for the account as a JSON object
keyed by chunk ID, written to stdout. Useful when migrating vectors to
another backend.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID := args[0]

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		vectors := vector.NewSQLiteStore(store.DB())
		count, err := vectors.Count(accountID)
		if err != nil {
			return fmt.Errorf("counting vectors: %w", err)
		}
		vecs, err := vectors.ExportAll(accountID)
		if err != nil {
			return fmt.Errorf("exporting vectors: %w", err)
		}

		if err := json.NewEncoder(os.Stdout).Encode(vecs); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		printSuccess("Exported %d vectors for %s", count, accountID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show zyvault system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				printStatus("Server", "running on port %d", cfg.Server.Port)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}

		printStatus("Provider", "%s", cfg.Provider.BaseURL)
		printStatus("Chat model", "%s", cfg.Provider.ChatModel)
		printStatus("Agent model", "%s", cfg.Provider.AgentModel)
		printStatus("Embed model", "%s", cfg.Provider.EmbedModel)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		if cfg.Watch.Dir != "" {
			printStatus("Drive watch", "%s", cfg.Watch.Dir)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the zyvault version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("zyvault version %s\n", version)
	},
}
