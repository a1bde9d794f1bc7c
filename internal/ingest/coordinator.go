// Package ingest orchestrates the write path: normalize, chunk, embed, and
// persist one document atomically.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zyvault/zyvault/internal/checksum"
	"github.com/zyvault/zyvault/internal/chunker"
	"github.com/zyvault/zyvault/internal/storage"
	"github.com/zyvault/zyvault/internal/vector"
)

// Normalizer converts raw bytes to plain text.
type Normalizer interface {
	Normalize(ctx context.Context, data []byte) string
}

// BatchEmbedder maps texts to fixed-length vectors, one per input, in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Request describes one document arriving for ingestion.
type Request struct {
	AccountID string
	Title     string
	Source    string
	Path      string
	// Who is recorded in the audit trail (user ID, "whatsapp-bridge", ...).
	Who  string
	Data []byte
}

// Coordinator runs the ingestion pipeline.
type Coordinator struct {
	store      *storage.Store
	vectors    *vector.SQLiteStore
	normalizer Normalizer
	embedder   BatchEmbedder
	chunkOpts  chunker.Options
	logger     *slog.Logger
}

// New creates a Coordinator. Zero-valued chunk options fall back to defaults.
func New(store *storage.Store, vectors *vector.SQLiteStore, n Normalizer, e BatchEmbedder, opts chunker.Options, logger *slog.Logger) *Coordinator {
	if opts.MaxTokens == 0 {
		opts = chunker.DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, vectors: vectors, normalizer: n, embedder: e, chunkOpts: opts, logger: logger}
}

// Ingest processes one document end to end. The document, its chunks, and
// its vectors become visible in a single transaction; a pipeline failure
// before that transaction records a failed document owning nothing.
//
// Re-ingesting content already indexed for the account short-circuits and
// returns the existing document.
func (c *Coordinator) Ingest(ctx context.Context, req Request) (storage.Document, error) {
	if req.AccountID == "" {
		return storage.Document{}, fmt.Errorf("account id is required")
	}
	if len(req.Data) == 0 {
		return storage.Document{}, fmt.Errorf("document data is empty")
	}
	if req.Source == "" {
		req.Source = storage.SourceUpload
	}

	sum := checksum.Sum(req.Data)
	if existing, err := c.store.FindIndexedByChecksum(req.AccountID, sum); err == nil {
		c.logger.Info("duplicate content, skipping ingestion",
			"account_id", req.AccountID, "doc_id", existing.ID, "title", req.Title)
		return existing, nil
	} else if err != storage.ErrNotFound {
		return storage.Document{}, fmt.Errorf("checking for duplicate: %w", err)
	}

	doc := storage.Document{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Title:     req.Title,
		Source:    req.Source,
		Path:      req.Path,
		Checksum:  sum,
		Status:    storage.StatusIndexing,
		CreatedAt: time.Now().UTC(),
	}

	text := c.normalizer.Normalize(ctx, req.Data)
	pieces := chunker.Split(text, c.chunkOpts)
	if len(pieces) == 0 {
		c.recordFailure(doc, "no extractable text")
		return storage.Document{}, fmt.Errorf("document %q produced no chunks", req.Title)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	embeddings, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		c.recordFailure(doc, err.Error())
		return storage.Document{}, fmt.Errorf("embedding %d chunks: %w", len(pieces), err)
	}
	if err := checkDimensions(embeddings); err != nil {
		c.recordFailure(doc, err.Error())
		return storage.Document{}, err
	}

	chunks := make([]storage.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = storage.Chunk{
			ID:        uuid.NewString(),
			AccountID: req.AccountID,
			DocID:     doc.ID,
			OffsetTok: p.Offset,
			LengthTok: p.Length,
			Text:      p.Text,
			Page:      1,
		}
	}

	err = c.store.WithTx(func(tx *sql.Tx) error {
		if err := c.store.InsertDocumentTx(tx, doc); err != nil {
			return err
		}
		if err := c.store.InsertChunksTx(tx, chunks); err != nil {
			return err
		}
		for i, ch := range chunks {
			if err := c.vectors.InsertTx(tx, ch.ID, req.AccountID, embeddings[i], doc.CreatedAt); err != nil {
				return err
			}
		}
		return c.store.SetDocumentStatusTx(tx, doc.ID, storage.StatusIndexed)
	})
	if err != nil {
		return storage.Document{}, fmt.Errorf("persisting document %q: %w", req.Title, err)
	}
	doc.Status = storage.StatusIndexed

	c.audit(doc, req.Who, len(chunks))

	c.logger.Info("document indexed",
		"account_id", req.AccountID, "doc_id", doc.ID, "title", doc.Title,
		"source", doc.Source, "chunks", len(chunks))
	return doc, nil
}

// recordFailure persists a failed document in its own small transaction so
// operators can see the attempt. Best-effort.
func (c *Coordinator) recordFailure(doc storage.Document, reason string) {
	if err := c.store.SaveFailedDocument(doc); err != nil {
		c.logger.Error("recording failed document", "doc_id", doc.ID, "error", err)
		return
	}
	c.logger.Warn("ingestion failed", "doc_id", doc.ID, "title", doc.Title, "reason", reason)
}

// audit writes the provenance record outside the ingest transaction.
// Audit is telemetry, never part of the correctness contract.
func (c *Coordinator) audit(doc storage.Document, who string, chunkCount int) {
	details, _ := json.Marshal(map[string]any{
		"title":  doc.Title,
		"source": doc.Source,
		"chunks": chunkCount,
	})
	err := c.store.AppendAudit(storage.AuditEntry{
		AccountID: doc.AccountID,
		Who:       who,
		Action:    "ingest",
		Subject:   doc.ID,
		Details:   string(details),
	})
	if err != nil {
		c.logger.Warn("audit write failed", "doc_id", doc.ID, "error", err)
	}
}

func checkDimensions(embeddings [][]float32) error {
	if len(embeddings) == 0 {
		return fmt.Errorf("embedder returned no vectors")
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return fmt.Errorf("embedder returned empty vector")
	}
	for i, v := range embeddings {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return nil
}
