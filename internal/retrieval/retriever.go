// Package retrieval embeds questions, queries the vector store, and ranks
// candidates with intent and recency heuristics into a cited evidence list.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zyvault/zyvault/internal/intent"
	"github.com/zyvault/zyvault/internal/vector"
)

// overfetchFactor leaves headroom for downstream filtering: intent windows
// and per-document dedup can discard most of the raw neighbors.
const overfetchFactor = 3

// maxEvidence caps the final evidence list regardless of the requested count.
const maxEvidence = 6

// Embedder is the single-text embedding capability the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Evidence is one ranked, citable piece of retrieved context.
type Evidence struct {
	// Citation is the 1-based index used in answers, e.g. [2].
	Citation     int
	ChunkID      string
	DocID        string
	Title        string
	Source       string
	Page         int
	Text         string
	DocCreatedAt time.Time
	// Similarity is the raw cosine score from the vector store.
	Similarity float32
	// Adjusted blends similarity with recency decay.
	Adjusted float64
}

// Retriever runs the query-time pipeline: embed, nearest-neighbor search,
// intent-aware ranking.
type Retriever struct {
	embedder   Embedder
	store      vector.Store
	classifier intent.Classifier
	logger     *slog.Logger
}

// New creates a Retriever. A nil classifier defaults to keyword matching.
func New(embedder Embedder, store vector.Store, classifier intent.Classifier, logger *slog.Logger) *Retriever {
	if classifier == nil {
		classifier = intent.KeywordClassifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, classifier: classifier, logger: logger}
}

// Retrieve returns the top evidence for the question, scoped to the account.
// Returns an empty slice (not an error) when the account has no matching
// vectors.
func (r *Retriever) Retrieve(ctx context.Context, accountID, question string, topK int) ([]Evidence, error) {
	if topK <= 0 {
		topK = maxEvidence
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	hits, err := r.store.Search(ctx, accountID, vec, topK*overfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	it := r.classifier.Classify(question)
	evidence := rank(it, hits, topK, time.Now().UTC())

	r.logger.Debug("retrieval complete",
		"account_id", accountID,
		"candidates", len(hits),
		"evidence", len(evidence),
		"wants_latest", it.WantsLatest,
		"source_hint", it.SourceHint,
		"type_hint", it.TypeHint)

	return evidence, nil
}
