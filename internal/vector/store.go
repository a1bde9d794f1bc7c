// Package vector stores chunk embeddings in SQLite and serves brute-force
// cosine similarity search scoped to one account.
package vector

import (
	"container/heap"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Hit is one search result: a chunk, its document metadata, and the cosine
// similarity against the query vector.
type Hit struct {
	ChunkID      string
	DocID        string
	AccountID    string
	Text         string
	Page         int
	Section      string
	DocTitle     string
	DocSource    string
	DocCreatedAt time.Time
	Score        float32
}

// Store is the vector search surface the retriever depends on.
type Store interface {
	Search(ctx context.Context, accountID string, vector []float32, topK int) ([]Hit, error)
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity
// search backed by SQLite.
//
// When the per-account vector count exceeds ~100K and query latency becomes
// noticeable, consider migrating to an ANN-indexed backend. ExportAll()
// extracts all records for migration.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The chunk_vectors table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// InsertTx adds one embedding row inside an ingest transaction, so vectors
// become visible together with their document and chunks.
func (s *SQLiteStore) InsertTx(tx *sql.Tx, chunkID, accountID string, embedding []float32, createdAt time.Time) error {
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	blob := encodeFloat32s(embedding)
	if _, err := tx.Exec(`
		INSERT INTO chunk_vectors (chunk_id, account_id, embedding, created_at)
		VALUES (?, ?, ?, ?)`,
		chunkID, accountID, blob, createdAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("inserting vector for chunk %s: %w", chunkID, err)
	}
	return nil
}

// idScore holds only the chunk ID and score during the scan phase of Search.
// Full rows are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over the account's
// vectors, returning the top-K most similar chunks with document metadata.
// Tenant isolation happens in SQL: rows from other accounts are never scanned.
func (s *SQLiteStore) Search(ctx context.Context, accountID string, vector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only chunk_id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, embedding FROM chunk_vectors WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch chunk text and document metadata only for the winners.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `
		SELECT c.chunk_id, c.doc_id, c.account_id, c.text, c.page, c.section,
		       d.title, d.source, d.created_at
		FROM chunks c
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE c.chunk_id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K chunks: %w", err)
	}
	defer fullRows.Close()

	var results []Hit
	for fullRows.Next() {
		var hit Hit
		var createdAt string
		if err := fullRows.Scan(&hit.ChunkID, &hit.DocID, &hit.AccountID, &hit.Text, &hit.Page, &hit.Section,
			&hit.DocTitle, &hit.DocSource, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning full row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", hit.DocID, err)
		}
		hit.DocCreatedAt = t
		hit.Score = scores[hit.ChunkID]
		results = append(results, hit)
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full rows: %w", err)
	}

	// Sort results by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// sortByScore sorts hits by Score descending. Used for small slices (topK).
func sortByScore(results []Hit) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// Count returns the number of vectors stored for the account.
func (s *SQLiteStore) Count(accountID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunk_vectors WHERE account_id = ?`, accountID).Scan(&count)
	return count, err
}

// ExportAll returns every embedding for the account in insertion order.
// Used for data migration to another vector backend.
func (s *SQLiteStore) ExportAll(accountID string) (map[string][]float32, error) {
	rows, err := s.db.Query(`
		SELECT chunk_id, embedding FROM chunk_vectors
		WHERE account_id = ? ORDER BY created_at ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying all vectors: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		v, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		out[id] = v
	}
	return out, rows.Err()
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
