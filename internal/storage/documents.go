package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertDocumentTx inserts a document row inside the given transaction.
func (s *Store) InsertDocumentTx(tx *sql.Tx, d Document) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := tx.Exec(`
		INSERT INTO documents (doc_id, account_id, title, source, path, checksum, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AccountID, d.Title, d.Source, d.Path, d.Checksum, d.Status,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", d.ID, err)
	}
	return nil
}

// InsertChunksTx bulk-inserts chunk rows inside the given transaction.
func (s *Store) InsertChunksTx(tx *sql.Tx, chunks []Chunk) error {
	stmt, err := tx.Prepare(`
		INSERT INTO chunks (chunk_id, account_id, doc_id, offset_tok, length_tok, text, page, section)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(c.ID, c.AccountID, c.DocID, c.OffsetTok, c.LengthTok, c.Text, c.Page, c.Section); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// SetDocumentStatusTx updates a document's status inside the given transaction.
func (s *Store) SetDocumentStatusTx(tx *sql.Tx, docID, status string) error {
	res, err := tx.Exec(`UPDATE documents SET status = ? WHERE doc_id = ?`, status, docID)
	if err != nil {
		return fmt.Errorf("updating document %s status: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveFailedDocument records a document whose pipeline failed before any
// chunks were persisted. Runs in its own short transaction so the failure is
// visible to operators without violating ingest atomicity.
func (s *Store) SaveFailedDocument(d Document) error {
	d.Status = StatusFailed
	return s.WithTx(func(tx *sql.Tx) error {
		return s.InsertDocumentTx(tx, d)
	})
}

// GetDocument returns a document by ID.
func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRow(`
		SELECT doc_id, account_id, title, source, path, checksum, status, created_at
		FROM documents WHERE doc_id = ?`, id,
	).Scan(&d.ID, &d.AccountID, &d.Title, &d.Source, &d.Path, &d.Checksum, &d.Status, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

// FindIndexedByChecksum returns an indexed document with the given content
// checksum for the account, or ErrNotFound. Used for duplicate detection at
// ingest time.
func (s *Store) FindIndexedByChecksum(accountID, sum string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRow(`
		SELECT doc_id, account_id, title, source, path, checksum, status, created_at
		FROM documents
		WHERE account_id = ? AND checksum = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`,
		accountID, sum, StatusIndexed,
	).Scan(&d.ID, &d.AccountID, &d.Title, &d.Source, &d.Path, &d.Checksum, &d.Status, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

// ListDocuments returns the account's most recent documents.
func (s *Store) ListDocuments(accountID string, limit int) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT doc_id, account_id, title, source, path, checksum, status, created_at
		FROM documents WHERE account_id = ?
		ORDER BY created_at DESC LIMIT ?`, accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.AccountID, &d.Title, &d.Source, &d.Path, &d.Checksum, &d.Status, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}

// DeleteDocumentsBySource removes all documents for the account with the
// given source, cascading to their chunks and vectors in one transaction.
// Returns the number of documents removed.
func (s *Store) DeleteDocumentsBySource(accountID, source string) (int, error) {
	var removed int
	err := s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM chunk_vectors WHERE chunk_id IN (
				SELECT c.chunk_id FROM chunks c
				JOIN documents d ON d.doc_id = c.doc_id
				WHERE d.account_id = ? AND d.source = ?
			)`, accountID, source); err != nil {
			return fmt.Errorf("deleting vectors: %w", err)
		}
		if _, err := tx.Exec(`
			DELETE FROM chunks WHERE doc_id IN (
				SELECT doc_id FROM documents WHERE account_id = ? AND source = ?
			)`, accountID, source); err != nil {
			return fmt.Errorf("deleting chunks: %w", err)
		}
		res, err := tx.Exec(`DELETE FROM documents WHERE account_id = ? AND source = ?`, accountID, source)
		if err != nil {
			return fmt.Errorf("deleting documents: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)
		return nil
	})
	return removed, err
}

// AppendAudit appends one provenance record.
func (s *Store) AppendAudit(e AuditEntry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	details := e.Details
	if details == "" {
		details = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO audit (account_id, who, action, subject, details, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.AccountID, e.Who, e.Action, e.Subject, details, at.Format(time.RFC3339),
	)
	return err
}

// ListAudit returns the account's most recent audit entries.
func (s *Store) ListAudit(accountID string, limit int) ([]AuditEntry, error) {
	rows, err := s.db.Query(`
		SELECT account_id, who, action, subject, details, at
		FROM audit WHERE account_id = ?
		ORDER BY at DESC, id DESC LIMIT ?`, accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at string
		if err := rows.Scan(&e.AccountID, &e.Who, &e.Action, &e.Subject, &e.Details, &at); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("parsing at: %w", err)
		}
		e.At = t
		results = append(results, e)
	}
	return results, rows.Err()
}
