package storage

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)
	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("no migrations applied")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("versions not strictly ascending: %v", versions)
		}
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	s := openTestStore(t)

	doc := Document{
		ID:        "doc-1",
		AccountID: "acct-1",
		Title:     "Q3 Board Deck",
		Source:    SourceUpload,
		Checksum:  "abc123",
		Status:    StatusIndexing,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	chunks := []Chunk{
		{ID: "ch-1", AccountID: "acct-1", DocID: "doc-1", OffsetTok: 0, LengthTok: 1200, Text: "first window", Page: 1},
		{ID: "ch-2", AccountID: "acct-1", DocID: "doc-1", OffsetTok: 1080, LengthTok: 900, Text: "second window", Page: 2},
	}

	err := s.WithTx(func(tx *sql.Tx) error {
		if err := s.InsertDocumentTx(tx, doc); err != nil {
			return err
		}
		if err := s.InsertChunksTx(tx, chunks); err != nil {
			return err
		}
		return s.SetDocumentStatusTx(tx, doc.ID, StatusIndexed)
	})
	if err != nil {
		t.Fatalf("ingest transaction: %v", err)
	}

	got, err := s.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != StatusIndexed {
		t.Errorf("status = %q, want %q", got.Status, StatusIndexed)
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, doc.CreatedAt)
	}
}

// A failure mid-transaction must leave no trace of the document or its chunks.
func TestIngestTransactionAtomic(t *testing.T) {
	s := openTestStore(t)

	boom := errors.New("embedding provider down")
	err := s.WithTx(func(tx *sql.Tx) error {
		doc := Document{ID: "doc-x", AccountID: "acct-1", Title: "t", Source: SourceUpload, Checksum: "c", Status: StatusIndexing}
		if err := s.InsertDocumentTx(tx, doc); err != nil {
			return err
		}
		if err := s.InsertChunksTx(tx, []Chunk{{ID: "ch-x", AccountID: "acct-1", DocID: "doc-x", Text: "t"}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want %v", err, boom)
	}

	if _, err := s.GetDocument("doc-x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("document visible after rollback: %v", err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE doc_id = 'doc-x'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("chunks visible after rollback: %d", n)
	}
}

func TestFindIndexedByChecksum(t *testing.T) {
	s := openTestStore(t)

	insert := func(id, status string) {
		t.Helper()
		err := s.WithTx(func(tx *sql.Tx) error {
			return s.InsertDocumentTx(tx, Document{
				ID: id, AccountID: "acct-1", Title: "t", Source: SourceUpload,
				Checksum: "same-sum", Status: status,
			})
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	insert("doc-failed", StatusFailed)
	if _, err := s.FindIndexedByChecksum("acct-1", "same-sum"); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed document matched as duplicate: %v", err)
	}

	insert("doc-good", StatusIndexed)
	got, err := s.FindIndexedByChecksum("acct-1", "same-sum")
	if err != nil {
		t.Fatalf("FindIndexedByChecksum: %v", err)
	}
	if got.ID != "doc-good" {
		t.Errorf("matched %q, want doc-good", got.ID)
	}

	// Other accounts never see the duplicate.
	if _, err := s.FindIndexedByChecksum("acct-2", "same-sum"); !errors.Is(err, ErrNotFound) {
		t.Errorf("checksum matched across accounts: %v", err)
	}
}

func TestDeleteDocumentsBySourceCascades(t *testing.T) {
	s := openTestStore(t)

	err := s.WithTx(func(tx *sql.Tx) error {
		for _, d := range []Document{
			{ID: "wa-1", AccountID: "acct-1", Title: "wa", Source: SourceWhatsApp, Checksum: "1", Status: StatusIndexed},
			{ID: "up-1", AccountID: "acct-1", Title: "up", Source: SourceUpload, Checksum: "2", Status: StatusIndexed},
		} {
			if err := s.InsertDocumentTx(tx, d); err != nil {
				return err
			}
		}
		return s.InsertChunksTx(tx, []Chunk{
			{ID: "ch-wa", AccountID: "acct-1", DocID: "wa-1", Text: "wa text"},
			{ID: "ch-up", AccountID: "acct-1", DocID: "up-1", Text: "up text"},
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	removed, err := s.DeleteDocumentsBySource("acct-1", SourceWhatsApp)
	if err != nil {
		t.Fatalf("DeleteDocumentsBySource: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.GetDocument("wa-1"); !errors.Is(err, ErrNotFound) {
		t.Error("whatsapp document survived deletion")
	}
	if _, err := s.GetDocument("up-1"); err != nil {
		t.Errorf("upload document should survive: %v", err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE doc_id = 'wa-1'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("orphan chunks left behind: %d", n)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, action := range []string{"ingest", "ask", "ask"} {
		err := s.AppendAudit(AuditEntry{
			AccountID: "acct-1",
			Who:       "user-1",
			Action:    action,
			Subject:   "doc-1",
			At:        base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	entries, err := s.ListAudit("acct-1", 2)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if !entries[0].At.After(entries[1].At) {
		t.Error("audit entries not newest first")
	}
	if entries[0].Details != "{}" {
		t.Errorf("empty details not defaulted: %q", entries[0].Details)
	}
}

func TestAccountAndBindingLifecycle(t *testing.T) {
	s := openTestStore(t)

	acct := Account{ID: "acct-1", Name: "Fund I"}
	if err := s.CreateAccount(acct, "uid-1", "ZV-AB12CD"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	id, err := s.AccountForUser("uid-1")
	if err != nil || id != "acct-1" {
		t.Fatalf("AccountForUser = %q, %v", id, err)
	}
	if _, err := s.AccountForUser("uid-unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown uid = %v, want ErrNotFound", err)
	}

	b, err := s.BindNumber("ZV-AB12CD", "+15551234567")
	if err != nil {
		t.Fatalf("BindNumber: %v", err)
	}
	if b.AccountID != "acct-1" || b.WANumber != "+15551234567" {
		t.Errorf("binding = %+v", b)
	}

	got, err := s.FindBindingByNumber("+15551234567")
	if err != nil || got.AccountID != "acct-1" {
		t.Fatalf("FindBindingByNumber = %+v, %v", got, err)
	}

	// Rebinding the same number through a second account's code moves it.
	if err := s.CreateAccount(Account{ID: "acct-2", Name: "Fund II"}, "uid-2", "ZV-EF34GH"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BindNumber("ZV-EF34GH", "+15551234567"); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	got, err = s.FindBindingByNumber("+15551234567")
	if err != nil || got.AccountID != "acct-2" {
		t.Fatalf("after rebind, FindBindingByNumber = %+v, %v", got, err)
	}
	first, err := s.GetBinding("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.WANumber != "" {
		t.Errorf("first account still holds number %q", first.WANumber)
	}

	if _, err := s.BindNumber("ZV-NOPE00", "+15550000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown code = %v, want ErrNotFound", err)
	}

	cleared, err := s.ResetBindings()
	if err != nil || cleared != 1 {
		t.Fatalf("ResetBindings = %d, %v, want 1 cleared", cleared, err)
	}
}
