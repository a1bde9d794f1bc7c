package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document statuses.
const (
	StatusIndexing = "indexing"
	StatusIndexed  = "indexed"
	StatusFailed   = "failed"
)

// Document sources.
const (
	SourceUpload   = "upload"
	SourceEmail    = "email"
	SourceWhatsApp = "whatsapp"
	SourceDrive    = "drive"
)

// Document is an ingested source document. Status moves indexing -> indexed
// on success; a document whose pipeline failed before chunks were persisted
// is recorded as failed and owns no chunks or vectors.
type Document struct {
	ID        string
	AccountID string
	Title     string
	Source    string
	Path      string
	Checksum  string
	Status    string
	CreatedAt time.Time
}

// Chunk is a token-aligned slice of a document's normalized text. Chunks are
// created in one batch per document and are immutable afterwards.
type Chunk struct {
	ID        string
	AccountID string
	DocID     string
	OffsetTok int
	LengthTok int
	Text      string
	Page      int
	Section   string
}

// AuditEntry is one append-only provenance record. Writes are best-effort:
// audit failures never roll back the operation they describe.
type AuditEntry struct {
	AccountID string
	Who       string
	Action    string
	Subject   string
	Details   string // JSON object stored as text
	At        time.Time
}

// Account is a tenant. All retrieval is scoped to one account.
type Account struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// WABinding links an account to a WhatsApp number via a routing code. The
// number is empty until the user sends their code through the bridge.
type WABinding struct {
	AccountID   string
	RoutingCode string
	WANumber    string
	BoundAt     time.Time
}
