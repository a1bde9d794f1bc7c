package retrieval

import (
	"testing"
	"time"

	"github.com/zyvault/zyvault/internal/intent"
	"github.com/zyvault/zyvault/internal/vector"
)

func hit(chunkID, docID, title, source string, score float32, age time.Duration, now time.Time) vector.Hit {
	return vector.Hit{
		ChunkID:      chunkID,
		DocID:        docID,
		DocTitle:     title,
		DocSource:    source,
		Text:         "text " + chunkID,
		Page:         1,
		Score:        score,
		DocCreatedAt: now.Add(-age),
	}
}

// Two equally similar chunks, one from an hour-old document and one from a
// year-old document: a "latest" question must return only the fresh one.
func TestRankRecencyGate(t *testing.T) {
	now := time.Now().UTC()
	hits := []vector.Hit{
		hit("ch-old", "doc-old", "Old Report", "upload", 0.9, 365*24*time.Hour, now),
		hit("ch-new", "doc-new", "New Report", "upload", 0.9, time.Hour, now),
	}

	got := rank(intent.Intent{WantsLatest: true}, hits, 6, now)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].DocID != "doc-new" {
		t.Errorf("gate kept %s, want doc-new", got[0].DocID)
	}
}

// Without any intent the stale chunk survives but ranks below the fresh one
// at equal similarity, because of the decay blend.
func TestRankDecayWithoutIntent(t *testing.T) {
	now := time.Now().UTC()
	hits := []vector.Hit{
		hit("ch-old", "doc-old", "Old", "upload", 0.9, 90*24*time.Hour, now),
		hit("ch-new", "doc-new", "New", "upload", 0.9, time.Hour, now),
	}

	got := rank(intent.Intent{}, hits, 6, now)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].DocID != "doc-new" {
		t.Errorf("fresh doc should outrank stale at equal similarity")
	}
	if got[0].Adjusted <= got[1].Adjusted {
		t.Errorf("adjusted scores not descending: %v, %v", got[0].Adjusted, got[1].Adjusted)
	}
}

// Six chunks spread over two documents collapse to at most one chunk per
// document.
func TestRankDedupByDocument(t *testing.T) {
	now := time.Now().UTC()
	var hits []vector.Hit
	for i, c := range []struct {
		chunk, doc string
		score      float32
	}{
		{"a1", "doc-a", 0.95}, {"a2", "doc-a", 0.90}, {"a3", "doc-a", 0.85},
		{"b1", "doc-b", 0.80}, {"b2", "doc-b", 0.75}, {"b3", "doc-b", 0.70},
	} {
		_ = i
		hits = append(hits, hit(c.chunk, c.doc, "Title", "upload", c.score, time.Hour, now))
	}

	got := rank(intent.Intent{}, hits, 6, now)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ChunkID != "a1" || got[1].ChunkID != "b1" {
		t.Errorf("kept %s, %s; want best chunk per doc", got[0].ChunkID, got[1].ChunkID)
	}
	for i, e := range got {
		if e.Citation != i+1 {
			t.Errorf("citation[%d] = %d, want %d", i, e.Citation, i+1)
		}
	}
}

// A source hint with zero matching candidates must not empty the set.
func TestRankSoftNarrowing(t *testing.T) {
	now := time.Now().UTC()
	hits := []vector.Hit{
		hit("ch-1", "doc-1", "Upload Doc", "upload", 0.9, time.Hour, now),
	}

	got := rank(intent.Intent{SourceHint: "whatsapp"}, hits, 6, now)
	if len(got) != 1 {
		t.Fatalf("soft narrowing emptied the set")
	}
}

// When everything is older than the 36h window, fall back to the most recent
// document instead of returning nothing.
func TestRankLatestWindowFallback(t *testing.T) {
	now := time.Now().UTC()
	hits := []vector.Hit{
		hit("ch-1", "doc-1", "Older", "upload", 0.95, 10*24*time.Hour, now),
		hit("ch-2", "doc-2", "Newer", "upload", 0.60, 5*24*time.Hour, now),
	}

	got := rank(intent.Intent{WantsLatest: true}, hits, 6, now)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].DocID != "doc-2" {
		t.Errorf("fallback kept %s, want the most recent doc-2", got[0].DocID)
	}
}

// WhatsApp narrowing prefers whatsapp-sourced documents and, combined with
// the hard gate, lands on the newest one.
func TestRankWhatsAppIntent(t *testing.T) {
	now := time.Now().UTC()
	hits := []vector.Hit{
		hit("ch-up", "doc-up", "Upload", "upload", 0.99, time.Hour, now),
		hit("ch-wa1", "doc-wa1", "WA morning", "whatsapp", 0.70, 2*time.Hour, now),
		hit("ch-wa2", "doc-wa2", "WA evening", "whatsapp", 0.65, time.Minute, now),
	}

	got := rank(intent.Intent{SourceHint: "whatsapp"}, hits, 6, now)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Source != "whatsapp" || got[0].DocID != "doc-wa2" {
		t.Errorf("got %s from %s, want newest whatsapp doc", got[0].DocID, got[0].Source)
	}
}

func TestRankDeckIntentMatchesTitle(t *testing.T) {
	now := time.Now().UTC()
	hits := []vector.Hit{
		hit("ch-note", "doc-note", "meeting notes.txt", "upload", 0.95, time.Hour, now),
		hit("ch-deck", "doc-deck", "Series B Pitch Deck.pdf", "upload", 0.70, 2*time.Hour, now),
	}

	got := rank(intent.Intent{TypeHint: "deck"}, hits, 6, now)
	if len(got) != 1 || got[0].DocID != "doc-deck" {
		t.Fatalf("deck intent did not isolate the deck: %+v", got)
	}
}

func TestRankCapsAtSixDocuments(t *testing.T) {
	now := time.Now().UTC()
	var hits []vector.Hit
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		hits = append(hits, hit("ch-"+id, "doc-"+id, "T", "upload", float32(1)-float32(i)*0.01, time.Hour, now))
	}

	got := rank(intent.Intent{}, hits, 20, now)
	if len(got) != 6 {
		t.Errorf("len = %d, want cap of 6", len(got))
	}
}
