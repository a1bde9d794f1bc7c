package retrieval

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/zyvault/zyvault/internal/intent"
	"github.com/zyvault/zyvault/internal/vector"
)

// Recency policy. Windows are trailing from query time; the decay half-life
// is roughly one day.
const (
	latestWindow = 36 * time.Hour

	waWindowTight = 24 * time.Hour
	waWindowLoose = 48 * time.Hour
	waMaxDocs     = 3

	deckWindowTight = 48 * time.Hour
	deckWindowLoose = 96 * time.Hour
	deckMaxDocs     = 2

	decayHours = 24.0

	recencyWeightIntent  = 0.6
	recencyWeightDefault = 0.25
)

// rank applies the full heuristic pipeline to over-fetched candidates:
// intent narrowing, recency windows, a hard newest-document gate, a
// recency-decay score blend, and one-chunk-per-document dedup. The result
// carries 1-based citation indexes.
func rank(it intent.Intent, hits []vector.Hit, topK int, now time.Time) []Evidence {
	cands := hits

	// Source/type narrowing is soft: never empties the set when nothing
	// matches the hint.
	if it.SourceHint != "" {
		cands = narrow(cands, func(h vector.Hit) bool { return h.DocSource == it.SourceHint })
	}
	if it.TypeHint == "deck" {
		cands = narrow(cands, isDeck)
	}

	if it.WantsLatest {
		windowed := within(cands, now, latestWindow)
		if len(windowed) > 0 {
			cands = windowed
		} else {
			// Nothing inside the window; answer from the most recent
			// document available rather than failing.
			cands = newestDocOnly(cands)
		}
	}

	// Intent-specific re-narrowing: tighter windows and a cap on distinct
	// documents, so "the latest update" cannot blend stale and fresh files.
	if it.SourceHint == "whatsapp" {
		window := waWindowLoose
		if it.WantsLatest {
			window = waWindowTight
		}
		cands = renarrow(cands, now, window, waMaxDocs)
	}
	if it.TypeHint == "deck" {
		window := deckWindowLoose
		if it.WantsLatest {
			window = deckWindowTight
		}
		cands = renarrow(cands, now, window, deckMaxDocs)
	}

	// Hard gate: any intent collapses the set to the single newest document
	// so the synthesizer never mixes timelines.
	if it.Any() {
		cands = newestDocOnly(cands)
	}

	weight := recencyWeightDefault
	if it.Any() {
		weight = recencyWeightIntent
	}

	scored := make([]Evidence, len(cands))
	for i, h := range cands {
		ageHours := now.Sub(h.DocCreatedAt).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		scored[i] = Evidence{
			ChunkID:      h.ChunkID,
			DocID:        h.DocID,
			Title:        h.DocTitle,
			Source:       h.DocSource,
			Page:         h.Page,
			Text:         h.Text,
			DocCreatedAt: h.DocCreatedAt,
			Similarity:   h.Score,
			Adjusted:     float64(h.Score) + weight*math.Exp(-ageHours/decayHours),
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Adjusted > scored[j].Adjusted })

	// Dedup: keep the best chunk per document, in adjusted-score order.
	limit := topK
	if limit > maxEvidence {
		limit = maxEvidence
	}
	seen := make(map[string]bool)
	out := make([]Evidence, 0, limit)
	for _, e := range scored {
		if seen[e.DocID] {
			continue
		}
		seen[e.DocID] = true
		e.Citation = len(out) + 1
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}

// narrow keeps hits matching the predicate, or the original set when nothing
// matches.
func narrow(hits []vector.Hit, match func(vector.Hit) bool) []vector.Hit {
	var kept []vector.Hit
	for _, h := range hits {
		if match(h) {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		return hits
	}
	return kept
}

// within keeps hits whose document falls inside the trailing window.
func within(hits []vector.Hit, now time.Time, window time.Duration) []vector.Hit {
	var kept []vector.Hit
	for _, h := range hits {
		if now.Sub(h.DocCreatedAt) <= window {
			kept = append(kept, h)
		}
	}
	return kept
}

// renarrow applies an intent-specific window (softly, like narrow) and then
// caps the set to the most recent maxDocs distinct documents.
func renarrow(hits []vector.Hit, now time.Time, window time.Duration, maxDocs int) []vector.Hit {
	if windowed := within(hits, now, window); len(windowed) > 0 {
		hits = windowed
	}

	// Rank distinct documents by recency.
	newest := make(map[string]time.Time)
	for _, h := range hits {
		if t, ok := newest[h.DocID]; !ok || h.DocCreatedAt.After(t) {
			newest[h.DocID] = h.DocCreatedAt
		}
	}
	docIDs := make([]string, 0, len(newest))
	for id := range newest {
		docIDs = append(docIDs, id)
	}
	sort.Slice(docIDs, func(i, j int) bool { return newest[docIDs[i]].After(newest[docIDs[j]]) })
	if len(docIDs) > maxDocs {
		docIDs = docIDs[:maxDocs]
	}
	allowed := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		allowed[id] = true
	}

	var kept []vector.Hit
	for _, h := range hits {
		if allowed[h.DocID] {
			kept = append(kept, h)
		}
	}
	return kept
}

// newestDocOnly keeps only chunks belonging to the most recent document.
func newestDocOnly(hits []vector.Hit) []vector.Hit {
	if len(hits) == 0 {
		return hits
	}
	var newestID string
	var newestAt time.Time
	for _, h := range hits {
		if h.DocCreatedAt.After(newestAt) {
			newestAt = h.DocCreatedAt
			newestID = h.DocID
		}
	}
	var kept []vector.Hit
	for _, h := range hits {
		if h.DocID == newestID {
			kept = append(kept, h)
		}
	}
	return kept
}

// isDeck reports whether the document looks like a slide deck or PDF, based
// on its title.
func isDeck(h vector.Hit) bool {
	t := strings.ToLower(h.DocTitle)
	for _, kw := range []string{".pdf", "deck", "pitch", "slides", "presentation"} {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}
