// Package intent derives retrieval hints from the user's question.
package intent

import "strings"

// Intent captures lightweight signals used to bias ranking. Hints narrow
// softly: ranking prefers matching documents but never filters to zero.
type Intent struct {
	// WantsLatest is set when the question asks about recent material.
	WantsLatest bool
	// SourceHint names a preferred document source ("whatsapp") or is empty.
	SourceHint string
	// TypeHint names a preferred document kind ("deck") or is empty.
	TypeHint string
}

// Any reports whether at least one signal fired.
func (i Intent) Any() bool {
	return i.WantsLatest || i.SourceHint != "" || i.TypeHint != ""
}

// Classifier turns a question into an Intent.
type Classifier interface {
	Classify(question string) Intent
}

// KeywordClassifier is the default Classifier: case-insensitive substring
// matching against a fixed keyword list. Fast, deterministic, and good enough
// for the phrasings users actually type.
type KeywordClassifier struct{}

var latestKeywords = []string{"latest", "recent", "today"}

var whatsappKeywords = []string{"whatsapp", "wa "}

var deckKeywords = []string{"pdf", "deck", "pitch", "slides", "presentation"}

// Classify scans the question for recency, source, and type keywords.
func (KeywordClassifier) Classify(question string) Intent {
	q := strings.ToLower(question)

	var it Intent
	for _, kw := range latestKeywords {
		if strings.Contains(q, kw) {
			it.WantsLatest = true
			break
		}
	}
	for _, kw := range whatsappKeywords {
		if strings.Contains(q, kw) {
			it.SourceHint = "whatsapp"
			break
		}
	}
	for _, kw := range deckKeywords {
		if strings.Contains(q, kw) {
			it.TypeHint = "deck"
			break
		}
	}
	return it
}
