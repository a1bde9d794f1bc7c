// Package normalize converts raw document bytes into plain text.
//
// PDFs go through a tiered pipeline: direct text extraction first, then
// rasterize+OCR, then raw UTF-8 as the structural last resort. Each tier
// failing is logged and degrades silently to the next; Normalize itself
// never fails.
package normalize

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// minAlphaChars is the acceptance threshold for direct PDF extraction: after
// stripping non-alphabetic characters at least this much must remain,
// otherwise the result is treated as garbage and OCR is attempted instead.
const minAlphaChars = 40

var pdfMagic = []byte("%PDF")

// Options configures the OCR fallback tier.
type Options struct {
	MaxPages      int    // page cap for rasterization (default 12)
	DPI           int    // raster resolution (default 200)
	PdftoppmPath  string // default "pdftoppm"
	TesseractPath string // default "tesseract"
}

// DefaultOptions returns the OCR policy defaults.
func DefaultOptions() Options {
	return Options{MaxPages: 12, DPI: 200, PdftoppmPath: "pdftoppm", TesseractPath: "tesseract"}
}

// Normalizer converts document bytes to text.
type Normalizer struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Normalizer. Zero-valued option fields fall back to defaults.
func New(opts Options) *Normalizer {
	def := DefaultOptions()
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.DPI <= 0 {
		opts.DPI = def.DPI
	}
	if opts.PdftoppmPath == "" {
		opts.PdftoppmPath = def.PdftoppmPath
	}
	if opts.TesseractPath == "" {
		opts.TesseractPath = def.TesseractPath
	}
	return &Normalizer{opts: opts, logger: slog.Default()}
}

// Normalize converts raw bytes to plain text. It never returns an error for
// content reasons: the raw-UTF8 tier always succeeds structurally, though it
// may produce low-quality text for binary input.
func (n *Normalizer) Normalize(ctx context.Context, data []byte) string {
	if bytes.HasPrefix(data, pdfMagic) {
		if text, ok := n.extractPDFText(data); ok {
			return text
		}
		if text, ok := n.ocrPDF(ctx, data); ok {
			return text
		}
		n.logger.Warn("pdf extraction and OCR both empty, falling back to raw bytes")
	}
	return string(data)
}

// extractPDFText attempts direct text extraction. The result is accepted only
// if it passes the alphabetic-content guard.
func (n *Normalizer) extractPDFText(data []byte) (text string, ok bool) {
	// The pdf library panics on some malformed files; contain it so a bad
	// upload degrades to OCR instead of taking down the ingest.
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("pdf extraction panicked, will try OCR", "panic", r)
			text, ok = "", false
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		n.logger.Warn("pdf open failed, will try OCR", "error", err)
		return "", false
	}
	plain, err := r.GetPlainText()
	if err != nil {
		n.logger.Warn("pdf text extraction failed, will try OCR", "error", err)
		return "", false
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		n.logger.Warn("reading pdf text failed, will try OCR", "error", err)
		return "", false
	}

	out := strings.TrimSpace(string(raw))
	if countAlpha(out) < minAlphaChars {
		n.logger.Warn("pdf text below alphabetic threshold, will try OCR", "alpha_chars", countAlpha(out))
		return "", false
	}
	return out, true
}

func countAlpha(s string) int {
	count := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			count++
		}
	}
	return count
}
