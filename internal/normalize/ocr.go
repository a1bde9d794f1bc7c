package normalize

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ocrPDF rasterizes up to opts.MaxPages pages with pdftoppm and runs
// tesseract over each page image, concatenating non-empty page results with
// blank-line separators. Tool unavailability or failure is non-fatal: the
// caller falls through to the raw-bytes tier.
//
// Temporary per-job storage is always released, including on partial failure.
func (n *Normalizer) ocrPDF(ctx context.Context, data []byte) (string, bool) {
	tmpDir, err := os.MkdirTemp("", "zyvault-ocr-")
	if err != nil {
		n.logger.Warn("ocr: creating temp dir failed", "error", err)
		return "", false
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		n.logger.Warn("ocr: writing temp pdf failed", "error", err)
		return "", false
	}

	outPrefix := filepath.Join(tmpDir, "page")
	args := []string{
		"-png",
		"-r", strconv.Itoa(n.opts.DPI),
		"-f", "1",
		"-l", strconv.Itoa(n.opts.MaxPages),
		pdfPath, outPrefix,
	}
	if out, err := exec.CommandContext(ctx, n.opts.PdftoppmPath, args...).CombinedOutput(); err != nil {
		n.logger.Warn("ocr: pdftoppm unavailable or failed", "error", err, "output", strings.TrimSpace(string(out)))
		return "", false
	}

	pages, err := collectPageImages(tmpDir)
	if err != nil {
		n.logger.Warn("ocr: listing page images failed", "error", err)
		return "", false
	}

	var parts []string
	for _, p := range pages {
		text, err := n.recognizePage(ctx, p)
		if err != nil {
			// Per-page failure is isolated; remaining pages still contribute.
			n.logger.Warn("ocr: page recognition failed", "page", filepath.Base(p), "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	joined := strings.TrimSpace(strings.Join(parts, "\n\n"))
	return joined, joined != ""
}

// recognizePage runs tesseract on a single page image, writing to stdout.
func (n *Normalizer) recognizePage(ctx context.Context, imagePath string) (string, error) {
	out, err := exec.CommandContext(ctx, n.opts.TesseractPath, imagePath, "stdout", "-l", "eng").Output()
	if err != nil {
		return "", fmt.Errorf("running tesseract: %w", err)
	}
	return string(out), nil
}

// collectPageImages returns pdftoppm output files (page-1.png, page-2.png,
// ...) in page order. pdftoppm zero-pads page numbers depending on the page
// count, so sort numerically rather than lexically.
func collectPageImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type pageFile struct {
		path string
		num  int
	}
	var pages []pageFile
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "page-") || !strings.HasSuffix(name, ".png") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "page-"), ".png")
		num, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		pages = append(pages, pageFile{path: filepath.Join(dir, name), num: num})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	paths := make([]string, len(pages))
	for i, p := range pages {
		paths[i] = p.path
	}
	return paths, nil
}
