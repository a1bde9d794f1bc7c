package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zyvault/zyvault/internal/storage"
)

// settleDelay gives writers time to finish before the file is read. Drive
// sync clients write large files in bursts.
const settleDelay = 2 * time.Second

// Watcher ingests files dropped into a synced drive folder.
type Watcher struct {
	dir         string
	accountID   string
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewWatcher creates a Watcher feeding files from dir into the account.
func NewWatcher(dir, accountID string, c *Coordinator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, accountID: accountID, coordinator: c, logger: logger}
}

// Run watches the folder until the context is cancelled. Ingestion errors
// for individual files are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("watching drive folder", "dir", w.dir, "account_id", w.accountID)

	// Pending files wait out the settle delay before ingestion; repeated
	// writes push the deadline forward.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if skipFile(event.Name) {
				continue
			}
			pending[event.Name] = time.Now().Add(settleDelay)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case <-ticker.C:
			now := time.Now()
			for path, due := range pending {
				if now.Before(due) {
					continue
				}
				delete(pending, path)
				w.ingestFile(ctx, path)
			}
		}
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("reading dropped file", "path", path, "error", err)
		return
	}
	_, err = w.coordinator.Ingest(ctx, Request{
		AccountID: w.accountID,
		Title:     filepath.Base(path),
		Source:    storage.SourceDrive,
		Path:      path,
		Who:       "drive-watcher",
		Data:      data,
	})
	if err != nil {
		w.logger.Warn("ingesting dropped file", "path", path, "error", err)
	}
}

// skipFile filters hidden files and sync-client temp artifacts.
func skipFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".tmp", ".crdownload", ".partial":
		return true
	}
	return false
}
