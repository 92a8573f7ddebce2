// Package filewatch keeps a document in sync with an HTML file on disk. Static
// site rebuilds rewrite the file; each settled rewrite becomes one Replace.
package filewatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/hash/sha256"
)

// DefaultSettle is how long the watcher waits after the last event before reloading.
const DefaultSettle = 150 * time.Millisecond

// Replacer receives the new file content.
type Replacer interface {
	Replace(r io.Reader) error
}

// Watcher reloads a single file into a Replacer when it changes.
type Watcher struct {
	path   string
	target Replacer
	settle time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	lastHash string
	reloads  int
}

// New creates a Watcher for path. settle <= 0 uses DefaultSettle.
func New(path string, target Replacer, settle time.Duration, logger *zap.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{path: path, target: target, settle: settle, logger: logger}
}

// Load reads the file once and pushes it to the target if the content differs
// from the last successful load.
func (w *Watcher) Load() (bool, error) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", w.path, err)
	}
	digest := sha256.Sum(raw)
	w.mu.Lock()
	unchanged := digest == w.lastHash
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}
	if err := w.target.Replace(bytes.NewReader(raw)); err != nil {
		return false, fmt.Errorf("replace document: %w", err)
	}
	w.mu.Lock()
	w.lastHash = digest
	w.reloads++
	w.mu.Unlock()
	return true, nil
}

// Reloads reports how many loads changed the document.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Run watches the file's directory until ctx ends. Editors and generators
// often replace files by rename, so the directory is watched rather than the
// file itself.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching document file", zap.String("path", w.path))

	timer := time.NewTimer(w.settle)
	stopTimer(timer)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watch events closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			resetTimer(timer, w.settle)
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watch errors closed")
			}
			w.logger.Warn("document watch error", zap.Error(err))
		case <-timer.C:
			changed, err := w.Load()
			if err != nil {
				w.logger.Warn("document reload failed", zap.String("path", w.path), zap.Error(err))
				continue
			}
			if changed {
				w.logger.Debug("document reloaded", zap.String("path", w.path))
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
