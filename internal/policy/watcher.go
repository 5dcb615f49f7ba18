// watcher.go hot-reloads the policy file. The parent directory is watched
// rather than the file itself so atomic-rename writers (editors, configmap
// updates) keep triggering reloads after the inode changes.
package policy

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fieldtrace/fieldtrace/internal/safego"
	"github.com/fieldtrace/fieldtrace/internal/telemetry"
)

// debounceDelay coalesces the event bursts most writers produce for a single
// save into one reload.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads and applies the policy file when it changes on disk. A file
// that fails validation is rejected and the last good policy stays active.
type Watcher struct {
	path    string
	applier *Applier
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewWatcher creates a watcher for the given policy file.
func NewWatcher(path string, applier *Applier) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy watcher: %w", err)
	}

	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch policy directory: %w", err)
	}

	return &Watcher{
		path:    path,
		applier: applier,
		watcher: fsw,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start launches the watch loop.
func (w *Watcher) Start() {
	safego.Go(w.run)
}

// Stop ends the watch loop and releases the filesystem watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()
}

func (w *Watcher) run() {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := make(chan struct{}, 1)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("policy watcher error", "error", err)
		}
	}
}

// Reload loads, validates, and applies the policy file. On failure the
// previously applied policy stays active.
func (w *Watcher) Reload() {
	p, err := Load(w.path)
	if err != nil {
		telemetry.PolicyReloadsTotal.WithLabelValues("error").Inc()
		slog.Error("policy reload rejected, keeping last good policy",
			"path", w.path,
			"error", err)
		return
	}

	w.applier.Apply(p)
	telemetry.PolicyReloadsTotal.WithLabelValues("success").Inc()
}
