package notefs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/garnicia/internal/models"
)

// Event kinds passed to EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called for every external change to a note file.
type EventCallback func(kind string, id models.Identity)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the notes folder and reports file
// changes until ctx is cancelled.
//
// fsnotify reports a rename only on the old path; a short debounced
// reconciliation pass diffs the folder against the last known listing and
// reports whatever appeared or vanished.
func Watch(ctx context.Context, folder *Folder, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(folder.Root()); err != nil {
		return err
	}

	known := snapshotNames(folder, logger)
	logger.Info("watcher: started", slog.String("folder", folder.Root()))

	emit := func(kind string, id models.Identity) {
		if cb != nil {
			cb(kind, id)
		}
	}

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			current := snapshotNames(folder, logger)
			for name := range known {
				if _, ok := current[name]; !ok {
					logger.Debug("reconcile: vanished", slog.String("name", name))
					emit(EventDeleted, models.NewIdentity(folder.Root(), name))
				}
			}
			for name := range current {
				if _, ok := known[name]; !ok {
					logger.Debug("reconcile: appeared", slog.String("name", name))
					emit(EventCreated, models.NewIdentity(folder.Root(), name))
				}
			}
			known = current

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			name := filepath.Base(ev.Name)
			if filepath.Dir(ev.Name) != folder.Root() || strings.HasPrefix(name, ".") {
				continue
			}
			if ValidateName(name) != nil {
				// Editor swap files and other names a note cannot have.
				continue
			}
			id := models.NewIdentity(folder.Root(), name)

			switch {
			case ev.Op&fsnotify.Create != 0:
				// Save temp files, and files already gone again, are
				// picked up by the next listing if they matter.
				if folder.isSaveTemp(name) {
					continue
				}
				if _, err := os.Lstat(ev.Name); err != nil {
					continue
				}
				// A save renames a temp file over the note, which arrives
				// as a Create for a name we already know.
				kind := EventCreated
				if _, seen := known[name]; seen {
					kind = EventUpdated
				}
				known[name] = struct{}{}
				logger.Debug("watcher: "+kind, slog.String("name", name))
				emit(kind, id)

			case ev.Op&fsnotify.Write != 0:
				if _, seen := known[name]; !seen {
					continue
				}
				logger.Debug("watcher: updated", slog.String("name", name))
				emit(EventUpdated, id)

			case ev.Op&fsnotify.Remove != 0:
				if _, seen := known[name]; !seen {
					continue
				}
				delete(known, name)
				logger.Debug("watcher: deleted", slog.String("name", name))
				emit(EventDeleted, id)

			case ev.Op&fsnotify.Rename != 0:
				if _, seen := known[name]; !seen {
					continue
				}
				delete(known, name)
				logger.Debug("watcher: renamed away", slog.String("name", name))
				emit(EventDeleted, id)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func snapshotNames(folder *Folder, logger *slog.Logger) map[string]struct{} {
	out := make(map[string]struct{})
	metas, err := folder.List()
	if err != nil {
		logger.Warn("watcher: list failed", slog.String("error", err.Error()))
		return out
	}
	for _, m := range metas {
		out[m.Name] = struct{}{}
	}
	return out
}
