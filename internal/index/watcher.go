package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/othala/internal/vault"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// renameSettle debounces the reconciliation pass that follows rename
// events, since a move produces a Rename and a Create in either order.
const renameSettle = 200 * time.Millisecond

type watcher struct {
	ix     Indexer
	store  vault.Store
	root   string
	logger *slog.Logger
	cb     EventCallback
}

// Watch runs an fsnotify watcher on the vault root until ctx is
// cancelled. All index mutations go through ix, so edits made directly
// on disk feed the same pipeline as API writes, including backlink
// propagation. Directories created at runtime join the watch list, and
// renames trigger a debounced reconciliation pass that drops index
// entries whose files no longer exist.
func Watch(ctx context.Context, ix Indexer, store vault.Store, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	wt := &watcher{ix: ix, store: store, root: vaultRoot, logger: logger, cb: cb}

	if err := watchTree(fsw, vaultRoot); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", vaultRoot))

	var settle *time.Timer
	var settleC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-settleC:
			wt.reconcile()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if wt.handle(fsw, ev) {
				if settle == nil {
					settle = time.NewTimer(renameSettle)
					settleC = settle.C
				} else {
					settle.Reset(renameSettle)
				}
			}

		case werr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", werr.Error()))
		}
	}
}

// handle processes one fsnotify event. It reports whether a
// reconciliation pass should be scheduled.
func (wt *watcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) bool {
	name := ev.Name

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			if err := watchTree(fsw, name); err != nil {
				wt.logger.Warn("watcher: add new dir failed",
					slog.String("path", name), slog.String("error", err.Error()))
			}
			// A moved-in directory may already contain notes.
			wt.indexTree(name)
			return false
		}
	}

	rel, ok := wt.noteRel(name)
	if !ok {
		return false
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		kind := "updated"
		if ev.Op&fsnotify.Create != 0 {
			kind = "created"
		}
		wt.indexPath(rel, kind)

	case ev.Op&fsnotify.Remove != 0:
		wt.removePath(rel)

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the OLD path only; the new path
		// arrives as a separate Create if it lands in a watched dir.
		wt.removePath(rel)
		return true
	}
	return false
}

// noteRel converts an absolute event path into a vault-relative note
// path, filtering out non-Markdown files and the store's temp files.
func (wt *watcher) noteRel(name string) (string, bool) {
	if !strings.HasSuffix(name, ".md") || strings.Contains(filepath.Base(name), ".othala-tmp-") {
		return "", false
	}
	rel, err := filepath.Rel(wt.root, name)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (wt *watcher) indexPath(rel, kind string) {
	data, err := wt.store.Read(rel)
	if err != nil {
		wt.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if err := wt.ix.IndexFile(rel, data); err != nil {
		wt.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	wt.emit(kind, rel)
}

func (wt *watcher) removePath(rel string) {
	if err := wt.ix.RemoveFile(rel); err != nil {
		wt.logger.Warn("watcher: remove failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	wt.emit("deleted", rel)
}

func (wt *watcher) emit(kind, rel string) {
	wt.logger.Debug("watcher: "+kind, slog.String("path", rel))
	if wt.cb != nil {
		wt.cb(kind, rel)
	}
}

// reconcile compares indexed checksums against the vault and fixes both
// directions: stale index entries are dropped, missing or changed files
// are re-indexed.
func (wt *watcher) reconcile() {
	indexed, err := wt.ix.Checksums()
	if err != nil {
		wt.logger.Warn("reconcile: checksums failed", slog.String("error", err.Error()))
		return
	}
	metas, err := wt.store.List("")
	if err != nil {
		wt.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	for p := range indexed {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := wt.ix.RemoveFile(p); err == nil {
			wt.emit("deleted", p)
		}
	}
	for p, cs := range disk {
		if indexed[p] == cs {
			continue
		}
		data, err := wt.store.Read(p)
		if err != nil {
			continue
		}
		if err := wt.ix.IndexFile(p, data); err == nil {
			wt.emit("created", p)
		}
	}
}

// indexTree indexes every note under a newly watched directory.
func (wt *watcher) indexTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := wt.noteRel(path); ok {
			wt.indexPath(rel, "created")
		}
		return nil
	})
}

// watchTree adds root and all its subdirectories to the watcher.
func watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
