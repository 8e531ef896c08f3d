package backlinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/starford/othala/internal/notefile"
	"github.com/starford/othala/internal/vault"
	"github.com/starford/othala/internal/wikilink"
)

// DefaultLockTimeout bounds the wait for a per-note lock.
const DefaultLockTimeout = 5 * time.Second

// Writer applies backlink updates to individual target notes. It is the
// single apply path shared by the async propagation queue and the
// synchronous callers (migration, repair).
type Writer struct {
	store   vault.Store
	locks   *lockTable
	timeout time.Duration
	logger  *slog.Logger
}

// NewWriter creates a Writer over store. lockTimeout <= 0 selects
// DefaultLockTimeout.
func NewWriter(store vault.Store, lockTimeout time.Duration, logger *slog.Logger) *Writer {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:   store,
		locks:   newLockTable(),
		timeout: lockTimeout,
		logger:  logger,
	}
}

// UpdateBacklinks applies an add/remove delta of source ids to the
// target note's persisted backlink state: the body section and the
// referencedBy mirror together. The current persisted set is re-read
// under the target's lock, so concurrent updates to the same target
// serialize rather than clobber each other.
//
// A non-existent target is a dangling reference and succeeds as a no-op.
func (w *Writer) UpdateBacklinks(ctx context.Context, targetID string, add, remove []string) error {
	return w.rewrite(ctx, targetID, func(current []string) []string {
		return mergeBacklinks(current, add, remove)
	})
}

// SetBacklinks overwrites the target note's persisted backlink state
// with exactly ids, ignoring whatever is currently persisted. Used by
// repair, which trusts only the freshly rebuilt index.
func (w *Writer) SetBacklinks(ctx context.Context, targetID string, ids []string) error {
	return w.rewrite(ctx, targetID, func([]string) []string {
		return mergeBacklinks(nil, ids, nil)
	})
}

func (w *Writer) rewrite(ctx context.Context, targetID string, compute func(current []string) []string) error {
	id := wikilink.Normalize(targetID)
	if id == "" {
		return fmt.Errorf("backlinks: empty target id")
	}
	path := vault.NotePath(id)

	release, err := w.locks.acquire(ctx, id, w.timeout)
	if err != nil {
		return fmt.Errorf("backlinks: %w", err)
	}
	defer release()

	data, err := w.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Dangling reference: nothing to update, not an error.
			w.logger.Debug("backlinks: target missing, skipping",
				slog.String("target", id))
			return nil
		}
		return fmt.Errorf("backlinks: read %s: %w", path, err)
	}

	f, err := notefile.Parse(data)
	if err != nil {
		return fmt.Errorf("backlinks: parse %s: %w", path, err)
	}

	ids := compute(SectionTargets(f.Body))

	f.Body = UpsertSection(f.Body, ids)
	f.SetReferencedBy(ids)

	out := f.Bytes()
	if string(out) == string(data) {
		return nil
	}
	if err := w.store.Write(path, out); err != nil {
		return fmt.Errorf("backlinks: write %s: %w", path, err)
	}

	w.logger.Debug("backlinks: updated",
		slog.String("target", id),
		slog.Int("count", len(ids)))
	return nil
}
