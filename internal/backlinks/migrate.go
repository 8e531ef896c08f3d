package backlinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/graph"
	"github.com/starford/othala/internal/notefile"
	"github.com/starford/othala/internal/vault"
	"github.com/starford/othala/internal/wikilink"
)

// Migrator runs the batch operations that bring an entire vault's
// persisted backlink state into line with what recomputation from note
// bodies produces: dry-run, migrate, validate, repair.
//
// Every operation rebuilds the link index from a full scan; none of
// them trusts previously persisted state. Per-note failures are
// isolated and reported; only a root-level scan failure aborts.
//
// The Migrator must not run concurrently with live propagation against
// the same notes. Coordination is external (the CLI commands run in
// their own process without the queue).
type Migrator struct {
	store     vault.Store
	index     *graph.Index
	writer    *Writer
	indexNote string // top-level note excluded from orphan detection
	logger    *slog.Logger
}

// NewMigrator creates a Migrator. indexNote is the id of the designated
// top-level index note, or "" for none.
func NewMigrator(store vault.Store, index *graph.Index, writer *Writer, indexNote string, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		store:     store,
		index:     index,
		writer:    writer,
		indexNote: wikilink.Normalize(indexNote),
		logger:    logger,
	}
}

// ScanNote is one note read during a full vault scan.
type ScanNote struct {
	ID   string
	Path string
	Data []byte
}

// Result aggregates a dry-run or migrate pass.
type Result struct {
	TotalNotes    int               `json:"total_notes"`
	Updated       int               `json:"updated"`
	Skipped       int               `json:"skipped"`
	Failed        int               `json:"failed"`
	Corrupted     []string          `json:"corrupted,omitempty"`
	NoFrontmatter []string          `json:"no_frontmatter,omitempty"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// NoteDiff reports a single note's drift: backlinks persisted on disk
// but not expected (extra) and expected but absent on disk (missing).
type NoteDiff struct {
	ID      string   `json:"id"`
	Missing []string `json:"missing,omitempty"`
	Extra   []string `json:"extra,omitempty"`
}

// ValidationResult is the outcome of a validate pass.
type ValidationResult struct {
	TotalNotes    int        `json:"total_notes"`
	Diffs         []NoteDiff `json:"diffs,omitempty"`
	Corrupted     []string   `json:"corrupted,omitempty"`
	NoFrontmatter []string   `json:"no_frontmatter,omitempty"`
	Orphans       []string   `json:"orphans,omitempty"`
	Valid         bool       `json:"valid"`
}

// RepairResult is the outcome of a repair pass.
type RepairResult struct {
	Validation *ValidationResult `json:"validation"`
	Repaired   []string          `json:"repaired,omitempty"`
	Added      int               `json:"added"`
	Removed    int               `json:"removed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Scan reads every note under the vault root. A scan-level failure
// aborts the whole batch operation.
func (m *Migrator) Scan() ([]ScanNote, error) {
	metas, err := m.store.List("")
	if err != nil {
		return nil, fmt.Errorf("migrate: scan vault: %w", err)
	}
	notes := make([]ScanNote, 0, len(metas))
	for _, meta := range metas {
		data, err := m.store.Read(meta.Path)
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", meta.Path, err)
		}
		notes = append(notes, ScanNote{
			ID:   wikilink.Normalize(meta.Path),
			Path: meta.Path,
			Data: data,
		})
	}
	return notes, nil
}

// rebuild scans the vault and rebuilds the link index from scratch.
func (m *Migrator) rebuild() ([]ScanNote, error) {
	notes, err := m.Scan()
	if err != nil {
		return nil, err
	}
	batch := make([]graph.Note, 0, len(notes))
	for _, n := range notes {
		f, _ := notefile.Parse(n.Data)
		batch = append(batch, graph.Note{ID: n.ID, Body: StripSection(f.Body)})
	}
	m.index.Build(batch)
	return notes, nil
}

// DryRun reports what Migrate would change, making no writes.
func (m *Migrator) DryRun(ctx context.Context) (*Result, error) {
	return m.run(ctx, true)
}

// Migrate rewrites the backlink section and frontmatter mirror of every
// note whose persisted state disagrees with the rebuilt index. Running
// it twice in a row produces zero further changes the second time.
func (m *Migrator) Migrate(ctx context.Context) (*Result, error) {
	return m.run(ctx, false)
}

func (m *Migrator) run(ctx context.Context, dry bool) (*Result, error) {
	notes, err := m.rebuild()
	if err != nil {
		return nil, err
	}

	res := &Result{
		TotalNotes: len(notes),
		Errors:     make(map[string]string),
	}

	for _, n := range notes {
		f, perr := notefile.Parse(n.Data)
		switch {
		case errors.Is(perr, apperr.ErrCorruptFrontmatter):
			res.Corrupted = append(res.Corrupted, n.ID)
			res.Failed++
			continue
		case errors.Is(perr, apperr.ErrMissingFrontmatter):
			res.NoFrontmatter = append(res.NoFrontmatter, n.ID)
			res.Failed++
			continue
		}

		expected := m.index.Incoming(n.ID)
		if upToDate(f, expected) {
			res.Skipped++
			continue
		}

		if dry {
			res.Updated++
			continue
		}
		if err := m.writer.SetBacklinks(ctx, n.ID, expected); err != nil {
			res.Failed++
			res.Errors[n.ID] = err.Error()
			m.logger.Warn("migrate: update failed",
				slog.String("note", n.ID),
				slog.String("error", err.Error()))
			continue
		}
		res.Updated++
		m.logger.Debug("migrate: updated", slog.String("note", n.ID))
	}

	return res, nil
}

// Validate rebuilds the index and reports every note's drift without
// writing. Always safe to run.
func (m *Migrator) Validate(ctx context.Context) (*ValidationResult, error) {
	notes, err := m.rebuild()
	if err != nil {
		return nil, err
	}

	res := &ValidationResult{TotalNotes: len(notes)}

	for _, n := range notes {
		f, perr := notefile.Parse(n.Data)
		switch {
		case errors.Is(perr, apperr.ErrCorruptFrontmatter):
			res.Corrupted = append(res.Corrupted, n.ID)
			continue
		case errors.Is(perr, apperr.ErrMissingFrontmatter):
			res.NoFrontmatter = append(res.NoFrontmatter, n.ID)
			continue
		}

		expected := m.index.Incoming(n.ID)
		current := SectionTargets(f.Body)

		diff := NoteDiff{ID: n.ID}
		for _, id := range expected {
			if !slices.Contains(current, id) {
				diff.Missing = append(diff.Missing, id)
			}
		}
		for _, id := range current {
			if !slices.Contains(expected, id) {
				diff.Extra = append(diff.Extra, id)
			}
		}
		if len(diff.Missing) > 0 || len(diff.Extra) > 0 {
			res.Diffs = append(res.Diffs, diff)
		}

		if n.ID != m.indexNote &&
			len(m.index.Incoming(n.ID)) == 0 &&
			len(m.index.Outgoing(n.ID)) == 0 {
			res.Orphans = append(res.Orphans, n.ID)
		}
	}

	res.Valid = len(res.Diffs) == 0 && len(res.Corrupted) == 0
	return res, nil
}

// Repair runs Validate, then rewrites every drifted note's backlink
// state from the freshly rebuilt index. It never trusts stale per-note
// deltas. Each note is touched exactly once, sequentially, so no lock
// ordering applies. Idempotent.
func (m *Migrator) Repair(ctx context.Context) (*RepairResult, error) {
	v, err := m.Validate(ctx)
	if err != nil {
		return nil, err
	}

	res := &RepairResult{
		Validation: v,
		Errors:     make(map[string]string),
	}

	for _, diff := range v.Diffs {
		expected := m.index.Incoming(diff.ID)
		if err := m.writer.SetBacklinks(ctx, diff.ID, expected); err != nil {
			res.Errors[diff.ID] = err.Error()
			m.logger.Warn("repair: update failed",
				slog.String("note", diff.ID),
				slog.String("error", err.Error()))
			continue
		}
		res.Repaired = append(res.Repaired, diff.ID)
		res.Added += len(diff.Missing)
		res.Removed += len(diff.Extra)
		m.logger.Info("repair: rewrote backlinks",
			slog.String("note", diff.ID),
			slog.Int("added", len(diff.Missing)),
			slog.Int("removed", len(diff.Extra)))
	}

	return res, nil
}

// upToDate reports whether a note's persisted section and frontmatter
// mirror both already equal the expected backlink list.
func upToDate(f *notefile.File, expected []string) bool {
	if !slices.Equal(SectionTargets(f.Body), expected) {
		return false
	}
	mirror := f.ReferencedBy()
	for i, id := range mirror {
		mirror[i] = wikilink.Normalize(id)
	}
	slices.Sort(mirror)
	return slices.Equal(mirror, expected)
}
