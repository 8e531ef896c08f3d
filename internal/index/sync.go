package index

import (
	"log/slog"
	"time"

	"github.com/starford/othala/internal/backlinks"
	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/notefile"
	"github.com/starford/othala/internal/vault"
	"github.com/starford/othala/internal/wikilink"
)

// Sync walks the vault and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the index
func Sync(db *DB, store vault.Store, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteNote(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile parses raw note bytes and upserts the result. The backlinks
// section is excluded from the extracted outgoing links; a note with
// missing or corrupt frontmatter is still indexed from whatever body
// could be recovered.
func IndexFile(db *DB, path string, data []byte) error {
	f, _ := notefile.Parse(data)

	row := NoteRow{
		Path:      path,
		ID:        wikilink.Normalize(path),
		Title:     f.Title(),
		NoteType:  f.StringField("type"),
		Checksum:  checksum.Sum(data),
		Tags:      f.Tags(),
		UpdatedAt: time.Now().UTC(),
	}
	return db.UpsertNote(row, f.Body, backlinks.OutgoingTargets(f.Body))
}
