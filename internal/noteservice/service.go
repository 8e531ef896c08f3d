// Package noteservice coordinates the vault, the SQLite query index,
// the in-memory link graph, and backlink propagation. Every write path
// (API, MCP, filesystem watcher) funnels through IndexFile/RemoveFile
// so link deltas always reach the propagation queue.
package noteservice

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/backlinks"
	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/graph"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/notefile"
	"github.com/starford/othala/internal/vault"
	"github.com/starford/othala/internal/wikilink"
)

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Type      string    `json:"type,omitempty"`
	Checksum  string    `json:"checksum"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service coordinates vault and index operations.
type Service struct {
	store vault.Store
	db    index.NoteIndex
	graph *graph.Index
	queue *backlinks.Queue
}

// NewService creates a note service. queue may be nil when propagation
// is not wired (maintenance commands).
func NewService(store vault.Store, db index.NoteIndex, g *graph.Index, queue *backlinks.Queue) *Service {
	return &Service{store: store, db: db, graph: g, queue: queue}
}

// GetNote reads a note by id, parses it, and enriches it with its graph
// neighborhood.
func (s *Service) GetNote(_ context.Context, id string) (*models.Note, error) {
	id = wikilink.Normalize(id)
	data, err := s.store.Read(vault.NotePath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return s.buildNote(id, data), nil
}

// CreateNote writes a new note, indexes it, and propagates its links.
func (s *Service) CreateNote(_ context.Context, id string, content []byte) (*models.Note, error) {
	id = wikilink.Normalize(id)
	path := vault.NotePath(id)
	exists, err := s.store.Exists(path)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.ErrAlreadyExists
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.IndexFile(path, content); err != nil {
		return nil, err
	}
	return s.buildNote(id, content), nil
}

// UpdateNote writes updated content with optimistic concurrency.
// ifMatch, when non-empty, must equal the checksum of the current
// on-disk content.
func (s *Service) UpdateNote(_ context.Context, id string, content []byte, ifMatch string) (*models.Note, error) {
	id = wikilink.Normalize(id)
	path := vault.NotePath(id)
	existing, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, apperr.ErrConflict
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.IndexFile(path, content); err != nil {
		return nil, err
	}
	return s.buildNote(id, content), nil
}

// DeleteNote removes a note everywhere: vault, index, graph. Each of
// its outgoing links becomes a backlink removal on the target note.
func (s *Service) DeleteNote(_ context.Context, id string) error {
	id = wikilink.Normalize(id)
	path := vault.NotePath(id)

	outgoing := s.graph.Outgoing(id)

	if err := s.store.Delete(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	if err := s.db.DeleteNote(path); err != nil {
		return err
	}
	s.graph.RemoveNote(id)
	if s.queue != nil {
		s.queue.Propagate(id, nil, outgoing)
	}
	return nil
}

// ListNotes returns paginated notes with an optional tag filter.
func (s *Service) ListNotes(_ context.Context, limit, offset int, tag string) ([]NoteListItem, int, error) {
	rows, total, err := s.db.ListNotes(limit, offset, tag)
	if err != nil {
		return nil, 0, err
	}
	items := make([]NoteListItem, len(rows))
	for i, r := range rows {
		items[i] = NoteListItem{
			ID:        r.ID,
			Path:      r.Path,
			Title:     r.Title,
			Type:      r.NoteType,
			Checksum:  r.Checksum,
			Tags:      nonNilSlice(r.Tags),
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Graph returns all nodes and links for graph visualization.
func (s *Service) Graph(_ context.Context) ([]index.GraphNode, []index.GraphLink, error) {
	return s.db.Graph()
}

// Backlinks returns the ids of the notes linking to id.
func (s *Service) Backlinks(_ context.Context, id string) []string {
	return s.graph.Incoming(id)
}

// OutgoingLinks returns the ids that id links to.
func (s *Service) OutgoingLinks(_ context.Context, id string) []string {
	return s.graph.Outgoing(id)
}

// GraphStats returns the in-memory link index counters.
func (s *Service) GraphStats() graph.Stats {
	return s.graph.Stats()
}

// QueueStatus reports the propagation queue depth and permanent
// failure count. Zero-valued when no queue is wired.
func (s *Service) QueueStatus() backlinks.Status {
	if s.queue == nil {
		return backlinks.Status{}
	}
	return s.queue.Status()
}

// IndexFile parses raw note bytes, upserts the SQLite row, records the
// note's outgoing set in the link graph, and enqueues propagation for
// exactly the targets that changed. It implements index.Indexer so the
// filesystem watcher feeds the same pipeline as API writes.
func (s *Service) IndexFile(path string, data []byte) error {
	f, _ := notefile.Parse(data)
	id := wikilink.Normalize(path)
	targets := backlinks.OutgoingTargets(f.Body)

	if err := s.db.UpsertNote(index.NoteRow{
		Path:      path,
		ID:        id,
		Title:     f.Title(),
		NoteType:  f.StringField("type"),
		Checksum:  checksum.Sum(data),
		Tags:      nonNilSlice(f.Tags()),
		UpdatedAt: time.Now().UTC(),
	}, f.Body, targets); err != nil {
		return err
	}

	added, removed := s.graph.UpdateNote(id, targets)
	if s.queue != nil && (len(added) > 0 || len(removed) > 0) {
		s.queue.Propagate(id, added, removed)
	}
	return nil
}

// RemoveFile implements index.Indexer for watcher-driven deletions.
func (s *Service) RemoveFile(path string) error {
	id := wikilink.Normalize(path)
	outgoing := s.graph.Outgoing(id)

	if err := s.db.DeleteNote(path); err != nil {
		return err
	}
	s.graph.RemoveNote(id)
	if s.queue != nil {
		s.queue.Propagate(id, nil, outgoing)
	}
	return nil
}

// Checksums implements index.Indexer.
func (s *Service) Checksums() (map[string]string, error) {
	return s.db.AllChecksums()
}

// buildNote constructs a full note from raw data without re-reading the
// file.
func (s *Service) buildNote(id string, data []byte) *models.Note {
	f, _ := notefile.Parse(data)
	return &models.Note{
		ID:          id,
		Path:        vault.NotePath(id),
		Title:       f.Title(),
		Type:        f.StringField("type"),
		Content:     string(data),
		Frontmatter: f.Fields(),
		Tags:        nonNilSlice(f.Tags()),
		Outgoing:    nonNilSlice(s.graph.Outgoing(id)),
		Backlinks:   nonNilSlice(s.graph.Incoming(id)),
		Checksum:    checksum.Sum(data),
		UpdatedAt:   time.Now().UTC(),
	}
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
