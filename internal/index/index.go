package index

// NoteIndex is the query surface of the SQLite index. Consumers depend
// on this interface rather than the concrete *DB type so they can be
// tested with fakes.
type NoteIndex interface {
	UpsertNote(n NoteRow, body string, links []string) error
	DeleteNote(path string) error
	GetNote(path string) (*NoteRow, error)
	GetChecksum(path string) (string, error)
	ListNotes(limit, offset int, tag string) ([]NoteRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Graph() ([]GraphNode, []GraphLink, error)
	Backlinks(target string) ([]string, error)
	OutgoingLinks(source string) ([]string, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

var _ NoteIndex = (*DB)(nil)

// Indexer is what the filesystem watcher drives. The note service
// implements it on top of the DB so watcher-driven changes also update
// the in-memory link graph and feed backlink propagation.
type Indexer interface {
	IndexFile(path string, data []byte) error
	RemoveFile(path string) error
	Checksums() (map[string]string, error)
}
