// Package vault defines the note-collection file-system abstraction.
package vault

import (
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/wikilink"
)

// Store is the interface for vault file operations. All paths are
// relative to the vault root.
type Store interface {
	// List walks dir and returns metadata for every .md file under it.
	List(dir string) ([]models.NoteMeta, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Exists reports whether a file exists at path.
	Exists(path string) (bool, error)
}

// NotePath maps a normalized note id to its on-disk relative path.
func NotePath(id string) string {
	return wikilink.Normalize(id) + ".md"
}
