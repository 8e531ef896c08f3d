// Package models defines the domain types for Othala.
package models

import "time"

// Note is a parsed note enriched with its link-graph neighborhood.
type Note struct {
	ID          string         `json:"id"`   // normalized, extension-stripped vault-relative path
	Path        string         `json:"path"` // on-disk vault-relative path
	Title       string         `json:"title,omitempty"`
	Type        string         `json:"type,omitempty"`
	Content     string         `json:"content"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Outgoing    []string       `json:"outgoing"`
	Backlinks   []string       `json:"backlinks"`
	Checksum    string         `json:"checksum"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NoteMeta is a lightweight representation returned by list operations.
type NoteMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Link is a directed edge between two notes.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
