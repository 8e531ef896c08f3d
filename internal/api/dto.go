package api

import (
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/noteservice"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	ID      string `json:"id" example:"topics/hello" validate:"required"`
	Content string `json:"content" example:"---\ntype: note\n---\n\n# Hello" validate:"required"`
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// Note is the full note response type (aliased from the domain layer).
type Note = models.Note

// NoteListItem is a lightweight item in a list response (aliased from
// the domain layer).
type NoteListItem = noteservice.NoteListItem

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	ID      string `json:"id" example:"topics/hello" validate:"required"`
	Path    string `json:"path" example:"topics/hello.md" validate:"required"`
	Title   string `json:"title" example:"Hello" validate:"required"`
	Snippet string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// GraphNode is a node in the knowledge graph.
type GraphNode struct {
	ID    string `json:"id" example:"topics/hello" validate:"required"`
	Title string `json:"title,omitempty" example:"Hello"`
}

// GraphLink is an edge in the knowledge graph.
type GraphLink struct {
	Source string `json:"source" example:"topics/hello" validate:"required"`
	Target string `json:"target" example:"topics/world" validate:"required"`
}

// GraphResponse wraps the knowledge graph.
type GraphResponse struct {
	Nodes []GraphNode `json:"nodes" validate:"required"`
	Links []GraphLink `json:"links" validate:"required"`
}

// LinksResponse wraps a one-sided link listing for a single note.
type LinksResponse struct {
	ID    string   `json:"id" example:"topics/hello" validate:"required"`
	Notes []string `json:"notes" validate:"required"`
}
