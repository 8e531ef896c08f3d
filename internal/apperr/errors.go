// Package apperr defines sentinel errors shared across the application.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrLockTimeout is returned when a per-note file lock could not be
	// acquired within the configured wait bound. Retryable.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrMissingFrontmatter marks a note with no frontmatter block at all.
	// Such notes are reported and skipped, never recreated.
	ErrMissingFrontmatter = errors.New("missing frontmatter")

	// ErrCorruptFrontmatter marks a note whose frontmatter block fails to
	// parse as YAML. Such notes are reported and skipped, never repaired.
	ErrCorruptFrontmatter = errors.New("corrupt frontmatter")
)
