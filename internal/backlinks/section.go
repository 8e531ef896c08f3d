// Package backlinks maintains the derived backlink state of a vault:
// the delimited backlinks section inside each note body, the
// referencedBy frontmatter mirror, the propagation queue that fans
// source-note changes out to their targets, and the batch
// migration/validation/repair operations.
package backlinks

import (
	"sort"
	"strings"

	"github.com/starford/othala/internal/wikilink"
)

// Markers delimit the machine-owned region inside a note body. Only
// this package may produce or rewrite content between them.
const (
	StartMarker    = "<!-- backlinks:start -->"
	EndMarker      = "<!-- backlinks:end -->"
	sectionHeading = "## Backlinks"
)

// renderSection produces the delimited section for a sorted id list, or
// "" when the list is empty. The section is never present-but-empty.
func renderSection(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(StartMarker)
	b.WriteString("\n")
	b.WriteString(sectionHeading)
	b.WriteString("\n\n")
	for _, id := range ids {
		b.WriteString("- [[")
		b.WriteString(id)
		b.WriteString("]]\n")
	}
	b.WriteString(EndMarker)
	return b.String()
}

// UpsertSection rewrites the backlinks section of body to list exactly
// ids (which must be sorted and deduplicated). Re-applying with the same
// ids is a no-op on content. An empty id list removes the section,
// markers included, along with surrounding blank lines.
func UpsertSection(body string, ids []string) string {
	sIdx := strings.Index(body, StartMarker)
	eIdx := strings.Index(body, EndMarker)

	if sIdx >= 0 && eIdx > sIdx {
		before := body[:sIdx]
		after := body[eIdx+len(EndMarker):]

		if len(ids) == 0 {
			before = strings.TrimRight(before, "\n")
			after = strings.TrimLeft(after, "\n")
			switch {
			case before == "":
				return after
			case after == "":
				return before + "\n"
			default:
				return before + "\n\n" + after
			}
		}
		return before + renderSection(ids) + after
	}

	if len(ids) == 0 {
		return body
	}

	trimmed := strings.TrimRight(body, "\n")
	if trimmed == "" {
		return renderSection(ids) + "\n"
	}
	return trimmed + "\n\n" + renderSection(ids) + "\n"
}

// StripSection returns body with the backlinks section (markers
// included) blanked out. Link extraction for the forward graph must run
// on the stripped body, otherwise every backlink line would read back
// as an outgoing edge.
func StripSection(body string) string {
	sIdx := strings.Index(body, StartMarker)
	eIdx := strings.Index(body, EndMarker)
	if sIdx < 0 || eIdx <= sIdx {
		return body
	}
	return body[:sIdx] + body[eIdx+len(EndMarker):]
}

// OutgoingTargets extracts the outgoing target ids of a note body,
// ignoring the machine-owned backlinks section.
func OutgoingTargets(body string) []string {
	return wikilink.Targets(StripSection(body))
}

// SectionTargets parses the bracketed links currently listed between the
// markers, sorted. Returns nil when no section is present.
func SectionTargets(body string) []string {
	sIdx := strings.Index(body, StartMarker)
	eIdx := strings.Index(body, EndMarker)
	if sIdx < 0 || eIdx <= sIdx {
		return nil
	}
	region := body[sIdx+len(StartMarker) : eIdx]
	var out []string
	for _, l := range wikilink.Extract(region) {
		out = append(out, l.Target)
	}
	sort.Strings(out)
	return out
}

// mergeBacklinks applies an add/remove delta to the current persisted
// set and returns the resulting sorted, deduplicated list.
func mergeBacklinks(current, add, remove []string) []string {
	set := make(map[string]struct{}, len(current)+len(add))
	for _, id := range current {
		if id = wikilink.Normalize(id); id != "" {
			set[id] = struct{}{}
		}
	}
	for _, id := range add {
		if id = wikilink.Normalize(id); id != "" {
			set[id] = struct{}{}
		}
	}
	for _, id := range remove {
		delete(set, wikilink.Normalize(id))
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
