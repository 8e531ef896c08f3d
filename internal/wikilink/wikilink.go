// Package wikilink extracts wiki-style link references from note bodies.
//
// Links use the nested bracket syntax [[target#heading^block|alias]],
// optionally prefixed with ! to mark an embed. Links appearing inside
// fenced code blocks, inline code spans, or indented code lines are
// never extracted.
package wikilink

import (
	"path"
	"regexp"
	"strings"
)

// Link is one reference extracted from a note body.
type Link struct {
	Raw         string `json:"raw"`
	Target      string `json:"target"` // normalized note id
	Heading     string `json:"heading,omitempty"`
	BlockAnchor string `json:"block_anchor,omitempty"`
	Alias       string `json:"alias,omitempty"`
	Embed       bool   `json:"embed,omitempty"`
}

var (
	linkRe       = regexp.MustCompile(`(!?)\[\[([^\]|#^]+)(?:#([^\]|^]*))?(?:\^([^\]|]*))?(?:\|([^\]]*))?\]\]`)
	inlineCodeRe = regexp.MustCompile("`[^`\n]*`")
)

// characters that cannot appear in a note file path on any supported OS.
const illegalTargetChars = "<>:\"\\?*\n\r"

// Normalize canonicalizes a note identifier: whitespace trimmed, an .md
// suffix stripped (case-insensitively), path cleaned, leading slashes
// removed. Two identifiers refer to the same note iff their normalized
// forms are equal.
func Normalize(id string) string {
	s := strings.TrimSpace(id)
	if len(s) >= 3 && strings.EqualFold(s[len(s)-3:], ".md") {
		s = s[:len(s)-3]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = path.Clean(s)
	s = strings.TrimPrefix(s, "/")
	if s == "." {
		return ""
	}
	return s
}

// Extract parses body and returns its link references in order of first
// occurrence, deduplicated by normalized target (the first occurrence's
// full reference wins). Malformed bracket sequences and invalid targets
// are silently skipped; there is no error path.
func Extract(body string) []Link {
	cleaned := stripCode(body)
	matches := linkRe.FindAllStringSubmatch(cleaned, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []Link
	for _, m := range matches {
		target := Normalize(m[2])
		if target == "" || strings.ContainsAny(m[2], illegalTargetChars) {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, Link{
			Raw:         m[0],
			Target:      target,
			Heading:     strings.TrimSpace(m[3]),
			BlockAnchor: strings.TrimSpace(m[4]),
			Alias:       strings.TrimSpace(m[5]),
			Embed:       m[1] == "!",
		})
	}
	return out
}

// Targets returns the normalized target ids of all non-embed links in
// body, deduplicated, in order of first occurrence. Embeds are excluded
// because an embedded note is not a navigable relationship.
func Targets(body string) []string {
	links := Extract(body)
	var out []string
	for _, l := range links {
		if l.Embed {
			continue
		}
		out = append(out, l.Target)
	}
	return out
}

// stripCode blanks out regions where link syntax must be ignored:
// fenced code blocks, inline code spans, and 4-space/tab indented lines.
// Line structure is preserved so no new matches are created across
// removed regions.
func stripCode(body string) string {
	lines := strings.Split(body, "\n")
	var fence string
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		if fence != "" {
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			lines[i] = ""
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "```"):
			fence = "```"
			lines[i] = ""
		case strings.HasPrefix(trimmed, "~~~"):
			fence = "~~~"
			lines[i] = ""
		case strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t"):
			lines[i] = ""
		default:
			lines[i] = inlineCodeRe.ReplaceAllString(line, "")
		}
	}
	return strings.Join(lines, "\n")
}
