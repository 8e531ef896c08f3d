// Package notefile parses and serializes note files: a YAML frontmatter
// block between --- delimiters followed by a Markdown body.
//
// Frontmatter is kept as a yaml.Node tree so that rewriting a note
// preserves key order and only touches the fields this engine owns.
// The referencedBy field is such a field: it mirrors the note's backlink
// list and is always overwritten wholesale, never merged.
package notefile

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/othala/internal/apperr"
)

// ReferencedByKey is the frontmatter field owned exclusively by the
// backlink engine. Other writers must not touch it.
const ReferencedByKey = "referencedBy"

const delim = "---"

var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// File is a parsed note.
type File struct {
	meta *yaml.Node // mapping node; nil when the note has no frontmatter
	Body string
}

// Parse splits data into frontmatter and body.
//
// A note without a frontmatter block returns the whole content as Body
// together with apperr.ErrMissingFrontmatter; a note whose block fails
// to parse returns apperr.ErrCorruptFrontmatter. In both cases the
// returned File is still usable for read-only link extraction.
func Parse(data []byte) (*File, error) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return &File{Body: string(data)}, apperr.ErrMissingFrontmatter
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n" + delim))
	if idx < 0 {
		return &File{Body: string(data)}, fmt.Errorf("unterminated frontmatter block: %w", apperr.ErrCorruptFrontmatter)
	}

	yamlBlock := rest[:idx]
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")

	var doc yaml.Node
	if err := yaml.Unmarshal(yamlBlock, &doc); err != nil {
		return &File{Body: string(data)}, fmt.Errorf("%v: %w", err, apperr.ErrCorruptFrontmatter)
	}

	meta := emptyMapping()
	if len(doc.Content) > 0 {
		if doc.Content[0].Kind != yaml.MappingNode {
			return &File{Body: string(data)}, fmt.Errorf("frontmatter is not a mapping: %w", apperr.ErrCorruptFrontmatter)
		}
		meta = doc.Content[0]
	}

	return &File{meta: meta, Body: body}, nil
}

// HasFrontmatter reports whether the note carries a frontmatter block.
func (f *File) HasFrontmatter() bool {
	return f.meta != nil
}

// Bytes serializes the note back to its on-disk form.
func (f *File) Bytes() []byte {
	if f.meta == nil {
		return []byte(f.Body)
	}
	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	out, err := yaml.Marshal(f.meta)
	if err == nil {
		buf.Write(out)
	}
	buf.WriteString(delim + "\n\n")
	buf.WriteString(f.Body)
	return buf.Bytes()
}

// Fields decodes the frontmatter into a plain map. Returns nil when the
// note has no frontmatter.
func (f *File) Fields() map[string]any {
	if f.meta == nil {
		return nil
	}
	var m map[string]any
	if err := f.meta.Decode(&m); err != nil {
		return nil
	}
	return m
}

// StringField returns the frontmatter value for key when it is a scalar
// string, or "".
func (f *File) StringField(key string) string {
	if f.meta == nil {
		return ""
	}
	if i := findKey(f.meta, key); i >= 0 {
		v := f.meta.Content[i+1]
		if v.Kind == yaml.ScalarNode {
			return v.Value
		}
	}
	return ""
}

// ReferencedBy returns the persisted backlink mirror, or nil when the
// field is absent.
func (f *File) ReferencedBy() []string {
	if f.meta == nil {
		return nil
	}
	i := findKey(f.meta, ReferencedByKey)
	if i < 0 {
		return nil
	}
	seq := f.meta.Content[i+1]
	if seq.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]string, 0, len(seq.Content))
	for _, item := range seq.Content {
		if item.Kind == yaml.ScalarNode && item.Value != "" {
			out = append(out, item.Value)
		}
	}
	return out
}

// SetReferencedBy overwrites the backlink mirror. An empty list removes
// the field entirely; the mirror is present only when non-empty.
func (f *File) SetReferencedBy(ids []string) {
	if f.meta == nil {
		return
	}
	i := findKey(f.meta, ReferencedByKey)
	if len(ids) == 0 {
		if i >= 0 {
			f.meta.Content = append(f.meta.Content[:i], f.meta.Content[i+2:]...)
		}
		return
	}

	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, id := range ids {
		seq.Content = append(seq.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: id,
		})
	}

	if i >= 0 {
		f.meta.Content[i+1] = seq
		return
	}
	f.meta.Content = append(f.meta.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: ReferencedByKey},
		seq,
	)
}

// Title returns the frontmatter title if present, otherwise the first H1
// heading of the body, otherwise "".
func (f *File) Title() string {
	if t := f.StringField("title"); t != "" {
		return t
	}
	for _, line := range strings.Split(f.Body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// Tags collects tags from the frontmatter list and inline #tags from the
// body, deduplicated in order of first appearance.
func (f *File) Tags() []string {
	seen := make(map[string]struct{})
	var out []string

	if fields := f.Fields(); fields != nil {
		if raw, ok := fields["tags"].([]any); ok {
			for _, item := range raw {
				if s, ok := item.(string); ok {
					s = strings.TrimSpace(s)
					if s == "" {
						continue
					}
					if _, dup := seen[s]; !dup {
						seen[s] = struct{}{}
						out = append(out, s)
					}
				}
			}
		}
	}

	for _, m := range inlineTagRe.FindAllStringSubmatch(f.Body, -1) {
		if _, dup := seen[m[1]]; !dup {
			seen[m[1]] = struct{}{}
			out = append(out, m[1])
		}
	}

	return out
}

func emptyMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// findKey returns the index of the key node for key within mapping m,
// or -1. Values live at index+1.
func findKey(m *yaml.Node, key string) int {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}
