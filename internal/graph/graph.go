// Package graph maintains the in-memory bidirectional link index:
// outgoing edges per source note and incoming edges per target note.
//
// The index is derived state. Note bodies are the single source of
// truth; the index can always be rebuilt from them with Build. It holds
// the symmetry invariant t ∈ outgoing[s] ⇔ s ∈ incoming[t] after every
// mutation, and never retains an entry whose edge set is empty.
package graph

import (
	"sort"
	"sync"

	"github.com/starford/othala/internal/wikilink"
)

// Note is the minimal input for a batch rebuild.
type Note struct {
	ID   string
	Body string
}

// Stats summarizes index size.
type Stats struct {
	TotalNotes int `json:"total_notes"` // distinct ids appearing as source or target
	TotalLinks int `json:"total_links"` // forward edges
}

// Index is the bidirectional link map. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	outgoing map[string]map[string]struct{}
	incoming map[string]map[string]struct{}
}

// New returns an empty index.
func New() *Index {
	return &Index{
		outgoing: make(map[string]map[string]struct{}),
		incoming: make(map[string]map[string]struct{}),
	}
}

// UpdateNote records the current outgoing target set of source and
// returns exactly the targets that were added and removed relative to
// the previous call. Calling twice with the same targets yields empty
// deltas the second time.
func (x *Index) UpdateNote(source string, targets []string) (added, removed []string) {
	source = wikilink.Normalize(source)
	if source == "" {
		return nil, nil
	}

	next := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if t = wikilink.Normalize(t); t != "" {
			next[t] = struct{}{}
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	prev := x.outgoing[source]

	for t := range next {
		if _, ok := prev[t]; !ok {
			added = append(added, t)
			x.addEdge(source, t)
		}
	}
	for t := range prev {
		if _, ok := next[t]; !ok {
			removed = append(removed, t)
		}
	}
	for _, t := range removed {
		x.dropEdge(source, t)
	}

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// RemoveNote deletes id both as a source (its outgoing edges) and as a
// target (all edges pointing at it).
func (x *Index) RemoveNote(id string) {
	id = wikilink.Normalize(id)

	x.mu.Lock()
	defer x.mu.Unlock()

	for t := range x.outgoing[id] {
		x.dropEdge(id, t)
	}
	for s := range x.incoming[id] {
		x.dropEdge(s, id)
	}
}

// Incoming returns a sorted snapshot of the sources linking to id.
func (x *Index) Incoming(id string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return sortedKeys(x.incoming[wikilink.Normalize(id)])
}

// Outgoing returns a sorted snapshot of the targets id links to.
func (x *Index) Outgoing(id string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return sortedKeys(x.outgoing[wikilink.Normalize(id)])
}

// Build clears all state and rebuilds both mappings from scratch by
// extracting links from every supplied body.
func (x *Index) Build(notes []Note) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.outgoing = make(map[string]map[string]struct{}, len(notes))
	x.incoming = make(map[string]map[string]struct{})

	for _, n := range notes {
		source := wikilink.Normalize(n.ID)
		if source == "" {
			continue
		}
		for _, t := range wikilink.Targets(n.Body) {
			x.addEdge(source, t)
		}
	}
}

// Stats returns the number of distinct ids and forward edges.
func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make(map[string]struct{}, len(x.outgoing)+len(x.incoming))
	links := 0
	for s, targets := range x.outgoing {
		ids[s] = struct{}{}
		links += len(targets)
	}
	for t := range x.incoming {
		ids[t] = struct{}{}
	}
	return Stats{TotalNotes: len(ids), TotalLinks: links}
}

// addEdge and dropEdge mutate both mappings together so the symmetry
// invariant holds between every exported call. Callers hold x.mu.

func (x *Index) addEdge(source, target string) {
	if x.outgoing[source] == nil {
		x.outgoing[source] = make(map[string]struct{})
	}
	x.outgoing[source][target] = struct{}{}
	if x.incoming[target] == nil {
		x.incoming[target] = make(map[string]struct{})
	}
	x.incoming[target][source] = struct{}{}
}

func (x *Index) dropEdge(source, target string) {
	if set := x.outgoing[source]; set != nil {
		delete(set, target)
		if len(set) == 0 {
			delete(x.outgoing, source)
		}
	}
	if set := x.incoming[target]; set != nil {
		delete(set, source)
		if len(set) == 0 {
			delete(x.incoming, target)
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
