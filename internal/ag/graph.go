package ag

import (
	"fmt"
	"math"
	"sort"
)

// A Graph is one transcript: a set of shared anchors plus a tree of
// annotations, interpreted against a layer schema. The graph itself also
// carries a change state, so a brand new transcript is a graph marked
// Create whose entities are all marked Create.
type Graph struct {
	changeTracker

	// ID is the transcript's name (usually its original filename).
	ID string

	schema      *Schema
	anchors     map[string]*Anchor
	annotations map[string]*Annotation
}

// NewGraph returns an empty graph over the given schema.
func NewGraph(id string, schema *Schema) *Graph {
	return &Graph{
		ID:          id,
		schema:      schema,
		anchors:     make(map[string]*Anchor),
		annotations: make(map[string]*Annotation),
	}
}

// Schema returns the graph's layer schema.
func (g *Graph) Schema() *Schema { return g.schema }

// AddAnchor inserts an anchor by identity. If an anchor with the same ID is
// already present the existing one is returned unchanged, which is what
// per-layer loading relies on: the same anchor row reached from two layers
// must resolve to one in-memory anchor.
func (g *Graph) AddAnchor(a *Anchor) *Anchor {
	if existing, ok := g.anchors[a.ID]; ok {
		return existing
	}
	g.anchors[a.ID] = a
	return a
}

// Anchor returns the anchor with the given ID, or nil.
func (g *Graph) Anchor(id string) *Anchor { return g.anchors[id] }

// Anchors returns all anchors sorted by offset (unaligned last), then ID.
func (g *Graph) Anchors() []*Anchor {
	out := make([]*Anchor, 0, len(g.anchors))
	for _, a := range g.anchors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := offsetOrInf(out[i]), offsetOrInf(out[j])
		if oi != oj {
			return oi < oj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AddAnnotation inserts an annotation. If its ordinal is unassigned it
// becomes the next peer ordinal under its parent and layer.
func (g *Graph) AddAnnotation(a *Annotation) *Annotation {
	if existing, ok := g.annotations[a.ID]; ok {
		return existing
	}
	if a.Ordinal == 0 {
		a.Ordinal = len(g.ChildrenOf(a.ParentID, a.LayerID)) + 1
	}
	g.annotations[a.ID] = a
	return a
}

// Annotation returns the annotation with the given ID, or nil.
func (g *Graph) Annotation(id string) *Annotation { return g.annotations[id] }

// All returns every non-destroyed annotation on the layer in transcript
// order: ascending start offset, then ordinal, then ID.
func (g *Graph) All(layerID string) []*Annotation {
	var out []*Annotation
	for _, a := range g.annotations {
		if a.LayerID == layerID && a.Change() != Destroy {
			out = append(out, a)
		}
	}
	g.sortTranscriptOrder(out)
	return out
}

// First returns the first annotation on the layer in transcript order,
// or nil if the layer is empty.
func (g *Graph) First(layerID string) *Annotation {
	all := g.All(layerID)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// Labels returns the labels of the layer's annotations in transcript order.
func (g *Graph) Labels(layerID string) []string {
	all := g.All(layerID)
	out := make([]string, len(all))
	for i, a := range all {
		out[i] = a.Label
	}
	return out
}

// AnnotationCount returns the number of non-destroyed annotations.
func (g *Graph) AnnotationCount() int {
	n := 0
	for _, a := range g.annotations {
		if a.Change() != Destroy {
			n++
		}
	}
	return n
}

// Annotations returns every annotation (including destroyed ones) in
// deterministic order: layer top-down, then transcript order.
func (g *Graph) Annotations() []*Annotation {
	out := make([]*Annotation, 0, len(g.annotations))
	for _, a := range g.annotations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := g.schema.Depth(out[i].LayerID), g.schema.Depth(out[j].LayerID)
		if di != dj {
			return di < dj
		}
		oi, oj := g.startOffsetOrInf(out[i]), g.startOffsetOrInf(out[j])
		if oi != oj {
			return oi < oj
		}
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ChildrenOf returns the non-destroyed children of parentID on the given
// layer, in ordinal order.
func (g *Graph) ChildrenOf(parentID, layerID string) []*Annotation {
	var out []*Annotation
	for _, a := range g.annotations {
		if a.ParentID == parentID && a.LayerID == layerID && a.Change() != Destroy {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Parent returns the annotation's parent, or nil for top-level annotations.
func (g *Graph) Parent(a *Annotation) *Annotation {
	if a == nil || a.ParentID == "" {
		return nil
	}
	return g.annotations[a.ParentID]
}

// AncestorChain returns the annotation's ancestors nearest first, stopping
// at the first missing parent or at a cycle.
func (g *Graph) AncestorChain(a *Annotation) []*Annotation {
	var out []*Annotation
	seen := map[string]bool{a.ID: true}
	for p := g.Parent(a); p != nil && !seen[p.ID]; p = g.Parent(p) {
		out = append(out, p)
		seen[p.ID] = true
	}
	return out
}

// Ancestor reports whether candidate is an ancestor of a.
func (g *Graph) Ancestor(a *Annotation, candidateID string) bool {
	for _, anc := range g.AncestorChain(a) {
		if anc.ID == candidateID {
			return true
		}
	}
	return false
}

// Start returns the annotation's start anchor, following parents for tag
// annotations without anchors of their own. Returns nil if unresolvable.
func (g *Graph) Start(a *Annotation) *Anchor {
	for a != nil {
		if a.StartID != "" {
			return g.anchors[a.StartID]
		}
		a = g.Parent(a)
	}
	return nil
}

// End is the counterpart of Start for the end anchor.
func (g *Graph) End(a *Annotation) *Anchor {
	for a != nil {
		if a.EndID != "" {
			return g.anchors[a.EndID]
		}
		a = g.Parent(a)
	}
	return nil
}

// Includes reports whether outer temporally includes inner, within
// OffsetGranularity. Unaligned boundaries make inclusion false.
func (g *Graph) Includes(outer, inner *Annotation) bool {
	os, oe := g.Start(outer), g.End(outer)
	is, ie := g.Start(inner), g.End(inner)
	if os == nil || oe == nil || is == nil || ie == nil {
		return false
	}
	if os.Offset == nil || oe.Offset == nil || is.Offset == nil || ie.Offset == nil {
		return false
	}
	return *is.Offset >= *os.Offset-OffsetGranularity &&
		*ie.Offset <= *oe.Offset+OffsetGranularity
}

// FirstAnchor returns the aligned anchor with the smallest offset, or nil.
func (g *Graph) FirstAnchor() *Anchor {
	var first *Anchor
	for _, a := range g.anchors {
		if a.Offset == nil || a.Change() == Destroy {
			continue
		}
		if first == nil || *a.Offset < *first.Offset {
			first = a
		}
	}
	return first
}

// LastAnchor returns the aligned anchor with the largest offset, or nil.
func (g *Graph) LastAnchor() *Anchor {
	var last *Anchor
	for _, a := range g.anchors {
		if a.Offset == nil || a.Change() == Destroy {
			continue
		}
		if last == nil || *a.Offset > *last.Offset {
			last = a
		}
	}
	return last
}

// RenameAnchor rewrites an anchor's ID and every annotation reference to
// it. References are rewritten in place without touching change states; the
// store decides which already-persisted dependents need an extra update.
// Returns the annotations whose references were rewritten.
func (g *Graph) RenameAnchor(oldID, newID string) []*Annotation {
	a := g.anchors[oldID]
	if a == nil || oldID == newID {
		return nil
	}
	delete(g.anchors, oldID)
	a.ID = newID
	g.anchors[newID] = a

	var touched []*Annotation
	for _, ann := range g.annotations {
		hit := false
		if ann.StartID == oldID {
			ann.StartID = newID
			hit = true
		}
		if ann.EndID == oldID {
			ann.EndID = newID
			hit = true
		}
		if hit {
			touched = append(touched, ann)
		}
	}
	return touched
}

// RenameAnnotation rewrites an annotation's ID and every parent reference
// to it, in place, without touching change states. Returns the child
// annotations whose parent reference was rewritten.
func (g *Graph) RenameAnnotation(oldID, newID string) []*Annotation {
	a := g.annotations[oldID]
	if a == nil || oldID == newID {
		return nil
	}
	delete(g.annotations, oldID)
	a.ID = newID
	g.annotations[newID] = a

	var touched []*Annotation
	for _, ann := range g.annotations {
		if ann.ParentID == oldID {
			ann.ParentID = newID
			touched = append(touched, ann)
		}
	}
	return touched
}

// Prune removes destroyed entities after a successful save and clears all
// remaining change states.
func (g *Graph) Prune() {
	for id, a := range g.annotations {
		if a.Change() == Destroy {
			delete(g.annotations, id)
		} else {
			a.ClearChange()
		}
	}
	for id, a := range g.anchors {
		if a.Change() == Destroy {
			delete(g.anchors, id)
		} else {
			a.ClearChange()
		}
	}
	g.ClearChange()
}

func (g *Graph) sortTranscriptOrder(anns []*Annotation) {
	sort.Slice(anns, func(i, j int) bool {
		oi, oj := g.startOffsetOrInf(anns[i]), g.startOffsetOrInf(anns[j])
		if oi != oj {
			return oi < oj
		}
		if anns[i].Ordinal != anns[j].Ordinal {
			return anns[i].Ordinal < anns[j].Ordinal
		}
		return anns[i].ID < anns[j].ID
	})
}

func (g *Graph) startOffsetOrInf(a *Annotation) float64 {
	if s := g.Start(a); s != nil && s.Offset != nil {
		return *s.Offset
	}
	return math.Inf(1)
}

func offsetOrInf(a *Anchor) float64 {
	if a.Offset != nil {
		return *a.Offset
	}
	return math.Inf(1)
}

// A Fragment is a bounded excerpt of a source graph: either the subtree
// under a defining annotation or everything inside an offset range. It is a
// Graph in its own right, plus enough context to name where it came from.
type Fragment struct {
	Graph

	// SourceID is the whole transcript's ID.
	SourceID string

	// StartOffset and EndOffset are the fragment's temporal bounds. Named
	// with the Offset suffix so they do not shadow the promoted Start and
	// End anchor lookups.
	StartOffset float64
	EndOffset   float64

	// DefiningID is the defining annotation's ID when the fragment was
	// requested by annotation rather than by offset range.
	DefiningID string
}

// NewFragment returns an empty fragment of the given source graph.
func NewFragment(sourceID string, start, end float64, schema *Schema) *Fragment {
	f := &Fragment{
		Graph:       *NewGraph(FragmentID(sourceID, start, end), schema),
		SourceID:    sourceID,
		StartOffset: start,
		EndOffset:   end,
	}
	return f
}

// FragmentID returns the conventional name of a fragment: the source graph
// ID suffixed with its millisecond-precision bounds.
func FragmentID(sourceID string, start, end float64) string {
	return fmt.Sprintf("%s__%.3f-%.3f", sourceID, start, end)
}
