package ag

import "sort"

// Roots names the structural layers of a schema. The store discovers these
// when it builds the schema; everything else treats them as opaque layer IDs.
type Roots struct {
	Participant string
	Turn        string
	Utterance   string
	Word        string
	Segment     string
	Episode     string
	Corpus      string
}

// A Schema is the layer hierarchy for a store: every layer keyed by ID and
// by number, plus the identities of the structural layers. A Schema is
// built once when a store opens and never mutated afterwards; callers must
// treat the layers it returns as read-only.
type Schema struct {
	layers   map[string]*Layer
	byNumber map[int]*Layer
	ordered  []string
	roots    Roots
}

// NewSchema builds a schema from layer definitions. The input order is the
// display order. Layer values are copied; later mutation of the input slice
// does not affect the schema.
func NewSchema(layers []Layer, roots Roots) *Schema {
	s := &Schema{
		layers:   make(map[string]*Layer, len(layers)),
		byNumber: make(map[int]*Layer, len(layers)),
		ordered:  make([]string, 0, len(layers)),
		roots:    roots,
	}
	for i := range layers {
		l := layers[i]
		s.layers[l.ID] = &l
		if l.Class == ClassTemporal {
			s.byNumber[l.Number] = &l
		}
		s.ordered = append(s.ordered, l.ID)
	}
	return s
}

// Roots returns the structural layer IDs.
func (s *Schema) Roots() Roots { return s.roots }

// Layer returns the layer with the given ID, or nil.
func (s *Schema) Layer(id string) *Layer { return s.layers[id] }

// LayerByNumber returns the temporal layer with the given number, or nil.
func (s *Schema) LayerByNumber(n int) *Layer { return s.byNumber[n] }

// Layers returns all layers in display order.
func (s *Schema) Layers() []*Layer {
	out := make([]*Layer, 0, len(s.ordered))
	for _, id := range s.ordered {
		out = append(out, s.layers[id])
	}
	return out
}

// Ancestors returns the chain of ancestor layer IDs from the layer's parent
// up to the top level, nearest first. Unknown layers have no ancestors.
func (s *Schema) Ancestors(layerID string) []string {
	var out []string
	seen := map[string]bool{layerID: true}
	l := s.layers[layerID]
	for l != nil && l.ParentID != "" && !seen[l.ParentID] {
		out = append(out, l.ParentID)
		seen[l.ParentID] = true
		l = s.layers[l.ParentID]
	}
	return out
}

// Depth returns the number of ancestors above the layer.
func (s *Schema) Depth(layerID string) int { return len(s.Ancestors(layerID)) }

// WithAncestors expands the given layer IDs to include every ancestor layer,
// and returns the expanded set sorted top-down (parents before children,
// display order breaking ties). Unknown IDs are dropped.
func (s *Schema) WithAncestors(layerIDs []string) []string {
	include := map[string]bool{}
	for _, id := range layerIDs {
		if s.layers[id] == nil {
			continue
		}
		include[id] = true
		for _, anc := range s.Ancestors(id) {
			include[anc] = true
		}
	}

	pos := make(map[string]int, len(s.ordered))
	for i, id := range s.ordered {
		pos[id] = i
	}

	out := make([]string, 0, len(include))
	for id := range include {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := s.Depth(out[i]), s.Depth(out[j])
		if di != dj {
			return di < dj
		}
		return pos[out[i]] < pos[out[j]]
	})
	return out
}

// ChildLayers returns the layers whose parent is the given layer, in display
// order. An empty layerID returns the top-level layers.
func (s *Schema) ChildLayers(layerID string) []*Layer {
	var out []*Layer
	for _, id := range s.ordered {
		if l := s.layers[id]; l.ParentID == layerID && l.ID != layerID {
			out = append(out, l)
		}
	}
	return out
}
