// Package validate checks and repairs annotation graphs before they are
// saved. The Validator reports structural problems without fixing anything;
// the Normalizer applies the safe mechanical repairs (label normalization,
// ordinal compaction, tag anchor sharing) that graph editors routinely
// leave behind.
package validate

import (
	"fmt"

	"github.com/korero-labs/agstore/internal/ag"
)

// A Problem is one structural defect found in a graph.
type Problem struct {
	// AnnotationID locates the defect when it belongs to an annotation.
	AnnotationID string

	// AnchorID locates the defect when it belongs to an anchor.
	AnchorID string

	Message string
}

// Error implements the error interface.
func (p *Problem) Error() string {
	switch {
	case p.AnnotationID != "":
		return fmt.Sprintf("annotation %s: %s", p.AnnotationID, p.Message)
	case p.AnchorID != "":
		return fmt.Sprintf("anchor %s: %s", p.AnchorID, p.Message)
	default:
		return p.Message
	}
}

// A Validator checks graph structure against the graph's own schema. All
// problems are accumulated and reported together, so a caller fixing a
// graph by hand sees the full list at once.
type Validator struct {
	// MaxLabelLength rejects labels longer than this; 0 means unlimited.
	MaxLabelLength int
}

// New returns a validator with the default label length limit.
func New() *Validator {
	return &Validator{MaxLabelLength: 255}
}

// Validate implements the store's pre-save check.
func (v *Validator) Validate(g *ag.Graph) []error {
	var errs []error
	report := func(a *ag.Annotation, format string, args ...any) {
		errs = append(errs, &Problem{AnnotationID: a.ID, Message: fmt.Sprintf(format, args...)})
	}

	schema := g.Schema()
	for _, a := range g.Annotations() {
		if a.Change() == ag.Destroy {
			continue
		}
		layer := schema.Layer(a.LayerID)
		if layer == nil {
			report(a, "unknown layer %q", a.LayerID)
			continue
		}

		if v.MaxLabelLength > 0 && len(a.Label) > v.MaxLabelLength {
			report(a, "label exceeds %d bytes", v.MaxLabelLength)
		}
		if len(layer.ValidLabels) > 0 {
			if _, ok := layer.ValidLabels[a.Label]; !ok {
				report(a, "label %q is not a valid %s label", a.Label, layer.ID)
			}
		}

		v.checkParent(g, a, layer, report)
		v.checkAnchors(g, a, layer, report)
	}

	for _, anchor := range g.Anchors() {
		if anchor.Change() == ag.Destroy {
			continue
		}
		if anchor.Offset != nil && *anchor.Offset < 0 {
			errs = append(errs, &Problem{AnchorID: anchor.ID, Message: "negative offset"})
		}
	}

	errs = append(errs, v.checkOrdinals(g)...)
	return errs
}

func (v *Validator) checkParent(g *ag.Graph, a *ag.Annotation, layer *ag.Layer, report func(*ag.Annotation, string, ...any)) {
	if layer.ParentID == "" {
		return
	}
	if a.ParentID == "" {
		report(a, "missing required %s parent", layer.ParentID)
		return
	}
	parent := g.Annotation(a.ParentID)
	if parent == nil {
		// A stored parent may legitimately be absent from a fragment
		// or a partially loaded graph; only in-graph parents can be
		// checked further.
		return
	}
	if parent.Change() == ag.Destroy && a.Change() != ag.Destroy {
		report(a, "parent %s is marked for deletion", parent.ID)
	}
	if parent.LayerID != layer.ParentID {
		report(a, "parent %s is on layer %q, expected %q", parent.ID, parent.LayerID, layer.ParentID)
	}
}

func (v *Validator) checkAnchors(g *ag.Graph, a *ag.Annotation, layer *ag.Layer, report func(*ag.Annotation, string, ...any)) {
	if !layer.Temporal() || layer.Number < 0 {
		return
	}

	if layer.Tag() {
		parent := g.Annotation(a.ParentID)
		if parent != nil && (a.StartID != parent.StartID || a.EndID != parent.EndID) {
			report(a, "does not share its parent's anchors")
		}
		return
	}

	start, end := g.Anchor(a.StartID), g.Anchor(a.EndID)
	if a.StartID != "" && start == nil {
		report(a, "references missing start anchor %s", a.StartID)
	}
	if a.EndID != "" && end == nil {
		report(a, "references missing end anchor %s", a.EndID)
	}
	if start != nil && start.Change() == ag.Destroy && a.Change() != ag.Destroy {
		report(a, "start anchor %s is marked for deletion", start.ID)
	}
	if end != nil && end.Change() == ag.Destroy && a.Change() != ag.Destroy {
		report(a, "end anchor %s is marked for deletion", end.ID)
	}
	if start != nil && end != nil && start.Aligned() && end.Aligned() {
		if *start.Offset > *end.Offset+ag.OffsetGranularity {
			report(a, "ends at %g before it starts at %g", *end.Offset, *start.Offset)
		}
	}
	if layer.Alignment == ag.AlignmentPoint && a.StartID != a.EndID {
		report(a, "point annotation with distinct start and end anchors")
	}
}

// checkOrdinals verifies that same-parent peers are numbered 1..n with no
// gaps or duplicates.
func (v *Validator) checkOrdinals(g *ag.Graph) []error {
	var errs []error
	schema := g.Schema()
	for _, layer := range schema.Layers() {
		if !layer.Temporal() || layer.Number < 0 || !layer.Peers {
			continue
		}
		byParent := make(map[string][]*ag.Annotation)
		for _, a := range g.All(layer.ID) {
			if a.Change() == ag.Destroy {
				continue
			}
			byParent[a.ParentID] = append(byParent[a.ParentID], a)
		}
		for parentID, peers := range byParent {
			seen := make(map[int]bool, len(peers))
			for _, a := range peers {
				if a.Ordinal < 1 || a.Ordinal > len(peers) || seen[a.Ordinal] {
					errs = append(errs, &Problem{
						AnnotationID: a.ID,
						Message:      fmt.Sprintf("ordinal %d breaks the 1..%d numbering of %s peers under %s", a.Ordinal, len(peers), layer.ID, parentID),
					})
					break
				}
				seen[a.Ordinal] = true
			}
		}
	}
	return errs
}
