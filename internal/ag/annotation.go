package ag

import "time"

// An Annotation is a labelled unit on exactly one layer. Interval and point
// annotations span a start/end anchor pair; tag annotations (on layers with
// AlignmentNone) share their parent's anchors. Every annotation except the
// graph's own root tag has a parent on the layer's parent layer, and an
// ordinal giving its 1-based position among same-parent same-layer peers.
type Annotation struct {
	changeTracker

	ID      string
	LayerID string
	Label   string

	// StartID and EndID reference anchors held by the graph.
	StartID string
	EndID   string

	// ParentID references the parent annotation; empty for top-level
	// annotations whose parent is the graph itself.
	ParentID string

	// Ordinal is the 1-based position among peers; 0 means unassigned.
	Ordinal int

	// Confidence rates the label (see the Confidence constants).
	Confidence int

	Annotator string
	When      time.Time
}

// NewAnnotation returns an annotation marked for creation, with a temporary
// ID. Ordinal 0 lets the graph assign the next peer ordinal on AddAnnotation.
func NewAnnotation(layerID, label, startID, endID, parentID string) *Annotation {
	a := &Annotation{
		ID:         NewTempID(),
		LayerID:    layerID,
		Label:      label,
		StartID:    startID,
		EndID:      endID,
		ParentID:   parentID,
		Confidence: ConfidenceManual,
	}
	a.MarkCreate()
	return a
}

// SetLabel assigns a new label, tracking the change.
func (a *Annotation) SetLabel(label string, confidence int) {
	a.Label = label
	a.Confidence = confidence
	a.touch()
}

// SetAnchors assigns new start/end anchors, tracking the change.
func (a *Annotation) SetAnchors(startID, endID string) {
	a.StartID = startID
	a.EndID = endID
	a.touch()
}

// SetParent assigns a new parent, tracking the change.
func (a *Annotation) SetParent(parentID string) {
	a.ParentID = parentID
	a.touch()
}

// SetOrdinal assigns a new ordinal, tracking the change.
func (a *Annotation) SetOrdinal(ordinal int) {
	a.Ordinal = ordinal
	a.touch()
}
