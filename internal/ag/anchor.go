package ag

import (
	"time"

	"github.com/google/uuid"
)

// Confidence values for anchor offsets and annotation labels.
// The scale is 0-100; the named points are the ones tools actually write.
const (
	ConfidenceNone      = 0   // no confidence, e.g. an unaligned anchor
	ConfidenceDefault   = 10  // offset interpolated between aligned neighbours
	ConfidenceAutomatic = 50  // set by an automatic aligner or annotator
	ConfidenceManual    = 100 // set or confirmed by a human
)

// OffsetGranularity is the tolerance used when comparing anchor offsets.
// Offsets closer than this are treated as equal.
const OffsetGranularity = 0.001

// An Anchor is a point in the transcript's temporal continuum. Anchors are
// shared: any number of annotations may use the same anchor as their start
// or end, which is how adjacency (word N ends where word N+1 starts) is
// represented without duplicating offsets.
type Anchor struct {
	changeTracker

	// ID is the anchor's identity: "n_<row>" once persisted, a temporary
	// ID before that.
	ID string

	// Offset is the position in seconds, nil while unaligned.
	Offset *float64

	// Confidence rates the offset (see the Confidence constants).
	Confidence int

	// Annotator and When record provenance, when known.
	Annotator string
	When      time.Time
}

// NewAnchor returns an anchor marked for creation, with a temporary ID.
func NewAnchor(offset *float64, confidence int) *Anchor {
	a := &Anchor{ID: NewTempID(), Offset: offset, Confidence: confidence}
	a.MarkCreate()
	return a
}

// Aligned reports whether the anchor has an offset.
func (a *Anchor) Aligned() bool { return a.Offset != nil }

// SetOffset assigns a new offset and confidence, tracking the change.
func (a *Anchor) SetOffset(offset *float64, confidence int) {
	a.Offset = offset
	a.Confidence = confidence
	a.touch()
}

// OffsetEquals reports whether the anchor's offset equals the given offset
// within OffsetGranularity. An unaligned anchor equals nothing.
func (a *Anchor) OffsetEquals(offset float64) bool {
	if a.Offset == nil {
		return false
	}
	d := *a.Offset - offset
	return d > -OffsetGranularity && d < OffsetGranularity
}

// Offsetp returns a pointer to a copy of the given offset. Convenience for
// constructing aligned anchors from literals.
func Offsetp(offset float64) *float64 { return &offset }

// NewTempID returns a process-unique temporary entity ID. Temporary IDs are
// rewritten to database-assigned IDs during save; they never match any
// persisted ID pattern.
func NewTempID() string {
	return "tmp-" + uuid.NewString()
}

// IsTempID reports whether id is a temporary (not yet persisted) ID.
func IsTempID(id string) bool {
	return len(id) > 4 && id[:4] == "tmp-"
}
