package ag

import "strings"

// Alignment describes how a layer's annotations relate to time.
type Alignment int

const (
	// AlignmentNone marks a tag layer: annotations share their parent's
	// anchors and have no temporal extent of their own.
	AlignmentNone Alignment = 0

	// AlignmentPoint marks instants (start anchor == end anchor).
	AlignmentPoint Alignment = 1

	// AlignmentInterval marks spans with distinct start/end anchors.
	AlignmentInterval Alignment = 2
)

// Scope is the structural category of a temporal layer. It determines which
// denormalized table shape stores the layer's rows and which foreign keys
// those rows carry, and it prefixes the layer's annotation IDs.
type Scope string

const (
	// ScopeFreeform layers (noise, comment, topic) are children of the
	// graph itself and carry no structural foreign keys.
	ScopeFreeform Scope = ""

	// ScopeMeta layers (turn, utterance) partition the transcript by
	// participant; rows carry a turn_annotation_id.
	ScopeMeta Scope = "m"

	// ScopeWord layers are word tokens and their tags; rows carry
	// turn/word foreign keys and an ordinal_in_turn.
	ScopeWord Scope = "w"

	// ScopeSegment layers subdivide words; rows additionally carry a
	// segment_annotation_id and ordinal_in_word.
	ScopeSegment Scope = "s"
)

// Layer classes. A temporal layer stores annotations in per-scope tables;
// attribute-class layers are flat name/value tables keyed by an attribute
// name rather than a layer row.
const (
	ClassTemporal    = ""
	ClassTranscript  = "transcript"
	ClassParticipant = "speaker"
)

// Layer value types.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeIPA     = "ipa"
	TypeTree    = "tree"
)

// Reserved layer numbers for structural entities that have no row in the
// layer table. These appear in meta-category entity IDs ("m_-2_123" is
// participant 123) so the values are part of the persisted ID format.
const (
	NumberParticipant     = -2
	NumberMainParticipant = -3
	NumberAudioPrompt     = -4
	NumberEpisode         = -50
	NumberCorpus          = -100
	NumberTranscriptType  = -200
)

// A Layer is a named annotation type: its alignment, multiplicity rules,
// position in the layer hierarchy, and storage shape.
type Layer struct {
	// ID is the layer's mnemonic identifier ("word", "orthography").
	ID string

	// Number is the layer's numeric identity used in annotation IDs and
	// storage rows. Negative numbers are reserved for structural
	// pseudo-layers.
	Number int

	// ParentID names the parent layer; empty for top-level layers whose
	// parent is the graph itself.
	ParentID string

	Description string
	Alignment   Alignment

	// Peers allows multiple children per parent; PeersOverlap allows
	// those children to overlap in time; Saturated means the children
	// tile the parent's whole interval.
	Peers        bool
	PeersOverlap bool
	Saturated    bool

	// ParentIncludes means every annotation is temporally contained by
	// its parent.
	ParentIncludes bool

	Scope Scope

	// Type is one of the Type constants, or a MIME type for binary
	// layers whose payloads live in per-annotation files.
	Type string

	// Category groups layers for display and schema ordering.
	Category string

	// ValidLabels enumerates permitted labels (label -> display form).
	// Nil or empty means unconstrained.
	ValidLabels map[string]string

	// Access reports whether non-edit users may read the layer.
	Access bool

	// Class distinguishes temporal layers from attribute-class layers;
	// Attribute is the flat-table attribute name for the latter.
	Class     string
	Attribute string
}

// Temporal reports whether the layer stores time-anchored annotations
// (as opposed to a transcript or participant attribute class).
func (l *Layer) Temporal() bool { return l.Class == ClassTemporal }

// Tag reports whether the layer's annotations share their parent's anchors.
func (l *Layer) Tag() bool { return l.Alignment == AlignmentNone }

// Binary reports whether annotation payloads are MIME-typed files.
func (l *Layer) Binary() bool { return strings.Contains(l.Type, "/") }
