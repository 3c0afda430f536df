// Package agid encodes and decodes the stable string identifiers used for
// anchors and annotations. Persisted data and search-result MatchId strings
// depend on these formats, so they must round-trip bit-exactly.
//
// Formats:
//
//	anchor                 n_<row>                e.g. n_123
//	freeform temporal      <layer>_<row>          e.g. 12_345
//	meta temporal/entity   m_<layer>_<row>        e.g. m_11_42, m_-2_7
//	word temporal          w_<layer>_<row>        e.g. w_0_123
//	segment temporal       s_<layer>_<row>        e.g. s_1_99
//	transcript attribute   t|<attribute>|<row>    e.g. t|language|3
//	participant attribute  p|<attribute>|<row>    e.g. p|gender|88
//
// The layer component is the layer's numeric identity. Negative layer
// numbers in the meta format denote structural entities that have no layer
// row (participants, episodes, corpora; see the ag.Number constants).
package agid

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/korero-labs/agstore/internal/ag"
)

// Category classifies a decoded ID.
type Category int

const (
	// CategoryAnchor is an anchor row ID.
	CategoryAnchor Category = iota

	// CategoryTemporal is an annotation on a temporal layer; the Scope
	// field says which per-scope table holds it.
	CategoryTemporal

	// CategoryMeta is a structural entity with a reserved negative layer
	// number (participant, episode, corpus, transcript type).
	CategoryMeta

	// CategoryTranscriptAttribute is a transcript attribute row.
	CategoryTranscriptAttribute

	// CategoryParticipantAttribute is a participant attribute row.
	CategoryParticipantAttribute
)

// String returns the category name for diagnostics.
func (c Category) String() string {
	switch c {
	case CategoryAnchor:
		return "anchor"
	case CategoryTemporal:
		return "temporal"
	case CategoryMeta:
		return "meta"
	case CategoryTranscriptAttribute:
		return "transcript attribute"
	case CategoryParticipantAttribute:
		return "participant attribute"
	default:
		return "unknown"
	}
}

// An ID is a decoded identifier.
type ID struct {
	Category Category

	// Scope is set for CategoryTemporal and CategoryMeta.
	Scope ag.Scope

	// LayerNumber is set for CategoryTemporal and CategoryMeta.
	LayerNumber int

	// Attribute is set for the attribute categories.
	Attribute string

	// RowID is the numeric identity in every category.
	RowID int64
}

// MalformedIDError reports an ID string that does not match the pattern the
// operation required. Decoding never silently defaults.
type MalformedIDError struct {
	ID       string
	Expected string
}

// Error implements the error interface.
func (e *MalformedIDError) Error() string {
	return fmt.Sprintf("malformed ID %q: expected %s", e.ID, e.Expected)
}

var (
	anchorPattern   = regexp.MustCompile(`^n_(\d+)$`)
	freeformPattern = regexp.MustCompile(`^(\d+)_(\d+)$`)
	scopedPattern   = regexp.MustCompile(`^(m|w|s)_(-?\d+)_(\d+)$`)
	attrPattern     = regexp.MustCompile(`^(t|p)\|([^|]+)\|(\d+)$`)
)

// Anchor encodes an anchor row ID.
func Anchor(rowID int64) string {
	return fmt.Sprintf("n_%d", rowID)
}

// Temporal encodes an annotation ID for a temporal layer.
func Temporal(scope ag.Scope, layerNumber int, rowID int64) string {
	if scope == ag.ScopeFreeform {
		return fmt.Sprintf("%d_%d", layerNumber, rowID)
	}
	return fmt.Sprintf("%s_%d_%d", scopePrefix(scope), layerNumber, rowID)
}

// Meta encodes a structural entity ID (reserved negative layer number).
func Meta(layerNumber int, entityID int64) string {
	return fmt.Sprintf("m_%d_%d", layerNumber, entityID)
}

// TranscriptAttribute encodes a transcript attribute row ID.
func TranscriptAttribute(attribute string, rowID int64) string {
	return fmt.Sprintf("t|%s|%d", attribute, rowID)
}

// ParticipantAttribute encodes a participant attribute row ID.
func ParticipantAttribute(attribute string, rowID int64) string {
	return fmt.Sprintf("p|%s|%d", attribute, rowID)
}

// Encode is the inverse of Decode.
func Encode(id ID) string {
	switch id.Category {
	case CategoryAnchor:
		return Anchor(id.RowID)
	case CategoryTemporal:
		return Temporal(id.Scope, id.LayerNumber, id.RowID)
	case CategoryMeta:
		return Meta(id.LayerNumber, id.RowID)
	case CategoryTranscriptAttribute:
		return TranscriptAttribute(id.Attribute, id.RowID)
	case CategoryParticipantAttribute:
		return ParticipantAttribute(id.Attribute, id.RowID)
	default:
		return ""
	}
}

// Decode parses any known ID format. Unrecognised strings (including
// temporary in-memory IDs) return a MalformedIDError.
func Decode(s string) (ID, error) {
	if m := anchorPattern.FindStringSubmatch(s); m != nil {
		row, _ := strconv.ParseInt(m[1], 10, 64)
		return ID{Category: CategoryAnchor, RowID: row}, nil
	}
	if m := scopedPattern.FindStringSubmatch(s); m != nil {
		layer, _ := strconv.Atoi(m[2])
		row, _ := strconv.ParseInt(m[3], 10, 64)
		id := ID{Scope: scopeOf(m[1]), LayerNumber: layer, RowID: row}
		if m[1] == "m" && layer < 0 {
			id.Category = CategoryMeta
		} else {
			id.Category = CategoryTemporal
		}
		return id, nil
	}
	if m := freeformPattern.FindStringSubmatch(s); m != nil {
		layer, _ := strconv.Atoi(m[1])
		row, _ := strconv.ParseInt(m[2], 10, 64)
		return ID{Category: CategoryTemporal, Scope: ag.ScopeFreeform, LayerNumber: layer, RowID: row}, nil
	}
	if m := attrPattern.FindStringSubmatch(s); m != nil {
		row, _ := strconv.ParseInt(m[3], 10, 64)
		cat := CategoryTranscriptAttribute
		if m[1] == "p" {
			cat = CategoryParticipantAttribute
		}
		return ID{Category: cat, Attribute: m[2], RowID: row}, nil
	}
	return ID{}, &MalformedIDError{ID: s, Expected: "an anchor, annotation or attribute ID"}
}

// DecodeAnchor parses an anchor ID, failing on any other format.
func DecodeAnchor(s string) (int64, error) {
	m := anchorPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, &MalformedIDError{ID: s, Expected: `an anchor ID ("n_<row>")`}
	}
	return strconv.ParseInt(m[1], 10, 64)
}

// DecodeAnnotation parses a temporal or meta annotation ID, failing on
// anchors and attributes.
func DecodeAnnotation(s string) (ID, error) {
	id, err := Decode(s)
	if err != nil {
		return ID{}, err
	}
	switch id.Category {
	case CategoryTemporal, CategoryMeta:
		return id, nil
	default:
		return ID{}, &MalformedIDError{ID: s, Expected: "an annotation ID"}
	}
}

func scopePrefix(scope ag.Scope) string {
	return string(scope)
}

func scopeOf(prefix string) ag.Scope {
	switch prefix {
	case "m":
		return ag.ScopeMeta
	case "w":
		return ag.ScopeWord
	case "s":
		return ag.ScopeSegment
	default:
		return ag.ScopeFreeform
	}
}
