// Package cuedef compiles layer and attribute seed definitions written in
// CUE into the rows a store needs before it can hold transcripts. Seeds
// describe the layer hierarchy (numbers, scopes, alignment, valid labels)
// and the transcript/participant attribute inventory.
//
// A seed file looks like:
//
//	layers: pos: {
//		number:    30
//		parent:    "word"
//		alignment: "none"
//		scope:     "word"
//		peers:     true
//		category:  "syntax"
//	}
//	attributes: transcript: language: {
//		label:  "Language"
//		access: true
//	}
package cuedef

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/korero-labs/agstore/internal/ag"
)

// A Seed is a compiled schema definition ready to be applied to a store.
type Seed struct {
	Layers     []ag.Layer
	Attributes []AttributeDefinition
}

// An AttributeDefinition declares one transcript or participant attribute.
// Class holds the storage class constant (ag.ClassTranscript or
// ag.ClassParticipant), not the seed file's spelling.
type AttributeDefinition struct {
	Class     string
	Attribute string
	Label     string
	Type      string

	// Access permits non-edit users to read the attribute.
	Access     bool
	Searchable bool

	DisplayOrder int

	// Options enumerates permitted values (value -> description).
	Options map[string]string
}

// CompileError reports a seed definition problem with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile compiles a seed definition from a CUE file on disk.
func LoadFile(path string) (*Seed, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(path))
	return CompileSeed(v)
}

// CompileString compiles a seed definition from CUE source text.
func CompileString(src string) (*Seed, error) {
	ctx := cuecontext.New()
	return CompileSeed(ctx.CompileString(src))
}

// CompileSeed parses a CUE value holding "layers" and "attributes" structs.
func CompileSeed(v cue.Value) (*Seed, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	seed := &Seed{}

	layersVal := v.LookupPath(cue.ParsePath("layers"))
	if layersVal.Exists() {
		layers, err := parseLayers(layersVal)
		if err != nil {
			return nil, err
		}
		seed.Layers = layers
	}

	attrsVal := v.LookupPath(cue.ParsePath("attributes"))
	if attrsVal.Exists() {
		attrs, err := parseAttributes(attrsVal)
		if err != nil {
			return nil, err
		}
		seed.Attributes = attrs
	}

	if len(seed.Layers) == 0 && len(seed.Attributes) == 0 {
		return nil, &CompileError{
			Field:   "layers",
			Message: "seed defines no layers and no attributes",
			Pos:     v.Pos(),
		}
	}
	return seed, nil
}

func parseLayers(v cue.Value) ([]ag.Layer, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var layers []ag.Layer
	seen := make(map[int]string)
	for iter.Next() {
		layer, err := parseLayer(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[layer.Number]; dup {
			return nil, &CompileError{
				Field:   "layers." + layer.ID,
				Message: fmt.Sprintf("layer number %d already used by %q", layer.Number, prev),
				Pos:     iter.Value().Pos(),
			}
		}
		seen[layer.Number] = layer.ID
		layers = append(layers, layer)
	}
	return layers, nil
}

func parseLayer(id string, v cue.Value) (ag.Layer, error) {
	layer := ag.Layer{ID: id, Peers: false, ParentIncludes: true, Type: ag.TypeString, Access: true}
	field := func(name string) string { return "layers." + id + "." + name }

	numberVal := v.LookupPath(cue.ParsePath("number"))
	if !numberVal.Exists() {
		return layer, &CompileError{Field: field("number"), Message: "number is required", Pos: v.Pos()}
	}
	number, err := numberVal.Int64()
	if err != nil {
		return layer, formatCUEError(err)
	}
	if number < 0 {
		return layer, &CompileError{
			Field:   field("number"),
			Message: "negative numbers are reserved for structural pseudo-layers",
			Pos:     numberVal.Pos(),
		}
	}
	layer.Number = int(number)

	if err := optString(v, "parent", &layer.ParentID); err != nil {
		return layer, err
	}
	if err := optString(v, "description", &layer.Description); err != nil {
		return layer, err
	}
	if err := optString(v, "category", &layer.Category); err != nil {
		return layer, err
	}
	if err := optString(v, "type", &layer.Type); err != nil {
		return layer, err
	}
	if err := optBool(v, "peers", &layer.Peers); err != nil {
		return layer, err
	}
	if err := optBool(v, "peersOverlap", &layer.PeersOverlap); err != nil {
		return layer, err
	}
	if err := optBool(v, "saturated", &layer.Saturated); err != nil {
		return layer, err
	}
	if err := optBool(v, "parentIncludes", &layer.ParentIncludes); err != nil {
		return layer, err
	}
	if err := optBool(v, "access", &layer.Access); err != nil {
		return layer, err
	}

	alignment := "none"
	if err := optString(v, "alignment", &alignment); err != nil {
		return layer, err
	}
	switch alignment {
	case "none":
		layer.Alignment = ag.AlignmentNone
	case "point":
		layer.Alignment = ag.AlignmentPoint
	case "interval":
		layer.Alignment = ag.AlignmentInterval
	default:
		return layer, &CompileError{
			Field:   field("alignment"),
			Message: fmt.Sprintf("unknown alignment %q (want none, point or interval)", alignment),
			Pos:     v.Pos(),
		}
	}

	scope := ""
	if err := optString(v, "scope", &scope); err != nil {
		return layer, err
	}
	switch scope {
	case "", "freeform":
		layer.Scope = ag.ScopeFreeform
	case "meta", "m":
		layer.Scope = ag.ScopeMeta
	case "word", "w":
		layer.Scope = ag.ScopeWord
	case "segment", "s":
		layer.Scope = ag.ScopeSegment
	default:
		return layer, &CompileError{
			Field:   field("scope"),
			Message: fmt.Sprintf("unknown scope %q (want freeform, meta, word or segment)", scope),
			Pos:     v.Pos(),
		}
	}

	labelsVal := v.LookupPath(cue.ParsePath("validLabels"))
	if labelsVal.Exists() {
		labels, err := parseStringMap(labelsVal)
		if err != nil {
			return layer, err
		}
		layer.ValidLabels = labels
	}
	return layer, nil
}

func parseAttributes(v cue.Value) ([]AttributeDefinition, error) {
	var defs []AttributeDefinition
	classIter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	order := 0
	for classIter.Next() {
		name := classIter.Selector().Unquoted()
		var class string
		switch name {
		case "transcript":
			class = ag.ClassTranscript
		case "participant":
			class = ag.ClassParticipant
		default:
			return nil, &CompileError{
				Field:   "attributes." + name,
				Message: "attribute class must be transcript or participant",
				Pos:     classIter.Value().Pos(),
			}
		}
		attrIter, err := classIter.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for attrIter.Next() {
			def := AttributeDefinition{
				Class:        class,
				Attribute:    attrIter.Selector().Unquoted(),
				Type:         ag.TypeString,
				Searchable:   true,
				DisplayOrder: order,
			}
			order++
			av := attrIter.Value()
			if err := optString(av, "label", &def.Label); err != nil {
				return nil, err
			}
			if err := optString(av, "type", &def.Type); err != nil {
				return nil, err
			}
			if err := optBool(av, "access", &def.Access); err != nil {
				return nil, err
			}
			if err := optBool(av, "searchable", &def.Searchable); err != nil {
				return nil, err
			}
			optionsVal := av.LookupPath(cue.ParsePath("options"))
			if optionsVal.Exists() {
				options, err := parseStringMap(optionsVal)
				if err != nil {
					return nil, err
				}
				def.Options = options
			}
			defs = append(defs, def)
		}
	}
	return defs, nil
}

func parseStringMap(v cue.Value) (map[string]string, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := make(map[string]string)
	for iter.Next() {
		value, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out[iter.Selector().Unquoted()] = value
	}
	return out, nil
}

func optString(v cue.Value, name string, out *string) error {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return nil
	}
	s, err := fv.String()
	if err != nil {
		return formatCUEError(err)
	}
	*out = s
	return nil
}

func optBool(v cue.Value, name string, out *bool) error {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return nil
	}
	b, err := fv.Bool()
	if err != nil {
		return formatCUEError(err)
	}
	*out = b
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
