package cuedef

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korero-labs/agstore/internal/ag"
)

const transcriptionSeed = `
layers: {
	turn: {
		number:       11
		parent:       "who"
		alignment:    "interval"
		scope:        "meta"
		peers:        true
		peersOverlap: true
	}
	utterance: {
		number:    12
		parent:    "turn"
		alignment: "interval"
		scope:     "meta"
		peers:     true
		saturated: true
	}
	word: {
		number:    0
		parent:    "turn"
		alignment: "interval"
		scope:     "word"
		peers:     true
	}
	pos: {
		number:    30
		parent:    "word"
		alignment: "none"
		scope:     "word"
		peers:     true
		category:  "syntax"
		validLabels: {
			NOUN: "noun"
			VERB: "verb"
		}
	}
}
attributes: {
	transcript: {
		language: {
			label:  "Language"
			access: true
		}
	}
	participant: {
		gender: {
			label: "Gender"
			options: {
				F: "female"
				M: "male"
			}
		}
	}
}
`

func TestCompileSeed(t *testing.T) {
	seed, err := CompileString(transcriptionSeed)
	require.NoError(t, err)
	require.Len(t, seed.Layers, 4)

	byID := make(map[string]ag.Layer)
	for _, l := range seed.Layers {
		byID[l.ID] = l
	}

	turn := byID["turn"]
	assert.Equal(t, 11, turn.Number)
	assert.Equal(t, "who", turn.ParentID)
	assert.Equal(t, ag.AlignmentInterval, turn.Alignment)
	assert.Equal(t, ag.ScopeMeta, turn.Scope)
	assert.True(t, turn.PeersOverlap)

	word := byID["word"]
	assert.Equal(t, ag.ScopeWord, word.Scope)
	assert.True(t, word.ParentIncludes)

	pos := byID["pos"]
	assert.Equal(t, ag.AlignmentNone, pos.Alignment)
	assert.Equal(t, "syntax", pos.Category)
	assert.Equal(t, map[string]string{"NOUN": "noun", "VERB": "verb"}, pos.ValidLabels)

	require.Len(t, seed.Attributes, 2)
	assert.Equal(t, ag.ClassTranscript, seed.Attributes[0].Class)
	assert.Equal(t, "language", seed.Attributes[0].Attribute)
	assert.True(t, seed.Attributes[0].Access)
	assert.Equal(t, ag.ClassParticipant, seed.Attributes[1].Class)
	assert.Equal(t, map[string]string{"F": "female", "M": "male"}, seed.Attributes[1].Options)
}

func TestCompileSeedRequiresNumber(t *testing.T) {
	_, err := CompileString(`layers: word: {alignment: "interval"}`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "layers.word.number", ce.Field)
}

func TestCompileSeedRejectsNegativeNumber(t *testing.T) {
	_, err := CompileString(`layers: ghost: {number: -2}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved for structural pseudo-layers")
}

func TestCompileSeedRejectsDuplicateNumbers(t *testing.T) {
	_, err := CompileString(`
layers: {
	a: {number: 30}
	b: {number: 30}
}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used")
}

func TestCompileSeedRejectsUnknownAlignment(t *testing.T) {
	_, err := CompileString(`layers: word: {number: 0, alignment: "sideways"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown alignment "sideways"`)
}

func TestCompileSeedRejectsUnknownClass(t *testing.T) {
	_, err := CompileString(`attributes: corpus: {language: {}}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be transcript or participant")
}

func TestCompileSeedRejectsEmptySeed(t *testing.T) {
	_, err := CompileString(`other: 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no layers and no attributes")
}

func TestCompileSeedReportsCUESyntaxErrors(t *testing.T) {
	_, err := CompileString(`layers: { word: {number: }`)
	require.Error(t, err)
}
