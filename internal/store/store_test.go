package store_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/cuedef"
	"github.com/korero-labs/agstore/internal/fixture"
	"github.com/korero-labs/agstore/internal/store"
	"github.com/korero-labs/agstore/internal/testutil"
	"github.com/korero-labs/agstore/internal/validate"
)

// seedCUE is the transcription schema the store tests run against: the
// conventional turn/utterance/word/segment hierarchy plus a POS tag layer,
// a freeform noise layer, and a few attributes.
const seedCUE = `
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
	orthography: {
		number:    2
		parent:    "word"
		alignment: "none"
		scope:     "word"
	}
	pos: {
		number:    30
		parent:    "word"
		alignment: "none"
		scope:     "word"
		peers:     true
	}
	segment: {
		number:    1
		parent:    "word"
		alignment: "interval"
		scope:     "segment"
		peers:     true
		saturated: true
		type:      "ipa"
	}
	pronounce_audio: {
		number:    40
		parent:    "word"
		alignment: "none"
		scope:     "word"
		type:      "audio/mpeg"
	}
	noise: {
		number:       32
		alignment:    "interval"
		scope:        "freeform"
		peers:        true
		peersOverlap: true
	}
}
attributes: {
	transcript: {
		language: {label: "Language", access: true}
		scribe: {label: "Scribe"}
	}
	participant: {
		gender: {label: "Gender", access: true}
	}
}
`

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// openStore opens a fresh seeded store in a temp directory. The first open
// creates the tables, the seed fills in the layer schema, and the reopen
// builds the schema cache from it.
func openStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ag.db")

	s, err := store.Open(path)
	require.NoError(t, err)
	seed, err := cuedef.CompileString(seedCUE)
	require.NoError(t, err)
	require.NoError(t, cuedef.Apply(context.Background(), s.DB(), seed))
	require.NoError(t, s.Close())

	opts = append([]store.Option{
		store.WithValidator(validate.New()),
		store.WithNormalizer(validate.NewNormalizer()),
		store.WithClock(testutil.NewClock(testEpoch).Now),
	}, opts...)
	s, err = store.Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// allLayers is the layer set tests load transcripts with.
var allLayers = []string{
	"who", "main_participant", "corpus", "episode", "transcript_type",
	"turn", "utterance", "word", "orthography", "pos", "segment", "noise",
	"transcript_language", "transcript_scribe", "participant_gender",
}

const helloFixture = `
name: hello.trs
corpus: demo
episode: greetings
transcript_type: monologue
attributes:
  language: en
participants:
  - name: ada
    main: true
    attributes:
      gender: F
turns:
  - who: ada
    start: 0.0
    end: 3.0
    utterances:
      - start: 0.0
        end: 3.0
        words:
          - label: Hello
            start: 0.0
            end: 1.0
          - label: world
            start: 1.0
            end: 2.0
          - label: Today
            start: 2.0
            end: 3.0
`

// saveHello imports the hello fixture and returns the reloaded graph.
func saveHello(t *testing.T, s *store.Store) *ag.Graph {
	t.Helper()
	ctx := context.Background()

	g, err := fixture.Parse(strings.NewReader(helloFixture), s.Schema())
	require.NoError(t, err)
	changed, err := s.SaveTranscript(ctx, store.AccessContext{User: "ed"}, g)
	require.NoError(t, err)
	require.True(t, changed)

	loaded, err := s.GetTranscript(ctx, store.AccessContext{User: "ed"}, "hello.trs", allLayers)
	require.NoError(t, err)
	return loaded
}

func TestOpenBuildsSchema(t *testing.T) {
	s := openStore(t)
	schema := s.Schema()

	roots := schema.Roots()
	assert.Equal(t, "who", roots.Participant)
	assert.Equal(t, "turn", roots.Turn)
	assert.Equal(t, "utterance", roots.Utterance)
	assert.Equal(t, "word", roots.Word)
	assert.Equal(t, "segment", roots.Segment)

	word := schema.Layer("word")
	require.NotNil(t, word)
	assert.Equal(t, 0, word.Number)
	assert.Equal(t, ag.ScopeWord, word.Scope)
	assert.Same(t, word, schema.LayerByNumber(0))

	// structural pseudo-layers exist without layer table rows
	for _, id := range []string{"who", "main_participant", "corpus", "episode", "transcript_type", "audio_prompt"} {
		assert.NotNil(t, schema.Layer(id), "missing pseudo-layer %s", id)
	}

	// attribute definitions become attribute-class layers
	language := schema.Layer("transcript_language")
	require.NotNil(t, language)
	assert.Equal(t, ag.ClassTranscript, language.Class)
	assert.Equal(t, "language", language.Attribute)
	assert.True(t, language.Access)

	gender := schema.Layer("participant_gender")
	require.NotNil(t, gender)
	assert.Equal(t, ag.ClassParticipant, gender.Class)
	assert.Equal(t, "who", gender.ParentID)
}

func TestSchemaOrdersTranscriptionLayersLast(t *testing.T) {
	s := openStore(t)
	layers := s.Schema().Layers()

	position := make(map[string]int, len(layers))
	for i, l := range layers {
		position[l.ID] = i
	}
	assert.Greater(t, position["word"], position["pos"], "word comes after tag layers")
	assert.Greater(t, position["segment"], position["word"])
	assert.Greater(t, position["orthography"], position["segment"])
}

func TestRegexpFunctionInstalled(t *testing.T) {
	s := openStore(t)

	var matched bool
	err := s.DB().QueryRow(`SELECT 'Hello' REGEXP '^[A-Z]'`).Scan(&matched)
	require.NoError(t, err)
	assert.True(t, matched)

	err = s.DB().QueryRow(`SELECT 'hello' REGEXP '^[A-Z]'`).Scan(&matched)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ag.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.DB().QueryRow(`PRAGMA user_version`).Scan(&version))
	assert.Equal(t, 1, version)
}
