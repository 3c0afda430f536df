package fixture

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korero-labs/agstore/internal/ag"
)

func testSchema() *ag.Schema {
	layers := []ag.Layer{
		{ID: "who", Number: ag.NumberParticipant, Alignment: ag.AlignmentNone, Scope: ag.ScopeMeta, Peers: true, Access: true},
		{ID: "main_participant", Number: ag.NumberMainParticipant, ParentID: "who", Scope: ag.ScopeMeta, Access: true},
		{ID: "episode", Number: ag.NumberEpisode, Scope: ag.ScopeMeta, Access: true},
		{ID: "corpus", Number: ag.NumberCorpus, Scope: ag.ScopeMeta, Access: true},
		{ID: "transcript_type", Number: ag.NumberTranscriptType, Scope: ag.ScopeMeta, Access: true},
		{ID: "turn", Number: 11, ParentID: "who", Alignment: ag.AlignmentInterval, Scope: ag.ScopeMeta, Peers: true, PeersOverlap: true},
		{ID: "utterance", Number: 12, ParentID: "turn", Alignment: ag.AlignmentInterval, Scope: ag.ScopeMeta, Peers: true, Saturated: true},
		{ID: "word", Number: 0, ParentID: "turn", Alignment: ag.AlignmentInterval, Scope: ag.ScopeWord, Peers: true, ParentIncludes: true},
		{ID: "pos", Number: 30, ParentID: "word", Alignment: ag.AlignmentNone, Scope: ag.ScopeWord, Peers: true},
		{ID: "segment", Number: 1, ParentID: "word", Alignment: ag.AlignmentInterval, Scope: ag.ScopeSegment, Peers: true, Saturated: true, Type: ag.TypeIPA},
		{ID: "noise", Number: 32, Alignment: ag.AlignmentInterval, Scope: ag.ScopeFreeform, Peers: true, PeersOverlap: true},
		{ID: "transcript_language", Class: ag.ClassTranscript, Attribute: "language", Access: true},
		{ID: "participant_gender", Class: ag.ClassParticipant, Attribute: "gender", Access: true},
	}
	roots := ag.Roots{
		Participant: "who", Turn: "turn", Utterance: "utterance",
		Word: "word", Segment: "segment", Episode: "episode", Corpus: "corpus",
	}
	return ag.NewSchema(layers, roots)
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
          - label: hello
            start: 0.0
            end: 1.0
            tags:
              pos: UH
          - label: world
            start: 1.0
            end: 2.5
freeform:
  - layer: noise
    label: doorbell
    start: 2.5
    end: 3.0
`

func TestParseBuildsGraph(t *testing.T) {
	g, err := Parse(strings.NewReader(helloFixture), testSchema())
	require.NoError(t, err)

	assert.Equal(t, "hello.trs", g.ID)
	assert.Equal(t, ag.Create, g.Change())

	assert.Equal(t, []string{"demo"}, g.Labels("corpus"))
	assert.Equal(t, []string{"greetings"}, g.Labels("episode"))
	assert.Equal(t, []string{"monologue"}, g.Labels("transcript_type"))
	assert.Equal(t, []string{"en"}, g.Labels("transcript_language"))

	assert.Equal(t, []string{"ada"}, g.Labels("who"))
	assert.Equal(t, []string{"ada"}, g.Labels("main_participant"))
	assert.Equal(t, []string{"F"}, g.Labels("participant_gender"))

	words := g.All("word")
	require.Len(t, words, 2)
	assert.Equal(t, []string{"hello", "world"}, g.Labels("word"))
	assert.Equal(t, 1, words[0].Ordinal)
	assert.Equal(t, 2, words[1].Ordinal)

	assert.Equal(t, []string{"doorbell"}, g.Labels("noise"))

	for _, a := range g.Annotations() {
		assert.Equal(t, ag.Create, a.Change(), "annotation %s", a.ID)
	}
	for _, a := range g.Anchors() {
		assert.Equal(t, ag.Create, a.Change(), "anchor %s", a.ID)
	}
}

func TestParseChainsAdjacentWordAnchors(t *testing.T) {
	g, err := Parse(strings.NewReader(helloFixture), testSchema())
	require.NoError(t, err)

	words := g.All("word")
	require.Len(t, words, 2)
	assert.Equal(t, words[0].EndID, words[1].StartID, "adjacent words share a boundary anchor")

	start := g.Start(words[1])
	require.NotNil(t, start)
	assert.True(t, start.OffsetEquals(1.0))
}

func TestParseTagsShareWordAnchors(t *testing.T) {
	g, err := Parse(strings.NewReader(helloFixture), testSchema())
	require.NoError(t, err)

	tags := g.All("pos")
	require.Len(t, tags, 1)
	hello := g.All("word")[0]
	assert.Equal(t, hello.StartID, tags[0].StartID)
	assert.Equal(t, hello.EndID, tags[0].EndID)
	assert.Equal(t, hello.ID, tags[0].ParentID)
}

func TestParseUnalignedWords(t *testing.T) {
	src := `
name: rough.trs
participants:
  - name: ada
turns:
  - who: ada
    start: 0.0
    end: 10.0
    utterances:
      - start: 0.0
        end: 10.0
        words:
          - label: one
          - label: two
          - label: three
`
	g, err := Parse(strings.NewReader(src), testSchema())
	require.NoError(t, err)

	words := g.All("word")
	require.Len(t, words, 3)
	assert.Equal(t, words[0].EndID, words[1].StartID)
	assert.Equal(t, words[1].EndID, words[2].StartID)
	for _, w := range words {
		assert.Nil(t, g.End(w).Offset, "word %q should be unaligned", w.Label)
	}
	// the first word starts at the utterance boundary
	assert.True(t, g.Start(words[0]).OffsetEquals(0.0))
}

func TestParseSegments(t *testing.T) {
	src := `
name: phones.trs
participants:
  - name: ada
turns:
  - who: ada
    start: 0.0
    end: 1.0
    utterances:
      - start: 0.0
        end: 1.0
        words:
          - label: cat
            start: 0.0
            end: 1.0
            segments:
              - {label: k, start: 0.0, end: 0.3}
              - {label: "{", start: 0.3, end: 0.6}
              - {label: t, start: 0.6, end: 1.0}
`
	g, err := Parse(strings.NewReader(src), testSchema())
	require.NoError(t, err)

	segments := g.All("segment")
	require.Len(t, segments, 3)
	assert.Equal(t, segments[0].EndID, segments[1].StartID)
	word := g.All("word")[0]
	for _, s := range segments {
		assert.Equal(t, word.ID, s.ParentID)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse(strings.NewReader("name: x.trs\nbogus: true\n"), testSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestParseRejectsUndeclaredSpeaker(t *testing.T) {
	src := `
name: x.trs
turns:
  - who: ghost
    start: 0.0
    end: 1.0
`
	_, err := Parse(strings.NewReader(src), testSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestParseRejectsUnknownTagLayer(t *testing.T) {
	src := `
name: x.trs
participants:
  - name: ada
turns:
  - who: ada
    start: 0.0
    end: 1.0
    utterances:
      - start: 0.0
        end: 1.0
        words:
          - label: hi
            tags:
              sentiment: positive
`
	_, err := Parse(strings.NewReader(src), testSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"sentiment"`)
}

func TestParseRejectsUnknownAttribute(t *testing.T) {
	src := "name: x.trs\nattributes:\n  mood: grim\n"
	_, err := Parse(strings.NewReader(src), testSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"mood"`)
}

func TestParseRequiresName(t *testing.T) {
	_, err := Parse(strings.NewReader("corpus: demo\n"), testSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transcript name")
}
