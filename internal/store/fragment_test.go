package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/store"
)

// fragFixture interleaves two speakers so fragment loads can be checked for
// turn isolation: bab's "yes" overlaps ada's first utterance in time.
const fragFixture = `
name: frag.trs
corpus: demo
participants:
  - name: ada
    main: true
  - name: bab
turns:
  - who: ada
    start: 0.0
    end: 4.0
    utterances:
      - start: 0.0
        end: 2.0
        words:
          - label: the
            start: 0.0
            end: 1.0
          - label: quick
            start: 1.0
            end: 2.0
      - start: 2.0
        end: 4.0
        words:
          - label: brown
            start: 2.0
            end: 3.0
          - label: fox
            start: 3.0
            end: 4.0
  - who: bab
    start: 1.2
    end: 1.8
    utterances:
      - start: 1.2
        end: 1.8
        words:
          - label: yes
            start: 1.2
            end: 1.8
`

func loadFrag(t *testing.T, s *store.Store) *ag.Graph {
	t.Helper()
	saveFixture(t, s, fragFixture)
	g, err := s.GetTranscript(context.Background(), editor, "frag.trs", allLayers)
	require.NoError(t, err)
	return g
}

func TestGetFragmentByAnnotation(t *testing.T) {
	s := openStore(t)
	g := loadFrag(t, s)
	utt := g.All("utterance")[0] // ada, 0.0-2.0

	f, err := s.GetFragment(context.Background(), editor, "frag.trs", utt.ID,
		[]string{"word", "utterance"})
	require.NoError(t, err)

	assert.Equal(t, "frag.trs__0.000-2.000", f.ID)
	assert.Equal(t, "frag.trs", f.SourceID)
	assert.Equal(t, utt.ID, f.DefiningID)

	// only ada's words inside the utterance; bab's overlapping "yes" is
	// another turn's speech
	assert.Equal(t, []string{"the", "quick"}, f.Labels("word"))
	require.Len(t, f.All("utterance"), 1)

	// the defining annotation's turn frames the fragment even though the
	// turn layer was not requested and the turn overflows the bounds
	turns := f.All("turn")
	require.Len(t, turns, 1)
	start := f.Start(turns[0])
	require.NotNil(t, start)
	assert.True(t, start.OffsetEquals(0.0))
	// the turn's end anchor at 4.0 is outside the fragment
	assert.Nil(t, f.Anchor(turns[0].EndID))
}

func TestGetFragmentByWordAnnotation(t *testing.T) {
	s := openStore(t)
	g := loadFrag(t, s)
	quick := g.All("word")[1]

	f, err := s.GetFragment(context.Background(), editor, "frag.trs", quick.ID,
		[]string{"word"})
	require.NoError(t, err)

	assert.Equal(t, "frag.trs__1.000-2.000", f.ID)
	assert.Equal(t, []string{"quick"}, f.Labels("word"))
	// ancestors come along without their out-of-range anchors
	require.Len(t, f.All("turn"), 1)
	assert.Nil(t, f.Anchor(f.All("turn")[0].StartID))
}

func TestGetFragmentUnknownAnnotation(t *testing.T) {
	s := openStore(t)
	loadFrag(t, s)

	_, err := s.GetFragment(context.Background(), editor, "frag.trs", "w_0_9999", nil)
	require.Error(t, err)
	assert.True(t, store.IsGraphNotFound(err))
}

func TestGetFragmentByOffsets(t *testing.T) {
	s := openStore(t)
	loadFrag(t, s)

	f, err := s.GetFragmentByOffsets(context.Background(), editor, "frag.trs", 1.0, 4.0,
		[]string{"word"})
	require.NoError(t, err)

	assert.Equal(t, "frag.trs__1.000-4.000", f.ID)
	assert.Equal(t, 1.0, f.StartOffset)
	assert.Equal(t, 4.0, f.EndOffset)

	// no turn filter: both speakers' in-range words load
	assert.Equal(t, []string{"quick", "yes", "brown", "fox"}, f.Labels("word"))

	// parents are backfilled with their anchors even outside the range
	turns := f.All("turn")
	require.Len(t, turns, 2)
	adaTurn := turns[0]
	assert.True(t, f.Start(adaTurn).OffsetEquals(0.0))
	assert.True(t, f.End(adaTurn).OffsetEquals(4.0))
}

func TestGetFragmentByOffsetsEmptyRange(t *testing.T) {
	s := openStore(t)
	loadFrag(t, s)

	f, err := s.GetFragmentByOffsets(context.Background(), editor, "frag.trs", 10.0, 12.0,
		[]string{"word"})
	require.NoError(t, err)
	assert.Empty(t, f.All("word"))
	assert.Empty(t, f.All("turn"))
}

func TestGetFragmentRespectsVisibility(t *testing.T) {
	s := openStore(t)
	g := loadFrag(t, s)
	word := g.All("word")[0]

	grantRole(t, s, "guest", "read")
	grantPermission(t, s, "read", store.EntityTranscript, "corpus", "^other$")

	_, err := s.GetFragment(context.Background(), editor, "frag.trs", word.ID, []string{"word"})
	require.NoError(t, err)

	_, err = s.GetFragment(context.Background(), store.AccessContext{User: "guest"}, "frag.trs", word.ID, []string{"word"})
	require.Error(t, err)
	assert.True(t, store.IsGraphNotFound(err))
}
