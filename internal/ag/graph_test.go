package ag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSchema builds a minimal word hierarchy:
// turn -> utterance? No: utterance is a child of turn, word is a child of
// turn, pos tags words.
func testSchema() *Schema {
	layers := []Layer{
		{ID: "turn", Number: 11, Alignment: AlignmentInterval, Scope: ScopeMeta, Peers: true, PeersOverlap: true},
		{ID: "utterance", Number: 12, ParentID: "turn", Alignment: AlignmentInterval, Scope: ScopeMeta, Peers: true, Saturated: true, ParentIncludes: true},
		{ID: "word", Number: 0, ParentID: "turn", Alignment: AlignmentInterval, Scope: ScopeWord, Peers: true, ParentIncludes: true},
		{ID: "pos", Number: 30, ParentID: "word", Alignment: AlignmentNone, Scope: ScopeWord, ParentIncludes: true},
		{ID: "segment", Number: 1, ParentID: "word", Alignment: AlignmentInterval, Scope: ScopeSegment, Peers: true, Saturated: true, ParentIncludes: true},
	}
	return NewSchema(layers, Roots{Turn: "turn", Utterance: "utterance", Word: "word", Segment: "segment"})
}

func TestChangeState_TouchPromotesNoChangeOnly(t *testing.T) {
	a := &Anchor{ID: "n_1"}
	assert.Equal(t, NoChange, a.Change())

	a.SetOffset(Offsetp(1.0), ConfidenceManual)
	assert.Equal(t, Update, a.Change())

	b := NewAnchor(Offsetp(2.0), ConfidenceAutomatic)
	require.Equal(t, Create, b.Change())
	b.SetOffset(Offsetp(2.5), ConfidenceManual)
	assert.Equal(t, Create, b.Change(), "Create must not demote to Update")

	a.MarkDestroy()
	a.SetOffset(Offsetp(3.0), ConfidenceManual)
	assert.Equal(t, Destroy, a.Change())

	a.ClearChange()
	assert.Equal(t, NoChange, a.Change())
}

func TestAnchor_OffsetEquals(t *testing.T) {
	a := &Anchor{ID: "n_1", Offset: Offsetp(1.5)}
	assert.True(t, a.OffsetEquals(1.5))
	assert.True(t, a.OffsetEquals(1.5004))
	assert.False(t, a.OffsetEquals(1.502))

	unaligned := &Anchor{ID: "n_2"}
	assert.False(t, unaligned.OffsetEquals(0))
}

func TestGraph_AddAnchorByIdentity(t *testing.T) {
	g := NewGraph("test.trs", testSchema())

	first := g.AddAnchor(&Anchor{ID: "n_1", Offset: Offsetp(0.5)})
	second := g.AddAnchor(&Anchor{ID: "n_1", Offset: Offsetp(99)})

	assert.Same(t, first, second, "same ID must resolve to one anchor")
	assert.Equal(t, 0.5, *g.Anchor("n_1").Offset)
}

func TestGraph_OrdinalAssignment(t *testing.T) {
	g := NewGraph("test.trs", testSchema())
	turn := g.AddAnnotation(&Annotation{ID: "m_11_1", LayerID: "turn", Label: "ada", Ordinal: 1})

	w1 := g.AddAnnotation(NewAnnotation("word", "hello", "", "", turn.ID))
	w2 := g.AddAnnotation(NewAnnotation("word", "world", "", "", turn.ID))
	w3 := g.AddAnnotation(NewAnnotation("word", "today", "", "", turn.ID))

	assert.Equal(t, 1, w1.Ordinal)
	assert.Equal(t, 2, w2.Ordinal)
	assert.Equal(t, 3, w3.Ordinal)

	children := g.ChildrenOf(turn.ID, "word")
	require.Len(t, children, 3)
	assert.Equal(t, []string{"hello", "world", "today"},
		[]string{children[0].Label, children[1].Label, children[2].Label})
}

func TestGraph_TagAnchorsResolveThroughParent(t *testing.T) {
	g := NewGraph("test.trs", testSchema())
	g.AddAnchor(&Anchor{ID: "n_1", Offset: Offsetp(0.5)})
	g.AddAnchor(&Anchor{ID: "n_2", Offset: Offsetp(1.0)})

	word := g.AddAnnotation(&Annotation{ID: "w_0_5", LayerID: "word", Label: "world", StartID: "n_1", EndID: "n_2", Ordinal: 1})
	pos := g.AddAnnotation(&Annotation{ID: "w_30_9", LayerID: "pos", Label: "NOUN", ParentID: word.ID, Ordinal: 1})

	require.NotNil(t, g.Start(pos))
	assert.Equal(t, "n_1", g.Start(pos).ID)
	assert.Equal(t, "n_2", g.End(pos).ID)
}

func TestGraph_TranscriptOrder(t *testing.T) {
	g := NewGraph("test.trs", testSchema())
	g.AddAnchor(&Anchor{ID: "n_1", Offset: Offsetp(0.0)})
	g.AddAnchor(&Anchor{ID: "n_2", Offset: Offsetp(0.5)})
	g.AddAnchor(&Anchor{ID: "n_3", Offset: Offsetp(1.0)})
	g.AddAnnotation(&Annotation{ID: "w_0_2", LayerID: "word", Label: "second", StartID: "n_2", EndID: "n_3", Ordinal: 2})
	g.AddAnnotation(&Annotation{ID: "w_0_1", LayerID: "word", Label: "first", StartID: "n_1", EndID: "n_2", Ordinal: 1})

	assert.Equal(t, []string{"first", "second"}, g.Labels("word"))
	assert.Equal(t, "first", g.First("word").Label)
}

func TestGraph_Includes(t *testing.T) {
	g := NewGraph("test.trs", testSchema())
	g.AddAnchor(&Anchor{ID: "n_1", Offset: Offsetp(10.0)})
	g.AddAnchor(&Anchor{ID: "n_2", Offset: Offsetp(15.0)})
	g.AddAnchor(&Anchor{ID: "n_3", Offset: Offsetp(12.0)})
	g.AddAnchor(&Anchor{ID: "n_4", Offset: Offsetp(12.5)})
	g.AddAnchor(&Anchor{ID: "n_5", Offset: Offsetp(14.9)})
	g.AddAnchor(&Anchor{ID: "n_6", Offset: Offsetp(15.2)})

	utt := g.AddAnnotation(&Annotation{ID: "m_12_1", LayerID: "utterance", Label: "u", StartID: "n_1", EndID: "n_2", Ordinal: 1})
	in := g.AddAnnotation(&Annotation{ID: "w_0_1", LayerID: "word", Label: "in", StartID: "n_3", EndID: "n_4", Ordinal: 1})
	out := g.AddAnnotation(&Annotation{ID: "w_0_2", LayerID: "word", Label: "out", StartID: "n_5", EndID: "n_6", Ordinal: 2})

	assert.True(t, g.Includes(utt, in))
	assert.False(t, g.Includes(utt, out))
}

func TestGraph_RenameAnchorRewritesReferences(t *testing.T) {
	g := NewGraph("test.trs", testSchema())
	tmp := NewAnchor(Offsetp(1.0), ConfidenceManual)
	g.AddAnchor(tmp)
	w := g.AddAnnotation(&Annotation{ID: "w_0_1", LayerID: "word", Label: "x", StartID: tmp.ID, EndID: tmp.ID, Ordinal: 1})

	touched := g.RenameAnchor(tmp.ID, "n_77")

	require.Len(t, touched, 1)
	assert.Same(t, w, touched[0])
	assert.Equal(t, "n_77", w.StartID)
	assert.Equal(t, "n_77", w.EndID)
	assert.Nil(t, g.Anchor("tmp-missing"))
	require.NotNil(t, g.Anchor("n_77"))
	// Rewriting references must not mark dependents changed.
	assert.Equal(t, NoChange, w.Change())
}

func TestGraph_RenameAnnotationRewritesParents(t *testing.T) {
	g := NewGraph("test.trs", testSchema())
	word := NewAnnotation("word", "world", "", "", "")
	g.AddAnnotation(word)
	pos := g.AddAnnotation(&Annotation{ID: "w_30_1", LayerID: "pos", Label: "NOUN", ParentID: word.ID, Ordinal: 1})

	touched := g.RenameAnnotation(word.ID, "w_0_123")

	require.Len(t, touched, 1)
	assert.Equal(t, "w_0_123", pos.ParentID)
	assert.Equal(t, "w_0_123", word.ID)
}

func TestGraph_Prune(t *testing.T) {
	g := NewGraph("test.trs", testSchema())
	keep := g.AddAnnotation(&Annotation{ID: "w_0_1", LayerID: "word", Label: "keep", Ordinal: 1})
	keep.SetLabel("kept", ConfidenceManual)
	gone := g.AddAnnotation(&Annotation{ID: "w_0_2", LayerID: "word", Label: "gone", Ordinal: 2})
	gone.MarkDestroy()
	dead := g.AddAnchor(&Anchor{ID: "n_9"})
	dead.MarkDestroy()

	g.Prune()

	assert.Nil(t, g.Annotation("w_0_2"))
	assert.Nil(t, g.Anchor("n_9"))
	assert.Equal(t, NoChange, keep.Change())
}

func TestSchema_WithAncestors(t *testing.T) {
	s := testSchema()

	got := s.WithAncestors([]string{"segment", "pos"})

	// Ancestors included, parents before children.
	assert.Equal(t, []string{"turn", "word", "pos", "segment"}, got)
}

func TestSchema_WithAncestorsDropsUnknown(t *testing.T) {
	s := testSchema()
	got := s.WithAncestors([]string{"no-such-layer", "utterance"})
	assert.Equal(t, []string{"turn", "utterance"}, got)
}

func TestFragmentID(t *testing.T) {
	assert.Equal(t, "ada.trs__10.000-15.500", FragmentID("ada.trs", 10.0, 15.5))
}

func TestFragment_BoundsAndAnchorLookup(t *testing.T) {
	f := NewFragment("ada.trs", 10.0, 15.5, testSchema())

	assert.Equal(t, 10.0, f.StartOffset)
	assert.Equal(t, 15.5, f.EndOffset)

	// The offset bounds must not hide the graph's anchor lookups.
	start := f.AddAnchor(&Anchor{ID: "n_1", Offset: Offsetp(10.0)})
	end := f.AddAnchor(&Anchor{ID: "n_2", Offset: Offsetp(15.5)})
	turn := f.AddAnnotation(&Annotation{ID: "m_11_1", LayerID: "turn", Label: "ada",
		StartID: start.ID, EndID: end.ID, Ordinal: 1})

	require.NotNil(t, f.Start(turn))
	assert.True(t, f.Start(turn).OffsetEquals(10.0))
	assert.True(t, f.End(turn).OffsetEquals(15.5))
}
