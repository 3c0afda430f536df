package agid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korero-labs/agstore/internal/ag"
)

func TestRoundTrip_AllCategories(t *testing.T) {
	testCases := []struct {
		name    string
		id      ID
		encoded string
	}{
		{
			name:    "anchor",
			id:      ID{Category: CategoryAnchor, RowID: 123},
			encoded: "n_123",
		},
		{
			name:    "freeform temporal",
			id:      ID{Category: CategoryTemporal, Scope: ag.ScopeFreeform, LayerNumber: 12, RowID: 345},
			encoded: "12_345",
		},
		{
			name:    "meta temporal",
			id:      ID{Category: CategoryTemporal, Scope: ag.ScopeMeta, LayerNumber: 11, RowID: 42},
			encoded: "m_11_42",
		},
		{
			name:    "word temporal",
			id:      ID{Category: CategoryTemporal, Scope: ag.ScopeWord, LayerNumber: 0, RowID: 9001},
			encoded: "w_0_9001",
		},
		{
			name:    "segment temporal",
			id:      ID{Category: CategoryTemporal, Scope: ag.ScopeSegment, LayerNumber: 1, RowID: 7},
			encoded: "s_1_7",
		},
		{
			name:    "participant entity",
			id:      ID{Category: CategoryMeta, Scope: ag.ScopeMeta, LayerNumber: ag.NumberParticipant, RowID: 6},
			encoded: "m_-2_6",
		},
		{
			name:    "episode entity",
			id:      ID{Category: CategoryMeta, Scope: ag.ScopeMeta, LayerNumber: ag.NumberEpisode, RowID: 31},
			encoded: "m_-50_31",
		},
		{
			name:    "transcript attribute",
			id:      ID{Category: CategoryTranscriptAttribute, Attribute: "language", RowID: 3},
			encoded: "t|language|3",
		},
		{
			name:    "participant attribute",
			id:      ID{Category: CategoryParticipantAttribute, Attribute: "gender", RowID: 88},
			encoded: "p|gender|88",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.id)
			assert.Equal(t, tc.encoded, encoded)

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.id, decoded)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	malformed := []string{
		"",
		"n_",
		"n_abc",
		"word_one",
		"m_11",
		"x_1_2",
		"t|language",
		"t||3",
		"q|language|3",
		"tmp-6f1b0b1e-0000-0000-0000-000000000000",
	}

	for _, s := range malformed {
		_, err := Decode(s)
		var malformedErr *MalformedIDError
		require.ErrorAs(t, err, &malformedErr, "input %q", s)
		assert.Contains(t, malformedErr.Error(), s)
	}
}

func TestDecodeAnchor_RejectsAnnotations(t *testing.T) {
	row, err := DecodeAnchor("n_54321")
	require.NoError(t, err)
	assert.Equal(t, int64(54321), row)

	_, err = DecodeAnchor("w_0_1")
	var malformedErr *MalformedIDError
	assert.ErrorAs(t, err, &malformedErr)
}

func TestDecodeAnnotation_RejectsAnchorsAndAttributes(t *testing.T) {
	id, err := DecodeAnnotation("w_0_123")
	require.NoError(t, err)
	assert.Equal(t, CategoryTemporal, id.Category)
	assert.Equal(t, ag.ScopeWord, id.Scope)
	assert.Equal(t, int64(123), id.RowID)

	for _, s := range []string{"n_1", "t|language|3", "p|gender|88"} {
		_, err := DecodeAnnotation(s)
		var malformedErr *MalformedIDError
		assert.ErrorAs(t, err, &malformedErr, "input %q", s)
	}
}
