package agql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_IDEquality(t *testing.T) {
	expr, err := Parse("id == 'w_0_123'")
	require.NoError(t, err)

	bin, ok := expr.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpEquals, bin.Op)
	assert.Equal(t, Attr{Name: AttrID}, bin.Left)
	assert.Equal(t, StringLit{Value: "w_0_123"}, bin.Right)
}

func TestParse_DottedAliases(t *testing.T) {
	testCases := []struct {
		expr string
		attr string
	}{
		{"layer.id == 'word'", AttrLayerID},
		{"layerId == 'word'", AttrLayerID},
		{"parent.id == 'w_0_1'", AttrParentID},
		{"parentId == 'w_0_1'", AttrParentID},
		{"graph.id == 'ada.trs'", AttrGraphID},
	}

	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			expr, err := Parse(tc.expr)
			require.NoError(t, err)
			bin, ok := expr.(Binary)
			require.True(t, ok)
			assert.Equal(t, Attr{Name: tc.attr}, bin.Left)
		})
	}
}

func TestParse_RegexpTest(t *testing.T) {
	expr, err := Parse("/^[A-Z]/.test(label)")
	require.NoError(t, err)

	re, ok := expr.(RegexpTest)
	require.True(t, ok)
	assert.Equal(t, "^[A-Z]", re.Pattern)
	assert.Equal(t, Attr{Name: AttrLabel}, re.Operand)
}

func TestParse_BooleanCombination(t *testing.T) {
	expr, err := Parse("layer.id == 'orthography' && /^[A-Z]/.test(label)")
	require.NoError(t, err)

	bin, ok := expr.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpAnd, bin.Op)

	left, ok := bin.Left.(Binary)
	require.True(t, ok)
	assert.Equal(t, Attr{Name: AttrLayerID}, left.Left)

	re, ok := bin.Right.(RegexpTest)
	require.True(t, ok)
	assert.Equal(t, "^[A-Z]", re.Pattern)
}

func TestParse_ArrayIncludes(t *testing.T) {
	expr, err := Parse("['CC', 'IN'].includes(first('pos').label)")
	require.NoError(t, err)

	inc, ok := expr.(Includes)
	require.True(t, ok)

	arr, ok := inc.List.(ArrayLit)
	require.True(t, ok)
	require.Len(t, arr.Values, 2)
	assert.Equal(t, StringLit{Value: "CC"}, arr.Values[0])

	prop, ok := inc.Operand.(Property)
	require.True(t, ok)
	assert.Equal(t, "label", prop.Name)
	assert.Equal(t, LayerCall{Func: FuncFirst, Layer: "pos"}, prop.Recv)
}

func TestParse_LayerListIncludes(t *testing.T) {
	expr, err := Parse("labels('who').includes('Ada')")
	require.NoError(t, err)

	inc, ok := expr.(Includes)
	require.True(t, ok)
	assert.Equal(t, LayerCall{Func: FuncLabels, Layer: "who"}, inc.List)
	assert.Equal(t, StringLit{Value: "Ada"}, inc.Operand)
}

func TestParse_AllLength(t *testing.T) {
	expr, err := Parse("all('word').length > 100")
	require.NoError(t, err)

	bin, ok := expr.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpGt, bin.Op)
	prop, ok := bin.Left.(Property)
	require.True(t, ok)
	assert.Equal(t, "length", prop.Name)
	assert.Equal(t, NumberLit{Value: 100}, bin.Right)
}

func TestParse_NotAndParens(t *testing.T) {
	expr, err := Parse("!(layer.id == 'word' || ordinal < 2)")
	require.NoError(t, err)

	not, ok := expr.(Not)
	require.True(t, ok)
	bin, ok := not.Expr.(Binary)
	require.True(t, ok)
	assert.Equal(t, OpOr, bin.Op)
}

func TestParse_NotEqualsSpellings(t *testing.T) {
	for _, src := range []string{"label <> 'um'", "label != 'um'"} {
		expr, err := Parse(src)
		require.NoError(t, err, src)
		bin, ok := expr.(Binary)
		require.True(t, ok)
		assert.Equal(t, OpNotEquals, bin.Op)
	}
}

func TestParse_EscapedQuoteAndSlash(t *testing.T) {
	expr, err := Parse(`label == 'it\'s'`)
	require.NoError(t, err)
	bin := expr.(Binary)
	assert.Equal(t, StringLit{Value: "it's"}, bin.Right)

	expr, err = Parse(`/ab\/cd/.test(label)`)
	require.NoError(t, err)
	re := expr.(RegexpTest)
	assert.Equal(t, `ab\/cd`, re.Pattern)
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"unknown identifier", "nonsense == 1"},
		{"unterminated string", "label == 'oops"},
		{"test without regexp", "label.test(label)"},
		{"includes on first", "first('pos').includes('CC')"},
		{"length on first", "first('pos').length > 1"},
		{"trailing tokens", "label == 'a' label"},
		{"bad regexp", "/(/.test(label)"},
		{"array of expressions", "[label].includes('x')"},
		{"unknown dotted member", "layer.label == 'x'"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.expr)
			var queryErr *QueryError
			require.ErrorAs(t, err, &queryErr)
			assert.Equal(t, tc.expr, queryErr.Expression)
		})
	}
}
