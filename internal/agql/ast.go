// Package agql parses the annotation graph query language: a small
// JavaScript-like boolean expression language over annotation, transcript
// and participant attributes.
//
// Examples:
//
//	id == 'w_0_123'
//	layer.id == 'orthography' && /^[A-Z]/.test(label)
//	['CC', 'IN'].includes(first('pos').label)
//	labels('who').includes('Ada')
//	all('word').length > 100
//
// The parser produces a small AST which internal/querysql translates into
// SQL. Malformed input produces a *QueryError naming the expression.
package agql

import "fmt"

// Node is an AGQL expression node.
//
// This is a sealed interface - only types in this package implement it,
// which keeps type switches in the SQL translators exhaustive.
type Node interface {
	node()
}

// StringLit is a quoted string literal.
type StringLit struct {
	Value string
}

func (StringLit) node() {}

// NumberLit is a numeric literal.
type NumberLit struct {
	Value float64
}

func (NumberLit) node() {}

// ArrayLit is a bracketed list of literals, e.g. ['CC', 'IN'].
type ArrayLit struct {
	Values []Node
}

func (ArrayLit) node() {}

// Attribute names in canonical form. The parser folds the dotted aliases
// (layer.id, parent.id, graph.id, start.offset, end.offset) onto these.
const (
	AttrID         = "id"
	AttrLabel      = "label"
	AttrLayerID    = "layerId"
	AttrParentID   = "parentId"
	AttrGraphID    = "graphId"
	AttrOrdinal    = "ordinal"
	AttrConfidence = "confidence"
	AttrAnnotator  = "annotator"
	AttrStart      = "startOffset"
	AttrEnd        = "endOffset"
)

// Attr references an attribute of the entity being matched.
type Attr struct {
	Name string
}

func (Attr) node() {}

// Layer functions.
const (
	FuncFirst      = "first"
	FuncLabels     = "labels"
	FuncAll        = "all"
	FuncAnnotators = "annotators"
)

// LayerCall is one of the layer functions applied to a quoted layer ID:
// first('pos'), labels('who'), all('word'), annotators('orthography').
type LayerCall struct {
	Func  string
	Layer string
}

func (LayerCall) node() {}

// Property is a property access on a layer call: first('pos').label,
// all('word').length.
type Property struct {
	Recv Node
	Name string
}

func (Property) node() {}

// RegexpTest is /pattern/.test(operand).
type RegexpTest struct {
	Pattern string
	Operand Node
}

func (RegexpTest) node() {}

// Includes is list.includes(operand), where list is an ArrayLit or a
// list-valued LayerCall.
type Includes struct {
	List    Node
	Operand Node
}

func (Includes) node() {}

// Not is logical negation.
type Not struct {
	Expr Node
}

func (Not) node() {}

// Binary operators. NotEquals covers both "<>" and "!=" spellings.
const (
	OpAnd       = "&&"
	OpOr        = "||"
	OpEquals    = "=="
	OpNotEquals = "<>"
	OpLt        = "<"
	OpGt        = ">"
	OpLtEq      = "<="
	OpGtEq      = ">="
)

// Binary is a binary operation.
type Binary struct {
	Op    string
	Left  Node
	Right Node
}

func (Binary) node() {}

// QueryError reports a caller-supplied expression that does not parse, or
// that references something the translator cannot reach. The offending
// expression is always included so API layers can report it.
type QueryError struct {
	Expression string
	Message    string
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query expression %q: %s", e.Expression, e.Message)
}
