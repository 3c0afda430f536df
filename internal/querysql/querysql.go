// Package querysql translates parsed AGQL expressions into parameterized
// SQL against the denormalized annotation schema.
//
// Three translators exist for the three row shapes that can be matched:
// AnnotationMatcher, TranscriptMatcher and ParticipantMatcher. Each knows
// the join structure required to reach any referenced layer's table from
// the entity being matched, takes a caller-supplied SELECT clause, injects
// an access-control WHERE fragment, and appends an ORDER/LIMIT suffix.
//
// Because the FROM/JOIN structure is built dynamically, string literals
// from the expression are inlined through a single escaping routine
// (escape) rather than bound as driver parameters; only access-control
// fragments contribute bound parameters.
//
// Before the general translator runs, a plug-in table of fast-path
// planners is consulted. Each planner pattern-matches the parsed AST shape
// of a known-hot query and emits a hand-optimized plan; if none matches,
// the general per-layer join compiler is used.
package querysql

import (
	"fmt"
	"strings"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/agql"
)

// A Query is a translated SQL statement plus its bound parameters.
type Query struct {
	SQL    string
	Params []any
}

// A Fragment is a WHERE-clause fragment with bound parameters, typically
// produced by the permission gate.
type Fragment struct {
	SQL    string
	Params []any
}

// Options control how a translator assembles its statement.
type Options struct {
	// Select is the SELECT clause; empty selects the entity's row ID.
	Select string

	// Access is an optional access-control fragment ANDed into the WHERE
	// clause. Its SQL may reference the entity alias ("annotation",
	// "transcript" or "speaker").
	Access Fragment

	// Order is an optional ORDER BY / LIMIT suffix; empty applies the
	// translator's default deterministic order.
	Order string
}

// Scope table names. The per-layer numbered tables of older designs are
// replaced by one table per scope, keyed by layer_id.
const (
	TableFreeform = "annotation_freeform"
	TableMeta     = "annotation_meta"
	TableWord     = "annotation_word"
	TableSegment  = "annotation_segment"
)

// ScopeTable resolves a layer scope to its annotation table.
func ScopeTable(scope ag.Scope) string {
	switch scope {
	case ag.ScopeMeta:
		return TableMeta
	case ag.ScopeWord:
		return TableWord
	case ag.ScopeSegment:
		return TableSegment
	default:
		return TableFreeform
	}
}

// escape makes a string safe for inlining as a single-quoted SQL literal.
// Every literal that reaches generated SQL goes through here, without
// exception. SQLite string literals do not process backslash escapes, so
// quote doubling is the only rewrite; backslashes pass through untouched
// for the REGEXP hook.
func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// quote returns the escaped, quoted SQL literal for a string.
func quote(s string) string {
	return "'" + escape(s) + "'"
}

// number formats a numeric literal, trimming a trailing ".0" so integer
// comparisons read naturally.
func number(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// assemble joins the pieces of a statement, appending the access fragment
// and order suffix.
func assemble(selectClause, from, where string, opts Options, defaultOrder string) Query {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectClause)
	b.WriteString(" FROM ")
	b.WriteString(from)
	b.WriteString(" WHERE ")
	b.WriteString(where)

	var params []any
	if opts.Access.SQL != "" {
		b.WriteString(" AND (")
		b.WriteString(opts.Access.SQL)
		b.WriteString(")")
		params = append(params, opts.Access.Params...)
	}

	order := opts.Order
	if order == "" {
		order = defaultOrder
	}
	if order != "" {
		b.WriteString(" ")
		b.WriteString(order)
	}
	return Query{SQL: b.String(), Params: params}
}

// comparison maps an AGQL comparison operator to SQL.
func sqlOp(op string) (string, bool) {
	switch op {
	case agql.OpEquals:
		return "=", true
	case agql.OpNotEquals:
		return "<>", true
	case agql.OpLt, agql.OpGt, agql.OpLtEq, agql.OpGtEq:
		return op, true
	default:
		return "", false
	}
}

// conjuncts flattens a top-level && chain into its conjunct list.
func conjuncts(n agql.Node) []agql.Node {
	if bin, ok := n.(agql.Binary); ok && bin.Op == agql.OpAnd {
		return append(conjuncts(bin.Left), conjuncts(bin.Right)...)
	}
	return []agql.Node{n}
}

// layerConstraint finds a `layer.id == 'x'` conjunct and returns the layer.
func layerConstraint(n agql.Node) (string, bool) {
	for _, c := range conjuncts(n) {
		if lit, ok := equalsAttrString(c, agql.AttrLayerID); ok {
			return lit, true
		}
	}
	return "", false
}
