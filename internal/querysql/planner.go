package querysql

import (
	"fmt"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/agid"
	"github.com/korero-labs/agstore/internal/agql"
)

// A Planner recognizes one query shape and emits a hand-optimized plan for
// it. Planners pattern-match the parsed AST (never the raw expression
// text) and return matched=false to pass the query on to the next planner
// or the general compiler.
type Planner func(n agql.Node, schema *ag.Schema, layer *ag.Layer, opts Options) (q Query, matched bool, err error)

// defaultPlanners returns the built-in fast paths, covering the hot query
// shapes issued by search result enrichment.
func defaultPlanners() []Planner {
	return []Planner{
		planTokensOfWord,
		planUtteranceContainingWord,
	}
}

// planTokensOfWord handles:
//
//	layer.id == 'L' && parent.id == 'w_0_123'
//
// where L is a word-scope tag of the word layer. The generic plan filters
// on parent_id; this one uses the indexed word_annotation_id column.
func planTokensOfWord(n agql.Node, schema *ag.Schema, layer *ag.Layer, opts Options) (Query, bool, error) {
	if layer.Scope != ag.ScopeWord || layer.ParentID != schema.Roots().Word {
		return Query{}, false, nil
	}
	parts := conjuncts(n)
	if len(parts) != 2 {
		return Query{}, false, nil
	}

	var parentLit string
	found := false
	for _, c := range parts {
		if lit, ok := equalsAttrString(c, agql.AttrParentID); ok {
			parentLit, found = lit, true
		}
	}
	if !found {
		return Query{}, false, nil
	}

	word := schema.Layer(schema.Roots().Word)
	id, err := agid.Decode(parentLit)
	if err != nil || id.Category != agid.CategoryTemporal || id.LayerNumber != word.Number {
		return Query{}, false, nil
	}

	selectClause := opts.Select
	if selectClause == "" {
		selectClause = "annotation.annotation_id"
	}
	where := fmt.Sprintf("annotation.layer_id = %d AND annotation.word_annotation_id = %d",
		layer.Number, id.RowID)
	q := assemble(selectClause, TableWord+" annotation", where, opts,
		"ORDER BY annotation.ordinal, annotation.annotation_id")
	return q, true, nil
}

// planUtteranceContainingWord handles:
//
//	layer.id == 'utterance' && all('word').includes('w_0_123')
//
// The generic plan is an anchor-overlap EXISTS; this one resolves the
// word's denormalized utterance_annotation_id directly.
func planUtteranceContainingWord(n agql.Node, schema *ag.Schema, layer *ag.Layer, opts Options) (Query, bool, error) {
	roots := schema.Roots()
	if layer.ID != roots.Utterance {
		return Query{}, false, nil
	}
	parts := conjuncts(n)
	if len(parts) != 2 {
		return Query{}, false, nil
	}

	var wordLit string
	found := false
	for _, c := range parts {
		inc, ok := c.(agql.Includes)
		if !ok {
			continue
		}
		call, ok := inc.List.(agql.LayerCall)
		if !ok || call.Func != agql.FuncAll || call.Layer != roots.Word {
			continue
		}
		lit, ok := inc.Operand.(agql.StringLit)
		if !ok {
			continue
		}
		wordLit, found = lit.Value, true
	}
	if !found {
		return Query{}, false, nil
	}

	word := schema.Layer(roots.Word)
	id, err := agid.Decode(wordLit)
	if err != nil || id.Category != agid.CategoryTemporal || id.LayerNumber != word.Number {
		return Query{}, false, nil
	}

	selectClause := opts.Select
	if selectClause == "" {
		selectClause = "annotation.annotation_id"
	}
	where := fmt.Sprintf(
		"annotation.layer_id = %d AND annotation.annotation_id = (SELECT w.utterance_annotation_id FROM annotation_word w WHERE w.annotation_id = %d)",
		layer.Number, id.RowID)
	q := assemble(selectClause, TableMeta+" annotation", where, opts,
		"ORDER BY annotation.annotation_id")
	return q, true, nil
}

// equalsAttrString matches `attr == 'literal'` (either operand order).
func equalsAttrString(n agql.Node, attrName string) (string, bool) {
	bin, ok := n.(agql.Binary)
	if !ok || bin.Op != agql.OpEquals {
		return "", false
	}
	attr, aok := bin.Left.(agql.Attr)
	lit, lok := bin.Right.(agql.StringLit)
	if !aok || !lok {
		attr, aok = bin.Right.(agql.Attr)
		lit, lok = bin.Left.(agql.StringLit)
	}
	if !aok || !lok || attr.Name != attrName {
		return "", false
	}
	return lit.Value, true
}
