package querysql

import (
	"fmt"
	"strings"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/agid"
	"github.com/korero-labs/agstore/internal/agql"
)

// AnnotationMatcher translates AGQL expressions that match annotation rows.
//
// Every expression must constrain the layer with a `layer.id == '...'`
// conjunct; the layer determines which per-scope table is scanned and the
// join structure available to reach other layers.
type AnnotationMatcher struct {
	schema   *ag.Schema
	planners []Planner
}

// NewAnnotationMatcher returns a matcher with the default fast-path
// planners installed.
func NewAnnotationMatcher(schema *ag.Schema) *AnnotationMatcher {
	m := &AnnotationMatcher{schema: schema}
	m.planners = defaultPlanners()
	return m
}

// RegisterPlanner adds a fast-path planner, consulted before the general
// translator and before the default planners.
func (m *AnnotationMatcher) RegisterPlanner(p Planner) {
	m.planners = append([]Planner{p}, m.planners...)
}

// Translate compiles an AGQL expression to SQL selecting annotation rows.
// The entity alias in the generated statement is "annotation".
func (m *AnnotationMatcher) Translate(expression string, opts Options) (Query, error) {
	node, err := agql.Parse(expression)
	if err != nil {
		return Query{}, err
	}

	layerID, ok := layerConstraint(node)
	if !ok {
		return Query{}, &agql.QueryError{Expression: expression, Message: "annotation queries must constrain layer.id"}
	}
	layer := m.schema.Layer(layerID)
	if layer == nil {
		return Query{}, &agql.QueryError{Expression: expression, Message: fmt.Sprintf("unknown layer %q", layerID)}
	}
	if !layer.Temporal() {
		return Query{}, &agql.QueryError{Expression: expression, Message: fmt.Sprintf("layer %q is not a temporal layer", layerID)}
	}

	// Fast paths first; fall back to the general compiler.
	for _, p := range m.planners {
		q, matched, err := p(node, m.schema, layer, opts)
		if err != nil {
			return Query{}, err
		}
		if matched {
			return q, nil
		}
	}

	tr := &annotationTranslator{schema: m.schema, expression: expression, layer: layer}
	cond, err := tr.compileBool(node)
	if err != nil {
		return Query{}, err
	}

	selectClause := opts.Select
	if selectClause == "" {
		selectClause = "annotation.annotation_id"
	}
	from := ScopeTable(layer.Scope) + " annotation"
	where := fmt.Sprintf("annotation.layer_id = %d AND (%s)", layer.Number, cond)
	return assemble(selectClause, from, where, opts, AnnotationOrder), nil
}

// AnnotationOrder is the default deterministic order of annotation results:
// transcript, start offset, ordinal, row ID. Callers that override
// Options.Order for paging keep results stable by prefixing this.
const AnnotationOrder = `ORDER BY annotation.transcript_id, (SELECT anchor."offset" FROM anchor WHERE anchor.anchor_id = annotation.start_anchor_id), annotation.ordinal, annotation.annotation_id`

// annotationTranslator holds per-translation state. A fresh alias counter
// keeps generated subquery aliases deterministic within one statement.
type annotationTranslator struct {
	schema     *ag.Schema
	expression string
	layer      *ag.Layer
	aliasSeq   int
}

func (tr *annotationTranslator) errorf(format string, args ...any) error {
	return &agql.QueryError{Expression: tr.expression, Message: fmt.Sprintf(format, args...)}
}

func (tr *annotationTranslator) compileBool(n agql.Node) (string, error) {
	switch node := n.(type) {
	case agql.Binary:
		switch node.Op {
		case agql.OpAnd, agql.OpOr:
			left, err := tr.compileBool(node.Left)
			if err != nil {
				return "", err
			}
			right, err := tr.compileBool(node.Right)
			if err != nil {
				return "", err
			}
			op := "AND"
			if node.Op == agql.OpOr {
				op = "OR"
			}
			return "(" + left + " " + op + " " + right + ")", nil
		default:
			return tr.compileComparison(node)
		}

	case agql.Not:
		inner, err := tr.compileBool(node.Expr)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil

	case agql.RegexpTest:
		if node.Operand == nil {
			return "", tr.errorf("regular expression without .test()")
		}
		operand, err := tr.compileValue(node.Operand)
		if err != nil {
			return "", err
		}
		return operand + " REGEXP " + quote(node.Pattern), nil

	case agql.Includes:
		return tr.compileIncludes(node)

	default:
		return "", tr.errorf("expression is not boolean")
	}
}

func (tr *annotationTranslator) compileComparison(bin agql.Binary) (string, error) {
	op, ok := sqlOp(bin.Op)
	if !ok {
		return "", tr.errorf("unsupported operator %q", bin.Op)
	}

	// ID comparisons against literals decode to row-key comparisons
	// instead of string concatenation.
	if bin.Op == agql.OpEquals || bin.Op == agql.OpNotEquals {
		if cond, handled := tr.idComparison(bin); handled {
			return cond, nil
		}
	}

	left, err := tr.compileValue(bin.Left)
	if err != nil {
		return "", err
	}
	right, err := tr.compileValue(bin.Right)
	if err != nil {
		return "", err
	}
	return left + " " + op + " " + right, nil
}

// idComparison handles id/parentId ==/<> 'literal'.
func (tr *annotationTranslator) idComparison(bin agql.Binary) (string, bool) {
	attr, aok := bin.Left.(agql.Attr)
	lit, lok := bin.Right.(agql.StringLit)
	if !aok || !lok {
		attr, aok = bin.Right.(agql.Attr)
		lit, lok = bin.Left.(agql.StringLit)
	}
	if !aok || !lok {
		return "", false
	}

	var column string
	var expect *ag.Layer
	switch attr.Name {
	case agql.AttrID:
		column, expect = "annotation.annotation_id", tr.layer
	case agql.AttrParentID:
		column, expect = "annotation.parent_id", tr.schema.Layer(tr.layer.ParentID)
	default:
		return "", false
	}

	match := "0 = 1"
	if row, ok := decodeRowFor(lit.Value, expect); ok {
		match = fmt.Sprintf("%s = %d", column, row)
	}
	if bin.Op == agql.OpNotEquals {
		return "NOT (" + match + ")", true
	}
	return match, true
}

func (tr *annotationTranslator) compileValue(n agql.Node) (string, error) {
	switch node := n.(type) {
	case agql.StringLit:
		return quote(node.Value), nil
	case agql.NumberLit:
		return number(node.Value), nil

	case agql.Attr:
		return tr.compileAttr(node)

	case agql.Property:
		return tr.compileProperty(node)

	case agql.LayerCall:
		return "", tr.errorf("%s('%s') must be used with a property or .includes()", node.Func, node.Layer)

	default:
		return "", tr.errorf("expected a value, found a boolean expression")
	}
}

func (tr *annotationTranslator) compileAttr(attr agql.Attr) (string, error) {
	switch attr.Name {
	case agql.AttrID:
		return idConcat("annotation.annotation_id", tr.layer), nil
	case agql.AttrLabel:
		return "annotation.label", nil
	case agql.AttrLayerID:
		return quote(tr.layer.ID), nil
	case agql.AttrOrdinal:
		return "annotation.ordinal", nil
	case agql.AttrConfidence:
		return "annotation.label_status", nil
	case agql.AttrAnnotator:
		return "annotation.annotated_by", nil
	case agql.AttrParentID:
		parent := tr.schema.Layer(tr.layer.ParentID)
		if parent == nil {
			return "", tr.errorf("layer %q has no parent layer", tr.layer.ID)
		}
		return idConcat("annotation.parent_id", parent), nil
	case agql.AttrGraphID:
		return `(SELECT transcript.transcript_name FROM transcript WHERE transcript.transcript_id = annotation.transcript_id)`, nil
	case agql.AttrStart:
		return `(SELECT anchor."offset" FROM anchor WHERE anchor.anchor_id = annotation.start_anchor_id)`, nil
	case agql.AttrEnd:
		return `(SELECT anchor."offset" FROM anchor WHERE anchor.anchor_id = annotation.end_anchor_id)`, nil
	default:
		return "", tr.errorf("unknown attribute %q", attr.Name)
	}
}

func (tr *annotationTranslator) compileProperty(prop agql.Property) (string, error) {
	call, ok := prop.Recv.(agql.LayerCall)
	if !ok {
		return "", tr.errorf("property access requires a layer function")
	}
	path, err := tr.reach(call.Layer)
	if err != nil {
		return "", err
	}

	if prop.Name == "length" {
		return "(SELECT COUNT(*) FROM " + path.from + " WHERE " + path.where + ")", nil
	}

	// first('layer').<property>
	var column string
	switch prop.Name {
	case "label":
		column = path.label
	case "id":
		column = path.id
	case "ordinal":
		column = path.ordinal
	case "confidence":
		column = path.confidence
	case "annotator":
		column = path.annotator
	}
	if column == "" {
		return "", tr.errorf("layer %q has no %q property here", call.Layer, prop.Name)
	}
	return "(SELECT " + column + " FROM " + path.from + " WHERE " + path.where + path.firstOrder + " LIMIT 1)", nil
}

func (tr *annotationTranslator) compileIncludes(inc agql.Includes) (string, error) {
	switch list := inc.List.(type) {
	case agql.ArrayLit:
		operand, err := tr.compileValue(inc.Operand)
		if err != nil {
			return "", err
		}
		items := make([]string, len(list.Values))
		for i, v := range list.Values {
			switch lit := v.(type) {
			case agql.StringLit:
				items[i] = quote(lit.Value)
			case agql.NumberLit:
				items[i] = number(lit.Value)
			}
		}
		if len(items) == 0 {
			return "0 = 1", nil
		}
		return operand + " IN (" + strings.Join(items, ", ") + ")", nil

	case agql.LayerCall:
		path, err := tr.reach(list.Layer)
		if err != nil {
			return "", err
		}
		var column string
		switch list.Func {
		case agql.FuncLabels:
			column = path.label
		case agql.FuncAnnotators:
			column = path.annotator
		case agql.FuncAll:
			column = path.id
		}
		if column == "" {
			return "", tr.errorf("%s('%s') is not available here", list.Func, list.Layer)
		}
		operand, err := tr.compileValue(inc.Operand)
		if err != nil {
			return "", err
		}
		return operand + " IN (SELECT " + column + " FROM " + path.from + " WHERE " + path.where + ")", nil

	default:
		return "", tr.errorf(".includes() requires an array or layer list")
	}
}

// reachPath describes how to reach a referenced layer from the matched
// annotation: a correlated FROM/WHERE pair plus the value columns it
// exposes. Missing columns mean the property is unavailable for that layer.
type reachPath struct {
	from       string
	where      string
	label      string
	id         string
	ordinal    string
	confidence string
	annotator  string
	firstOrder string
}

// reach builds the join path from the matched annotation to the given
// layer. This is where the denormalized structural keys pay off: word and
// segment rows carry turn/word/utterance foreign keys, so the common
// relationships resolve without temporal joins; anything else falls back
// to an anchor-offset overlap join.
func (tr *annotationTranslator) reach(layerID string) (reachPath, error) {
	schema := tr.schema
	roots := schema.Roots()

	switch layerID {
	case roots.Corpus:
		alias := tr.alias("t")
		return reachPath{
			from:  "transcript " + alias,
			where: alias + ".transcript_id = annotation.transcript_id",
			label: alias + ".corpus_name",
		}, nil

	case roots.Episode:
		t, f := tr.alias("t"), tr.alias("f")
		return reachPath{
			from:  "transcript " + t + " JOIN transcript_family " + f + " ON " + f + ".family_id = " + t + ".family_id",
			where: t + ".transcript_id = annotation.transcript_id",
			label: f + ".name",
			id:    idPrefix(ag.NumberEpisode) + " || " + f + ".family_id",
		}, nil

	case "transcript_type":
		alias := tr.alias("t")
		return reachPath{
			from:  "transcript " + alias,
			where: alias + ".transcript_id = annotation.transcript_id",
			label: alias + ".transcript_type",
		}, nil

	case roots.Participant:
		ts, s := tr.alias("ts"), tr.alias("s")
		return reachPath{
			from:  "transcript_speaker " + ts + " JOIN speaker " + s + " ON " + s + ".speaker_number = " + ts + ".speaker_number",
			where: ts + ".transcript_id = annotation.transcript_id",
			label: s + ".name",
			id:    idPrefix(ag.NumberParticipant) + " || " + s + ".speaker_number",
		}, nil
	}

	layer := schema.Layer(layerID)
	if layer == nil {
		return reachPath{}, tr.errorf("unknown layer %q", layerID)
	}

	switch layer.Class {
	case ag.ClassTranscript:
		alias := tr.alias("ta")
		return reachPath{
			from: "transcript_attribute " + alias,
			where: alias + ".transcript_id = annotation.transcript_id AND " +
				alias + ".attribute = " + quote(layer.Attribute),
			label:     alias + ".label",
			annotator: alias + ".annotated_by",
		}, nil
	case ag.ClassParticipant:
		pa, ts := tr.alias("pa"), tr.alias("ts")
		return reachPath{
			from: "participant_attribute " + pa + " JOIN transcript_speaker " + ts +
				" ON " + ts + ".speaker_number = " + pa + ".speaker_number",
			where: ts + ".transcript_id = annotation.transcript_id AND " +
				pa + ".attribute = " + quote(layer.Attribute),
			label:     pa + ".label",
			annotator: pa + ".annotated_by",
		}, nil
	}

	return tr.reachTemporal(layer)
}

// reachTemporal links to another temporal layer's table via the tightest
// structural key available, or an anchor-overlap join as a last resort.
func (tr *annotationTranslator) reachTemporal(layer *ag.Layer) (reachPath, error) {
	schema := tr.schema
	roots := schema.Roots()
	target := tr.layer
	alias := tr.alias("l")

	path := reachPath{
		label:      alias + ".label",
		id:         idConcat(alias+".annotation_id", layer),
		ordinal:    alias + ".ordinal",
		confidence: alias + ".label_status",
		annotator:  alias + ".annotated_by",
		firstOrder: " ORDER BY " + alias + ".ordinal",
	}
	table := ScopeTable(layer.Scope) + " " + alias
	layerCond := fmt.Sprintf("%s.layer_id = %d", alias, layer.Number)

	link := ""
	switch {
	// Direct parent/child relationships.
	case layer.ParentID == target.ID:
		link = alias + ".parent_id = annotation.annotation_id"
	case target.ParentID == layer.ID:
		link = alias + ".annotation_id = annotation.parent_id"

	// The turn layer is reachable from every scoped row.
	case layer.ID == roots.Turn && target.Scope != ag.ScopeFreeform:
		link = alias + ".annotation_id = annotation.turn_annotation_id"

	// Utterances via the denormalized utterance_annotation_id fast path.
	case layer.ID == roots.Utterance && target.Scope == ag.ScopeWord:
		link = alias + ".annotation_id = annotation.utterance_annotation_id"
	case layer.ID == roots.Utterance && target.Scope == ag.ScopeSegment:
		link = alias + ".annotation_id = (SELECT w.utterance_annotation_id FROM annotation_word w WHERE w.annotation_id = annotation.word_annotation_id)"

	// Word-family layers share word_annotation_id.
	case layer.Scope == ag.ScopeWord && (target.Scope == ag.ScopeWord || target.Scope == ag.ScopeSegment):
		link = alias + ".word_annotation_id = annotation.word_annotation_id"
	case layer.Scope == ag.ScopeSegment && (target.Scope == ag.ScopeWord || target.Scope == ag.ScopeSegment):
		link = alias + ".word_annotation_id = annotation.word_annotation_id"

	// Scoped layers under a matched turn or utterance.
	case target.ID == roots.Turn && (layer.Scope == ag.ScopeWord || layer.Scope == ag.ScopeSegment || layer.Scope == ag.ScopeMeta):
		link = alias + ".turn_annotation_id = annotation.annotation_id"
	case target.ID == roots.Utterance && layer.Scope == ag.ScopeWord:
		link = alias + ".utterance_annotation_id = annotation.annotation_id"
	}

	if link != "" {
		path.from = table
		path.where = layerCond + " AND " + link
		return path, nil
	}

	// Generic temporal overlap join. Measurably slower; the structural
	// cases above and the fast-path planners exist to avoid it.
	s, e := tr.alias("sa"), tr.alias("ea")
	path.from = table +
		" JOIN anchor " + s + " ON " + s + ".anchor_id = " + alias + ".start_anchor_id" +
		" JOIN anchor " + e + " ON " + e + ".anchor_id = " + alias + ".end_anchor_id"
	path.where = layerCond +
		" AND " + alias + ".transcript_id = annotation.transcript_id" +
		" AND " + s + `."offset" < (SELECT anchor."offset" FROM anchor WHERE anchor.anchor_id = annotation.end_anchor_id)` +
		" AND " + e + `."offset" > (SELECT anchor."offset" FROM anchor WHERE anchor.anchor_id = annotation.start_anchor_id)`
	path.firstOrder = " ORDER BY " + s + `."offset"`
	return path, nil
}

func (tr *annotationTranslator) alias(prefix string) string {
	tr.aliasSeq++
	return fmt.Sprintf("%s%d", prefix, tr.aliasSeq)
}

// idConcat builds the SQL expression reconstructing an annotation's string
// ID from its row key. The prefix must agree with agid.Temporal exactly,
// character for character, or ID comparisons in the general path match
// nothing.
func idConcat(column string, layer *ag.Layer) string {
	if layer.Scope == ag.ScopeFreeform {
		return fmt.Sprintf("'%d_' || %s", layer.Number, column)
	}
	return fmt.Sprintf("'%s_%d_' || %s", layer.Scope, layer.Number, column)
}

// idPrefix builds the literal prefix of a meta entity ID.
func idPrefix(layerNumber int) string {
	return fmt.Sprintf("'m_%d_'", layerNumber)
}

// decodeRowFor decodes an ID literal and checks it belongs to the expected
// layer. Returns false for malformed IDs or layer mismatches, in which
// case the comparison can never be true.
func decodeRowFor(literal string, expect *ag.Layer) (int64, bool) {
	if expect == nil {
		return 0, false
	}
	id, err := agid.Decode(literal)
	if err != nil {
		return 0, false
	}
	if id.Category != agid.CategoryTemporal && id.Category != agid.CategoryMeta {
		return 0, false
	}
	if id.LayerNumber != expect.Number || id.Scope != expect.Scope {
		return 0, false
	}
	return id.RowID, true
}
