package querysql

import (
	"fmt"
	"strings"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/agql"
)

// TranscriptMatcher translates AGQL expressions that match transcript
// (whole graph) rows. The entity alias in generated SQL is "transcript".
type TranscriptMatcher struct {
	schema *ag.Schema
}

// NewTranscriptMatcher returns a transcript matcher over the schema.
func NewTranscriptMatcher(schema *ag.Schema) *TranscriptMatcher {
	return &TranscriptMatcher{schema: schema}
}

// Translate compiles an AGQL expression to SQL selecting transcript rows.
func (m *TranscriptMatcher) Translate(expression string, opts Options) (Query, error) {
	node, err := agql.Parse(expression)
	if err != nil {
		return Query{}, err
	}

	tr := &transcriptTranslator{schema: m.schema, expression: expression}
	cond, err := tr.compileBool(node)
	if err != nil {
		return Query{}, err
	}

	selectClause := opts.Select
	if selectClause == "" {
		selectClause = "transcript.transcript_name"
	}
	return assemble(selectClause, "transcript", "("+cond+")", opts,
		"ORDER BY transcript.transcript_name"), nil
}

type transcriptTranslator struct {
	schema     *ag.Schema
	expression string
	aliasSeq   int
}

func (tr *transcriptTranslator) errorf(format string, args ...any) error {
	return &agql.QueryError{Expression: tr.expression, Message: fmt.Sprintf(format, args...)}
}

func (tr *transcriptTranslator) alias(prefix string) string {
	tr.aliasSeq++
	return fmt.Sprintf("%s%d", prefix, tr.aliasSeq)
}

func (tr *transcriptTranslator) compileBool(n agql.Node) (string, error) {
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
			op, ok := sqlOp(node.Op)
			if !ok {
				return "", tr.errorf("unsupported operator %q", node.Op)
			}
			left, err := tr.compileValue(node.Left)
			if err != nil {
				return "", err
			}
			right, err := tr.compileValue(node.Right)
			if err != nil {
				return "", err
			}
			return left + " " + op + " " + right, nil
		}

	case agql.Not:
		inner, err := tr.compileBool(node.Expr)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil

	case agql.RegexpTest:
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

func (tr *transcriptTranslator) compileValue(n agql.Node) (string, error) {
	switch node := n.(type) {
	case agql.StringLit:
		return quote(node.Value), nil
	case agql.NumberLit:
		return number(node.Value), nil

	case agql.Attr:
		switch node.Name {
		case agql.AttrID, agql.AttrLabel, agql.AttrGraphID:
			return "transcript.transcript_name", nil
		case agql.AttrAnnotator:
			return "transcript.creator", nil
		default:
			return "", tr.errorf("attribute %q is not defined for transcripts", node.Name)
		}

	case agql.Property:
		return tr.compileProperty(node)

	case agql.LayerCall:
		return "", tr.errorf("%s('%s') must be used with a property or .includes()", node.Func, node.Layer)

	default:
		return "", tr.errorf("expected a value, found a boolean expression")
	}
}

func (tr *transcriptTranslator) compileProperty(prop agql.Property) (string, error) {
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
	var column string
	switch prop.Name {
	case "label":
		column = path.label
	case "id":
		column = path.id
	case "annotator":
		column = path.annotator
	}
	if column == "" {
		return "", tr.errorf("layer %q has no %q property here", call.Layer, prop.Name)
	}
	return "(SELECT " + column + " FROM " + path.from + " WHERE " + path.where + " LIMIT 1)", nil
}

func (tr *transcriptTranslator) compileIncludes(inc agql.Includes) (string, error) {
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

// transcriptReach is like the annotation matcher's reach, correlated on
// transcript.transcript_id. Corpus and type need no join at all: they live
// on the transcript row.
func (tr *transcriptTranslator) reach(layerID string) (reachPath, error) {
	roots := tr.schema.Roots()

	switch layerID {
	case roots.Corpus:
		c := tr.alias("c")
		return reachPath{
			from:  "corpus " + c,
			where: c + ".corpus_name = transcript.corpus_name",
			label: c + ".corpus_name",
			id:    idPrefix(ag.NumberCorpus) + " || " + c + ".corpus_id",
		}, nil

	case roots.Episode:
		f := tr.alias("f")
		return reachPath{
			from:  "transcript_family " + f,
			where: f + ".family_id = transcript.family_id",
			label: f + ".name",
			id:    idPrefix(ag.NumberEpisode) + " || " + f + ".family_id",
		}, nil

	case "transcript_type":
		t := tr.alias("tt")
		return reachPath{
			from:  "transcript " + t,
			where: t + ".transcript_id = transcript.transcript_id",
			label: t + ".transcript_type",
		}, nil

	case roots.Participant:
		ts, s := tr.alias("ts"), tr.alias("s")
		return reachPath{
			from:  "transcript_speaker " + ts + " JOIN speaker " + s + " ON " + s + ".speaker_number = " + ts + ".speaker_number",
			where: ts + ".transcript_id = transcript.transcript_id",
			label: s + ".name",
			id:    idPrefix(ag.NumberParticipant) + " || " + s + ".speaker_number",
		}, nil
	}

	layer := tr.schema.Layer(layerID)
	if layer == nil {
		return reachPath{}, tr.errorf("unknown layer %q", layerID)
	}
	switch layer.Class {
	case ag.ClassTranscript:
		ta := tr.alias("ta")
		return reachPath{
			from: "transcript_attribute " + ta,
			where: ta + ".transcript_id = transcript.transcript_id AND " +
				ta + ".attribute = " + quote(layer.Attribute),
			label:     ta + ".label",
			id:        "'t|" + escape(layer.Attribute) + "|' || " + ta + ".attribute_id",
			annotator: ta + ".annotated_by",
		}, nil
	case ag.ClassTemporal:
		a := tr.alias("a")
		return reachPath{
			from:  ScopeTable(layer.Scope) + " " + a,
			where: fmt.Sprintf("%s.layer_id = %d AND %s.transcript_id = transcript.transcript_id", a, layer.Number, a),
			label: a + ".label",
			id:    idConcat(a+".annotation_id", layer),
		}, nil
	default:
		return reachPath{}, tr.errorf("layer %q is not defined for transcripts", layerID)
	}
}
