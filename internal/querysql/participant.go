package querysql

import (
	"fmt"
	"strings"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/agid"
	"github.com/korero-labs/agstore/internal/agql"
)

// ParticipantMatcher translates AGQL expressions that match participant
// rows. The entity alias in generated SQL is "speaker".
type ParticipantMatcher struct {
	schema *ag.Schema
}

// NewParticipantMatcher returns a participant matcher over the schema.
func NewParticipantMatcher(schema *ag.Schema) *ParticipantMatcher {
	return &ParticipantMatcher{schema: schema}
}

// Translate compiles an AGQL expression to SQL selecting speaker rows.
func (m *ParticipantMatcher) Translate(expression string, opts Options) (Query, error) {
	node, err := agql.Parse(expression)
	if err != nil {
		return Query{}, err
	}

	tr := &participantTranslator{schema: m.schema, expression: expression}
	cond, err := tr.compileBool(node)
	if err != nil {
		return Query{}, err
	}

	selectClause := opts.Select
	if selectClause == "" {
		selectClause = "speaker.name"
	}
	return assemble(selectClause, "speaker", "("+cond+")", opts,
		"ORDER BY speaker.name"), nil
}

type participantTranslator struct {
	schema     *ag.Schema
	expression string
	aliasSeq   int
}

func (tr *participantTranslator) errorf(format string, args ...any) error {
	return &agql.QueryError{Expression: tr.expression, Message: fmt.Sprintf(format, args...)}
}

func (tr *participantTranslator) alias(prefix string) string {
	tr.aliasSeq++
	return fmt.Sprintf("%s%d", prefix, tr.aliasSeq)
}

func (tr *participantTranslator) compileBool(n agql.Node) (string, error) {
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

func (tr *participantTranslator) compileComparison(bin agql.Binary) (string, error) {
	op, ok := sqlOp(bin.Op)
	if !ok {
		return "", tr.errorf("unsupported operator %q", bin.Op)
	}

	// id == 'm_-2_6' decodes to a speaker_number comparison.
	if bin.Op == agql.OpEquals || bin.Op == agql.OpNotEquals {
		if lit, ok := equalsAttrString(bin, agql.AttrID); ok {
			match := "0 = 1"
			if id, err := agid.Decode(lit); err == nil &&
				id.Category == agid.CategoryMeta && id.LayerNumber == ag.NumberParticipant {
				match = fmt.Sprintf("speaker.speaker_number = %d", id.RowID)
			}
			if bin.Op == agql.OpNotEquals {
				return "NOT (" + match + ")", nil
			}
			return match, nil
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

func (tr *participantTranslator) compileValue(n agql.Node) (string, error) {
	switch node := n.(type) {
	case agql.StringLit:
		return quote(node.Value), nil
	case agql.NumberLit:
		return number(node.Value), nil

	case agql.Attr:
		switch node.Name {
		case agql.AttrID:
			return idPrefix(ag.NumberParticipant) + " || speaker.speaker_number", nil
		case agql.AttrLabel:
			return "speaker.name", nil
		default:
			return "", tr.errorf("attribute %q is not defined for participants", node.Name)
		}

	case agql.Property:
		return tr.compileProperty(node)

	case agql.LayerCall:
		return "", tr.errorf("%s('%s') must be used with a property or .includes()", node.Func, node.Layer)

	default:
		return "", tr.errorf("expected a value, found a boolean expression")
	}
}

func (tr *participantTranslator) compileProperty(prop agql.Property) (string, error) {
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

func (tr *participantTranslator) compileIncludes(inc agql.Includes) (string, error) {
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

// reach correlates on speaker.speaker_number. Participants can reach their
// attribute layers, their corpora, and their transcripts.
func (tr *participantTranslator) reach(layerID string) (reachPath, error) {
	roots := tr.schema.Roots()

	switch layerID {
	case roots.Corpus:
		cs := tr.alias("cs")
		return reachPath{
			from:  "corpus_speaker " + cs,
			where: cs + ".speaker_number = speaker.speaker_number",
			label: cs + ".corpus_name",
		}, nil

	case "transcript":
		ts, t := tr.alias("ts"), tr.alias("t")
		return reachPath{
			from:  "transcript_speaker " + ts + " JOIN transcript " + t + " ON " + t + ".transcript_id = " + ts + ".transcript_id",
			where: ts + ".speaker_number = speaker.speaker_number",
			label: t + ".transcript_name",
			id:    t + ".transcript_name",
		}, nil
	}

	layer := tr.schema.Layer(layerID)
	if layer == nil {
		return reachPath{}, tr.errorf("unknown layer %q", layerID)
	}
	if layer.Class != ag.ClassParticipant {
		return reachPath{}, tr.errorf("layer %q is not defined for participants", layerID)
	}
	pa := tr.alias("pa")
	return reachPath{
		from: "participant_attribute " + pa,
		where: pa + ".speaker_number = speaker.speaker_number AND " +
			pa + ".attribute = " + quote(layer.Attribute),
		label:     pa + ".label",
		id:        "'p|" + escape(layer.Attribute) + "|' || " + pa + ".attribute_id",
		annotator: pa + ".annotated_by",
	}, nil
}
