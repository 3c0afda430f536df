package agql

import (
	"fmt"
	"regexp"
	"strconv"
)

// Parse parses an AGQL expression into its AST.
func Parse(src string) (Node, error) {
	toks, lerr := lex(src)
	if lerr != nil {
		return nil, lerr
	}
	p := &parser{src: src, toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tkEOF {
		return nil, p.errorf("unexpected %q after expression", p.peek().text)
	}
	return expr, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptPunct(text string) bool {
	if t := p.peek(); t.kind == tkPunct && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectPunct(text string) error {
	if !p.acceptPunct(text) {
		return p.errorf("expected %q, found %q", text, p.peek().text)
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) *QueryError {
	return &QueryError{Expression: p.src, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptPunct(OpOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.acceptPunct(OpAnd) {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

var comparisonOps = map[string]string{
	"==": OpEquals,
	"<>": OpNotEquals,
	"!=": OpNotEquals,
	"<":  OpLt,
	">":  OpGt,
	"<=": OpLtEq,
	">=": OpGtEq,
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tkPunct {
		if op, ok := comparisonOps[t.text]; ok {
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return Binary{Op: op, Left: left, Right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.acceptPunct("!") {
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Expr: expr}, nil
	}
	return p.parseOperand()
}

// parseOperand parses a primary followed by postfix property/method chains.
func (p *parser) parseOperand() (Node, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.acceptPunct(".") {
		name := p.next()
		if name.kind != tkIdent {
			return nil, p.errorf("expected property name after '.'")
		}
		expr, err = p.parsePostfix(expr, name.text)
		if err != nil {
			return nil, err
		}
	}
	return expr, nil
}

func (p *parser) parsePostfix(recv Node, name string) (Node, error) {
	switch name {
	case "test":
		re, ok := recv.(RegexpTest)
		if !ok || re.Operand != nil {
			return nil, p.errorf(".test() requires a regular expression receiver")
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		operand, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		re.Operand = operand
		return re, nil

	case "includes":
		switch list := recv.(type) {
		case ArrayLit:
		case LayerCall:
			if list.Func == FuncFirst {
				return nil, p.errorf("first() is not a list; use labels() or all()")
			}
		default:
			return nil, p.errorf(".includes() requires an array or layer list receiver")
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		operand, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return Includes{List: recv, Operand: operand}, nil

	default:
		call, ok := recv.(LayerCall)
		if !ok {
			return nil, p.errorf("unknown property %q", name)
		}
		if name == "length" {
			if call.Func == FuncFirst {
				return nil, p.errorf("first() has no length; use labels() or all()")
			}
			return Property{Recv: recv, Name: name}, nil
		}
		if call.Func != FuncFirst {
			return nil, p.errorf("%s() results have no property %q", call.Func, name)
		}
		switch name {
		case "label", "id", "ordinal", "confidence", "annotator":
			return Property{Recv: recv, Name: name}, nil
		default:
			return nil, p.errorf("unknown property %q", name)
		}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tkString:
		p.next()
		return StringLit{Value: t.text}, nil

	case tkNumber:
		p.next()
		value, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", t.text)
		}
		return NumberLit{Value: value}, nil

	case tkRegexp:
		p.next()
		if _, err := regexp.Compile(t.text); err != nil {
			return nil, p.errorf("invalid regular expression /%s/", t.text)
		}
		// Operand filled in by the .test() postfix.
		return RegexpTest{Pattern: t.text}, nil

	case tkIdent:
		return p.parseIdent()

	case tkPunct:
		switch t.text {
		case "(":
			p.next()
			expr, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return expr, nil
		case "[":
			return p.parseArray()
		}
	}
	return nil, p.errorf("unexpected %q", t.text)
}

func (p *parser) parseArray() (Node, error) {
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	var values []Node
	if !p.acceptPunct("]") {
		for {
			t := p.next()
			switch t.kind {
			case tkString:
				values = append(values, StringLit{Value: t.text})
			case tkNumber:
				value, err := strconv.ParseFloat(t.text, 64)
				if err != nil {
					return nil, p.errorf("invalid number %q", t.text)
				}
				values = append(values, NumberLit{Value: value})
			default:
				return nil, p.errorf("array literals may only contain literals")
			}
			if p.acceptPunct("]") {
				break
			}
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
	}
	return ArrayLit{Values: values}, nil
}

// Dotted attribute aliases folded onto canonical attribute names.
var dottedAttrs = map[string]map[string]string{
	"layer":  {"id": AttrLayerID},
	"parent": {"id": AttrParentID},
	"graph":  {"id": AttrGraphID},
	"start":  {"offset": AttrStart},
	"end":    {"offset": AttrEnd},
}

var bareAttrs = map[string]bool{
	AttrID:         true,
	AttrLabel:      true,
	AttrLayerID:    true,
	AttrParentID:   true,
	AttrGraphID:    true,
	AttrOrdinal:    true,
	AttrConfidence: true,
	AttrAnnotator:  true,
}

var layerFuncs = map[string]bool{
	FuncFirst:      true,
	FuncLabels:     true,
	FuncAll:        true,
	FuncAnnotators: true,
}

func (p *parser) parseIdent() (Node, error) {
	t := p.next()
	name := t.text

	// Layer function call: first('layer') etc.
	if layerFuncs[name] {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		layer := p.next()
		if layer.kind != tkString {
			return nil, p.errorf("%s() requires a quoted layer ID", name)
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return LayerCall{Func: name, Layer: layer.text}, nil
	}

	// Dotted attribute alias: layer.id, graph.id, start.offset...
	if members, ok := dottedAttrs[name]; ok {
		if err := p.expectPunct("."); err != nil {
			return nil, err
		}
		member := p.next()
		if member.kind != tkIdent {
			return nil, p.errorf("expected property name after %q", name)
		}
		canonical, ok := members[member.text]
		if !ok {
			return nil, p.errorf("unknown attribute %s.%s", name, member.text)
		}
		return Attr{Name: canonical}, nil
	}

	if bareAttrs[name] {
		return Attr{Name: name}, nil
	}
	return nil, p.errorf("unknown identifier %q", name)
}
