package agql

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkIdent
	tkString
	tkNumber
	tkRegexp
	tkPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer tokenizes an AGQL expression. '/' always begins a regular
// expression literal; the language has no division operator.
type lexer struct {
	src  string
	pos  int
	toks []token
}

var punctuation = []string{
	"&&", "||", "==", "!=", "<>", "<=", ">=",
	"(", ")", "[", "]", ",", ".", "!", "<", ">",
}

func lex(src string) ([]token, *QueryError) {
	l := &lexer{src: src}
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			l.toks = append(l.toks, token{kind: tkEOF, pos: l.pos})
			return l.toks, nil
		}
		start := l.pos
		c := l.src[l.pos]
		switch {
		case c == '\'' || c == '"':
			text, ok := l.scanString(c)
			if !ok {
				return nil, &QueryError{Expression: src, Message: "unterminated string literal"}
			}
			l.toks = append(l.toks, token{kind: tkString, text: text, pos: start})
		case c == '/':
			text, ok := l.scanRegexp()
			if !ok {
				return nil, &QueryError{Expression: src, Message: "unterminated regular expression"}
			}
			l.toks = append(l.toks, token{kind: tkRegexp, text: text, pos: start})
		case c >= '0' && c <= '9':
			l.toks = append(l.toks, token{kind: tkNumber, text: l.scanNumber(), pos: start})
		case isIdentStart(rune(c)):
			l.toks = append(l.toks, token{kind: tkIdent, text: l.scanIdent(), pos: start})
		default:
			p := l.scanPunct()
			if p == "" {
				return nil, &QueryError{Expression: src, Message: "unexpected character " + string(c)}
			}
			l.toks = append(l.toks, token{kind: tkPunct, text: p, pos: start})
		}
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
}

// scanString consumes a quoted string, returning its unescaped content.
func (l *lexer) scanString(quote byte) (string, bool) {
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' && l.pos+1 < len(l.src) {
			b.WriteByte(l.src[l.pos+1])
			l.pos += 2
			continue
		}
		if c == quote {
			l.pos++
			return b.String(), true
		}
		b.WriteByte(c)
		l.pos++
	}
	return "", false
}

// scanRegexp consumes /pattern/, returning the pattern. Escaped slashes are
// kept escaped so the pattern passes through to the regexp engine intact.
func (l *lexer) scanRegexp() (string, bool) {
	l.pos++ // opening slash
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' && l.pos+1 < len(l.src) {
			b.WriteByte(c)
			b.WriteByte(l.src[l.pos+1])
			l.pos += 2
			continue
		}
		if c == '/' {
			l.pos++
			return b.String(), true
		}
		b.WriteByte(c)
		l.pos++
	}
	return "", false
}

func (l *lexer) scanNumber() string {
	start := l.pos
	for l.pos < len(l.src) && (l.src[l.pos] >= '0' && l.src[l.pos] <= '9' || l.src[l.pos] == '.') {
		// A '.' followed by a non-digit is property access, not a decimal.
		if l.src[l.pos] == '.' {
			if l.pos+1 >= len(l.src) || l.src[l.pos+1] < '0' || l.src[l.pos+1] > '9' {
				break
			}
		}
		l.pos++
	}
	return l.src[start:l.pos]
}

func (l *lexer) scanIdent() string {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
		l.pos++
	}
	return l.src[start:l.pos]
}

func (l *lexer) scanPunct() string {
	for _, p := range punctuation {
		if strings.HasPrefix(l.src[l.pos:], p) {
			l.pos += len(p)
			return p
		}
	}
	return ""
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
