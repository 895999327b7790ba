package pdftext

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// TJ kerning adjustments beyond this (in thousandths of an em) are rendered as a space.
const tjSpaceThreshold = -250

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokName
	tokArray
)

type token struct {
	kind tokenKind
	num  float64
	str  []byte
	arr  []token
}

// TextFromContent walks the operators of a decoded page content stream and renders the
// shown strings. Line breaks come from T*, ', ", ET, vertical Td/TD moves and Tm moves
// to a new baseline.
func TextFromContent(data []byte) string {
	s := &scanner{data: data}
	w := &textWriter{}
	var operands []token
	lastY, haveY := 0.0, false

	for {
		tok, op, ok := s.next()
		if !ok {
			break
		}
		if op == "" {
			operands = append(operands, tok)
			continue
		}
		switch op {
		case "Tj":
			if t, ok := lastOf(operands, tokString); ok {
				w.write(t.str)
			}
		case "'", "\"":
			w.newline()
			if t, ok := lastOf(operands, tokString); ok {
				w.write(t.str)
			}
		case "TJ":
			if t, ok := lastOf(operands, tokArray); ok {
				for _, el := range t.arr {
					switch el.kind {
					case tokString:
						w.write(el.str)
					case tokNumber:
						if el.num < tjSpaceThreshold {
							w.space()
						}
					}
				}
			}
		case "Td", "TD":
			if n := len(operands); n >= 2 && operands[n-1].kind == tokNumber && operands[n-1].num != 0 {
				w.newline()
			} else {
				w.space()
			}
		case "Tm":
			if n := len(operands); n >= 6 && operands[n-1].kind == tokNumber {
				y := operands[n-1].num
				if haveY && y != lastY {
					w.newline()
				} else {
					w.space()
				}
				lastY, haveY = y, true
			}
		case "T*", "ET":
			w.newline()
		case "BI":
			s.skipInlineImage()
		}
		operands = operands[:0]
	}
	return w.String()
}

func lastOf(ops []token, kind tokenKind) (token, bool) {
	if len(ops) == 0 || ops[len(ops)-1].kind != kind {
		return token{}, false
	}
	return ops[len(ops)-1], true
}

type textWriter struct {
	lines []string
	cur   strings.Builder
}

func (w *textWriter) write(raw []byte) { w.cur.WriteString(decodeString(raw)) }

func (w *textWriter) space() {
	if w.cur.Len() > 0 {
		w.cur.WriteByte(' ')
	}
}

func (w *textWriter) newline() {
	if line := strings.Join(strings.Fields(w.cur.String()), " "); line != "" {
		w.lines = append(w.lines, line)
	}
	w.cur.Reset()
}

func (w *textWriter) String() string {
	w.newline()
	return strings.Join(w.lines, "\n")
}

var utf16BOM = []byte{0xFE, 0xFF}

// decodeString handles UTF-16BE strings marked with a BOM and falls back to WinAnsi,
// which agrees with PDFDocEncoding on the Latin-1 range guides use.
func decodeString(raw []byte) string {
	if bytes.HasPrefix(raw, utf16BOM) {
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw)
		if err == nil {
			return string(out)
		}
	}
	if isASCII(raw) {
		return string(raw)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

type scanner struct {
	data []byte
	pos  int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isSpace(c)
}

// next returns either an operand token or an operator name.
func (s *scanner) next() (token, string, bool) {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isSpace(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
		case c == '(':
			return token{kind: tokString, str: s.literal()}, "", true
		case c == '<':
			if s.pos+1 < len(s.data) && s.data[s.pos+1] == '<' {
				s.pos += 2
				continue
			}
			return token{kind: tokString, str: s.hex()}, "", true
		case c == '>':
			s.pos++
		case c == '[':
			s.pos++
			return token{kind: tokArray, arr: s.array()}, "", true
		case c == ']' || c == '{' || c == '}' || c == ')':
			s.pos++
		case c == '/':
			s.pos++
			return token{kind: tokName, str: s.word()}, "", true
		case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
			w := s.word()
			if n, err := strconv.ParseFloat(string(w), 64); err == nil {
				return token{kind: tokNumber, num: n}, "", true
			}
		default:
			w := s.word()
			if len(w) == 0 {
				s.pos++
				continue
			}
			return token{}, string(w), true
		}
	}
	return token{}, "", false
}

func (s *scanner) word() []byte {
	start := s.pos
	for s.pos < len(s.data) && !isDelim(s.data[s.pos]) {
		s.pos++
	}
	return s.data[start:s.pos]
}

func (s *scanner) array() []token {
	var out []token
	for s.pos < len(s.data) {
		for s.pos < len(s.data) && isSpace(s.data[s.pos]) {
			s.pos++
		}
		if s.pos < len(s.data) && s.data[s.pos] == ']' {
			s.pos++
			return out
		}
		tok, op, ok := s.next()
		if !ok {
			break
		}
		if op == "" {
			out = append(out, tok)
		}
	}
	return out
}

// literal reads a (...) string, honouring nesting and escapes.
func (s *scanner) literal() []byte {
	s.pos++
	var b bytes.Buffer
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= len(s.data) {
				return b.Bytes()
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case '\r':
				if s.pos < len(s.data) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for i := 0; i < 2 && s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; i++ {
						val = val*8 + int(s.data[s.pos]-'0')
						s.pos++
					}
					b.WriteByte(byte(val))
				} else {
					b.WriteByte(e)
				}
			}
		case '(':
			depth++
			b.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return b.Bytes()
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.Bytes()
}

// hex reads a <...> string.
func (s *scanner) hex() []byte {
	s.pos++
	var digits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		c := s.data[s.pos]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			digits = append(digits, c)
		}
		s.pos++
	}
	s.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	for i := range out {
		v, _ := strconv.ParseUint(string(digits[2*i:2*i+2]), 16, 8)
		out[i] = byte(v)
	}
	return out
}

// skipInlineImage jumps past the binary payload of a BI ... ID ... EI block.
func (s *scanner) skipInlineImage() {
	idx := bytes.Index(s.data[s.pos:], []byte("ID"))
	if idx < 0 {
		s.pos = len(s.data)
		return
	}
	s.pos += idx + 2
	for s.pos+2 <= len(s.data) {
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' && s.pos > 0 && isSpace(s.data[s.pos-1]) &&
			(s.pos+2 == len(s.data) || isSpace(s.data[s.pos+2])) {
			s.pos += 2
			return
		}
		s.pos++
	}
	s.pos = len(s.data)
}
