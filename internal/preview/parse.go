package preview

import (
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/escpos"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"golang.org/x/text/encoding/charmap"
)

type style struct {
	bold      bool
	underline byte
	width     int
	height    int
}

var defaultStyle = style{width: 1, height: 1}

type segment struct {
	text  string
	style style
}

// element is one printable block of the stream
type element interface {
	isElement()
}

type textLine struct {
	align    escpos.Alignment
	segments []segment
}

type barcodeBlock struct {
	align escpos.Alignment
	kind  escpos.BarcodeType
	data  string
}

type qrBlock struct {
	align  escpos.Alignment
	data   string
	module int
	level  byte
}

type cutMark struct {
	partial bool
}

type drawerKick struct{}

func (textLine) isElement()     {}
func (barcodeBlock) isElement() {}
func (qrBlock) isElement()      {}
func (cutMark) isElement()      {}
func (drawerKick) isElement()   {}

// ESC t values understood when decoding text
var codePages = map[byte]*charmap.Charmap{
	0:  charmap.CodePage437,
	2:  charmap.CodePage850,
	16: charmap.Windows1252,
	17: charmap.CodePage866,
	19: charmap.CodePage858,
}

type parser struct {
	data []byte
	pos  int

	align    escpos.Alignment
	style    style
	codePage *charmap.Charmap

	pending  []byte
	line     textLine
	elements []element

	qrModule int
	qrLevel  byte
	qrData   string

	unknown int
}

// parse splits an ESC/POS stream into elements. A truncated command ends
// parsing; the elements before it are still returned with the error.
func parse(data []byte) ([]element, int, error) {
	p := &parser{data: data, style: defaultStyle, qrModule: 3, qrLevel: 0x30}
	err := p.run()
	p.flushLine(false)
	return p.elements, p.unknown, err
}

func (p *parser) run() error {
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		switch b {
		case escpos.LF:
			p.pos++
			p.flushLine(true)
		case escpos.ESC:
			if err := p.esc(); err != nil {
				return err
			}
		case escpos.GS:
			if err := p.gs(); err != nil {
				return err
			}
		case '\r':
			p.pos++
		default:
			p.pending = append(p.pending, b)
			p.pos++
		}
	}
	return nil
}

// args returns the n bytes after the command prefix of length skip
func (p *parser) args(skip, n int) ([]byte, error) {
	start := p.pos + skip
	if start+n > len(p.data) {
		return nil, errors.Wrapf(hwerr.ErrValidationFailure, "truncated command at offset %d", p.pos)
	}
	p.pos = start + n
	return p.data[start : start+n], nil
}

func (p *parser) esc() error {
	if p.pos+1 >= len(p.data) {
		return errors.Wrapf(hwerr.ErrValidationFailure, "truncated command at offset %d", p.pos)
	}
	switch p.data[p.pos+1] {
	case '@':
		p.pos += 2
		p.flushSegment()
		p.align = escpos.AlignLeft
		p.style = defaultStyle
		p.codePage = nil
	case 'a':
		a, err := p.args(2, 1)
		if err != nil {
			return err
		}
		// alignment only takes effect at the start of a line
		if len(p.pending) == 0 && len(p.line.segments) == 0 {
			p.line.align = escpos.Alignment(a[0] % 3)
		}
		p.align = escpos.Alignment(a[0] % 3)
	case 'E':
		a, err := p.args(2, 1)
		if err != nil {
			return err
		}
		p.flushSegment()
		p.style.bold = a[0]&1 == 1
	case '-':
		a, err := p.args(2, 1)
		if err != nil {
			return err
		}
		p.flushSegment()
		p.style.underline = a[0] % 3
	case 't':
		a, err := p.args(2, 1)
		if err != nil {
			return err
		}
		p.flushSegment()
		p.codePage = codePages[a[0]]
	case 'p':
		if _, err := p.args(2, 3); err != nil {
			return err
		}
		p.flushLine(false)
		p.elements = append(p.elements, drawerKick{})
	default:
		p.pos += 2
		p.unknown++
	}
	return nil
}

func (p *parser) gs() error {
	if p.pos+1 >= len(p.data) {
		return errors.Wrapf(hwerr.ErrValidationFailure, "truncated command at offset %d", p.pos)
	}
	switch p.data[p.pos+1] {
	case '!':
		a, err := p.args(2, 1)
		if err != nil {
			return err
		}
		p.flushSegment()
		p.style.width = int(a[0]>>4) + 1
		p.style.height = int(a[0]&0x0F) + 1
	case 'V':
		a, err := p.args(2, 1)
		if err != nil {
			return err
		}
		p.flushLine(false)
		p.elements = append(p.elements, cutMark{partial: a[0]&1 == 1})
	case 'k':
		head, err := p.args(2, 2)
		if err != nil {
			return err
		}
		body, err := p.args(0, int(head[1]))
		if err != nil {
			return err
		}
		p.flushLine(false)
		p.elements = append(p.elements, barcodeBlock{align: p.align, kind: escpos.BarcodeType(head[0]), data: string(body)})
	case '(':
		return p.gsParen()
	default:
		p.pos += 2
		p.unknown++
	}
	return nil
}

// gsParen handles the GS ( k two-dimensional code functions
func (p *parser) gsParen() error {
	head, err := p.args(2, 3)
	if err != nil {
		return err
	}
	if head[0] != 'k' {
		// other GS ( functions carry the same pL pH length
		_, err := p.args(0, int(head[1])|int(head[2])<<8)
		p.unknown++
		return err
	}

	body, err := p.args(0, int(head[1])|int(head[2])<<8)
	if err != nil {
		return err
	}
	if len(body) < 2 || body[0] != 0x31 {
		p.unknown++
		return nil
	}

	switch body[1] {
	case 0x43:
		if len(body) > 2 {
			p.qrModule = int(body[2])
		}
	case 0x45:
		if len(body) > 2 {
			p.qrLevel = body[2]
		}
	case 0x50:
		if len(body) > 3 {
			p.qrData = string(body[3:])
		}
	case 0x51:
		p.flushLine(false)
		p.elements = append(p.elements, qrBlock{align: p.align, data: p.qrData, module: p.qrModule, level: p.qrLevel})
	}
	return nil
}

func (p *parser) flushSegment() {
	if len(p.pending) == 0 {
		return
	}
	p.line.segments = append(p.line.segments, segment{text: p.decode(p.pending), style: p.style})
	p.pending = p.pending[:0]
}

// flushLine ends the current line. A bare LF still produces an empty line.
func (p *parser) flushLine(force bool) {
	p.flushSegment()
	if !force && len(p.line.segments) == 0 {
		return
	}
	p.elements = append(p.elements, p.line)
	p.line = textLine{align: p.align}
}

func (p *parser) decode(raw []byte) string {
	if p.codePage == nil {
		if utf8.Valid(raw) {
			return string(raw)
		}
		return decodeWith(charmap.CodePage437, raw)
	}
	return decodeWith(p.codePage, raw)
}

func decodeWith(cm *charmap.Charmap, raw []byte) string {
	out, err := cm.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
