// Package escpos builds ESC/POS command streams for thermal receipt printers
package escpos

import "bytes"

// ESC/POS prefixes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// Alignment values for ESC a
type Alignment byte

const (
	AlignLeft   Alignment = 0
	AlignCenter Alignment = 1
	AlignRight  Alignment = 2
)

// ParseAlignment maps "left", "center" and "right"; anything else is left
func ParseAlignment(s string) Alignment {
	switch s {
	case "center", "centre":
		return AlignCenter
	case "right":
		return AlignRight
	}
	return AlignLeft
}

// CutMode selects the blade action for GS V
type CutMode byte

const (
	CutFull    CutMode = 0
	CutPartial CutMode = 1
)

// BarcodeType is the GS k function B symbology code
type BarcodeType byte

const (
	BarcodeUPCA    BarcodeType = 65
	BarcodeUPCE    BarcodeType = 66
	BarcodeEAN13   BarcodeType = 67
	BarcodeEAN8    BarcodeType = 68
	BarcodeCODE39  BarcodeType = 69
	BarcodeITF     BarcodeType = 70
	BarcodeCODABAR BarcodeType = 71
	BarcodeCODE93  BarcodeType = 72
	BarcodeCODE128 BarcodeType = 73
)

// Encoder accumulates commands. Every method appends and returns the encoder
// so calls can be chained. It never validates or clamps arguments.
type Encoder struct {
	buffer bytes.Buffer
}

// New creates an empty encoder
func New() *Encoder {
	return &Encoder{}
}

// Init resets the printer (ESC @)
func (e *Encoder) Init() *Encoder {
	e.buffer.Write([]byte{ESC, '@'})
	return e
}

// Align sets justification (ESC a n)
func (e *Encoder) Align(a Alignment) *Encoder {
	e.buffer.Write([]byte{ESC, 'a', byte(a)})
	return e
}

// Size sets the character magnification (GS ! n), width and height 1-based
func (e *Encoder) Size(width, height int) *Encoder {
	e.buffer.Write([]byte{GS, '!', byte(((width - 1) << 4) | (height - 1))})
	return e
}

// Bold toggles emphasis (ESC E n)
func (e *Encoder) Bold(on bool) *Encoder {
	e.buffer.Write([]byte{ESC, 'E', flag(on)})
	return e
}

// Underline sets underline mode 0 (off), 1 (thin) or 2 (thick) (ESC - n)
func (e *Encoder) Underline(mode int) *Encoder {
	e.buffer.Write([]byte{ESC, '-', byte(mode)})
	return e
}

// CodePage selects a character code table (ESC t n)
func (e *Encoder) CodePage(n byte) *Encoder {
	e.buffer.Write([]byte{ESC, 't', n})
	return e
}

// Text appends s verbatim
func (e *Encoder) Text(s string) *Encoder {
	e.buffer.WriteString(s)
	return e
}

// Raw appends arbitrary bytes
func (e *Encoder) Raw(b []byte) *Encoder {
	e.buffer.Write(b)
	return e
}

// Line appends s followed by a line feed
func (e *Encoder) Line(s string) *Encoder {
	e.buffer.WriteString(s)
	e.buffer.WriteByte(LF)
	return e
}

// Feed appends n line feeds
func (e *Encoder) Feed(n int) *Encoder {
	for i := 0; i < n; i++ {
		e.buffer.WriteByte(LF)
	}
	return e
}

// Cut cuts the paper (GS V m)
func (e *Encoder) Cut(mode CutMode) *Encoder {
	e.buffer.Write([]byte{GS, 'V', byte(mode)})
	return e
}

// OpenDrawer pulses drawer pin 2 (ESC p 0 25 250)
func (e *Encoder) OpenDrawer() *Encoder {
	e.buffer.Write([]byte{ESC, 'p', 0x00, 0x19, 0xFA})
	return e
}

// Barcode prints data as a 1D barcode (GS k m n d1...dn)
func (e *Encoder) Barcode(data string, t BarcodeType) *Encoder {
	e.buffer.Write([]byte{GS, 'k', byte(t), byte(len(data))})
	e.buffer.WriteString(data)
	return e
}

// QRCode stores and prints a model 2 QR symbol with module size `size`
// and error correction level L
func (e *Encoder) QRCode(data string, size int) *Encoder {
	// Module size
	e.buffer.Write([]byte{GS, '(', 'k', 0x03, 0x00, 0x31, 0x43, byte(size)})
	// Error correction level
	e.buffer.Write([]byte{GS, '(', 'k', 0x03, 0x00, 0x31, 0x45, 0x30})

	n := len(data) + 3
	e.buffer.Write([]byte{GS, '(', 'k', byte(n & 0xFF), byte((n >> 8) & 0xFF), 0x31, 0x50, 0x30})
	e.buffer.WriteString(data)

	// Print stored symbol
	e.buffer.Write([]byte{GS, '(', 'k', 0x03, 0x00, 0x31, 0x51, 0x30})
	return e
}

// Len reports how many bytes have been encoded
func (e *Encoder) Len() int {
	return e.buffer.Len()
}

// Build returns a copy of the encoded stream
func (e *Encoder) Build() []byte {
	out := make([]byte, e.buffer.Len())
	copy(out, e.buffer.Bytes())
	return out
}

// Reset clears the buffer
func (e *Encoder) Reset() *Encoder {
	e.buffer.Reset()
	return e
}

func flag(on bool) byte {
	if on {
		return 1
	}
	return 0
}
