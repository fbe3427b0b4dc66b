// Package renderer turns receipt templates and data records into ESC/POS byte streams
package renderer

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/escpos"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"github.com/thereceipt/pos-hardware/pkg/receiptformat"
)

// Options configures a Renderer
type Options struct {
	// CodePage transcodes text and selects the matching printer table.
	// Empty sends UTF-8 verbatim.
	CodePage string
}

// Renderer converts templates to printer bytes. It is safe for concurrent use.
type Renderer struct {
	codePage *codePage
}

// New creates a renderer
func New(opts Options) (*Renderer, error) {
	cp, err := lookupCodePage(opts.CodePage)
	if err != nil {
		return nil, err
	}
	return &Renderer{codePage: cp}, nil
}

// Render produces a printable stream for tmpl. It never fails: any error or
// panic while rendering is replaced by a short fallback receipt.
func (r *Renderer) Render(tmpl *receiptformat.Template, data receiptformat.Data, business receiptformat.BusinessInfo) (out []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			err := errors.Wrapf(hwerr.ErrRenderFailure, "panic: %v", rec)
			log.Error().Err(err).Msg("receipt rendering panicked")
			out = Fallback(err)
		}
	}()

	b, err := r.render(tmpl, data, business)
	if err != nil {
		log.Error().Err(err).Msg("receipt rendering failed")
		return Fallback(err)
	}
	return b
}

func (r *Renderer) render(tmpl *receiptformat.Template, data receiptformat.Data, business receiptformat.BusinessInfo) ([]byte, error) {
	if tmpl == nil {
		return nil, errors.Wrap(hwerr.ErrRenderFailure, "template is required")
	}

	w := &receiptWriter{
		enc:      escpos.New(),
		columns:  tmpl.PaperSize.Columns(),
		codePage: r.codePage,
	}

	w.header(&tmpl.Header, &business)

	switch tmpl.Type {
	case receiptformat.TypeSession:
		if data.Session != nil {
			w.sessionBody(&tmpl.Body, data.Session)
			w.sessionTotals(&tmpl.Totals, data.Session)
		}
	default:
		if data.Receipt != nil {
			w.receiptBody(&tmpl.Body, data.Receipt)
			w.receiptTotals(&tmpl.Totals, data.Receipt)
		}
	}

	w.footer(&tmpl.Footer, data)

	w.enc.Feed(3).Cut(escpos.CutFull)
	return w.enc.Build(), nil
}

// Fallback is the receipt printed when rendering fails
func Fallback(cause error) []byte {
	enc := escpos.New().
		Init().
		Align(escpos.AlignCenter).
		Bold(true).
		Line("ERROR GENERATING RECEIPT").
		Bold(false).
		Align(escpos.AlignLeft)

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	enc.Line(WrapText(msg, receiptformat.Paper58mm.Columns()))

	return enc.Feed(3).Cut(escpos.CutFull).Build()
}

// receiptWriter holds the state of one render pass
type receiptWriter struct {
	enc      *escpos.Encoder
	columns  int
	codePage *codePage
	started  bool
}

// begin emits printer initialisation before the first visible output only,
// so a template with every section disabled yields nothing but feed and cut
func (w *receiptWriter) begin() {
	if w.started {
		return
	}
	w.started = true
	w.enc.Init()
	if w.codePage != nil {
		w.enc.CodePage(w.codePage.table)
	}
}

func (w *receiptWriter) text(s string) {
	if w.codePage != nil {
		s = w.codePage.encode(s)
	}
	w.enc.Text(s)
}

func (w *receiptWriter) line(s string) {
	w.text(s)
	w.enc.Feed(1)
}

// lines emits each entry, wrapped to the column budget
func (w *receiptWriter) lines(entries []string) {
	for _, e := range entries {
		w.line(WrapText(e, w.columns))
	}
}

func (w *receiptWriter) pair(left, right string) {
	w.line(FormatLine(left, right, w.columns))
}

func (w *receiptWriter) warn(element string, err error) {
	log.Warn().Err(err).Str("element", element).Msg("skipping receipt element")
}
