// Package preview draws an ESC/POS command stream as an image, so receipts
// can be checked without paper
package preview

import (
	"image"
	"image/png"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/pkg/receiptformat"
)

// Options configures a preview
type Options struct {
	Paper receiptformat.PaperSize
	// FontPath overrides the system monospaced font
	FontPath string
}

// Summary counts what the stream contained
type Summary struct {
	Lines       int  `json:"lines"`
	Barcodes    int  `json:"barcodes"`
	QRCodes     int  `json:"qrCodes"`
	Cuts        int  `json:"cuts"`
	DrawerKicks int  `json:"drawerKicks"`
	Unknown     int  `json:"unknownCommands"`
	Truncated   bool `json:"truncated"`
}

// Render interprets data and draws it. A truncated trailing command is
// reported in the summary; everything before it is still drawn.
func Render(data []byte, opts Options) (image.Image, Summary, error) {
	if len(data) == 0 {
		return nil, Summary{}, errors.New("nothing to preview")
	}

	elements, unknown, err := parse(data)
	sum := Summary{Unknown: unknown}
	if err != nil {
		log.Warn().Err(err).Msg("preview stream truncated")
		sum.Truncated = true
	}

	c := newCanvas(opts.Paper, opts.FontPath)
	for _, el := range elements {
		switch e := el.(type) {
		case textLine:
			c.drawLine(e)
			sum.Lines++
		case barcodeBlock:
			if err := c.drawBarcode(e); err != nil {
				log.Debug().Err(err).Msg("barcode not previewable")
				c.drawNote("[barcode " + e.data + "]")
			}
			sum.Barcodes++
		case qrBlock:
			if err := c.drawQRCode(e); err != nil {
				log.Debug().Err(err).Msg("QR code not previewable")
				c.drawNote("[QR code]")
			}
			sum.QRCodes++
		case cutMark:
			c.drawDivider(e.partial)
			sum.Cuts++
		case drawerKick:
			c.drawNote("[open drawer]")
			sum.DrawerKicks++
		}
	}

	return c.cropToContent(), sum, nil
}

// WritePNG renders data and encodes it as PNG to w
func WritePNG(w io.Writer, data []byte, opts Options) (Summary, error) {
	img, sum, err := Render(data, opts)
	if err != nil {
		return sum, err
	}
	if err := png.Encode(w, img); err != nil {
		return sum, errors.Wrap(err, "failed to encode preview")
	}
	return sum, nil
}
