package preview

import (
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/codabar"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/code39"
	"github.com/boombuler/barcode/code93"
	"github.com/boombuler/barcode/ean"
	"github.com/boombuler/barcode/twooffive"
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
	"github.com/thereceipt/pos-hardware/internal/escpos"
)

const barcodeHeight = 80

func encodeBarcode(kind escpos.BarcodeType, data string) (barcode.Barcode, error) {
	switch kind {
	case escpos.BarcodeUPCA:
		// UPC-A is EAN-13 with a leading zero
		return ean.Encode("0" + data)
	case escpos.BarcodeEAN13, escpos.BarcodeEAN8:
		return ean.Encode(data)
	case escpos.BarcodeCODE39:
		return code39.Encode(data, false, true)
	case escpos.BarcodeCODE93:
		return code93.Encode(data, false, true)
	case escpos.BarcodeITF:
		return twooffive.Encode(data, true)
	case escpos.BarcodeCODABAR:
		if !strings.ContainsAny(data[:1], "ABCD") {
			data = "A" + data + "B"
		}
		return codabar.Encode(data)
	case escpos.BarcodeCODE128:
		// strip the code set selector the printer consumes
		return code128.Encode(strings.TrimPrefix(data, "{B"))
	}
	return nil, errors.Errorf("no preview for barcode type %d", kind)
}

func (c *canvas) drawBarcode(b barcodeBlock) error {
	if b.data == "" {
		return errors.New("empty barcode")
	}

	code, err := encodeBarcode(b.kind, b.data)
	if err != nil {
		return err
	}

	targetWidth := code.Bounds().Dx() * 2
	if limit := c.width - 40; targetWidth > limit {
		targetWidth = limit
	}
	scaled, err := barcode.Scale(code, targetWidth, barcodeHeight)
	if err != nil {
		// paper narrower than the symbol, keep its natural width
		if scaled, err = barcode.Scale(code, code.Bounds().Dx(), barcodeHeight); err != nil {
			return err
		}
	}

	imgHeight := scaled.Bounds().Dy()
	c.ensureHeight(imgHeight + 10)

	x := int(c.alignX(byte(b.align), float64(scaled.Bounds().Dx())))
	c.ctx.DrawImage(scaled, x, int(c.y))
	c.y += float64(imgHeight) + 10
	return nil
}

func qrLevel(b byte) qrcode.RecoveryLevel {
	switch b {
	case 0x31:
		return qrcode.Medium
	case 0x32:
		return qrcode.High
	case 0x33:
		return qrcode.Highest
	default:
		return qrcode.Low
	}
}

func (c *canvas) drawQRCode(q qrBlock) error {
	if q.data == "" {
		return errors.New("empty QR code")
	}

	qr, err := qrcode.New(q.data, qrLevel(q.level))
	if err != nil {
		return err
	}
	qr.DisableBorder = true

	module := q.module
	if module < 1 {
		module = 1
	}
	size := len(qr.Bitmap()) * module
	if limit := c.width - 40; size > limit {
		size = limit
	}

	img := qr.Image(size)
	imgHeight := img.Bounds().Dy()
	c.ensureHeight(imgHeight + 10)

	x := int(c.alignX(byte(q.align), float64(img.Bounds().Dx())))
	c.ctx.DrawImage(img, x, int(c.y))
	c.y += float64(imgHeight) + 10
	return nil
}
