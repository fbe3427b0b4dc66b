package renderer

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
	"github.com/thereceipt/pos-hardware/internal/escpos"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

const (
	defaultQRSize = 6
	minQRSize     = 1
	maxQRSize     = 16

	// GS k function B carries the length in a single byte
	maxBarcodeLength = 255
)

var (
	ean13Pattern  = regexp.MustCompile(`^\d{13}$`)
	ean8Pattern   = regexp.MustCompile(`^\d{8}$`)
	upcPattern    = regexp.MustCompile(`^\d{12}$`)
	code39Pattern = regexp.MustCompile(`^[A-Z0-9\-. $/+%]+$`)
)

// ValidateBarcode checks data against the rules of format (EAN13, EAN8, UPC,
// CODE39 or CODE128; empty means CODE128) and returns the printer symbology
func ValidateBarcode(data, format string) (escpos.BarcodeType, error) {
	if data == "" {
		return 0, errors.Wrap(hwerr.ErrValidationFailure, "barcode data is empty")
	}

	switch strings.ToUpper(format) {
	case "EAN13":
		if !ean13Pattern.MatchString(data) {
			return 0, errors.Wrapf(hwerr.ErrValidationFailure, "EAN13 requires 13 digits, got %q", data)
		}
		return escpos.BarcodeEAN13, nil
	case "EAN8":
		if !ean8Pattern.MatchString(data) {
			return 0, errors.Wrapf(hwerr.ErrValidationFailure, "EAN8 requires 8 digits, got %q", data)
		}
		return escpos.BarcodeEAN8, nil
	case "UPC", "UPCA", "UPC-A":
		if !upcPattern.MatchString(data) {
			return 0, errors.Wrapf(hwerr.ErrValidationFailure, "UPC requires 12 digits, got %q", data)
		}
		return escpos.BarcodeUPCA, nil
	case "CODE39":
		if !code39Pattern.MatchString(data) {
			return 0, errors.Wrapf(hwerr.ErrValidationFailure, "CODE39 data has invalid characters: %q", data)
		}
		if len(data) > maxBarcodeLength {
			return 0, errors.Wrapf(hwerr.ErrValidationFailure, "CODE39 data too long (%d bytes)", len(data))
		}
		return escpos.BarcodeCODE39, nil
	case "", "CODE128":
		for _, c := range data {
			if c < 0x20 || c > 0x7E {
				return 0, errors.Wrapf(hwerr.ErrValidationFailure, "CODE128 data must be printable ASCII: %q", data)
			}
		}
		if len(Code128Payload(data)) > maxBarcodeLength {
			return 0, errors.Wrapf(hwerr.ErrValidationFailure, "CODE128 data too long (%d bytes)", len(data))
		}
		return escpos.BarcodeCODE128, nil
	}

	return 0, errors.Wrapf(hwerr.ErrValidationFailure, "unsupported barcode format %q", format)
}

// Code128Payload selects code set B and escapes the '{' that would
// otherwise start a code set switch
func Code128Payload(data string) string {
	return "{B" + strings.ReplaceAll(data, "{", "{{")
}

// ClampQRSize maps a requested module size into the range printers accept
func ClampQRSize(size int) int {
	switch {
	case size == 0:
		return defaultQRSize
	case size < minQRSize:
		return minQRSize
	case size > maxQRSize:
		return maxQRSize
	}
	return size
}

// ValidateQRCode checks that data can be encoded as a QR symbol
func ValidateQRCode(data string) error {
	if data == "" {
		return errors.Wrap(hwerr.ErrValidationFailure, "QR data is empty")
	}
	if _, err := qrcode.New(data, qrcode.Low); err != nil {
		return hwerr.Wrapf(hwerr.ErrValidationFailure, err, "QR data cannot be encoded")
	}
	return nil
}

func (w *receiptWriter) barcode(data, format string) error {
	t, err := ValidateBarcode(data, format)
	if err != nil {
		return err
	}

	if t == escpos.BarcodeCODE128 {
		data = Code128Payload(data)
	}
	w.enc.Barcode(data, t)
	w.enc.Feed(1)
	return nil
}

func (w *receiptWriter) qrCode(data string, size int) error {
	if err := ValidateQRCode(data); err != nil {
		return err
	}

	w.enc.QRCode(data, ClampQRSize(size))
	w.enc.Feed(1)
	return nil
}
