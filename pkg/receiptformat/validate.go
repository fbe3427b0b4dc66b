package receiptformat

import (
	"fmt"
)

var validPaperSizes = []PaperSize{Paper58mm, Paper80mm, Paper110mm, PaperA4, PaperLetter}

var validBarcodeFormats = []string{"EAN13", "EAN8", "UPC", "CODE39", "CODE128"}

// Validate validates a Template structure
func Validate(t *Template) error {
	// Validate version
	if t.Version == "" {
		return fmt.Errorf("version is required")
	}
	if t.Version != CurrentVersion {
		return fmt.Errorf("unsupported version: %s (expected %s)", t.Version, CurrentVersion)
	}

	switch t.Type {
	case TypeReceipt, TypeSession:
	default:
		return fmt.Errorf("invalid type: %q (must be receipt or session)", t.Type)
	}

	// Validate paper size if specified
	if t.PaperSize != "" {
		valid := false
		for _, p := range validPaperSizes {
			if t.PaperSize == p {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid paperSize: %s (must be 58mm, 80mm, 110mm, A4 or Letter)", t.PaperSize)
		}
	}

	for name, align := range map[string]string{
		"header": t.Header.Align,
		"body":   t.Body.Align,
		"footer": t.Footer.Align,
	} {
		if err := validateAlign(align); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if t.Footer.ShowBarcode && t.Footer.BarcodeFormat != "" {
		valid := false
		for _, f := range validBarcodeFormats {
			if t.Footer.BarcodeFormat == f {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("footer: invalid barcodeFormat '%s'", t.Footer.BarcodeFormat)
		}
	}

	// QR size is clamped at render time, only nonsense is rejected here
	if t.Footer.QRSize < 0 {
		return fmt.Errorf("footer: qrSize must not be negative")
	}

	return nil
}

func validateAlign(align string) error {
	switch align {
	case "", "left", "center", "right":
		return nil
	}
	return fmt.Errorf("invalid align '%s' (must be left, center, or right)", align)
}
