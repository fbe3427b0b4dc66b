package scanner

import "regexp"

// Symbology is the barcode encoding standard of a scan
type Symbology string

const (
	EAN13   Symbology = "EAN-13"
	UPCA    Symbology = "UPC-A"
	EAN8    Symbology = "EAN-8"
	CODE39  Symbology = "CODE-39"
	CODE128 Symbology = "CODE-128"
	Unknown Symbology = "UNKNOWN"
)

var (
	allDigits = regexp.MustCompile(`^[0-9]+$`)
	code39Set = regexp.MustCompile(`^[0-9A-Z\-. $/+%]+$`)
)

// Classify guesses the symbology from the decoded text; the first rule that matches wins.
// Digit strings of other lengths already match the CODE-39 character set.
func Classify(code string) Symbology {
	if allDigits.MatchString(code) {
		switch len(code) {
		case 13:
			return EAN13
		case 12:
			return UPCA
		case 8:
			return EAN8
		}
	}
	if code39Set.MatchString(code) {
		return CODE39
	}
	if allDigits.MatchString(code) {
		return CODE128
	}
	return Unknown
}
