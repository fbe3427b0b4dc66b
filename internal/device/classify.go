package device

import "strings"

// Vendors whose USB devices are receipt printers
var knownPrinterVendors = map[uint16]string{
	0x04B8: "Seiko Epson",
	0x0519: "Star Micronics",
	0x1504: "Bixolon",
	0x2730: "Citizen",
	0x0DD4: "Custom Engineering",
	0x154F: "SNBC",
	0x0416: "Winbond (POS-58/80)",
	0x0FE6: "ICS Advent (generic thermal)",
}

// Vendors whose USB devices are barcode scanners
var knownScannerVendors = map[uint16]string{
	0x05E0: "Symbol / Zebra",
	0x0C2E: "Honeywell / Metrologic",
	0x0536: "Hand Held Products",
	0x05F9: "Datalogic",
	0x1EAB: "Newland",
	0x065A: "Opticon",
}

type keywordRule struct {
	keywords []string
	t        Type
}

// Evaluated in order, first rule with a matching keyword wins
var keywordRules = []keywordRule{
	{[]string{"printer", "receipt"}, TypePrinter},
	{[]string{"scanner", "barcode"}, TypeScanner},
	{[]string{"scale", "weight"}, TypeScale},
	{[]string{"drawer", "cash"}, TypeCashDrawer},
	{[]string{"display"}, TypeCustomerDisplay},
}

// IsKnownPrinterVendor reports membership in the printer vendor table
func IsKnownPrinterVendor(vid uint16) bool {
	_, ok := knownPrinterVendors[vid]
	return ok
}

// IsKnownScannerVendor reports membership in the scanner vendor table
func IsKnownScannerVendor(vid uint16) bool {
	_, ok := knownScannerVendors[vid]
	return ok
}

// Classify derives a device type. A manual override always wins.
func Classify(info USBInfo, override Type, hasOverride bool) Type {
	if hasOverride {
		return override
	}
	if IsKnownPrinterVendor(info.VendorID) {
		return TypePrinter
	}
	if IsKnownScannerVendor(info.VendorID) {
		return TypeScanner
	}
	return classifyByName(info.Product)
}

func classifyByName(product string) Type {
	name := strings.ToLower(product)
	if name == "" {
		return TypeUnknown
	}
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(name, kw) {
				return rule.t
			}
		}
	}
	return TypeUnknown
}
