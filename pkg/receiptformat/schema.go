// Package receiptformat defines the receipt template and data record types
package receiptformat

// TemplateType selects which body fields a template renders
type TemplateType string

const (
	TypeReceipt TemplateType = "receipt"
	TypeSession TemplateType = "session"
)

// PaperSize names a supported paper roll or sheet
type PaperSize string

const (
	Paper58mm   PaperSize = "58mm"
	Paper80mm   PaperSize = "80mm"
	Paper110mm  PaperSize = "110mm"
	PaperA4     PaperSize = "A4"
	PaperLetter PaperSize = "Letter"
)

// Columns is the character budget per line for the paper size.
// Unknown sizes fall back to 80mm.
func (p PaperSize) Columns() int {
	switch p {
	case Paper58mm:
		return 32
	case Paper110mm:
		return 64
	case PaperA4, PaperLetter:
		return 80
	}
	return 48
}

// Template describes which parts of a receipt are printed and how
type Template struct {
	Version   string        `json:"version"`
	Name      string        `json:"name,omitempty"`
	Type      TemplateType  `json:"type"`
	PaperSize PaperSize     `json:"paperSize,omitempty"`
	Header    HeaderSection `json:"header"`
	Body      BodySection   `json:"body"`
	Totals    TotalsSection `json:"totals"`
	Footer    FooterSection `json:"footer"`
}

// HeaderSection toggles the business block at the top
type HeaderSection struct {
	Align            string `json:"align,omitempty"` // left, center, right
	ShowLogo         bool   `json:"showLogo,omitempty"`
	ShowBusinessName bool   `json:"showBusinessName,omitempty"`
	ShowAddress      bool   `json:"showAddress,omitempty"`
	ShowPhone        bool   `json:"showPhone,omitempty"`
	ShowEmail        bool   `json:"showEmail,omitempty"`
	ShowWebsite      bool   `json:"showWebsite,omitempty"`
	ShowTaxID        bool   `json:"showTaxId,omitempty"`
	CustomText       string `json:"customText,omitempty"`
}

// BodySection toggles order fields (receipt templates) or session fields (session templates)
type BodySection struct {
	Align string `json:"align,omitempty"`

	// Receipt
	ShowReceiptNumber bool `json:"showReceiptNumber,omitempty"`
	ShowDate          bool `json:"showDate,omitempty"`
	ShowCashier       bool `json:"showCashier,omitempty"`
	ShowCustomer      bool `json:"showCustomer,omitempty"`
	ShowItems         bool `json:"showItems,omitempty"`
	ShowItemSKU       bool `json:"showItemSku,omitempty"`
	ShowItemQuantity  bool `json:"showItemQuantity,omitempty"`

	// Session
	ShowSessionID        bool `json:"showSessionId,omitempty"`
	ShowOpenedAt         bool `json:"showOpenedAt,omitempty"`
	ShowClosedAt         bool `json:"showClosedAt,omitempty"`
	ShowOpeningCash      bool `json:"showOpeningCash,omitempty"`
	ShowClosingCash      bool `json:"showClosingCash,omitempty"`
	ShowExpectedCash     bool `json:"showExpectedCash,omitempty"`
	ShowSalesCount       bool `json:"showSalesCount,omitempty"`
	ShowTotalSales       bool `json:"showTotalSales,omitempty"`
	ShowPaymentBreakdown bool `json:"showPaymentBreakdown,omitempty"`
	ShowNotes            bool `json:"showNotes,omitempty"`
}

// TotalsSection toggles the money summary lines
type TotalsSection struct {
	ShowSubtotal      bool `json:"showSubtotal,omitempty"`
	ShowDiscount      bool `json:"showDiscount,omitempty"`
	ShowTax           bool `json:"showTax,omitempty"`
	ShowTotal         bool `json:"showTotal,omitempty"`
	BoldTotal         bool `json:"boldTotal,omitempty"`
	ShowPaymentMethod bool `json:"showPaymentMethod,omitempty"`
	ShowAmountPaid    bool `json:"showAmountPaid,omitempty"`
	ShowChange        bool `json:"showChange,omitempty"`
}

// FooterSection toggles the closing message, codes and drawer kick
type FooterSection struct {
	Align         string `json:"align,omitempty"`
	Message       string `json:"message,omitempty"`
	ShowBarcode   bool   `json:"showBarcode,omitempty"`
	BarcodeFormat string `json:"barcodeFormat,omitempty"` // EAN13, EAN8, UPC, CODE39, CODE128
	ShowQRCode    bool   `json:"showQrCode,omitempty"`
	QRSize        int    `json:"qrSize,omitempty"`
	OpenDrawer    bool   `json:"openDrawer,omitempty"`
}

// BusinessInfo is printed in the header
type BusinessInfo struct {
	Name     string `json:"name,omitempty"`
	Address  string `json:"address,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Website  string `json:"website,omitempty"`
	TaxID    string `json:"taxId,omitempty"`
	LogoPath string `json:"logoPath,omitempty"`
}

// LineItem is one sold product
type LineItem struct {
	Name     string  `json:"name"`
	SKU      string  `json:"sku,omitempty"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Total    float64 `json:"total,omitempty"`
}

// ReceiptData is the record printed by receipt templates.
// Nil amounts are treated as absent.
type ReceiptData struct {
	Number        string     `json:"number,omitempty"`
	Date          string     `json:"date,omitempty"`
	Cashier       string     `json:"cashier,omitempty"`
	Customer      string     `json:"customer,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	Items         []LineItem `json:"items,omitempty"`
	Subtotal      *float64   `json:"subtotal,omitempty"`
	Discount      *float64   `json:"discount,omitempty"`
	Tax           *float64   `json:"tax,omitempty"`
	Total         *float64   `json:"total,omitempty"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	AmountPaid    *float64   `json:"amountPaid,omitempty"`
	Change        *float64   `json:"change,omitempty"`
	Barcode       string     `json:"barcode,omitempty"`
	QRData        string     `json:"qrData,omitempty"`
}

// PaymentTotal is the takings for one payment method in a session
type PaymentTotal struct {
	Method string  `json:"method"`
	Amount float64 `json:"amount"`
}

// SessionData is the record printed by session-closing templates
type SessionData struct {
	SessionID    string         `json:"sessionId,omitempty"`
	Cashier      string         `json:"cashier,omitempty"`
	OpenedAt     string         `json:"openedAt,omitempty"`
	ClosedAt     string         `json:"closedAt,omitempty"`
	Currency     string         `json:"currency,omitempty"`
	OpeningCash  *float64       `json:"openingCash,omitempty"`
	ClosingCash  *float64       `json:"closingCash,omitempty"`
	ExpectedCash *float64       `json:"expectedCash,omitempty"`
	SalesCount   *int           `json:"salesCount,omitempty"`
	TotalSales   *float64       `json:"totalSales,omitempty"`
	Payments     []PaymentTotal `json:"payments,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	Barcode      string         `json:"barcode,omitempty"`
	QRData       string         `json:"qrData,omitempty"`
}

// Data carries whichever record matches the template type
type Data struct {
	Receipt *ReceiptData `json:"receipt,omitempty"`
	Session *SessionData `json:"session,omitempty"`
}
