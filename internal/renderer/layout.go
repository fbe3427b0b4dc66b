package renderer

import (
	"fmt"

	"github.com/thereceipt/pos-hardware/internal/escpos"
	"github.com/thereceipt/pos-hardware/pkg/receiptformat"
)

func (w *receiptWriter) header(h *receiptformat.HeaderSection, b *receiptformat.BusinessInfo) {
	if h.ShowLogo {
		w.renderLogo(b.LogoPath)
	}

	showName := h.ShowBusinessName && b.Name != ""

	var entries []string
	if h.ShowAddress && b.Address != "" {
		entries = append(entries, b.Address)
	}
	if h.ShowPhone && b.Phone != "" {
		entries = append(entries, "Tel: "+b.Phone)
	}
	if h.ShowEmail && b.Email != "" {
		entries = append(entries, b.Email)
	}
	if h.ShowWebsite && b.Website != "" {
		entries = append(entries, b.Website)
	}
	if h.ShowTaxID && b.TaxID != "" {
		entries = append(entries, "Tax ID: "+b.TaxID)
	}
	if h.CustomText != "" {
		entries = append(entries, h.CustomText)
	}

	if !showName && len(entries) == 0 {
		return
	}

	w.begin()
	w.enc.Align(escpos.ParseAlignment(h.Align))

	if showName {
		// Double size halves the column budget
		w.enc.Bold(true).Size(2, 2)
		w.line(WrapText(b.Name, w.columns/2))
		w.enc.Size(1, 1).Bold(false)
	}
	w.lines(entries)

	w.enc.Align(escpos.AlignLeft)
	w.divider(dividerSolid)
}

func (w *receiptWriter) receiptBody(s *receiptformat.BodySection, d *receiptformat.ReceiptData) {
	type field struct {
		on           bool
		label, value string
	}
	fields := []field{
		{s.ShowReceiptNumber, "Receipt #:", d.Number},
		{s.ShowDate, "Date:", d.Date},
		{s.ShowCashier, "Cashier:", d.Cashier},
		{s.ShowCustomer, "Customer:", d.Customer},
	}

	var pairs [][2]string
	for _, f := range fields {
		if f.on && f.value != "" {
			pairs = append(pairs, [2]string{f.label, f.value})
		}
	}
	showItems := s.ShowItems && len(d.Items) > 0

	if len(pairs) == 0 && !showItems {
		return
	}

	w.begin()
	w.enc.Align(escpos.ParseAlignment(s.Align))
	for _, p := range pairs {
		w.pair(p[0], p[1])
	}

	if showItems {
		if len(pairs) > 0 {
			w.divider(dividerDashed)
		}
		for _, item := range d.Items {
			w.item(s, item, d.Currency)
		}
	}

	w.enc.Align(escpos.AlignLeft)
	w.divider(dividerSolid)
}

func (w *receiptWriter) item(s *receiptformat.BodySection, item receiptformat.LineItem, currency string) {
	total := item.Total
	if total == 0 {
		total = item.Quantity * item.Price
	}
	amount := formatMoney(total, currency)

	if s.ShowItemQuantity {
		w.line(WrapText(item.Name, w.columns))
		qty := fmt.Sprintf("  %s x %s", formatQuantity(item.Quantity), formatMoney(item.Price, currency))
		w.pair(qty, amount)
	} else {
		w.pair(item.Name, amount)
	}

	if s.ShowItemSKU && item.SKU != "" {
		w.line("  SKU: " + item.SKU)
	}
}

func (w *receiptWriter) sessionBody(s *receiptformat.BodySection, d *receiptformat.SessionData) {
	var pairs [][2]string
	add := func(on bool, label, value string) {
		if on && value != "" {
			pairs = append(pairs, [2]string{label, value})
		}
	}
	money := func(v *float64) string {
		if v == nil {
			return ""
		}
		return formatMoney(*v, d.Currency)
	}

	add(s.ShowSessionID, "Session:", d.SessionID)
	add(s.ShowCashier, "Cashier:", d.Cashier)
	add(s.ShowOpenedAt, "Opened:", d.OpenedAt)
	add(s.ShowClosedAt, "Closed:", d.ClosedAt)
	add(s.ShowOpeningCash, "Opening cash:", money(d.OpeningCash))
	add(s.ShowClosingCash, "Closing cash:", money(d.ClosingCash))
	add(s.ShowExpectedCash, "Expected cash:", money(d.ExpectedCash))
	if s.ShowClosingCash && s.ShowExpectedCash && d.ClosingCash != nil && d.ExpectedCash != nil {
		diff := *d.ClosingCash - *d.ExpectedCash
		add(true, "Difference:", formatMoney(diff, d.Currency))
	}
	if d.SalesCount != nil {
		add(s.ShowSalesCount, "Sales:", fmt.Sprintf("%d", *d.SalesCount))
	}

	showPayments := s.ShowPaymentBreakdown && len(d.Payments) > 0
	showNotes := s.ShowNotes && d.Notes != ""

	if len(pairs) == 0 && !showPayments && !showNotes {
		return
	}

	w.begin()
	w.enc.Align(escpos.ParseAlignment(s.Align))
	for _, p := range pairs {
		w.pair(p[0], p[1])
	}

	if showPayments {
		w.divider(dividerDashed)
		w.enc.Bold(true)
		w.line("Payments")
		w.enc.Bold(false)
		for _, p := range d.Payments {
			w.pair(p.Method, formatMoney(p.Amount, d.Currency))
		}
	}

	if showNotes {
		w.divider(dividerDashed)
		w.line(WrapText(d.Notes, w.columns))
	}

	w.enc.Align(escpos.AlignLeft)
	w.divider(dividerSolid)
}

type totalLine struct {
	label  string
	amount *float64
	bold   bool
}

func (w *receiptWriter) receiptTotals(t *receiptformat.TotalsSection, d *receiptformat.ReceiptData) {
	var discount *float64
	if d.Discount != nil {
		v := -absFloat(*d.Discount)
		discount = &v
	}

	lines := filterTotals([]totalLine{
		{"Subtotal:", pick(t.ShowSubtotal, d.Subtotal), false},
		{"Discount:", pick(t.ShowDiscount, discount), false},
		{"Tax:", pick(t.ShowTax, d.Tax), false},
		{"TOTAL:", pick(t.ShowTotal, d.Total), t.BoldTotal},
	})
	paidBy := t.ShowPaymentMethod && d.PaymentMethod != ""
	tail := filterTotals([]totalLine{
		{"Tendered:", pick(t.ShowAmountPaid, d.AmountPaid), false},
		{"Change:", pick(t.ShowChange, d.Change), false},
	})

	if len(lines) == 0 && !paidBy && len(tail) == 0 {
		return
	}

	w.begin()
	w.totals(lines, d.Currency)
	if paidBy {
		w.pair("Paid by:", d.PaymentMethod)
	}
	w.totals(tail, d.Currency)
	w.divider(dividerDouble)
}

func (w *receiptWriter) sessionTotals(t *receiptformat.TotalsSection, d *receiptformat.SessionData) {
	// Session templates reuse the total toggle for the takings line
	lines := filterTotals([]totalLine{
		{"TOTAL SALES:", pick(t.ShowTotal, d.TotalSales), t.BoldTotal},
	})
	if len(lines) == 0 {
		return
	}

	w.begin()
	w.totals(lines, d.Currency)
	w.divider(dividerDouble)
}

func (w *receiptWriter) totals(lines []totalLine, currency string) {
	for _, l := range lines {
		if l.bold {
			w.enc.Bold(true)
		}
		w.pair(l.label, formatMoney(*l.amount, currency))
		if l.bold {
			w.enc.Bold(false)
		}
	}
}

func (w *receiptWriter) footer(f *receiptformat.FooterSection, data receiptformat.Data) {
	barcode, qr := "", ""
	switch {
	case data.Receipt != nil:
		barcode, qr = data.Receipt.Barcode, data.Receipt.QRData
	case data.Session != nil:
		barcode, qr = data.Session.Barcode, data.Session.QRData
	}

	showMessage := f.Message != ""
	showBarcode := f.ShowBarcode && barcode != ""
	showQR := f.ShowQRCode && qr != ""

	if !showMessage && !showBarcode && !showQR && !f.OpenDrawer {
		return
	}

	w.begin()
	w.enc.Align(escpos.ParseAlignment(f.Align))

	if showMessage {
		w.line(WrapText(f.Message, w.columns))
	}
	if showBarcode {
		if err := w.barcode(barcode, f.BarcodeFormat); err != nil {
			w.warn("barcode", err)
		}
	}
	if showQR {
		if err := w.qrCode(qr, f.QRSize); err != nil {
			w.warn("qrcode", err)
		}
	}

	w.enc.Align(escpos.AlignLeft)

	if f.OpenDrawer {
		w.enc.OpenDrawer()
	}
}

func pick(on bool, v *float64) *float64 {
	if !on {
		return nil
	}
	return v
}

func filterTotals(in []totalLine) []totalLine {
	var out []totalLine
	for _, l := range in {
		if l.amount != nil {
			out = append(out, l)
		}
	}
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
