package printer

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/escpos"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

// TestPrint queues a test page for the active printer: a formatted ESC/POS
// receipt when protocolMode is set, plain text otherwise
func (s *Service) TestPrint(protocolMode bool) (Job, error) {
	p, ok := s.ActivePrinter()
	if !ok {
		return Job{}, errors.Wrap(hwerr.ErrNotConnected, "no printer connected")
	}

	var payload []byte
	if protocolMode {
		payload = TestReceipt(p, time.Now())
	} else {
		payload = PlainTestPage(p, time.Now())
	}
	return s.Print(payload)
}

// TestReceipt builds the ESC/POS test page
func TestReceipt(p device.Descriptor, now time.Time) []byte {
	rule := strings.Repeat("-", 32)

	enc := escpos.New().
		Init().
		Align(escpos.AlignCenter).
		Bold(true).
		Size(2, 2).
		Line("TEST PRINT").
		Size(1, 1).
		Bold(false).
		Line(p.Name).
		Line(now.Format("2006-01-02 15:04:05")).
		Align(escpos.AlignLeft).
		Line(rule).
		Line(fmt.Sprintf("Device:     %s", p.ID)).
		Line(fmt.Sprintf("Connection: %s", p.Connection))

	if p.VendorID != 0 {
		enc.Line(fmt.Sprintf("USB ID:     %04X:%04X", p.VendorID, p.ProductID))
	}

	enc.Line(rule).
		Bold(true).Line("Bold text").Bold(false).
		Underline(1).Line("Underlined text").Underline(0).
		Size(2, 1).Line("Wide").Size(1, 1).
		Line(rule).
		Align(escpos.AlignCenter).
		Barcode("{BTEST-PRINT", escpos.BarcodeCODE128).
		Feed(1).
		QRCode("TEST PRINT "+p.ID, 6).
		Feed(1).
		Line("Printer is working").
		Align(escpos.AlignLeft).
		Feed(3).
		Cut(escpos.CutPartial)

	return enc.Build()
}

// PlainTestPage is the fallback for printers that do not speak ESC/POS
func PlainTestPage(p device.Descriptor, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("TEST PRINT\n")
	b.WriteString(p.Name + "\n")
	b.WriteString(now.Format("2006-01-02 15:04:05") + "\n")
	b.WriteString("Printer is working\n")
	b.WriteString("\n\n\n")
	return []byte(b.String())
}
