package command

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hardware"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"github.com/thereceipt/pos-hardware/internal/printer"
	"github.com/thereceipt/pos-hardware/pkg/receiptformat"
)

type fakeHardware struct {
	calls          []string
	printerConfig  printer.Config
	scannerConfig  hardware.ScannerConfig
	printed        []byte
	template       *receiptformat.Template
	testMode       *bool
	historyLimit   int
	protocolToggle bool
	activePrinter  *device.Descriptor
}

func (f *fakeHardware) record(call string) { f.calls = append(f.calls, call) }

func okResult(data interface{}) hardware.Result { return hardware.Result{Success: true, Data: data} }

func (f *fakeHardware) ScanAllDevices(ctx context.Context) hardware.Result {
	f.record("scan")
	return okResult(hardware.DeviceGroups{USB: make([]device.Descriptor, 3), Printers: make([]device.Descriptor, 1)})
}
func (f *fakeHardware) GetDevices() hardware.Result {
	return okResult([]device.Descriptor{{ID: "a"}, {ID: "b"}})
}
func (f *fakeHardware) GetDevicesByType(typ string) hardware.Result {
	f.record("type " + typ)
	return okResult([]device.Descriptor{})
}
func (f *fakeHardware) SetDeviceType(id, typ string) hardware.Result {
	f.record("set-type " + id + " " + typ)
	return okResult(device.Descriptor{ID: id})
}
func (f *fakeHardware) SetProtocolMode(id string, enabled bool) hardware.Result {
	f.protocolToggle = enabled
	return okResult(nil)
}
func (f *fakeHardware) PrinterScan(ctx context.Context) hardware.Result {
	return okResult([]device.Descriptor{{ID: "usb-04b8-0202-1-4"}})
}
func (f *fakeHardware) PrinterConnect(ctx context.Context, cfg printer.Config) hardware.Result {
	f.printerConfig = cfg
	return okResult(device.Descriptor{ID: cfg.DeviceID, Name: "TM-T20"})
}
func (f *fakeHardware) PrinterDisconnect(ctx context.Context) hardware.Result {
	f.record("disconnect")
	return okResult(nil)
}
func (f *fakeHardware) Print(payload []byte) hardware.Result {
	f.printed = payload
	return okResult(printer.Job{ID: "job_1"})
}
func (f *fakeHardware) PrintTemplate(tmpl *receiptformat.Template, data receiptformat.Data, business receiptformat.BusinessInfo) hardware.Result {
	f.template = tmpl
	return okResult(printer.Job{ID: "job_2"})
}
func (f *fakeHardware) TestPrinter(ctx context.Context, id string, useProtocol *bool) hardware.Result {
	f.record("test " + id)
	f.testMode = useProtocol
	return okResult(printer.Job{ID: "job_3"})
}
func (f *fakeHardware) PrinterStatus() hardware.Result {
	return okResult(printer.Status{State: printer.StateDisconnected})
}
func (f *fakeHardware) GetActivePrinter() hardware.Result {
	if f.activePrinter == nil {
		return okResult(nil)
	}
	return okResult(*f.activePrinter)
}
func (f *fakeHardware) Jobs() hardware.Result {
	return okResult([]printer.Job{{ID: "job_1"}, {ID: "job_2"}})
}
func (f *fakeHardware) Job(id string) hardware.Result {
	return hardware.Result{Error: "job " + id + " not found", ErrorKind: hwerr.KindOf(hwerr.ErrValidationFailure)}
}
func (f *fakeHardware) ClearCompletedJobs() hardware.Result {
	return okResult(map[string]int{"cleared": 1})
}
func (f *fakeHardware) JobHistory(ctx context.Context, limit int) hardware.Result {
	f.historyLimit = limit
	return okResult(nil)
}
func (f *fakeHardware) ScannerScan(ctx context.Context) hardware.Result {
	return okResult([]device.Descriptor{})
}
func (f *fakeHardware) ScannerConnect(ctx context.Context, cfg hardware.ScannerConfig) hardware.Result {
	f.scannerConfig = cfg
	return okResult(device.Descriptor{ID: "scanner"})
}
func (f *fakeHardware) ScannerDisconnect() hardware.Result { return okResult(nil) }
func (f *fakeHardware) TestScanner() hardware.Result       { return okResult(false) }
func (f *fakeHardware) GetActiveScanner() hardware.Result  { return okResult(nil) }
func (f *fakeHardware) NetworkStatus(ctx context.Context) hardware.Result {
	err := errors.Wrap(hwerr.ErrConnectionFailure, "offline")
	return hardware.Result{Error: err.Error(), ErrorKind: hwerr.KindOf(err)}
}

func execute(t *testing.T, hw *fakeHardware, cmd string) *Result {
	t.Helper()
	return NewExecutor(hw).Execute(context.Background(), cmd)
}

func TestParseCommand(t *testing.T) {
	parts := parseCommand(`print text "Hello World" 'it''s' ""`)
	want := []string{"print", "text", "Hello World", "its", ""}
	if len(parts) != len(want) {
		t.Fatalf("Expected %q, got %q", want, parts)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Errorf("Part %d: expected %q, got %q", i, want[i], parts[i])
		}
	}

	if parts := parseCommand("   "); len(parts) != 0 {
		t.Errorf("Expected no parts, got %q", parts)
	}
}

func TestExecuteUnknownAndEmpty(t *testing.T) {
	hw := &fakeHardware{}
	if res := execute(t, hw, ""); res.Success || res.Error != "empty command" {
		t.Errorf("Unexpected result %+v", res)
	}
	if res := execute(t, hw, "reboot"); res.Success || !strings.Contains(res.Error, "unknown command") {
		t.Errorf("Unexpected result %+v", res)
	}
}

func TestDevicesCommands(t *testing.T) {
	hw := &fakeHardware{}

	res := execute(t, hw, "devices scan")
	if !res.Success || res.Message != "Found 3 USB device(s), 1 printer(s), 0 scanner(s)" {
		t.Errorf("Unexpected scan result %+v", res)
	}
	if res := execute(t, hw, "devices list"); res.Message != "Found 2 device(s)" {
		t.Errorf("Unexpected list result %+v", res)
	}
	execute(t, hw, "devices set-type usb-1a86-7584-1-5 printer")
	if hw.calls[len(hw.calls)-1] != "set-type usb-1a86-7584-1-5 printer" {
		t.Errorf("Unexpected calls %v", hw.calls)
	}

	if res := execute(t, hw, "devices protocol usb-1 on"); !res.Success || !hw.protocolToggle {
		t.Errorf("Expected protocol mode on, got %+v", res)
	}
	if res := execute(t, hw, "devices protocol usb-1 maybe"); res.Success {
		t.Error("Expected invalid switch to fail")
	}
	if res := execute(t, hw, "devices set-type usb-1"); res.Success || !strings.HasPrefix(res.Error, "usage:") {
		t.Errorf("Expected usage error, got %+v", res)
	}
}

func TestPrinterConnectForms(t *testing.T) {
	hw := &fakeHardware{}

	tests := []struct {
		cmd  string
		want printer.Config
	}{
		{"printer connect usb-04b8-0202-1-4", printer.Config{DeviceID: "usb-04b8-0202-1-4"}},
		{"printer connect serial-/dev/ttyUSB0 19200", printer.Config{DeviceID: "serial-/dev/ttyUSB0", BaudRate: 19200}},
		{"printer connect usb 04b8:0202", printer.Config{Kind: printer.KindUSB, VendorID: 0x04B8, ProductID: 0x0202}},
		{"printer connect serial /dev/ttyS0 38400", printer.Config{Kind: printer.KindSerial, Port: "/dev/ttyS0", BaudRate: 38400}},
		{"printer connect network 10.0.0.5", printer.Config{Kind: printer.KindNetwork, Host: "10.0.0.5", NetPort: 9100}},
	}

	for _, tt := range tests {
		res := execute(t, hw, tt.cmd)
		if !res.Success {
			t.Errorf("%s: %s", tt.cmd, res.Error)
			continue
		}
		if hw.printerConfig != tt.want {
			t.Errorf("%s: expected %+v, got %+v", tt.cmd, tt.want, hw.printerConfig)
		}
	}

	if res := execute(t, hw, "printer connect usb 04b8"); res.Success {
		t.Error("Expected malformed vid:pid to fail")
	}
}

func TestPrinterTestAndActive(t *testing.T) {
	hw := &fakeHardware{}

	res := execute(t, hw, "printer test usb-1 --plain")
	if !res.Success || res.Message != "Print job queued: job_3" {
		t.Errorf("Unexpected result %+v", res)
	}
	if hw.testMode == nil || *hw.testMode {
		t.Error("Expected plain test page")
	}
	if hw.calls[len(hw.calls)-1] != "test usb-1" {
		t.Errorf("Unexpected calls %v", hw.calls)
	}

	if res := execute(t, hw, "printer active"); res.Message != "No printer connected" {
		t.Errorf("Unexpected result %+v", res)
	}
}

func TestPrintText(t *testing.T) {
	hw := &fakeHardware{}

	res := execute(t, hw, `print text "Hello World"`)
	if !res.Success {
		t.Fatal(res.Error)
	}
	if !bytes.HasPrefix(hw.printed, []byte{0x1B, 0x40}) || !bytes.Contains(hw.printed, []byte("Hello World\n")) {
		t.Errorf("Unexpected payload %q", hw.printed)
	}
	if !bytes.HasSuffix(hw.printed, []byte{0x1D, 0x56, 0x00}) {
		t.Errorf("Expected trailing cut, got % X", hw.printed)
	}
}

func TestPrintTemplate(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(dir, "receipt.json")
	dataPath := filepath.Join(dir, "data.json")
	if err := os.WriteFile(tmplPath, []byte(`{"paperSize":"58mm"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dataPath, []byte(`{"receipt":{"number":"42"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	hw := &fakeHardware{}
	res := execute(t, hw, "print template "+tmplPath+" "+dataPath)
	if !res.Success {
		t.Fatal(res.Error)
	}
	if hw.template == nil || hw.template.PaperSize != receiptformat.Paper58mm {
		t.Errorf("Unexpected template %+v", hw.template)
	}

	if res := execute(t, hw, "print template "+filepath.Join(dir, "missing.json")); res.Success {
		t.Error("Expected missing template to fail")
	}
}

func TestJobCommands(t *testing.T) {
	hw := &fakeHardware{}

	if res := execute(t, hw, "job list"); res.Message != "Found 2 job(s)" {
		t.Errorf("Unexpected result %+v", res)
	}
	if res := execute(t, hw, "job status job_9"); res.Success || !strings.Contains(res.Error, "job_9") {
		t.Errorf("Unexpected result %+v", res)
	}
	execute(t, hw, "job history 5")
	if hw.historyLimit != 5 {
		t.Errorf("Expected limit 5, got %d", hw.historyLimit)
	}
	if res := execute(t, hw, "job history -1"); res.Success {
		t.Error("Expected invalid limit to fail")
	}
}

func TestScannerConnectForms(t *testing.T) {
	hw := &fakeHardware{}

	execute(t, hw, "scanner connect 001:007")
	if hw.scannerConfig.Path != "001:007" {
		t.Errorf("Expected path, got %+v", hw.scannerConfig)
	}
	execute(t, hw, "scanner connect 0c2e:0b01")
	if hw.scannerConfig.VendorID != 0x0C2E || hw.scannerConfig.ProductID != 0x0B01 {
		t.Errorf("Expected vid:pid, got %+v", hw.scannerConfig)
	}
	execute(t, hw, "scanner connect usb-0c2e-0b01-1-7")
	if hw.scannerConfig.DeviceID != "usb-0c2e-0b01-1-7" {
		t.Errorf("Expected device id, got %+v", hw.scannerConfig)
	}

	if res := execute(t, hw, "scanner test"); !res.Success || res.Message != "No scanner connected" {
		t.Errorf("Unexpected result %+v", res)
	}
}

func TestFailurePassesThrough(t *testing.T) {
	res := execute(t, &fakeHardware{}, "network")
	if res.Success || !strings.Contains(res.Error, "offline") {
		t.Errorf("Unexpected result %+v", res)
	}
}
