package hardware

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/escpos"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"github.com/thereceipt/pos-hardware/internal/prefs"
	"github.com/thereceipt/pos-hardware/internal/printer"
	"github.com/thereceipt/pos-hardware/internal/scanner"
	"github.com/thereceipt/pos-hardware/pkg/receiptformat"
)

type fakeEnum struct {
	infos []device.USBInfo
}

func (f *fakeEnum) Enumerate(ctx context.Context) ([]device.USBInfo, error) {
	return f.infos, nil
}

type fakePrinters struct {
	mu           sync.Mutex
	discovered   []device.Descriptor
	connects     []printer.Config
	active       *device.Descriptor
	printed      [][]byte
	testModes    []bool
	panicOnPrint bool
	listeners    []func(printer.Event)
	shutdown     bool
}

func (f *fakePrinters) Discover(ctx context.Context) ([]device.Descriptor, error) {
	return f.discovered, nil
}

func (f *fakePrinters) Connect(ctx context.Context, cfg printer.Config) (device.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, cfg)
	d := device.Descriptor{ID: cfg.DeviceID, Name: "Fake", Type: device.TypePrinter, Status: device.StatusConnected}
	f.active = &d
	return d, nil
}

func (f *fakePrinters) Disconnect(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
}

func (f *fakePrinters) Print(payload []byte) (printer.Job, error) {
	if f.panicOnPrint {
		panic("write exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printed = append(f.printed, payload)
	return printer.Job{ID: "job_1", Size: len(payload), Status: printer.JobPending}, nil
}

func (f *fakePrinters) TestPrint(protocolMode bool) (printer.Job, error) {
	f.mu.Lock()
	f.testModes = append(f.testModes, protocolMode)
	f.mu.Unlock()
	return f.Print([]byte("test"))
}

func (f *fakePrinters) Status() printer.Status { return printer.Status{State: printer.StateDisconnected} }

func (f *fakePrinters) ActivePrinter() (device.Descriptor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return device.Descriptor{}, false
	}
	return *f.active, true
}

func (f *fakePrinters) Jobs() []printer.Job               { return nil }
func (f *fakePrinters) Job(id string) (printer.Job, bool) { return printer.Job{}, false }
func (f *fakePrinters) ClearCompleted() int               { return 0 }

func (f *fakePrinters) Subscribe(fn func(printer.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners = nil
	}
}

func (f *fakePrinters) Shutdown(ctx context.Context) { f.shutdown = true }

func (f *fakePrinters) emit(ev printer.Event) {
	f.mu.Lock()
	fns := append([]func(printer.Event){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type fakeScanners struct {
	mu         sync.Mutex
	discovered []device.Descriptor
	connects   []scanner.Config
	connected  bool
	listeners  []func(scanner.Event)
}

func (f *fakeScanners) Discover(ctx context.Context) ([]device.Descriptor, error) {
	return f.discovered, nil
}

func (f *fakeScanners) Connect(ctx context.Context, cfg scanner.Config) (device.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, cfg)
	f.connected = true
	return device.Descriptor{ID: "scanner", Path: cfg.Path, Type: device.TypeScanner}, nil
}

func (f *fakeScanners) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeScanners) Test() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeScanners) Active() (device.Descriptor, bool) {
	if !f.Test() {
		return device.Descriptor{}, false
	}
	return device.Descriptor{ID: "scanner"}, true
}

func (f *fakeScanners) Subscribe(fn func(scanner.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners = nil
	}
}

func (f *fakeScanners) Shutdown() { f.Disconnect() }

func (f *fakeScanners) emit(ev scanner.Event) {
	f.mu.Lock()
	fns := append([]func(scanner.Event){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

var (
	epson  = device.USBInfo{VendorID: 0x04B8, ProductID: 0x0202, Bus: 1, Address: 4, Product: "TM-T20"}
	widget = device.USBInfo{VendorID: 0x1234, ProductID: 0x0001, Bus: 1, Address: 5, Product: "Widget"}
)

type fixture struct {
	o        *Orchestrator
	printers *fakePrinters
	scanners *fakeScanners
	prefs    *prefs.Store
}

func newFixture(t *testing.T, infos ...device.USBInfo) *fixture {
	t.Helper()

	store, err := prefs.Open("")
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		printers: &fakePrinters{},
		scanners: &fakeScanners{},
		prefs:    store,
	}
	f.o, err = New(Options{
		Registry:      device.NewRegistry(&fakeEnum{infos: infos}, nil),
		Printers:      f.printers,
		Scanners:      f.scanners,
		Prefs:         store,
		ScannerPrefix: "]C1",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.o.Shutdown(context.Background()) })
	return f
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	if res := f.o.Initialize(context.Background()); !res.Success {
		t.Fatalf("Initialize failed: %s", res.Error)
	}
}

func descriptors(t *testing.T, res Result) []device.Descriptor {
	t.Helper()
	if !res.Success {
		t.Fatalf("Expected success, got %s", res.Error)
	}
	ds, ok := res.Data.([]device.Descriptor)
	if !ok {
		t.Fatalf("Expected descriptors, got %T", res.Data)
	}
	return ds
}

func TestNewRequiresServices(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("Expected error without services")
	}
}

func TestPrinterScanManualEntryWins(t *testing.T) {
	f := newFixture(t, widget)
	f.init(t)

	// discovery found the widget on its own, with its own name
	f.printers.discovered = []device.Descriptor{{
		ID:         widget.ID(),
		Name:       "Auto Detected",
		Type:       device.TypePrinter,
		Connection: device.ConnUSB,
	}}

	if res := f.o.SetDeviceType(widget.ID(), "printer"); !res.Success {
		t.Fatalf("SetDeviceType failed: %s", res.Error)
	}

	printers := descriptors(t, f.o.PrinterScan(context.Background()))
	if len(printers) != 1 {
		t.Fatalf("Expected 1 printer, got %d: %+v", len(printers), printers)
	}
	if printers[0].Name != "Widget" {
		t.Errorf("Expected the manually typed entry, got %q", printers[0].Name)
	}

	if typ, ok := f.prefs.DeviceType(widget.ID()); !ok || typ != device.TypePrinter {
		t.Errorf("Expected the override to be persisted, got %q %v", typ, ok)
	}
}

func TestPrinterScanKeepsDiscoveredFields(t *testing.T) {
	f := newFixture(t, epson)
	f.init(t)

	found := device.Describe(epson, device.TypePrinter)
	found.Name = "Epson TM-T20 (discovered)"
	found.ProtocolMode = true
	f.printers.discovered = []device.Descriptor{found}

	printers := descriptors(t, f.o.PrinterScan(context.Background()))
	if len(printers) != 1 {
		t.Fatalf("Expected 1 printer, got %d: %+v", len(printers), printers)
	}
	if !printers[0].ProtocolMode || printers[0].Name != found.Name {
		t.Errorf("Expected the discovered entry, got %+v", printers[0])
	}
}

func TestManualTypeMovesDeviceBetweenLists(t *testing.T) {
	f := newFixture(t, epson)
	f.init(t)
	f.printers.discovered = []device.Descriptor{device.Describe(epson, device.TypePrinter)}

	if res := f.o.SetDeviceType(epson.ID(), "scanner"); !res.Success {
		t.Fatalf("SetDeviceType failed: %s", res.Error)
	}

	if printers := descriptors(t, f.o.PrinterScan(context.Background())); len(printers) != 0 {
		t.Errorf("Expected no printers, got %+v", printers)
	}
	scanners := descriptors(t, f.o.ScannerScan(context.Background()))
	if len(scanners) != 1 || scanners[0].Type != device.TypeScanner {
		t.Errorf("Expected the device as scanner, got %+v", scanners)
	}

	if res := f.o.SetDeviceType(epson.ID(), "auto"); !res.Success {
		t.Fatalf("clearing failed: %s", res.Error)
	}
	if printers := descriptors(t, f.o.PrinterScan(context.Background())); len(printers) != 1 {
		t.Errorf("Expected the printer back after clearing, got %+v", printers)
	}
	if _, ok := f.prefs.DeviceType(epson.ID()); ok {
		t.Error("Expected the persisted override to be cleared")
	}
}

func TestSetDeviceTypeErrors(t *testing.T) {
	f := newFixture(t, epson)
	f.init(t)

	res := f.o.SetDeviceType("usb-dead-beef-9-9", "printer")
	if res.Success || res.ErrorKind != "device_not_found" {
		t.Errorf("Expected device_not_found, got %+v", res)
	}

	res = f.o.SetDeviceType(epson.ID(), "toaster")
	if res.Success || res.ErrorKind != "validation_failure" {
		t.Errorf("Expected validation_failure, got %+v", res)
	}
}

func TestInitializeRestoresPreferencesOnce(t *testing.T) {
	f := newFixture(t, widget)
	if err := f.prefs.SetDeviceType(widget.ID(), device.TypeScale); err != nil {
		t.Fatal(err)
	}
	if err := f.prefs.SetProtocolMode(widget.ID(), true); err != nil {
		t.Fatal(err)
	}

	f.init(t)
	f.init(t)

	if len(f.printers.listeners) != 1 || len(f.scanners.listeners) != 1 {
		t.Errorf("Expected one subscription per service, got %d and %d",
			len(f.printers.listeners), len(f.scanners.listeners))
	}

	scales := descriptors(t, f.o.GetDevicesByType("scale"))
	if len(scales) != 1 || !scales[0].ProtocolMode {
		t.Errorf("Expected restored scale with protocol mode, got %+v", scales)
	}
}

func TestScanAllDevices(t *testing.T) {
	f := newFixture(t, epson, widget)
	f.printers.discovered = []device.Descriptor{device.Describe(epson, device.TypePrinter)}
	f.scanners.discovered = []device.Descriptor{{ID: "hid", Type: device.TypeScanner}}

	res := f.o.ScanAllDevices(context.Background())
	if !res.Success {
		t.Fatal(res.Error)
	}
	groups := res.Data.(DeviceGroups)
	if len(groups.USB) != 2 {
		t.Errorf("Expected 2 usb devices, got %d", len(groups.USB))
	}
	// the epson is both discovered and classified by vendor, listed once
	if len(groups.Printers) != 1 {
		t.Errorf("Expected 1 printer, got %+v", groups.Printers)
	}
	if len(groups.Scanners) != 1 {
		t.Errorf("Expected 1 scanner, got %+v", groups.Scanners)
	}
}

func TestEventsAreForwarded(t *testing.T) {
	f := newFixture(t)
	f.init(t)

	events, cancel := f.o.Subscribe(8)
	defer cancel()

	p := device.Descriptor{ID: "usb-04b8-0202-1-4"}
	job := printer.Job{ID: "job_1", Status: printer.JobCompleted}
	f.printers.emit(printer.Event{Kind: printer.EventConnected, Printer: p})
	f.printers.emit(printer.Event{Kind: printer.EventJob, Printer: p, Job: &job})
	f.printers.emit(printer.Event{Kind: printer.EventError, Err: errors.Wrap(hwerr.ErrDeviceNotFound, "gone")})
	f.scanners.emit(scanner.Event{Kind: scanner.EventScan, Scan: &scanner.ScanEvent{Barcode: "123", Symbology: scanner.Unknown}})
	f.scanners.emit(scanner.Event{Kind: scanner.EventDisconnected})

	want := []string{"device_connected", "print_job_updated", "device_error", "scan_received", "device_disconnected"}
	for i, kind := range want {
		ev := <-events
		if ev.Kind() != kind {
			t.Fatalf("Event %d: expected %s, got %s", i, kind, ev.Kind())
		}
		switch e := ev.(type) {
		case PrintJobUpdated:
			if e.Job.ID != "job_1" {
				t.Errorf("Unexpected job %+v", e.Job)
			}
		case DeviceError:
			if e.ErrorKind != "device_not_found" || e.Device != nil {
				t.Errorf("Unexpected error event %+v", e)
			}
		case ScanReceived:
			if e.Scan.Barcode != "123" {
				t.Errorf("Unexpected scan %+v", e.Scan)
			}
		}
	}
}

func TestPrinterConnectResolvesDeviceID(t *testing.T) {
	f := newFixture(t, epson)
	f.init(t)

	if res := f.o.PrinterConnect(context.Background(), printer.Config{DeviceID: epson.ID()}); !res.Success {
		t.Fatalf("connect failed: %s", res.Error)
	}
	if res := f.o.PrinterConnect(context.Background(), printer.Config{DeviceID: "serial-/dev/ttyUSB0", BaudRate: 19200}); !res.Success {
		t.Fatalf("serial connect failed: %s", res.Error)
	}

	usb, serial := f.printers.connects[0], f.printers.connects[1]
	if usb.Kind != printer.KindUSB || usb.VendorID != 0x04B8 || usb.ProductID != 0x0202 {
		t.Errorf("Unexpected usb config %+v", usb)
	}
	if serial.Kind != printer.KindSerial || serial.Port != "/dev/ttyUSB0" || serial.BaudRate != 19200 {
		t.Errorf("Unexpected serial config %+v", serial)
	}

	res := f.o.PrinterConnect(context.Background(), printer.Config{DeviceID: "usb-0000-0000-9-9"})
	if res.Success || res.ErrorKind != "device_not_found" {
		t.Errorf("Expected device_not_found, got %+v", res)
	}
	res = f.o.PrinterConnect(context.Background(), printer.Config{})
	if res.Success || res.ErrorKind != "validation_failure" {
		t.Errorf("Expected validation_failure, got %+v", res)
	}
}

func TestTestPrinterProtocolMode(t *testing.T) {
	f := newFixture(t, epson)
	f.init(t)

	if res := f.o.TestPrinter(context.Background(), "", nil); res.Success || res.ErrorKind != "not_connected" {
		t.Errorf("Expected not_connected, got %+v", res)
	}

	// connects first, then uses the stored preference
	f.o.SetProtocolMode(epson.ID(), false)
	if res := f.o.TestPrinter(context.Background(), epson.ID(), nil); !res.Success {
		t.Fatalf("test print failed: %s", res.Error)
	}
	on := true
	if res := f.o.TestPrinter(context.Background(), epson.ID(), &on); !res.Success {
		t.Fatalf("test print failed: %s", res.Error)
	}

	if len(f.printers.connects) != 1 {
		t.Errorf("Expected a single connect, got %d", len(f.printers.connects))
	}
	if len(f.printers.testModes) != 2 || f.printers.testModes[0] || !f.printers.testModes[1] {
		t.Errorf("Unexpected protocol modes %v", f.printers.testModes)
	}
}

func TestPanicBecomesResult(t *testing.T) {
	f := newFixture(t)
	f.printers.panicOnPrint = true

	res := f.o.Print([]byte("x"))
	if res.Success || res.Error == "" {
		t.Errorf("Expected a failed result, got %+v", res)
	}
}

func TestPrintTemplateAlwaysPrints(t *testing.T) {
	f := newFixture(t)

	if res := f.o.PrintTemplate(nil, receiptformat.Data{}, receiptformat.BusinessInfo{}); !res.Success {
		t.Fatalf("Expected the fallback receipt to be queued, got %s", res.Error)
	}
	if !bytes.Contains(f.printers.printed[0], []byte("ERROR GENERATING RECEIPT")) {
		t.Errorf("Expected fallback receipt, got %q", f.printers.printed[0])
	}
}

func TestScannerConnectDefaults(t *testing.T) {
	f := newFixture(t, widget)
	f.init(t)

	res := f.o.ScannerConnect(context.Background(), ScannerConfig{DeviceID: widget.ID()})
	if !res.Success {
		t.Fatal(res.Error)
	}
	cfg := f.scanners.connects[0]
	if cfg.Path != "001:005" || cfg.Prefix != "]C1" {
		t.Errorf("Unexpected scanner config %+v", cfg)
	}

	if res := f.o.TestScanner(); res.Data != true {
		t.Errorf("Expected scanner ready, got %+v", res)
	}
	f.o.ScannerDisconnect()
	if res := f.o.GetActiveScanner(); !res.Success || res.Data != nil {
		t.Errorf("Expected no active scanner, got %+v", res)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t)

	res := f.o.Preview(escpos.New().Line("hello").Build(), receiptformat.Paper58mm)
	if !res.Success {
		t.Fatal(res.Error)
	}
	img := res.Data.(PreviewImage)
	if !bytes.HasPrefix(img.PNG, []byte("\x89PNG")) || img.Summary.Lines != 1 {
		t.Errorf("Unexpected preview %+v", img.Summary)
	}

	if res := f.o.Preview(nil, ""); res.Success {
		t.Error("Expected empty preview to fail")
	}
}

func TestJobHistoryUnconfigured(t *testing.T) {
	f := newFixture(t)
	if res := f.o.JobHistory(context.Background(), 10); res.Success || res.ErrorKind != "unsupported_operation" {
		t.Errorf("Expected unsupported_operation, got %+v", res)
	}
}

func TestShutdownClosesSubscriptions(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	events, cancel := f.o.Subscribe(1)

	if res := f.o.Shutdown(context.Background()); !res.Success {
		t.Fatal(res.Error)
	}
	if _, open := <-events; open {
		t.Error("Expected the event channel to be closed")
	}
	cancel()

	if !f.printers.shutdown {
		t.Error("Expected the printer service to be shut down")
	}
	if len(f.printers.listeners) != 0 {
		t.Error("Expected listeners to be detached")
	}
	if res := f.o.Initialize(context.Background()); res.Success {
		t.Error("Expected Initialize after Shutdown to fail")
	}
}

func TestSubscriberOverflowDrops(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	events, cancel := f.o.Subscribe(1)
	defer cancel()

	f.scanners.emit(scanner.Event{Kind: scanner.EventConnected})
	f.scanners.emit(scanner.Event{Kind: scanner.EventDisconnected})

	if ev := <-events; ev.Kind() != "device_connected" {
		t.Errorf("Expected the first event to be kept, got %s", ev.Kind())
	}
	select {
	case ev := <-events:
		t.Errorf("Expected the second event to be dropped, got %s", ev.Kind())
	default:
	}
}
