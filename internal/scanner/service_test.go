package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"github.com/thereceipt/pos-hardware/internal/schedule"
)

type fakeEnumerator struct {
	infos []device.USBInfo
}

func (f fakeEnumerator) Enumerate(ctx context.Context) ([]device.USBInfo, error) {
	return f.infos, nil
}

type fakeReader struct {
	reports chan []byte
	fail    chan error

	// onClose runs inside Close
	onClose func()

	mu     sync.Mutex
	closed bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{reports: make(chan []byte), fail: make(chan error, 1)}
}

func (f *fakeReader) ReadReport(ctx context.Context) ([]byte, error) {
	select {
	case r := <-f.reports:
		return r, nil
	case err := <-f.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeReader) Close() error {
	if f.onClose != nil {
		f.onClose()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var (
	honeywell = device.USBInfo{VendorID: 0x0C2E, ProductID: 0x0B61, Bus: 1, Address: 7, Product: "Honeywell Scanning", InterfaceClasses: []uint8{0x03}}
	keyboard  = device.USBInfo{VendorID: 0x046D, ProductID: 0xC31C, Bus: 1, Address: 8, Product: "Keyboard", InterfaceClasses: []uint8{0x03}}
	storage   = device.USBInfo{VendorID: 0x0781, ProductID: 0x5581, Bus: 2, Address: 2, Product: "Flash Drive", InterfaceClasses: []uint8{0x08}}
)

type eventSink struct {
	mu     sync.Mutex
	events []Event
	scans  chan ScanEvent
}

func newEventSink() *eventSink {
	return &eventSink{scans: make(chan ScanEvent, 8)}
}

func (s *eventSink) add(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	if ev.Kind == EventScan {
		s.scans <- *ev.Scan
	}
}

func (s *eventSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []EventKind
	for _, ev := range s.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func newTestService(reader *fakeReader, clock schedule.Scheduler) (*Service, *[]device.USBInfo) {
	opened := &[]device.USBInfo{}
	s := NewService(Options{
		Enumerator: fakeEnumerator{infos: []device.USBInfo{honeywell, keyboard, storage}},
		Open: func(ctx context.Context, info device.USBInfo) (ReportReader, error) {
			*opened = append(*opened, info)
			return reader, nil
		},
		Scheduler: clock,
	})
	return s, opened
}

func TestServiceDiscover(t *testing.T) {
	s, _ := newTestService(newFakeReader(), nil)

	scanners, err := s.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(scanners) != 2 {
		t.Fatalf("Expected 2 HID devices, got %d", len(scanners))
	}
	for _, d := range scanners {
		if d.Connection != device.ConnHID || d.Type != device.TypeScanner {
			t.Errorf("Unexpected descriptor %+v", d)
		}
	}
}

func TestServiceConnectByPath(t *testing.T) {
	reader := newFakeReader()
	s, opened := newTestService(reader, nil)

	d, err := s.Connect(context.Background(), Config{Path: "001:008"})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != keyboard.ID() || (*opened)[0].Address != 8 {
		t.Errorf("Expected keyboard by path, got %+v", d)
	}
	if !s.Test() {
		t.Error("Expected Test to report an active scanner")
	}
	s.Disconnect()
}

func TestServiceConnectByVIDPID(t *testing.T) {
	reader := newFakeReader()
	s, _ := newTestService(reader, nil)

	d, err := s.Connect(context.Background(), Config{VendorID: 0x0C2E, ProductID: 0x0B61})
	if err != nil {
		t.Fatal(err)
	}
	active, ok := s.Active()
	if !ok || active.ID != d.ID || d.ID != honeywell.ID() {
		t.Errorf("Unexpected active scanner %+v", active)
	}
	s.Disconnect()
}

func TestServiceConnectErrors(t *testing.T) {
	s, _ := newTestService(newFakeReader(), nil)

	if _, err := s.Connect(context.Background(), Config{}); !errors.Is(err, hwerr.ErrValidationFailure) {
		t.Errorf("Expected validation failure, got %v", err)
	}
	if _, err := s.Connect(context.Background(), Config{VendorID: 0xFFFF, ProductID: 1}); !errors.Is(err, hwerr.ErrDeviceNotFound) {
		t.Errorf("Expected device not found, got %v", err)
	}
	if s.Test() {
		t.Error("Expected no active scanner")
	}
}

func TestServiceScanFlow(t *testing.T) {
	reader := newFakeReader()
	s, _ := newTestService(reader, nil)
	sink := newEventSink()
	s.Subscribe(sink.add)

	if _, err := s.Connect(context.Background(), Config{Path: "001:007", Prefix: "]C1"}); err != nil {
		t.Fatal(err)
	}

	// ]C1 then 4006381333931
	seq := [][]byte{
		report(0x00, 0x30), report(0x02, 0x06), report(0x00, 0x1E),
	}
	for _, r := range "4006381333931" {
		seq = append(seq, report(0, digitCodes[r]))
	}
	seq = append(seq, report(0, keyEnter))
	for _, r := range seq {
		reader.reports <- r
	}

	select {
	case scan := <-sink.scans:
		if scan.Barcode != "4006381333931" || scan.Symbology != EAN13 {
			t.Errorf("Unexpected scan %+v", scan)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for scan")
	}

	s.Disconnect()
	if !reader.isClosed() {
		t.Error("Expected reader closed on disconnect")
	}
	kinds := sink.kinds()
	if kinds[0] != EventConnected || kinds[len(kinds)-1] != EventDisconnected {
		t.Errorf("Unexpected events %v", kinds)
	}
}

func TestServiceDisconnectCancelsFlush(t *testing.T) {
	clock := schedule.NewManual(time.Now())
	reader := newFakeReader()
	s, _ := newTestService(reader, clock)
	sink := newEventSink()
	s.Subscribe(sink.add)

	if _, err := s.Connect(context.Background(), Config{Path: "001:007"}); err != nil {
		t.Fatal(err)
	}
	reader.reports <- report(0, digitCodes['5'])
	// The unbuffered send returns once the reader has the report; wait for the feed
	deadline := time.Now().Add(2 * time.Second)
	for clock.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	s.Disconnect()
	if clock.Pending() != 0 {
		t.Error("Expected disconnect to cancel the pending flush")
	}
	clock.Advance(time.Second)

	select {
	case scan := <-sink.scans:
		t.Errorf("Flush fired after disconnect: %+v", scan)
	default:
	}
}

func TestServiceNoScanWhileClosing(t *testing.T) {
	clock := schedule.NewManual(time.Now())
	reader := newFakeReader()
	// the idle timeout elapses while the device handle is closing
	reader.onClose = func() { clock.Advance(time.Second) }
	s, _ := newTestService(reader, clock)
	sink := newEventSink()
	s.Subscribe(sink.add)

	if _, err := s.Connect(context.Background(), Config{Path: "001:007"}); err != nil {
		t.Fatal(err)
	}
	reader.reports <- report(0, digitCodes['7'])
	deadline := time.Now().Add(2 * time.Second)
	for clock.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if clock.Pending() == 0 {
		t.Fatal("Expected a pending idle flush")
	}

	s.Disconnect()

	select {
	case scan := <-sink.scans:
		t.Errorf("Scan emitted during disconnect: %+v", scan)
	default:
	}
	for _, k := range sink.kinds() {
		if k == EventScan {
			t.Errorf("Unexpected scan event in %v", sink.kinds())
		}
	}
}

func TestServiceReadFailureDisconnects(t *testing.T) {
	reader := newFakeReader()
	s, _ := newTestService(reader, nil)

	disconnected := make(chan struct{})
	s.Subscribe(func(ev Event) {
		if ev.Kind == EventDisconnected {
			close(disconnected)
		}
	})

	if _, err := s.Connect(context.Background(), Config{Path: "001:007"}); err != nil {
		t.Fatal(err)
	}
	reader.fail <- errors.New("device unplugged")

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a disconnect after read failure")
	}
	if s.Test() {
		t.Error("Expected no active scanner after read failure")
	}
	if !reader.isClosed() {
		t.Error("Expected reader closed after read failure")
	}
}
