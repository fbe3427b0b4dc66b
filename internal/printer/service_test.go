package printer

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

type fakeConn struct {
	id       string
	started  chan struct{}
	gate     chan struct{} // nil writes immediately
	closeErr error

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, started: make(chan struct{}, 16)}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	f.started <- struct{}{}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeConn) Descriptor() device.Descriptor {
	return device.Descriptor{
		ID:         f.id,
		Name:       "Fake " + f.id,
		Type:       device.TypePrinter,
		Connection: device.ConnUSB,
		Status:     device.StatusConnected,
		VendorID:   0x04B8,
		ProductID:  0x0202,
	}
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

// dialerFor hands out the given connections in order
func dialerFor(conns ...*fakeConn) Dialer {
	var mu sync.Mutex
	return func(ctx context.Context, cfg Config) (Connection, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(conns) == 0 {
			return nil, errors.Wrap(hwerr.ErrDeviceNotFound, "no fake printer left")
		}
		c := conns[0]
		conns = conns[1:]
		return c, nil
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kinds []EventKind
	for _, ev := range l.events {
		if ev.Kind != EventJob {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

type memRecorder struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *memRecorder) RecordJob(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func waitWrite(t *testing.T, c *fakeConn) {
	t.Helper()
	select {
	case <-c.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for write to start")
	}
}

func TestServiceConnectAndPrint(t *testing.T) {
	conn := newFakeConn("usb-a")
	rec := &memRecorder{}
	s := NewService(Options{Dialer: dialerFor(conn), Recorder: rec})

	events := &eventLog{}
	s.Subscribe(events.add)

	d, err := s.Connect(context.Background(), Config{Kind: KindUSB, VendorID: 0x04B8, ProductID: 0x0202})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if d.ID != "usb-a" {
		t.Errorf("Expected usb-a, got %s", d.ID)
	}
	if !s.Connected() {
		t.Error("Expected connected state")
	}

	job, err := s.Print([]byte("hello"))
	if err != nil {
		t.Fatalf("Print failed: %v", err)
	}
	s.queue.Wait()

	got, ok := s.Job(job.ID)
	if !ok || got.Status != JobCompleted {
		t.Fatalf("Expected completed job, got %+v", got)
	}
	writes := conn.written()
	if len(writes) != 1 || string(writes[0]) != "hello" {
		t.Errorf("Unexpected writes %q", writes)
	}

	rec.mu.Lock()
	recorded := len(rec.jobs)
	rec.mu.Unlock()
	// pending, printing, completed
	if recorded != 3 {
		t.Errorf("Expected 3 recorded transitions, got %d", recorded)
	}

	st := s.Status()
	if st.State != StateConnected || st.Printer == nil || st.Completed != 1 {
		t.Errorf("Unexpected status %+v", st)
	}
	if kinds := events.kinds(); len(kinds) != 1 || kinds[0] != EventConnected {
		t.Errorf("Unexpected events %v", kinds)
	}
}

func TestServiceConnectFailure(t *testing.T) {
	s := NewService(Options{Dialer: dialerFor()})
	events := &eventLog{}
	s.Subscribe(events.add)

	_, err := s.Connect(context.Background(), Config{Kind: KindUSB})
	if !errors.Is(err, hwerr.ErrDeviceNotFound) {
		t.Fatalf("Expected device not found, got %v", err)
	}
	if s.Status().State != StateDisconnected {
		t.Error("Expected disconnected state after failure")
	}
	if kinds := events.kinds(); len(kinds) != 1 || kinds[0] != EventError {
		t.Errorf("Expected one error event, got %v", kinds)
	}
}

func TestServiceConnectReplacesPrevious(t *testing.T) {
	first := newFakeConn("usb-a")
	second := newFakeConn("usb-b")
	s := NewService(Options{Dialer: dialerFor(first, second)})
	events := &eventLog{}
	s.Subscribe(events.add)

	ctx := context.Background()
	if _, err := s.Connect(ctx, Config{Kind: KindUSB}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Connect(ctx, Config{Kind: KindUSB}); err != nil {
		t.Fatal(err)
	}

	if !first.isClosed() {
		t.Error("Expected the previous connection to be closed")
	}
	p, ok := s.ActivePrinter()
	if !ok || p.ID != "usb-b" {
		t.Errorf("Expected usb-b active, got %+v", p)
	}

	want := []EventKind{EventConnected, EventDisconnected, EventConnected}
	got := events.kinds()
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestServicePrintWithoutPrinter(t *testing.T) {
	s := NewService(Options{Dialer: dialerFor()})

	job, err := s.Print([]byte("orphan"))
	if err != nil {
		t.Fatalf("Print should queue even without a printer: %v", err)
	}
	s.queue.Wait()

	got, _ := s.Job(job.ID)
	if got.Status != JobFailed {
		t.Errorf("Expected failed job, got %s", got.Status)
	}

	if _, err := s.Print(nil); !errors.Is(err, hwerr.ErrValidationFailure) {
		t.Errorf("Expected validation failure for empty payload, got %v", err)
	}
}

func TestServiceDisconnectFinishesInFlight(t *testing.T) {
	conn := newFakeConn("usb-a")
	conn.gate = make(chan struct{})
	s := NewService(Options{Dialer: dialerFor(conn), Policy: FinishInFlight})

	if _, err := s.Connect(context.Background(), Config{Kind: KindUSB}); err != nil {
		t.Fatal(err)
	}
	job, _ := s.Print([]byte("long receipt"))
	waitWrite(t, conn)

	done := make(chan struct{})
	go func() {
		s.Disconnect(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Disconnect returned before the in-flight job finished")
	case <-time.After(50 * time.Millisecond):
	}
	if conn.isClosed() {
		t.Fatal("Connection closed while a job was still writing")
	}

	close(conn.gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not return")
	}

	got, _ := s.Job(job.ID)
	if got.Status != JobCompleted {
		t.Errorf("Expected in-flight job to complete, got %s", got.Status)
	}
	if !conn.isClosed() {
		t.Error("Expected connection to be closed")
	}
	if s.Connected() {
		t.Error("Expected disconnected state")
	}
}

func TestServiceDisconnectFinishTimeout(t *testing.T) {
	conn := newFakeConn("usb-a")
	conn.gate = make(chan struct{})
	s := NewService(Options{Dialer: dialerFor(conn), FinishTimeout: 20 * time.Millisecond})

	if _, err := s.Connect(context.Background(), Config{Kind: KindUSB}); err != nil {
		t.Fatal(err)
	}
	s.Print([]byte("stuck"))
	waitWrite(t, conn)

	s.Disconnect(context.Background())
	if !conn.isClosed() {
		t.Error("Expected connection closed after the finish timeout")
	}
	close(conn.gate)
	s.queue.Wait()
}

func TestServiceDisconnectAbortsInFlight(t *testing.T) {
	conn := newFakeConn("usb-a")
	conn.gate = make(chan struct{})
	s := NewService(Options{Dialer: dialerFor(conn), Policy: AbortInFlight})

	if _, err := s.Connect(context.Background(), Config{Kind: KindUSB}); err != nil {
		t.Fatal(err)
	}
	job, _ := s.Print([]byte("long receipt"))
	waitWrite(t, conn)

	s.Disconnect(context.Background())
	s.queue.Wait()

	got, _ := s.Job(job.ID)
	if got.Status != JobFailed {
		t.Errorf("Expected aborted job to fail, got %s", got.Status)
	}
	if !conn.isClosed() {
		t.Error("Expected connection to be closed")
	}
}

func TestServiceDisconnectToleratesCloseError(t *testing.T) {
	conn := newFakeConn("usb-a")
	conn.closeErr = errors.New("device vanished")
	s := NewService(Options{Dialer: dialerFor(conn)})

	if _, err := s.Connect(context.Background(), Config{Kind: KindUSB}); err != nil {
		t.Fatal(err)
	}
	s.Disconnect(context.Background())

	if s.Connected() {
		t.Error("Expected disconnected state despite close error")
	}
	// A second disconnect is a no-op
	s.Disconnect(context.Background())
}

func TestServiceTestPrint(t *testing.T) {
	conn := newFakeConn("usb-a")
	s := NewService(Options{Dialer: dialerFor(conn)})

	if _, err := s.TestPrint(true); !errors.Is(err, hwerr.ErrNotConnected) {
		t.Errorf("Expected not connected, got %v", err)
	}

	if _, err := s.Connect(context.Background(), Config{Kind: KindUSB}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TestPrint(true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TestPrint(false); err != nil {
		t.Fatal(err)
	}
	s.queue.Wait()

	writes := conn.written()
	if len(writes) != 2 {
		t.Fatalf("Expected 2 writes, got %d", len(writes))
	}
	if !bytes.HasPrefix(writes[0], []byte{0x1B, 0x40}) {
		t.Error("Expected ESC/POS test page to start with initialize")
	}
	if !bytes.HasSuffix(writes[0], []byte{0x1D, 0x56, 0x01}) {
		t.Error("Expected ESC/POS test page to end with a partial cut")
	}
	if bytes.IndexByte(writes[1], 0x1B) >= 0 {
		t.Error("Plain test page should not contain escape sequences")
	}
}

func TestTestReceiptContent(t *testing.T) {
	p := device.Descriptor{ID: "usb-04b8-0202-1-4", Name: "EPSON TM-T20", Connection: device.ConnUSB, VendorID: 0x04B8, ProductID: 0x0202}
	now := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)

	out := TestReceipt(p, now)
	for _, want := range []string{"TEST PRINT", "EPSON TM-T20", "2024-03-09 14:30:00", "04B8:0202"} {
		if !bytes.Contains(out, []byte(want)) {
			t.Errorf("Expected test receipt to contain %q", want)
		}
	}
}

func TestServiceShutdownDropsSubscribers(t *testing.T) {
	conn := newFakeConn("usb-a")
	s := NewService(Options{Dialer: dialerFor(conn)})
	events := &eventLog{}
	s.Subscribe(events.add)

	if _, err := s.Connect(context.Background(), Config{Kind: KindUSB}); err != nil {
		t.Fatal(err)
	}
	s.Shutdown(context.Background())
	s.publish(Event{Kind: EventError})

	for _, k := range events.kinds() {
		if k == EventError {
			t.Error("Subscriber received an event after shutdown")
		}
	}
}

func TestDialUnsupported(t *testing.T) {
	_, err := Dial(context.Background(), Config{Kind: KindNetwork, Host: "10.0.0.5"})
	if !errors.Is(err, hwerr.ErrUnsupportedOperation) {
		t.Errorf("Expected unsupported operation for network, got %v", err)
	}

	_, err = Dial(context.Background(), Config{Kind: "bluetooth"})
	if !errors.Is(err, hwerr.ErrUnsupportedOperation) {
		t.Errorf("Expected unsupported operation for unknown kind, got %v", err)
	}

	_, err = Dial(context.Background(), Config{Kind: KindSerial})
	if !errors.Is(err, hwerr.ErrDeviceNotFound) {
		t.Errorf("Expected device not found for empty serial port, got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"usb":     KindUSB,
		" Serial": KindSerial,
		"NETWORK": KindNetwork,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseKind("parallel"); err == nil {
		t.Error("Expected error for unknown kind")
	}
}

func TestParseDisconnectPolicy(t *testing.T) {
	tests := map[string]DisconnectPolicy{
		"":       FinishInFlight,
		"finish": FinishInFlight,
		"ABORT":  AbortInFlight,
	}
	for in, want := range tests {
		got, err := ParseDisconnectPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseDisconnectPolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDisconnectPolicy("later"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}
