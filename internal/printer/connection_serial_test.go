package printer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"go.bug.st/serial"
)

// fakePort accepts at most chunk bytes per Write. With block set, Write
// waits until Close like a port stalled by flow control.
type fakePort struct {
	serial.Port

	chunk int
	block bool

	mu      sync.Mutex
	written []byte
	drained bool
	closed  chan struct{}
	once    sync.Once
	started chan struct{}
}

func newFakePort(chunk int, block bool) *fakePort {
	return &fakePort{
		chunk:   chunk,
		block:   block,
		closed:  make(chan struct{}),
		started: make(chan struct{}, 16),
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.started <- struct{}{}
	if p.block {
		<-p.closed
		return 0, errors.New("port closed")
	}
	n := len(data)
	if n > p.chunk {
		n = p.chunk
	}
	p.mu.Lock()
	p.written = append(p.written, data[:n]...)
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Drain() error {
	p.mu.Lock()
	p.drained = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func TestSerialWriteChunksAndDrains(t *testing.T) {
	port := newFakePort(3, false)
	c := &SerialConnection{port: port, path: "/dev/ttyFAKE"}

	if err := c.Write(context.Background(), []byte("receipt body")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	port.mu.Lock()
	defer port.mu.Unlock()
	if string(port.written) != "receipt body" {
		t.Errorf("Expected full payload, got %q", port.written)
	}
	if !port.drained {
		t.Error("Expected port drained after write")
	}
}

func TestSerialWriteAfterClose(t *testing.T) {
	c := &SerialConnection{port: newFakePort(64, false), path: "/dev/ttyFAKE"}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(context.Background(), []byte("x")); !errors.Is(err, hwerr.ErrNotConnected) {
		t.Errorf("Expected not connected, got %v", err)
	}
	// closing twice is harmless
	if err := c.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
}

func TestSerialCloseUnblocksWrite(t *testing.T) {
	port := newFakePort(64, true)
	c := &SerialConnection{port: port, path: "/dev/ttyFAKE"}

	errc := make(chan error, 1)
	go func() { errc <- c.Write(context.Background(), []byte("stalled")) }()
	<-port.started

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a pending write")
	}

	select {
	case err := <-errc:
		if !errors.Is(err, hwerr.ErrNotConnected) {
			t.Errorf("Expected not connected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write did not return after Close")
	}
}

func TestServiceAbortDisconnectStalledSerial(t *testing.T) {
	port := newFakePort(64, true)
	conn := &SerialConnection{port: port, path: "/dev/ttyFAKE"}
	dial := func(ctx context.Context, cfg Config) (Connection, error) { return conn, nil }
	s := NewService(Options{Dialer: dial, Policy: AbortInFlight})

	if _, err := s.Connect(context.Background(), Config{Kind: KindSerial, Port: "/dev/ttyFAKE"}); err != nil {
		t.Fatal(err)
	}
	job, _ := s.Print([]byte("long receipt"))
	select {
	case <-port.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for write to start")
	}

	done := make(chan struct{})
	go func() {
		s.Disconnect(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect hung on a stalled serial write")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.queue.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if got, _ := s.Job(job.ID); got.Status != JobFailed {
		t.Errorf("Expected aborted job to fail, got %s", got.Status)
	}
}

func TestServiceShutdownHonoursDeadline(t *testing.T) {
	conn := newFakeConn("usb-a")
	conn.gate = make(chan struct{})
	defer close(conn.gate)
	s := NewService(Options{Dialer: dialerFor(conn), FinishTimeout: 10 * time.Millisecond})

	if _, err := s.Connect(context.Background(), Config{Kind: KindUSB}); err != nil {
		t.Fatal(err)
	}
	s.Print([]byte("stuck"))
	s.Print([]byte("queued"))
	waitWrite(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Shutdown(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown ignored its deadline")
	}
}
