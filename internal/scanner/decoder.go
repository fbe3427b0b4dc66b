package scanner

import (
	"strings"
	"sync"
	"time"

	"github.com/thereceipt/pos-hardware/internal/schedule"
)

const (
	// ResetGap discards a partial scan when reports arrive further apart
	ResetGap = 100 * time.Millisecond
	// IdleFlush emits a scan that never received Enter
	IdleFlush = 200 * time.Millisecond
)

// ScanEvent is one decoded barcode
type ScanEvent struct {
	Barcode   string    `json:"barcode"`
	Symbology Symbology `json:"symbology"`
	Timestamp time.Time `json:"timestamp"`
}

// Decoder reassembles keyboard reports into barcodes. Report byte 0 is the
// modifier and byte 2 the key code.
type Decoder struct {
	sched  schedule.Scheduler
	prefix string
	suffix string
	emit   func(ScanEvent)

	mu    sync.Mutex
	buf   []rune
	last  time.Time
	flush schedule.Task
	gen   uint64
}

// NewDecoder creates a decoder that calls emit for every completed scan.
// emit runs without the decoder lock held, possibly on a timer goroutine.
func NewDecoder(sched schedule.Scheduler, prefix, suffix string, emit func(ScanEvent)) *Decoder {
	if sched == nil {
		sched = schedule.System{}
	}
	return &Decoder{
		sched:  sched,
		prefix: prefix,
		suffix: suffix,
		emit:   emit,
	}
}

// Feed consumes one input report
func (d *Decoder) Feed(report []byte) {
	if len(report) < 3 {
		return
	}
	modifier, code := report[0], report[2]
	// key release
	if code == 0 {
		return
	}

	now := d.sched.Now()

	d.mu.Lock()
	if len(d.buf) > 0 && now.Sub(d.last) > ResetGap {
		d.buf = d.buf[:0]
	}
	d.last = now
	d.cancelFlushLocked()

	if isEnter(code) {
		raw := d.takeLocked()
		d.mu.Unlock()
		d.finish(raw, now)
		return
	}

	if r, ok := translate(code, modifier); ok {
		d.buf = append(d.buf, r)
	}
	if len(d.buf) > 0 {
		gen := d.gen
		d.flush = d.sched.AfterFunc(IdleFlush, func() { d.idleFlush(gen) })
	}
	d.mu.Unlock()
}

// Reset drops the partial scan and cancels the pending flush
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelFlushLocked()
	d.buf = d.buf[:0]
}

// Pending returns the characters accumulated so far
func (d *Decoder) Pending() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.buf)
}

func (d *Decoder) idleFlush(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.flush = nil
	raw := d.takeLocked()
	d.mu.Unlock()

	d.finish(raw, d.sched.Now())
}

// cancelFlushLocked also invalidates a callback that is already running
func (d *Decoder) cancelFlushLocked() {
	d.gen++
	if d.flush != nil {
		d.flush.Cancel()
		d.flush = nil
	}
}

func (d *Decoder) takeLocked() string {
	raw := string(d.buf)
	d.buf = d.buf[:0]
	return raw
}

func (d *Decoder) finish(raw string, at time.Time) {
	code := d.clean(raw)
	if code == "" || d.emit == nil {
		return
	}
	d.emit(ScanEvent{
		Barcode:   code,
		Symbology: Classify(code),
		Timestamp: at,
	})
}

func (d *Decoder) clean(raw string) string {
	code := strings.TrimSpace(raw)
	if d.prefix != "" {
		code = strings.TrimPrefix(code, d.prefix)
	}
	if d.suffix != "" {
		code = strings.TrimSuffix(code, d.suffix)
	}
	return code
}
