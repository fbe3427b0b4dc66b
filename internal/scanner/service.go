// Package scanner connects to keyboard-wedge barcode scanners and turns their
// input reports into scan events
package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"github.com/thereceipt/pos-hardware/internal/schedule"
)

// USB interface class of HID devices
const usbClassHID = 0x03

// Config selects the scanner to connect to. Path wins over VendorID/ProductID.
type Config struct {
	Path      string `json:"path,omitempty"`
	VendorID  uint16 `json:"vendorId,omitempty"`
	ProductID uint16 `json:"productId,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Suffix    string `json:"suffix,omitempty"`
}

// EventKind names a scanner service event
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
	EventScan         EventKind = "scan"
)

// Event is published to subscribers of the service
type Event struct {
	Kind    EventKind
	Scanner device.Descriptor
	Scan    *ScanEvent
	Err     error
}

// Options configures a Service
type Options struct {
	// Enumerator lists USB devices, device.USBEnumerator when nil
	Enumerator device.Enumerator
	// Open claims a scanner, OpenHID when nil
	Open      Opener
	Scheduler schedule.Scheduler
}

type session struct {
	scanner device.Descriptor
	reader  ReportReader
	decoder *Decoder
	cancel  context.CancelFunc
	done    chan struct{}
}

// Service holds at most one scanner connection
type Service struct {
	enum  device.Enumerator
	open  Opener
	sched schedule.Scheduler

	connectMu sync.Mutex

	mu     sync.Mutex
	active *session

	listenersMu sync.Mutex
	listeners   map[int]func(Event)
	nextID      int
}

// NewService creates a disconnected scanner service
func NewService(opts Options) *Service {
	s := &Service{
		enum:      opts.Enumerator,
		open:      opts.Open,
		sched:     opts.Scheduler,
		listeners: make(map[int]func(Event)),
	}
	if s.enum == nil {
		s.enum = device.USBEnumerator{}
	}
	if s.open == nil {
		s.open = OpenHID
	}
	if s.sched == nil {
		s.sched = schedule.System{}
	}
	return s
}

// Discover lists HID devices that may be scanners
func (s *Service) Discover(ctx context.Context) ([]device.Descriptor, error) {
	infos, err := s.enum.Enumerate(ctx)
	if err != nil {
		return nil, err
	}

	var scanners []device.Descriptor
	for _, info := range infos {
		if !info.HasInterfaceClass(usbClassHID) && !device.IsKnownScannerVendor(info.VendorID) {
			continue
		}
		scanners = append(scanners, describe(info))
	}
	return scanners, nil
}

func describe(info device.USBInfo) device.Descriptor {
	d := device.Describe(info, device.TypeScanner)
	d.Connection = device.ConnHID
	return d
}

func (c Config) matches(info device.USBInfo) bool {
	if c.Path != "" {
		return device.USBPath(info.Bus, info.Address) == c.Path
	}
	return info.VendorID == c.VendorID && info.ProductID == c.ProductID
}

// Connect opens the scanner selected by cfg, replacing any current one
func (s *Service) Connect(ctx context.Context, cfg Config) (device.Descriptor, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.disconnectLocked()

	if cfg.Path == "" && cfg.VendorID == 0 && cfg.ProductID == 0 {
		return device.Descriptor{}, errors.Wrap(hwerr.ErrValidationFailure, "scanner path or vendor/product id is required")
	}

	infos, err := s.enum.Enumerate(ctx)
	if err != nil {
		return device.Descriptor{}, err
	}

	var target *device.USBInfo
	for i := range infos {
		if cfg.matches(infos[i]) {
			target = &infos[i]
			break
		}
	}
	if target == nil {
		err := errors.Wrapf(hwerr.ErrDeviceNotFound, "scanner %s", cfg.label())
		s.publish(Event{Kind: EventError, Err: err})
		return device.Descriptor{}, err
	}

	reader, err := s.open(ctx, *target)
	if err != nil {
		log.Error().Err(err).Str("scanner", cfg.label()).Msg("scanner connection failed")
		s.publish(Event{Kind: EventError, Err: err})
		return device.Descriptor{}, err
	}

	desc := describe(*target)
	rctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		scanner: desc,
		reader:  reader,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	sess.decoder = NewDecoder(s.sched, cfg.Prefix, cfg.Suffix, func(ev ScanEvent) {
		log.Info().Str("barcode", ev.Barcode).Str("symbology", string(ev.Symbology)).Msg("scan received")
		s.publish(Event{Kind: EventScan, Scanner: desc, Scan: &ev})
	})

	s.mu.Lock()
	s.active = sess
	s.mu.Unlock()

	go s.read(rctx, sess)

	log.Info().Str("scanner", desc.ID).Str("name", desc.Name).Msg("scanner connected")
	s.publish(Event{Kind: EventConnected, Scanner: desc})
	return desc, nil
}

func (c Config) label() string {
	if c.Path != "" {
		return c.Path
	}
	return fmt.Sprintf("%04X:%04X", c.VendorID, c.ProductID)
}

func (s *Service) read(ctx context.Context, sess *session) {
	defer close(sess.done)

	for {
		report, err := sess.reader.ReadReport(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("scanner", sess.scanner.ID).Msg("scanner read failed")
			s.drop(sess, hwerr.Wrapf(hwerr.ErrConnectionFailure, err, "scanner read failed"))
			return
		}
		if ctx.Err() != nil {
			return
		}
		sess.decoder.Feed(report)
	}
}

// drop tears down a session whose reader failed
func (s *Service) drop(sess *session, cause error) {
	s.mu.Lock()
	if s.active != sess {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.mu.Unlock()

	sess.cancel()
	sess.decoder.Reset()
	if err := sess.reader.Close(); err != nil {
		log.Warn().Err(err).Str("scanner", sess.scanner.ID).Msg("error closing scanner")
	}

	s.publish(Event{Kind: EventError, Scanner: sess.scanner, Err: cause})
	s.publishDisconnected(sess.scanner)
}

// Disconnect closes the active scanner, if any, and cancels its pending flush
func (s *Service) Disconnect() {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.disconnectLocked()
}

func (s *Service) disconnectLocked() {
	s.mu.Lock()
	sess := s.active
	s.active = nil
	s.mu.Unlock()

	if sess == nil {
		return
	}

	// no flush may fire while the reader is closing
	sess.cancel()
	sess.decoder.Reset()
	if err := sess.reader.Close(); err != nil {
		log.Warn().Err(err).Str("scanner", sess.scanner.ID).Msg("error closing scanner")
	}
	<-sess.done
	// drops a report fed before the loop saw the cancel
	sess.decoder.Reset()

	log.Info().Str("scanner", sess.scanner.ID).Msg("scanner disconnected")
	s.publishDisconnected(sess.scanner)
}

func (s *Service) publishDisconnected(d device.Descriptor) {
	d.Status = device.StatusDisconnected
	s.publish(Event{Kind: EventDisconnected, Scanner: d})
}

// Test reports whether a scanner is connected. It cannot produce a scan.
func (s *Service) Test() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Active returns the connected scanner
func (s *Service) Active() (device.Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return device.Descriptor{}, false
	}
	return s.active.scanner, true
}

// Subscribe registers fn for service events and returns a function that removes it
func (s *Service) Subscribe(fn func(Event)) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// Shutdown disconnects and drops every subscriber
func (s *Service) Shutdown() {
	s.Disconnect()

	s.listenersMu.Lock()
	s.listeners = make(map[int]func(Event))
	s.listenersMu.Unlock()
}

func (s *Service) publish(ev Event) {
	s.listenersMu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
