package printer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

// DefaultFinishTimeout bounds how long a disconnect waits for the executing job
const DefaultFinishTimeout = 30 * time.Second

// Options configures a Service
type Options struct {
	// Dialer opens connections, Dial when nil
	Dialer Dialer
	Policy DisconnectPolicy
	// Recorder receives every job status change, may be nil
	Recorder JobRecorder
	// FinishTimeout bounds the FinishInFlight wait, DefaultFinishTimeout when zero
	FinishTimeout time.Duration
	// Discoverer finds candidate printers, NewDiscoverer when nil
	Discoverer *Discoverer
}

// Service holds at most one printer connection and is the only writer to it
type Service struct {
	dial          Dialer
	policy        DisconnectPolicy
	recorder      JobRecorder
	finishTimeout time.Duration
	discoverer    *Discoverer

	// connectMu serialises connect and disconnect
	connectMu sync.Mutex

	mu      sync.RWMutex
	state   State
	conn    Connection
	printer device.Descriptor

	queue *Queue

	listenersMu sync.Mutex
	listeners   map[int]func(Event)
	nextID      int
}

// NewService creates a disconnected printer service
func NewService(opts Options) *Service {
	s := &Service{
		dial:          opts.Dialer,
		policy:        opts.Policy,
		recorder:      opts.Recorder,
		finishTimeout: opts.FinishTimeout,
		discoverer:    opts.Discoverer,
		state:         StateDisconnected,
		listeners:     make(map[int]func(Event)),
	}
	if s.dial == nil {
		s.dial = Dial
	}
	if s.policy == "" {
		s.policy = FinishInFlight
	}
	if s.discoverer == nil {
		s.discoverer = NewDiscoverer()
	}
	if s.finishTimeout <= 0 {
		s.finishTimeout = DefaultFinishTimeout
	}
	s.queue = NewQueue(s.write, s.jobChanged)
	return s
}

// Discover lists printers that could be connected
func (s *Service) Discover(ctx context.Context) ([]device.Descriptor, error) {
	return s.discoverer.Discover(ctx)
}

// Connect opens the printer described by cfg. An existing connection is torn
// down first.
func (s *Service) Connect(ctx context.Context, cfg Config) (device.Descriptor, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if s.Connected() {
		s.disconnectLocked(ctx)
	}

	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	log.Info().Str("kind", string(cfg.Kind)).Str("device", cfg.DeviceID).Msg("connecting printer")

	conn, err := s.dial(ctx, cfg)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()

		log.Error().Err(err).Str("kind", string(cfg.Kind)).Msg("printer connection failed")
		s.publish(Event{Kind: EventError, Err: err})
		return device.Descriptor{}, err
	}

	d := conn.Descriptor()

	s.mu.Lock()
	s.conn = conn
	s.printer = d
	s.state = StateConnected
	s.mu.Unlock()

	log.Info().Str("printer", d.ID).Str("name", d.Name).Msg("printer connected")
	s.publish(Event{Kind: EventConnected, Printer: d})
	return d, nil
}

// Disconnect closes the active connection, if any. Close errors are logged
// and swallowed. The executing job is handled according to the policy.
func (s *Service) Disconnect(ctx context.Context) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.disconnectLocked(ctx)
}

func (s *Service) disconnectLocked(ctx context.Context) {
	s.mu.Lock()
	conn, printer := s.conn, s.printer
	s.conn = nil
	s.printer = device.Descriptor{}
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn == nil {
		return
	}

	switch s.policy {
	case AbortInFlight:
		s.queue.CancelCurrent()
	default:
		wctx, cancel := context.WithTimeout(ctx, s.finishTimeout)
		if err := s.queue.WaitCurrent(wctx); err != nil {
			log.Warn().Err(err).Str("printer", printer.ID).Msg("in-flight job still running at disconnect")
		}
		cancel()
	}

	if err := conn.Close(); err != nil {
		log.Warn().Err(err).Str("printer", printer.ID).Msg("error closing printer connection")
	}

	printer.Status = device.StatusDisconnected
	log.Info().Str("printer", printer.ID).Msg("printer disconnected")
	s.publish(Event{Kind: EventDisconnected, Printer: printer})
}

// Print queues payload and returns without waiting for the write
func (s *Service) Print(payload []byte) (Job, error) {
	if len(payload) == 0 {
		return Job{}, errors.Wrap(hwerr.ErrValidationFailure, "print payload is empty")
	}
	return s.queue.Enqueue(payload), nil
}

func (s *Service) write(ctx context.Context, payload []byte) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return errors.Wrap(hwerr.ErrNotConnected, "no printer connected")
	}
	return conn.Write(ctx, payload)
}

func (s *Service) jobChanged(job Job) {
	if s.recorder != nil {
		if err := s.recorder.RecordJob(job); err != nil {
			log.Warn().Err(err).Str("job", job.ID).Msg("failed to record job")
		}
	}

	s.mu.RLock()
	printer := s.printer
	s.mu.RUnlock()

	s.publish(Event{Kind: EventJob, Printer: printer, Job: &job})
}

// Connected reports whether a printer connection is open
func (s *Service) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected
}

// ActivePrinter returns the connected printer
func (s *Service) ActivePrinter() (device.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected {
		return device.Descriptor{}, false
	}
	return s.printer, true
}

// Status summarises the connection and the queue
func (s *Service) Status() Status {
	s.mu.RLock()
	st := Status{State: s.state}
	if s.state == StateConnected {
		p := s.printer
		if s.queue.Printing() {
			p.Status = device.StatusBusy
		} else {
			p.Status = device.StatusReady
		}
		st.Printer = &p
	}
	s.mu.RUnlock()

	st.Printing = s.queue.Printing()
	for _, j := range s.queue.GetAllJobs() {
		switch j.Status {
		case JobPending:
			st.Pending++
		case JobCompleted:
			st.Completed++
		case JobFailed:
			st.Failed++
		}
	}
	return st
}

// Jobs returns copies of every known job in enqueue order
func (s *Service) Jobs() []Job {
	return s.queue.GetAllJobs()
}

// Job looks a job up by id
func (s *Service) Job(id string) (Job, bool) {
	return s.queue.GetJob(id)
}

// ClearCompleted drops finished jobs from the history
func (s *Service) ClearCompleted() int {
	return s.queue.ClearCompleted()
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

// Shutdown disconnects, lets queued jobs settle until ctx ends and drops
// every subscriber
func (s *Service) Shutdown(ctx context.Context) {
	s.Disconnect(ctx)
	if err := s.queue.WaitIdle(ctx); err != nil {
		log.Warn().Err(err).Msg("print queue still busy at shutdown")
	}

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
