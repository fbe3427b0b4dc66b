// Package netprobe checks TCP reachability with a bounded wait
package netprobe

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds every probe
const DefaultTimeout = 5 * time.Second

// DefaultTargets are probed by Status when no targets are configured
var DefaultTargets = []string{"1.1.1.1:53", "8.8.8.8:53"}

// DialFunc opens a connection, net.Dialer.DialContext in production
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Result is the outcome of one probe
type Result struct {
	Address   string        `json:"address"`
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// Status summarises a set of probes
type Status struct {
	Online  bool      `json:"online"`
	Results []Result  `json:"results"`
	At      time.Time `json:"at"`
}

// Prober runs reachability probes
type Prober struct {
	Timeout time.Duration
	Dial    DialFunc
	Targets []string
}

// New creates a prober with the default timeout and targets
func New() *Prober {
	return &Prober{}
}

func (p *Prober) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultTimeout
}

func (p *Prober) dial() DialFunc {
	if p.Dial != nil {
		return p.Dial
	}
	var d net.Dialer
	return d.DialContext
}

// Probe dials address and reports the first of success, error or timeout.
// The result is produced exactly once even when the dial returns after the deadline.
func (p *Prober) Probe(ctx context.Context, address string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	var once sync.Once
	resolve := func(r Result) {
		once.Do(func() { done <- r })
	}

	go func() {
		conn, err := p.dial()(ctx, "tcp", address)
		if err != nil {
			resolve(Result{Address: address, Error: err.Error()})
			return
		}
		conn.Close()
		resolve(Result{Address: address, Reachable: true, Latency: time.Since(start)})
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		resolve(Result{Address: address, Error: "probe timed out after " + p.timeout().String()})
		return <-done
	}
}

// Status probes every target concurrently; online means at least one answered
func (p *Prober) Status(ctx context.Context) Status {
	targets := p.Targets
	if len(targets) == 0 {
		targets = DefaultTargets
	}

	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			results[i] = p.Probe(ctx, target)
		}(i, target)
	}
	wg.Wait()

	st := Status{Results: results, At: time.Now()}
	for _, r := range results {
		if r.Reachable {
			st.Online = true
			break
		}
	}
	log.Debug().Bool("online", st.Online).Int("targets", len(targets)).Msg("network status probed")
	return st
}
