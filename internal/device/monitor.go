package device

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor periodically rescans the registry so attach/detach is noticed even
// where hotplug notifications are unavailable
type Monitor struct {
	registry *Registry
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
}

// NewMonitor creates a monitor; it does nothing until Start
func NewMonitor(registry *Registry, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		registry: registry,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins rescanning. A non-positive interval disables the monitor.
func (m *Monitor) Start() {
	if m.started {
		return
	}
	m.started = true

	if m.interval <= 0 {
		close(m.done)
		return
	}

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				if err := m.registry.Refresh(m.ctx); err != nil && m.ctx.Err() == nil {
					log.Warn().Err(err).Msg("periodic device scan failed")
				}
			}
		}
	}()
}

// Stop ends the monitor and waits for an in-progress scan to return
func (m *Monitor) Stop() {
	m.cancel()
	if m.started {
		<-m.done
	}
}
