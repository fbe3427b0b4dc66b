package device

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

// Enumerator lists the USB devices currently attached
type Enumerator interface {
	Enumerate(ctx context.Context) ([]USBInfo, error)
}

// ChangeKind tells whether a device appeared or went away
type ChangeKind int

const (
	ChangeAttached ChangeKind = iota
	ChangeDetached
)

// Change is published to subscribers when the snapshot gains or loses a device
type Change struct {
	Kind   ChangeKind
	Device Descriptor
}

// Registry holds the authoritative snapshot of attached USB devices
type Registry struct {
	enum    Enumerator
	hotplug HotplugSource

	mu        sync.RWMutex
	entries   map[string]USBInfo
	overrides map[string]Type
	protocol  map[string]bool

	listenersMu sync.Mutex
	listeners   map[int]func(Change)
	nextID      int

	hotplugCancel context.CancelFunc
	hotplugDone   chan struct{}
}

// NewRegistry creates a registry. hotplug may be nil.
func NewRegistry(enum Enumerator, hotplug HotplugSource) *Registry {
	return &Registry{
		enum:      enum,
		hotplug:   hotplug,
		entries:   make(map[string]USBInfo),
		overrides: make(map[string]Type),
		protocol:  make(map[string]bool),
		listeners: make(map[int]func(Change)),
	}
}

// Scan enumerates attached devices and replaces the snapshot
func (r *Registry) Scan(ctx context.Context) ([]Descriptor, error) {
	infos, err := r.enum.Enumerate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "usb enumeration failed")
	}

	next := make(map[string]USBInfo, len(infos))
	for _, info := range infos {
		next[info.ID()] = info
	}

	r.mu.Lock()
	r.entries = next
	r.mu.Unlock()

	return r.All(), nil
}

// Refresh rescans and publishes a change for every id that appeared or vanished
func (r *Registry) Refresh(ctx context.Context) error {
	before := r.All()

	after, err := r.Scan(ctx)
	if err != nil {
		return err
	}

	prev := make(map[string]Descriptor, len(before))
	for _, d := range before {
		prev[d.ID] = d
	}
	cur := make(map[string]bool, len(after))

	for _, d := range after {
		cur[d.ID] = true
		if _, existed := prev[d.ID]; !existed {
			log.Info().Str("device", d.ID).Str("name", d.Name).Msg("device attached")
			r.publish(Change{Kind: ChangeAttached, Device: d})
		}
	}
	for id, d := range prev {
		if !cur[id] {
			d.Status = StatusDisconnected
			log.Info().Str("device", id).Str("name", d.Name).Msg("device detached")
			r.publish(Change{Kind: ChangeDetached, Device: d})
		}
	}
	return nil
}

// SetManualType forces the type of a device present in the current snapshot
func (r *Registry) SetManualType(id string, t Type) (Descriptor, error) {
	r.mu.Lock()
	info, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return Descriptor{}, errors.Wrapf(hwerr.ErrDeviceNotFound, "device %s", id)
	}
	r.overrides[id] = t
	d := r.describeLocked(info)
	r.mu.Unlock()

	log.Info().Str("device", id).Str("type", string(t)).Msg("manual device type set")
	return d, nil
}

// RestoreManualType records an override without requiring the device to be attached.
// Used when loading persisted preferences at startup.
func (r *Registry) RestoreManualType(id string, t Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[id] = t
}

// ClearManualType removes an override; the automatic rules apply again
func (r *Registry) ClearManualType(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, id)
}

// ManualType returns the override for id, if any
func (r *Registry) ManualType(id string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.overrides[id]
	return t, ok
}

// ManualEntries returns snapshot entries whose type was set by an operator
func (r *Registry) ManualEntries(t Type) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Descriptor
	for id, info := range r.entries {
		if o, ok := r.overrides[id]; ok && o == t {
			result = append(result, r.describeLocked(info))
		}
	}
	sortDescriptors(result)
	return result
}

// SetProtocolMode flags whether a device speaks the ESC/POS command protocol
func (r *Registry) SetProtocolMode(id string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protocol[id] = enabled
}

// ByID looks a device up in the snapshot
func (r *Registry) ByID(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.entries[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.describeLocked(info), true
}

// ByType returns every snapshot entry currently classified as t
func (r *Registry) ByType(t Type) []Descriptor {
	var result []Descriptor
	for _, d := range r.All() {
		if d.Type == t {
			result = append(result, d)
		}
	}
	return result
}

// All returns the snapshot ordered by id
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Descriptor, 0, len(r.entries))
	for _, info := range r.entries {
		result = append(result, r.describeLocked(info))
	}
	sortDescriptors(result)
	return result
}

// Subscribe registers fn for snapshot changes and returns a function that removes it
func (r *Registry) Subscribe(fn func(Change)) func() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	id := r.nextID
	r.nextID++
	r.listeners[id] = fn

	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		delete(r.listeners, id)
	}
}

// StartHotplug follows attach/detach notifications when the platform has them.
// Without them the registry silently relies on explicit scans.
func (r *Registry) StartHotplug(ctx context.Context) {
	if r.hotplug == nil {
		log.Debug().Msg("hotplug source not configured, using manual scans")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := r.hotplug.Events(ctx)
	if err != nil {
		cancel()
		if errors.Is(err, hwerr.ErrHotplugUnsupported) {
			log.Debug().Err(err).Msg("hotplug unavailable, using manual scans")
		} else {
			log.Warn().Err(err).Msg("hotplug subscription failed, using manual scans")
		}
		return
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.hotplugCancel = cancel
	r.hotplugDone = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for ev := range events {
			r.applyHotplug(ctx, ev)
		}
	}()
}

// Close stops hotplug processing and drops every subscriber
func (r *Registry) Close() {
	r.mu.Lock()
	cancel, done := r.hotplugCancel, r.hotplugDone
	r.hotplugCancel, r.hotplugDone = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	r.listenersMu.Lock()
	r.listeners = make(map[int]func(Change))
	r.listenersMu.Unlock()
}

func (r *Registry) applyHotplug(ctx context.Context, ev HotplugEvent) {
	switch ev.Action {
	case HotplugRemove:
		r.mu.Lock()
		var removed []Descriptor
		for id, info := range r.entries {
			if info.Bus == ev.Bus && info.Address == ev.Address {
				d := r.describeLocked(info)
				d.Status = StatusDisconnected
				removed = append(removed, d)
				delete(r.entries, id)
			}
		}
		r.mu.Unlock()

		for _, d := range removed {
			log.Info().Str("device", d.ID).Msg("device detached")
			r.publish(Change{Kind: ChangeDetached, Device: d})
		}
	case HotplugAdd:
		// String descriptors are only readable by opening the device, so rescan.
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("rescan after hotplug attach failed")
		}
	}
}

func (r *Registry) publish(c Change) {
	r.listenersMu.Lock()
	fns := make([]func(Change), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenersMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (r *Registry) describeLocked(info USBInfo) Descriptor {
	id := info.ID()
	override, hasOverride := r.overrides[id]

	d := Describe(info, Classify(info, override, hasOverride))
	d.ProtocolMode = r.protocol[id]
	return d
}

func sortDescriptors(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].ID < ds[j].ID })
}
