// Package hardware is the facade the IPC layer talks to. It owns the device
// registry and the printer and scanner services, merges their device lists and
// re-publishes their events as one stream.
package hardware

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"github.com/thereceipt/pos-hardware/internal/journal"
	"github.com/thereceipt/pos-hardware/internal/netprobe"
	"github.com/thereceipt/pos-hardware/internal/prefs"
	"github.com/thereceipt/pos-hardware/internal/preview"
	"github.com/thereceipt/pos-hardware/internal/printer"
	"github.com/thereceipt/pos-hardware/internal/renderer"
	"github.com/thereceipt/pos-hardware/internal/scanner"
	"github.com/thereceipt/pos-hardware/pkg/receiptformat"
)

// DefaultEventBuffer is the channel capacity of a Subscribe call
const DefaultEventBuffer = 64

// Printers is the printer service as used by the orchestrator
type Printers interface {
	Discover(ctx context.Context) ([]device.Descriptor, error)
	Connect(ctx context.Context, cfg printer.Config) (device.Descriptor, error)
	Disconnect(ctx context.Context)
	Print(payload []byte) (printer.Job, error)
	TestPrint(protocolMode bool) (printer.Job, error)
	Status() printer.Status
	ActivePrinter() (device.Descriptor, bool)
	Jobs() []printer.Job
	Job(id string) (printer.Job, bool)
	ClearCompleted() int
	Subscribe(fn func(printer.Event)) func()
	Shutdown(ctx context.Context)
}

// Scanners is the scanner service as used by the orchestrator
type Scanners interface {
	Discover(ctx context.Context) ([]device.Descriptor, error)
	Connect(ctx context.Context, cfg scanner.Config) (device.Descriptor, error)
	Disconnect()
	Test() bool
	Active() (device.Descriptor, bool)
	Subscribe(fn func(scanner.Event)) func()
	Shutdown()
}

// Preferences is the persisted per-device preference store
type Preferences interface {
	DeviceType(id string) (device.Type, bool)
	ProtocolMode(id string) (bool, bool)
	SetDeviceType(id string, t device.Type) error
	SetProtocolMode(id string, enabled bool) error
	ClearDeviceType(id string) error
	All() []prefs.Entry
}

// JobHistory is the persisted print-job journal
type JobHistory interface {
	Recent(ctx context.Context, limit int) ([]journal.Record, error)
}

// Options wires the orchestrator. Registry, Printers and Scanners are required.
type Options struct {
	Registry *device.Registry
	Printers Printers
	Scanners Scanners
	// Prefs may be nil, preferences are then kept in memory only
	Prefs    Preferences
	Renderer *renderer.Renderer
	Network  *netprobe.Prober
	History  JobHistory
	// MonitorInterval enables periodic rescans when positive
	MonitorInterval time.Duration
	// ScannerPrefix and ScannerSuffix apply when a connect request sets none
	ScannerPrefix string
	ScannerSuffix string
	// PreviewFont overrides the preview font
	PreviewFont string
}

// ScannerConfig selects a scanner by registry id, path or vendor/product id
type ScannerConfig struct {
	DeviceID string `json:"deviceId,omitempty"`
	scanner.Config
}

// DeviceGroups is returned by ScanAllDevices
type DeviceGroups struct {
	USB      []device.Descriptor `json:"usb"`
	Printers []device.Descriptor `json:"printers"`
	Scanners []device.Descriptor `json:"scanners"`
}

// PreviewImage is a rendered preview
type PreviewImage struct {
	PNG     []byte          `json:"png"`
	Summary preview.Summary `json:"summary"`
}

// Orchestrator is the single entry point to the hardware
type Orchestrator struct {
	registry *device.Registry
	printers Printers
	scanners Scanners
	prefs    Preferences
	renderer *renderer.Renderer
	network  *netprobe.Prober
	history  JobHistory
	monitor  *device.Monitor

	scannerPrefix string
	scannerSuffix string
	previewFont   string

	// ctx outlives requests; hotplug runs under it
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	initialized bool
	shutdown    bool
	detach      []func()

	subsMu sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// New creates an orchestrator. Nothing is started until Initialize.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil || opts.Printers == nil || opts.Scanners == nil {
		return nil, errors.New("hardware: registry, printer and scanner services are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		registry:      opts.Registry,
		printers:      opts.Printers,
		scanners:      opts.Scanners,
		prefs:         opts.Prefs,
		renderer:      opts.Renderer,
		network:       opts.Network,
		history:       opts.History,
		monitor:       device.NewMonitor(opts.Registry, opts.MonitorInterval),
		scannerPrefix: opts.ScannerPrefix,
		scannerSuffix: opts.ScannerSuffix,
		previewFont:   opts.PreviewFont,
		ctx:           ctx,
		cancel:        cancel,
		subs:          make(map[int]chan Event),
	}
	if o.renderer == nil {
		r, err := renderer.New(renderer.Options{})
		if err != nil {
			cancel()
			return nil, err
		}
		o.renderer = r
	}
	if o.network == nil {
		o.network = netprobe.New()
	}
	return o, nil
}

// Initialize restores preferences, scans once, starts hotplug and the monitor
// and wires event forwarding. Calling it again only rescans.
func (o *Orchestrator) Initialize(ctx context.Context) Result {
	return run("initialize", func() (interface{}, error) {
		o.mu.Lock()
		if o.shutdown {
			o.mu.Unlock()
			return nil, errors.New("hardware: orchestrator is shut down")
		}
		first := !o.initialized
		o.initialized = true
		if first {
			o.restorePreferences()
			o.detach = append(o.detach,
				o.registry.Subscribe(func(c device.Change) { o.publish(fromRegistry(c)) }),
				o.printers.Subscribe(func(ev printer.Event) {
					if e, ok := fromPrinter(ev); ok {
						o.publish(e)
					}
				}),
				o.scanners.Subscribe(func(ev scanner.Event) {
					if e, ok := fromScanner(ev); ok {
						o.publish(e)
					}
				}),
			)
		}
		o.mu.Unlock()

		devices, err := o.registry.Scan(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("initial device scan failed")
		}

		if first {
			o.registry.StartHotplug(o.ctx)
			o.monitor.Start()
			log.Info().Int("devices", len(devices)).Msg("hardware initialized")
		}
		return devices, nil
	})
}

func (o *Orchestrator) restorePreferences() {
	if o.prefs == nil {
		return
	}
	for _, e := range o.prefs.All() {
		if e.Type != "" {
			o.registry.RestoreManualType(e.DeviceID, e.Type)
		}
		if e.UseProtocolMode != nil {
			o.registry.SetProtocolMode(e.DeviceID, *e.UseProtocolMode)
		}
	}
}

// ScanAllDevices rescans USB and lists printer and scanner candidates
func (o *Orchestrator) ScanAllDevices(ctx context.Context) Result {
	return run("scanDevices", func() (interface{}, error) {
		usb, err := o.registry.Scan(ctx)
		if err != nil {
			return nil, err
		}
		printers, err := o.printerList(ctx)
		if err != nil {
			return nil, err
		}
		scanners, err := o.scannerList(ctx)
		if err != nil {
			return nil, err
		}
		return DeviceGroups{USB: usb, Printers: printers, Scanners: scanners}, nil
	})
}

// GetDevices returns the registry snapshot
func (o *Orchestrator) GetDevices() Result {
	return run("getDevices", func() (interface{}, error) {
		return nonNil(o.registry.All()), nil
	})
}

// GetDevicesByType returns the snapshot entries classified as typ
func (o *Orchestrator) GetDevicesByType(typ string) Result {
	return run("getDevicesByType", func() (interface{}, error) {
		t, err := device.ParseType(typ)
		if err != nil {
			return nil, errors.Wrap(hwerr.ErrValidationFailure, err.Error())
		}
		return nonNil(o.registry.ByType(t)), nil
	})
}

// SetDeviceType records a manual override and persists it. An empty type or
// "auto" clears the override.
func (o *Orchestrator) SetDeviceType(id, typ string) Result {
	return run("setDeviceType", func() (interface{}, error) {
		if id == "" {
			return nil, errors.Wrap(hwerr.ErrValidationFailure, "device id is required")
		}

		if typ == "" || strings.EqualFold(typ, "auto") {
			o.registry.ClearManualType(id)
			if o.prefs != nil {
				if err := o.prefs.ClearDeviceType(id); err != nil {
					return nil, err
				}
			}
			d, found := o.registry.ByID(id)
			if !found {
				return nil, nil
			}
			return d, nil
		}

		t, err := device.ParseType(typ)
		if err != nil {
			return nil, errors.Wrap(hwerr.ErrValidationFailure, err.Error())
		}
		d, err := o.registry.SetManualType(id, t)
		if err != nil {
			return nil, err
		}
		if o.prefs != nil {
			if err := o.prefs.SetDeviceType(id, t); err != nil {
				return nil, err
			}
		}
		return d, nil
	})
}

// SetProtocolMode flags whether a printer speaks ESC/POS and persists it
func (o *Orchestrator) SetProtocolMode(id string, enabled bool) Result {
	return run("setProtocolMode", func() (interface{}, error) {
		if id == "" {
			return nil, errors.Wrap(hwerr.ErrValidationFailure, "device id is required")
		}
		o.registry.SetProtocolMode(id, enabled)
		if o.prefs != nil {
			if err := o.prefs.SetProtocolMode(id, enabled); err != nil {
				return nil, err
			}
		}
		return map[string]interface{}{"deviceId": id, "useProtocolMode": enabled}, nil
	})
}

// PrinterScan lists printer candidates, manual entries included
func (o *Orchestrator) PrinterScan(ctx context.Context) Result {
	return run("printerScan", func() (interface{}, error) {
		return o.printerList(ctx)
	})
}

func (o *Orchestrator) printerList(ctx context.Context) ([]device.Descriptor, error) {
	found, err := o.printers.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return o.merge(o.withRegistry(found, device.TypePrinter), device.TypePrinter), nil
}

// ScannerScan lists scanner candidates, manual entries included
func (o *Orchestrator) ScannerScan(ctx context.Context) Result {
	return run("scannerScan", func() (interface{}, error) {
		return o.scannerList(ctx)
	})
}

func (o *Orchestrator) scannerList(ctx context.Context) ([]device.Descriptor, error) {
	found, err := o.scanners.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return o.merge(o.withRegistry(found, device.TypeScanner), device.TypeScanner), nil
}

// withRegistry appends the registry's entries of type t that discovery did
// not report. Discovered entries keep their own fields.
func (o *Orchestrator) withRegistry(found []device.Descriptor, t device.Type) []device.Descriptor {
	seen := make(map[string]bool, len(found))
	for _, d := range found {
		seen[d.ID] = true
	}
	auto := append([]device.Descriptor{}, found...)
	for _, d := range o.registry.ByType(t) {
		if !seen[d.ID] {
			auto = append(auto, d)
		}
	}
	return auto
}

// merge keys auto-detected entries by id and lets the registry's manually
// typed entries replace them. Auto entries manually typed as something else
// are dropped.
func (o *Orchestrator) merge(auto []device.Descriptor, t device.Type) []device.Descriptor {
	byID := make(map[string]device.Descriptor, len(auto))
	var order []string
	for _, d := range auto {
		if mt, ok := o.registry.ManualType(d.ID); ok && mt != t {
			continue
		}
		if mode, ok := o.protocolMode(d.ID); ok {
			d.ProtocolMode = mode
		}
		if _, seen := byID[d.ID]; !seen {
			order = append(order, d.ID)
		}
		byID[d.ID] = d
	}

	for _, d := range o.registry.ManualEntries(t) {
		if _, seen := byID[d.ID]; !seen {
			order = append(order, d.ID)
		}
		byID[d.ID] = d
	}

	result := make([]device.Descriptor, 0, len(order))
	for _, id := range order {
		result = append(result, byID[id])
	}
	return result
}

func (o *Orchestrator) protocolMode(id string) (bool, bool) {
	if o.prefs == nil {
		return false, false
	}
	return o.prefs.ProtocolMode(id)
}

// PrinterConnect opens a printer. A config carrying only DeviceID is resolved
// against the registry (USB) or the serial id scheme.
func (o *Orchestrator) PrinterConnect(ctx context.Context, cfg printer.Config) Result {
	return run("printerConnect", func() (interface{}, error) {
		resolved, err := o.resolvePrinter(cfg)
		if err != nil {
			return nil, err
		}
		d, err := o.printers.Connect(ctx, resolved)
		if err != nil {
			return nil, err
		}
		return o.withProtocolMode(d), nil
	})
}

func (o *Orchestrator) resolvePrinter(cfg printer.Config) (printer.Config, error) {
	if cfg.DeviceID == "" {
		if cfg.Kind == "" {
			return cfg, errors.Wrap(hwerr.ErrValidationFailure, "printer kind or device id is required")
		}
		return cfg, nil
	}

	if strings.HasPrefix(cfg.DeviceID, "serial-") {
		if cfg.Kind == "" {
			cfg.Kind = printer.KindSerial
		}
		if cfg.Port == "" {
			cfg.Port = strings.TrimPrefix(cfg.DeviceID, "serial-")
		}
		return cfg, nil
	}

	if cfg.Kind == "" {
		cfg.Kind = printer.KindUSB
	}
	if cfg.Kind == printer.KindUSB && cfg.VendorID == 0 && cfg.ProductID == 0 {
		d, found := o.registry.ByID(cfg.DeviceID)
		if !found {
			return cfg, errors.Wrapf(hwerr.ErrDeviceNotFound, "device %s", cfg.DeviceID)
		}
		cfg.VendorID, cfg.ProductID = d.VendorID, d.ProductID
	}
	return cfg, nil
}

func (o *Orchestrator) withProtocolMode(d device.Descriptor) device.Descriptor {
	if mode, ok := o.protocolMode(d.ID); ok {
		d.ProtocolMode = mode
	}
	return d
}

// PrinterDisconnect closes the active printer
func (o *Orchestrator) PrinterDisconnect(ctx context.Context) Result {
	return run("printerDisconnect", func() (interface{}, error) {
		o.printers.Disconnect(ctx)
		return nil, nil
	})
}

// Print queues raw printer bytes
func (o *Orchestrator) Print(payload []byte) Result {
	return run("print", func() (interface{}, error) {
		return o.printers.Print(payload)
	})
}

// PrintTemplate renders a receipt and queues it. Rendering never fails; a
// broken template prints the fallback receipt.
func (o *Orchestrator) PrintTemplate(tmpl *receiptformat.Template, data receiptformat.Data, business receiptformat.BusinessInfo) Result {
	return run("printTemplate", func() (interface{}, error) {
		return o.printers.Print(o.renderer.Render(tmpl, data, business))
	})
}

// TestPrinter prints a test page. A non-empty id different from the active
// printer is connected first. A nil useProtocol falls back to the stored
// preference, then to protocol mode.
func (o *Orchestrator) TestPrinter(ctx context.Context, id string, useProtocol *bool) Result {
	return run("testPrinter", func() (interface{}, error) {
		active, connected := o.printers.ActivePrinter()
		if id != "" && (!connected || active.ID != id) {
			cfg, err := o.resolvePrinter(printer.Config{DeviceID: id})
			if err != nil {
				return nil, err
			}
			if active, err = o.printers.Connect(ctx, cfg); err != nil {
				return nil, err
			}
		} else if !connected {
			return nil, errors.Wrap(hwerr.ErrNotConnected, "no printer connected")
		}

		mode := true
		if useProtocol != nil {
			mode = *useProtocol
		} else if stored, ok := o.protocolMode(active.ID); ok {
			mode = stored
		}
		return o.printers.TestPrint(mode)
	})
}

// PrinterStatus reports the connection state and queue counters
func (o *Orchestrator) PrinterStatus() Result {
	return run("printerStatus", func() (interface{}, error) {
		return o.printers.Status(), nil
	})
}

// GetActivePrinter returns the connected printer, or no data when none is
func (o *Orchestrator) GetActivePrinter() Result {
	return run("getActivePrinter", func() (interface{}, error) {
		d, connected := o.printers.ActivePrinter()
		if !connected {
			return nil, nil
		}
		return o.withProtocolMode(d), nil
	})
}

// Jobs lists the jobs of this session
func (o *Orchestrator) Jobs() Result {
	return run("jobs", func() (interface{}, error) {
		return nonNilJobs(o.printers.Jobs()), nil
	})
}

// Job looks one job up
func (o *Orchestrator) Job(id string) Result {
	return run("job", func() (interface{}, error) {
		j, found := o.printers.Job(id)
		if !found {
			return nil, errors.Wrapf(hwerr.ErrValidationFailure, "job %s not found", id)
		}
		return j, nil
	})
}

// ClearCompletedJobs drops finished jobs from the session list
func (o *Orchestrator) ClearCompletedJobs() Result {
	return run("clearJobs", func() (interface{}, error) {
		return map[string]int{"cleared": o.printers.ClearCompleted()}, nil
	})
}

// JobHistory returns the most recent journal records
func (o *Orchestrator) JobHistory(ctx context.Context, limit int) Result {
	return run("jobHistory", func() (interface{}, error) {
		if o.history == nil {
			return nil, errors.Wrap(hwerr.ErrUnsupportedOperation, "job journal is not configured")
		}
		records, err := o.history.Recent(ctx, limit)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []journal.Record{}
		}
		return records, nil
	})
}

// ScannerConnect opens a scanner. The configured prefix and suffix apply when
// the request sets none.
func (o *Orchestrator) ScannerConnect(ctx context.Context, cfg ScannerConfig) Result {
	return run("scannerConnect", func() (interface{}, error) {
		sc := cfg.Config
		if cfg.DeviceID != "" && sc.Path == "" && sc.VendorID == 0 {
			d, found := o.registry.ByID(cfg.DeviceID)
			if !found {
				return nil, errors.Wrapf(hwerr.ErrDeviceNotFound, "device %s", cfg.DeviceID)
			}
			sc.Path = d.Path
		}
		if sc.Prefix == "" {
			sc.Prefix = o.scannerPrefix
		}
		if sc.Suffix == "" {
			sc.Suffix = o.scannerSuffix
		}
		return o.scanners.Connect(ctx, sc)
	})
}

// ScannerDisconnect closes the active scanner
func (o *Orchestrator) ScannerDisconnect() Result {
	return run("scannerDisconnect", func() (interface{}, error) {
		o.scanners.Disconnect()
		return nil, nil
	})
}

// TestScanner reports whether a scanner connection is active
func (o *Orchestrator) TestScanner() Result {
	return run("testScanner", func() (interface{}, error) {
		return o.scanners.Test(), nil
	})
}

// GetActiveScanner returns the connected scanner, or no data when none is
func (o *Orchestrator) GetActiveScanner() Result {
	return run("getActiveScanner", func() (interface{}, error) {
		d, connected := o.scanners.Active()
		if !connected {
			return nil, nil
		}
		return d, nil
	})
}

// NetworkStatus probes the configured reachability targets
func (o *Orchestrator) NetworkStatus(ctx context.Context) Result {
	return run("networkStatus", func() (interface{}, error) {
		return o.network.Status(ctx), nil
	})
}

// Preview draws printer bytes as a PNG
func (o *Orchestrator) Preview(payload []byte, paper receiptformat.PaperSize) Result {
	return run("preview", func() (interface{}, error) {
		var buf bytes.Buffer
		sum, err := preview.WritePNG(&buf, payload, preview.Options{Paper: paper, FontPath: o.previewFont})
		if err != nil {
			return nil, errors.Wrap(hwerr.ErrValidationFailure, err.Error())
		}
		return PreviewImage{PNG: buf.Bytes(), Summary: sum}, nil
	})
}

// PreviewTemplate renders a receipt and draws it without printing
func (o *Orchestrator) PreviewTemplate(tmpl *receiptformat.Template, data receiptformat.Data, business receiptformat.BusinessInfo) Result {
	paper := receiptformat.Paper80mm
	if tmpl != nil && tmpl.PaperSize != "" {
		paper = tmpl.PaperSize
	}
	return o.Preview(o.renderer.Render(tmpl, data, business), paper)
}

// Subscribe returns a channel of every hardware event and a function that
// closes it. Events are dropped for a subscriber whose buffer is full.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	ch := make(chan Event, buffer)

	o.subsMu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	o.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subsMu.Lock()
			defer o.subsMu.Unlock()
			if c, found := o.subs[id]; found {
				delete(o.subs, id)
				close(c)
			}
		})
	}
}

func (o *Orchestrator) publish(ev Event) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()

	for id, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Int("subscriber", id).Str("event", ev.Kind()).Msg("event subscriber is full, dropping event")
		}
	}
}

// Shutdown tears down every service and closes every subscription
func (o *Orchestrator) Shutdown(ctx context.Context) Result {
	return run("shutdown", func() (interface{}, error) {
		o.mu.Lock()
		if o.shutdown {
			o.mu.Unlock()
			return nil, nil
		}
		o.shutdown = true
		detach := o.detach
		o.detach = nil
		o.mu.Unlock()

		for _, fn := range detach {
			fn()
		}

		o.monitor.Stop()
		o.printers.Shutdown(ctx)
		o.scanners.Shutdown()
		o.cancel()
		o.registry.Close()

		o.subsMu.Lock()
		for id, ch := range o.subs {
			close(ch)
			delete(o.subs, id)
		}
		o.subsMu.Unlock()

		log.Info().Msg("hardware shut down")
		return nil, nil
	})
}

func nonNil(ds []device.Descriptor) []device.Descriptor {
	if ds == nil {
		return []device.Descriptor{}
	}
	return ds
}

func nonNilJobs(js []printer.Job) []printer.Job {
	if js == nil {
		return []printer.Job{}
	}
	return js
}
