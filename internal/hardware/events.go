package hardware

import (
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"github.com/thereceipt/pos-hardware/internal/printer"
	"github.com/thereceipt/pos-hardware/internal/scanner"
)

// Event is one entry of the unified hardware stream. The set of
// implementations is closed: DeviceConnected, DeviceDisconnected,
// DeviceError, ScanReceived and PrintJobUpdated.
type Event interface {
	// Kind is the wire name of the variant
	Kind() string
	event()
}

// DeviceConnected reports a device that appeared or a connection that opened
type DeviceConnected struct {
	Device device.Descriptor `json:"device"`
}

// DeviceDisconnected reports a device that went away or a connection that closed
type DeviceDisconnected struct {
	Device device.Descriptor `json:"device"`
}

// DeviceError reports a failure on a device or a connection attempt
type DeviceError struct {
	Device    *device.Descriptor `json:"device,omitempty"`
	ErrorKind string             `json:"errorKind"`
	Message   string             `json:"message"`
}

// ScanReceived carries a decoded barcode
type ScanReceived struct {
	Scanner device.Descriptor `json:"scanner"`
	Scan    scanner.ScanEvent `json:"scan"`
}

// PrintJobUpdated carries a copy of a job whose status changed
type PrintJobUpdated struct {
	Printer device.Descriptor `json:"printer"`
	Job     printer.Job       `json:"job"`
}

func (DeviceConnected) Kind() string    { return "device_connected" }
func (DeviceDisconnected) Kind() string { return "device_disconnected" }
func (DeviceError) Kind() string        { return "device_error" }
func (ScanReceived) Kind() string       { return "scan_received" }
func (PrintJobUpdated) Kind() string    { return "print_job_updated" }

func (DeviceConnected) event()    {}
func (DeviceDisconnected) event() {}
func (DeviceError) event()        {}
func (ScanReceived) event()       {}
func (PrintJobUpdated) event()    {}

func deviceError(d *device.Descriptor, err error) DeviceError {
	return DeviceError{Device: d, ErrorKind: hwerr.KindOf(err), Message: err.Error()}
}

func fromRegistry(c device.Change) Event {
	if c.Kind == device.ChangeDetached {
		return DeviceDisconnected{Device: c.Device}
	}
	return DeviceConnected{Device: c.Device}
}

func fromPrinter(ev printer.Event) (Event, bool) {
	switch ev.Kind {
	case printer.EventConnected:
		return DeviceConnected{Device: ev.Printer}, true
	case printer.EventDisconnected:
		return DeviceDisconnected{Device: ev.Printer}, true
	case printer.EventError:
		if ev.Err == nil {
			return nil, false
		}
		var d *device.Descriptor
		if ev.Printer.ID != "" {
			p := ev.Printer
			d = &p
		}
		return deviceError(d, ev.Err), true
	case printer.EventJob:
		if ev.Job == nil {
			return nil, false
		}
		return PrintJobUpdated{Printer: ev.Printer, Job: *ev.Job}, true
	}
	return nil, false
}

func fromScanner(ev scanner.Event) (Event, bool) {
	switch ev.Kind {
	case scanner.EventConnected:
		return DeviceConnected{Device: ev.Scanner}, true
	case scanner.EventDisconnected:
		return DeviceDisconnected{Device: ev.Scanner}, true
	case scanner.EventError:
		if ev.Err == nil {
			return nil, false
		}
		var d *device.Descriptor
		if ev.Scanner.ID != "" {
			s := ev.Scanner
			d = &s
		}
		return deviceError(d, ev.Err), true
	case scanner.EventScan:
		if ev.Scan == nil {
			return nil, false
		}
		return ScanReceived{Scanner: ev.Scanner, Scan: *ev.Scan}, true
	}
	return nil, false
}
