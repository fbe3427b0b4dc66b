package printer

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/device"
)

// USB interface class of printers
const usbClassPrinter = 0x07

// Discoverer finds printers that could be connected
type Discoverer struct {
	USB         device.Enumerator
	SerialPorts func() ([]SerialPort, error)
	// Probe verifies that a serial port can be opened
	Probe func(path string) bool
}

// NewDiscoverer uses libusb and the OS serial port list
func NewDiscoverer() *Discoverer {
	return &Discoverer{
		USB:         device.USBEnumerator{},
		SerialPorts: ListSerialPorts,
		Probe:       ProbeSerial,
	}
}

// Discover lists USB printers (printer interface class or a known printer
// vendor) and serial ports that open. A failing source is logged and skipped.
func (d *Discoverer) Discover(ctx context.Context) ([]device.Descriptor, error) {
	var printers []device.Descriptor

	if d.USB != nil {
		infos, err := d.USB.Enumerate(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("USB printer detection failed")
		}
		for _, info := range infos {
			if !info.HasInterfaceClass(usbClassPrinter) && !device.IsKnownPrinterVendor(info.VendorID) {
				continue
			}
			p := device.Describe(info, device.TypePrinter)
			p.ProtocolMode = true
			printers = append(printers, p)
		}
	}

	if d.SerialPorts != nil {
		ports, err := d.SerialPorts()
		if err != nil {
			log.Warn().Err(err).Msg("serial printer detection failed")
		}
		for _, port := range ports {
			if ctx.Err() != nil {
				break
			}
			if d.Probe != nil && !d.Probe(port.Path) {
				continue
			}
			printers = append(printers, port.Descriptor())
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(printers, func(i, j int) bool { return printers[i].ID < printers[j].ID })
	return printers, nil
}
