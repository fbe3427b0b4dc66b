package printer

import (
	"context"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

// USBConnection represents a USB printer connection
type USBConnection struct {
	usb      *gousb.Context
	device   *gousb.Device
	iface    *gousb.Interface
	release  func()
	endpoint *gousb.OutEndpoint
	desc     device.Descriptor
	mu       sync.Mutex
}

// ConnectUSB opens the first device matching vid:pid and claims an interface
// with a bulk OUT endpoint. A device without one stays open, but every write
// fails with an unsupported-operation error.
func ConnectUSB(ctx context.Context, vid, pid uint16) (*USBConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usb := gousb.NewContext()

	dev, err := usb.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		usb.Close()
		return nil, hwerr.Wrapf(hwerr.ErrConnectionFailure, err, "failed to open USB device %04X:%04X", vid, pid)
	}
	if dev == nil {
		usb.Close()
		return nil, errors.Wrapf(hwerr.ErrDeviceNotFound, "USB printer %04X:%04X", vid, pid)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		log.Debug().Err(err).Msg("kernel driver auto-detach unavailable")
	}

	conn := &USBConnection{
		usb:    usb,
		device: dev,
		desc:   usbDescriptor(dev),
	}

	// DefaultInterface (config 1, interface 0, alt 0) works for most printers
	if iface, done, err := dev.DefaultInterface(); err == nil {
		if ep := findOutEndpoint(iface); ep != nil {
			conn.iface, conn.release, conn.endpoint = iface, done, ep
			return conn, nil
		}
		done()
	}

	if conn.claimFromConfigs() {
		return conn, nil
	}

	log.Warn().Str("printer", conn.desc.ID).Msg("no bulk OUT endpoint found, raw writes are unsupported")
	return conn, nil
}

// claimFromConfigs walks every configuration and interface looking for an OUT endpoint
func (c *USBConnection) claimFromConfigs() bool {
	for _, cfgDesc := range c.device.Desc.Configs {
		cfg, err := c.device.Config(cfgDesc.Number)
		if err != nil {
			log.Debug().Err(err).Int("config", cfgDesc.Number).Msg("failed to set USB config")
			continue
		}

		for _, ifaceDesc := range cfgDesc.Interfaces {
			iface, err := cfg.Interface(ifaceDesc.Number, 0)
			if err != nil {
				// Some devices need a moment after the kernel driver is detached
				time.Sleep(100 * time.Millisecond)
				iface, err = cfg.Interface(ifaceDesc.Number, 0)
				if err != nil {
					log.Debug().Err(err).Int("interface", ifaceDesc.Number).Msg("failed to claim USB interface")
					continue
				}
			}

			if ep := findOutEndpoint(iface); ep != nil {
				c.iface = iface
				c.endpoint = ep
				c.release = func() {
					iface.Close()
					cfg.Close()
				}
				return true
			}
			iface.Close()
		}
		cfg.Close()
	}
	return false
}

func findOutEndpoint(iface *gousb.Interface) *gousb.OutEndpoint {
	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction != gousb.EndpointDirectionOut {
			continue
		}
		if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
			return ep
		}
	}
	return nil
}

func usbDescriptor(dev *gousb.Device) device.Descriptor {
	info := device.USBInfo{
		VendorID:  uint16(dev.Desc.Vendor),
		ProductID: uint16(dev.Desc.Product),
		Bus:       dev.Desc.Bus,
		Address:   dev.Desc.Address,
	}
	info.Manufacturer, _ = dev.Manufacturer()
	info.Product, _ = dev.Product()
	info.SerialNumber, _ = dev.SerialNumber()

	d := device.Describe(info, device.TypePrinter)
	d.ProtocolMode = true
	return d
}

// Write sends data to the bulk OUT endpoint
func (c *USBConnection) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.endpoint == nil {
		return errors.Wrapf(hwerr.ErrUnsupportedOperation, "USB printer %s has no bulk OUT endpoint", c.desc.ID)
	}

	for written := 0; written < len(data); {
		n, err := c.endpoint.WriteContext(ctx, data[written:])
		if err != nil {
			return hwerr.Wrapf(hwerr.ErrConnectionFailure, err, "failed to write to USB printer")
		}
		if n == 0 {
			return errors.Wrap(hwerr.ErrConnectionFailure, "USB printer accepted no data")
		}
		written += n
	}
	return nil
}

// Descriptor describes the connected printer
func (c *USBConnection) Descriptor() device.Descriptor {
	return c.desc
}

// Close releases the interface, the device and the libusb context
func (c *USBConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.release != nil {
		c.release()
		c.release = nil
	}
	c.endpoint = nil

	var err error
	if c.device != nil {
		err = c.device.Close()
		c.device = nil
	}
	if c.usb != nil {
		if cerr := c.usb.Close(); err == nil {
			err = cerr
		}
		c.usb = nil
	}
	return err
}
