package scanner

import (
	"context"
	"sync"

	"github.com/google/gousb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

// ReportReader yields raw input reports from a scanner
type ReportReader interface {
	ReadReport(ctx context.Context) ([]byte, error)
	Close() error
}

// Opener opens the device described by info for reading
type Opener func(ctx context.Context, info device.USBInfo) (ReportReader, error)

// hidReader reads the interrupt IN endpoint of a claimed HID interface
type hidReader struct {
	usb    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	iface  *gousb.Interface
	ep     *gousb.InEndpoint
	buf    []byte
	closed sync.Once
}

// OpenHID claims the first HID interface of the device at info's bus and address
func OpenHID(ctx context.Context, info device.USBInfo) (ReportReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usb := gousb.NewContext()

	devs, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == info.Bus && desc.Address == info.Address
	})
	if len(devs) == 0 {
		usb.Close()
		if err != nil {
			return nil, hwerr.Wrapf(hwerr.ErrConnectionFailure, err, "failed to open scanner %s", device.USBPath(info.Bus, info.Address))
		}
		return nil, errors.Wrapf(hwerr.ErrDeviceNotFound, "scanner %s", device.USBPath(info.Bus, info.Address))
	}
	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	if err := dev.SetAutoDetach(true); err != nil {
		log.Debug().Err(err).Msg("kernel driver auto-detach unavailable")
	}

	r := &hidReader{usb: usb, dev: dev}
	if err := r.claim(); err != nil {
		r.Close()
		return nil, err
	}
	r.buf = make([]byte, r.ep.Desc.MaxPacketSize)
	return r, nil
}

func (r *hidReader) claim() error {
	for _, cfgDesc := range r.dev.Desc.Configs {
		for _, ifaceDesc := range cfgDesc.Interfaces {
			for _, alt := range ifaceDesc.AltSettings {
				if alt.Class != gousb.ClassHID {
					continue
				}
				epNum, ok := interruptIn(alt)
				if !ok {
					continue
				}

				cfg, err := r.dev.Config(cfgDesc.Number)
				if err != nil {
					return hwerr.Wrapf(hwerr.ErrConnectionFailure, err, "failed to select scanner configuration")
				}
				iface, err := cfg.Interface(ifaceDesc.Number, alt.Alternate)
				if err != nil {
					cfg.Close()
					return hwerr.Wrapf(hwerr.ErrConnectionFailure, err, "failed to claim scanner interface")
				}
				ep, err := iface.InEndpoint(epNum)
				if err != nil {
					iface.Close()
					cfg.Close()
					return hwerr.Wrapf(hwerr.ErrConnectionFailure, err, "failed to open scanner endpoint")
				}

				r.cfg, r.iface, r.ep = cfg, iface, ep
				return nil
			}
		}
	}
	return errors.Wrap(hwerr.ErrUnsupportedOperation, "device has no HID interrupt IN endpoint")
}

func interruptIn(alt gousb.InterfaceSetting) (int, bool) {
	for _, ep := range alt.Endpoints {
		if ep.Direction == gousb.EndpointDirectionIn && ep.TransferType == gousb.TransferTypeInterrupt {
			return ep.Number, true
		}
	}
	return 0, false
}

// ReadReport blocks until the next report arrives or ctx ends
func (r *hidReader) ReadReport(ctx context.Context) ([]byte, error) {
	n, err := r.ep.ReadContext(ctx, r.buf)
	if err != nil {
		return nil, err
	}
	report := make([]byte, n)
	copy(report, r.buf[:n])
	return report, nil
}

func (r *hidReader) Close() error {
	var err error
	r.closed.Do(func() {
		if r.iface != nil {
			r.iface.Close()
		}
		if r.cfg != nil {
			r.cfg.Close()
		}
		if r.dev != nil {
			err = r.dev.Close()
		}
		if cerr := r.usb.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
