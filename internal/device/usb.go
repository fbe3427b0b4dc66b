package device

import (
	"context"

	"github.com/google/gousb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

// USBEnumerator lists attached devices through libusb
type USBEnumerator struct{}

// Enumerate returns every attached device. Devices that cannot be opened are
// still listed, with only the ids from their device descriptor.
func (USBEnumerator) Enumerate(ctx context.Context) ([]USBInfo, error) {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	var descs []*gousb.DeviceDesc
	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		descs = append(descs, desc)
		return true
	})
	if err != nil {
		// OpenDevices still returns whatever it managed to open
		log.Debug().Err(err).Int("opened", len(devices)).Int("seen", len(descs)).
			Msg("some usb devices could not be opened")
	}
	if err != nil && len(descs) == 0 {
		return nil, hwerr.Wrapf(hwerr.ErrConnectionFailure, err, "failed to enumerate USB devices")
	}

	opened := make(map[[2]int]*gousb.Device, len(devices))
	for _, dev := range devices {
		opened[[2]int{dev.Desc.Bus, dev.Desc.Address}] = dev
	}

	infos := make([]USBInfo, 0, len(descs))
	for _, desc := range descs {
		info := infoFromDesc(desc)
		key := [2]int{desc.Bus, desc.Address}
		if dev, ok := opened[key]; ok {
			delete(opened, key)
			if ctx.Err() == nil {
				readStrings(dev, &info)
			} else {
				dev.Close()
			}
		}
		infos = append(infos, info)
	}

	for _, dev := range opened {
		dev.Close()
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "usb enumeration interrupted")
	}
	return infos, nil
}

// readStrings reads the string descriptors and always closes dev
func readStrings(dev *gousb.Device, info *USBInfo) {
	defer dev.Close()

	if s, err := dev.Manufacturer(); err == nil {
		info.Manufacturer = s
	}
	if s, err := dev.Product(); err == nil {
		info.Product = s
	}
	if s, err := dev.SerialNumber(); err == nil {
		info.SerialNumber = s
	}
}

func infoFromDesc(desc *gousb.DeviceDesc) USBInfo {
	info := USBInfo{
		VendorID:  uint16(desc.Vendor),
		ProductID: uint16(desc.Product),
		Bus:       desc.Bus,
		Address:   desc.Address,
		Class:     uint8(desc.Class),
	}

	seen := make(map[uint8]bool)
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				c := uint8(alt.Class)
				if !seen[c] {
					seen[c] = true
					info.InterfaceClasses = append(info.InterfaceClasses, c)
				}
			}
		}
	}
	return info
}
