//go:build linux

package device

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"golang.org/x/sys/unix"
)

const ueventBufferSize = 8192

// NetlinkHotplug listens for kernel uevents on a NETLINK_KOBJECT_UEVENT socket
type NetlinkHotplug struct{}

// NewHotplugSource returns the platform hotplug source
func NewHotplugSource() HotplugSource {
	return NetlinkHotplug{}
}

func (NetlinkHotplug) Events(ctx context.Context) (<-chan HotplugEvent, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, hwerr.Wrapf(hwerr.ErrHotplugUnsupported, err, "open netlink socket")
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		unix.Close(fd)
		return nil, hwerr.Wrapf(hwerr.ErrHotplugUnsupported, err, "bind netlink socket")
	}
	// Bounded reads let the loop notice cancellation.
	tv := unix.Timeval{Usec: 250000}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, hwerr.Wrapf(hwerr.ErrHotplugUnsupported, err, "set netlink read timeout")
	}

	events := make(chan HotplugEvent, 16)
	go func() {
		defer close(events)
		defer unix.Close(fd)

		buf := make([]byte, ueventBufferSize)
		for ctx.Err() == nil {
			n, err := unix.Read(fd, buf)
			if err != nil {
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
					continue
				}
				log.Warn().Err(err).Msg("netlink read failed, hotplug stopped")
				return
			}
			ev, ok := parseUEvent(buf[:n])
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// parseUEvent keeps add/remove notifications for whole USB devices.
// A message is a header followed by NUL-separated KEY=VALUE pairs.
func parseUEvent(msg []byte) (HotplugEvent, bool) {
	fields := bytes.Split(msg, []byte{0})
	if len(fields) < 2 {
		return HotplugEvent{}, false
	}

	env := make(map[string]string, len(fields))
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(string(f), "="); ok {
			env[k] = v
		}
	}

	if env["SUBSYSTEM"] != "usb" || env["DEVTYPE"] != "usb_device" {
		return HotplugEvent{}, false
	}

	ev := HotplugEvent{Action: HotplugAction(env["ACTION"])}
	if ev.Action != HotplugAdd && ev.Action != HotplugRemove {
		return HotplugEvent{}, false
	}
	ev.Bus, _ = strconv.Atoi(env["BUSNUM"])
	ev.Address, _ = strconv.Atoi(env["DEVNUM"])

	// PRODUCT is vid/pid/bcdDevice in unpadded hex
	if parts := strings.Split(env["PRODUCT"], "/"); len(parts) >= 2 {
		if v, err := strconv.ParseUint(parts[0], 16, 16); err == nil {
			ev.VendorID = uint16(v)
		}
		if p, err := strconv.ParseUint(parts[1], 16, 16); err == nil {
			ev.ProductID = uint16(p)
		}
	}
	return ev, true
}
