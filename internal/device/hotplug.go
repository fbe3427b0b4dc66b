package device

import "context"

// HotplugAction is the kind of kernel notification
type HotplugAction string

const (
	HotplugAdd    HotplugAction = "add"
	HotplugRemove HotplugAction = "remove"
)

// HotplugEvent reports one USB device attaching or detaching
type HotplugEvent struct {
	Action    HotplugAction
	Bus       int
	Address   int
	VendorID  uint16
	ProductID uint16
}

// HotplugSource delivers attach/detach notifications until ctx ends, then closes
// the channel. Platforms without notifications return hwerr.ErrHotplugUnsupported.
type HotplugSource interface {
	Events(ctx context.Context) (<-chan HotplugEvent, error)
}
