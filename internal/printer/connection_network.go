package printer

import (
	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

// ConnectNetwork is the extension point for raw TCP (port 9100) printers.
// It is not implemented; use netprobe to check reachability.
func ConnectNetwork(host string, port int) (Connection, error) {
	if port == 0 {
		port = 9100
	}
	return nil, errors.Wrapf(hwerr.ErrUnsupportedOperation, "network printer %s:%d: network printing is not implemented", host, port)
}
