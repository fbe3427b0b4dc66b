package printer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

// Connection is an open handle to one printer
type Connection interface {
	Write(ctx context.Context, data []byte) error
	Close() error
	// Descriptor describes the printer behind the handle
	Descriptor() device.Descriptor
}

// Dialer opens a connection for a config
type Dialer func(ctx context.Context, cfg Config) (Connection, error)

// Dial dispatches on the connection kind
func Dial(ctx context.Context, cfg Config) (Connection, error) {
	switch cfg.Kind {
	case KindUSB:
		conn, err := ConnectUSB(ctx, cfg.VendorID, cfg.ProductID)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case KindSerial:
		conn, err := ConnectSerial(cfg.Port, cfg.BaudRate)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case KindNetwork:
		return ConnectNetwork(cfg.Host, cfg.NetPort)
	}
	return nil, errors.Wrapf(hwerr.ErrUnsupportedOperation, "unsupported printer type: %q", cfg.Kind)
}
