package printer

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/device"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
	"go.bug.st/serial"
)

// SerialConnection represents a serial printer connection. Close may run
// while a Write is blocked on flow control and unblocks it.
type SerialConnection struct {
	path string
	baud int

	mu   sync.Mutex
	port serial.Port
}

// SerialID derives the registry id of a serial port
func SerialID(path string) string {
	return "serial-" + path
}

// ConnectSerial opens a serial printer at baud, 8 data bits, no parity, one stop bit
func ConnectSerial(path string, baud int) (*SerialConnection, error) {
	if path == "" {
		return nil, errors.Wrap(hwerr.ErrDeviceNotFound, "serial port path is required")
	}
	if baud == 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortNotFound {
			return nil, errors.Wrapf(hwerr.ErrDeviceNotFound, "serial port %s", path)
		}
		return nil, hwerr.Wrapf(hwerr.ErrConnectionFailure, err, "failed to open serial port %s", path)
	}

	return &SerialConnection{
		port: port,
		path: path,
		baud: baud,
	}, nil
}

// Write sends data and waits until the OS has transmitted it
func (c *SerialConnection) Write(ctx context.Context, data []byte) error {
	port := c.currentPort()
	if port == nil {
		return errors.Wrap(hwerr.ErrNotConnected, "serial port closed")
	}

	for written := 0; written < len(data); {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "serial write cancelled")
		}
		n, err := port.Write(data[written:])
		if err != nil {
			return c.ioError(err, "failed to write to serial printer")
		}
		written += n
	}

	if err := port.Drain(); err != nil {
		return c.ioError(err, "failed to drain serial port")
	}
	return nil
}

func (c *SerialConnection) currentPort() serial.Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// ioError reports a failure caused by a concurrent Close as not connected
func (c *SerialConnection) ioError(err error, msg string) error {
	if c.currentPort() == nil {
		return errors.Wrap(hwerr.ErrNotConnected, "serial port closed during write")
	}
	return hwerr.Wrapf(hwerr.ErrConnectionFailure, err, msg)
}

// Descriptor describes the connected printer
func (c *SerialConnection) Descriptor() device.Descriptor {
	return device.Descriptor{
		ID:           SerialID(c.path),
		Name:         "Serial printer (" + filepath.Base(c.path) + ")",
		Type:         device.TypePrinter,
		Connection:   device.ConnSerial,
		Status:       device.StatusConnected,
		Path:         c.path,
		ProtocolMode: true,
	}
}

// Close closes the serial connection without waiting for a pending write
func (c *SerialConnection) Close() error {
	c.mu.Lock()
	port := c.port
	c.port = nil
	c.mu.Unlock()

	if port == nil {
		return nil
	}
	return port.Close()
}
