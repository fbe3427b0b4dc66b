package printer

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tarm "github.com/tarm/serial"
	"github.com/thereceipt/pos-hardware/internal/device"
	"go.bug.st/serial/enumerator"
)

// SerialPort is a candidate serial printer port
type SerialPort struct {
	Path         string
	IsUSB        bool
	VendorID     uint16
	ProductID    uint16
	SerialNumber string
	Product      string
}

// Descriptor describes the port as a printer candidate
func (p SerialPort) Descriptor() device.Descriptor {
	name := "Serial: " + filepath.Base(p.Path)
	if p.Product != "" {
		name = fmt.Sprintf("%s (%s)", p.Product, filepath.Base(p.Path))
	}
	return device.Descriptor{
		ID:           SerialID(p.Path),
		Name:         name,
		Type:         device.TypePrinter,
		Connection:   device.ConnSerial,
		Status:       device.StatusConnected,
		VendorID:     p.VendorID,
		ProductID:    p.ProductID,
		SerialNumber: p.SerialNumber,
		Path:         p.Path,
		ProtocolMode: true,
	}
}

// ListSerialPorts asks the OS for serial ports, falling back to well-known
// device paths when the detailed list is unavailable
func ListSerialPorts() ([]SerialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil && len(details) > 0 {
		ports := make([]SerialPort, 0, len(details))
		for _, d := range details {
			if skipSerialPort(d.Name) {
				continue
			}
			ports = append(ports, SerialPort{
				Path:         d.Name,
				IsUSB:        d.IsUSB,
				VendorID:     parseHexID(d.VID),
				ProductID:    parseHexID(d.PID),
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		return ports, nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("detailed serial port list unavailable, scanning device paths")
	}

	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = scanMacOSPorts()
	case "linux":
		paths = scanLinuxPorts()
	case "windows":
		paths = scanWindowsPorts()
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	ports := make([]SerialPort, 0, len(paths))
	for _, p := range paths {
		ports = append(ports, SerialPort{Path: p})
	}
	return ports, nil
}

// ProbeSerial opens and closes path to verify that it exists and is free
func ProbeSerial(path string) bool {
	port, err := tarm.OpenPort(&tarm.Config{
		Name:        path,
		Baud:        DefaultBaudRate,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return false
	}
	port.Close()
	return true
}

// Bluetooth and console ports are never printers
var serialSkipPatterns = []string{"Bluetooth", "debug-console", "KeySerial", "Modem", "SPP"}

func skipSerialPort(path string) bool {
	for _, pattern := range serialSkipPatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

func parseHexID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

func scanMacOSPorts() []string {
	var ports []string
	for _, pattern := range []string{"/dev/cu.*", "/dev/tty.*"} {
		matches, _ := filepath.Glob(pattern)
		for _, match := range matches {
			if !skipSerialPort(match) {
				ports = append(ports, match)
			}
		}
	}
	return ports
}

func scanLinuxPorts() []string {
	var ports []string
	for _, pattern := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*"} {
		matches, _ := filepath.Glob(pattern)
		ports = append(ports, matches...)
	}
	return ports
}

func scanWindowsPorts() []string {
	ports := make([]string, 0, 256)
	for i := 1; i <= 256; i++ {
		ports = append(ports, fmt.Sprintf("COM%d", i))
	}
	return ports
}
