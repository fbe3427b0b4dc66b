// Package device maintains the snapshot of attached USB peripherals and their classification
package device

import (
	"fmt"
	"strings"
)

// Type is the role a peripheral plays at the point of sale
type Type string

const (
	TypePrinter         Type = "printer"
	TypeScanner         Type = "scanner"
	TypeCashDrawer      Type = "cash_drawer"
	TypeScale           Type = "scale"
	TypePaymentTerminal Type = "payment_terminal"
	TypeCustomerDisplay Type = "customer_display"
	TypeUnknown         Type = "unknown"
)

var knownTypes = []Type{
	TypePrinter, TypeScanner, TypeCashDrawer, TypeScale,
	TypePaymentTerminal, TypeCustomerDisplay, TypeUnknown,
}

// ParseType accepts the canonical names and a few spellings used by UI layers
func ParseType(s string) (Type, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "cashdrawer":
		norm = string(TypeCashDrawer)
	case "paymentterminal":
		norm = string(TypePaymentTerminal)
	case "customerdisplay":
		norm = string(TypeCustomerDisplay)
	}
	for _, t := range knownTypes {
		if string(t) == norm {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown device type: %q", s)
}

// Connection is the transport a device is reached over
type Connection string

const (
	ConnUSB       Connection = "usb"
	ConnNetwork   Connection = "network"
	ConnSerial    Connection = "serial"
	ConnBluetooth Connection = "bluetooth"
	ConnHID       Connection = "hid"
)

// Status is the last known state of a device
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReady        Status = "ready"
	StatusBusy         Status = "busy"
	StatusError        Status = "error"
)

// Descriptor describes one peripheral. ID is unique within a snapshot.
type Descriptor struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         Type       `json:"type"`
	Connection   Connection `json:"connection"`
	Status       Status     `json:"status"`
	VendorID     uint16     `json:"vendorId,omitempty"`
	ProductID    uint16     `json:"productId,omitempty"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	SerialNumber string     `json:"serialNumber,omitempty"`
	Path         string     `json:"path,omitempty"`
	Address      string     `json:"address,omitempty"`
	ProtocolMode bool       `json:"protocolMode"`
}

// USBInfo is what enumeration learns about one USB device.
// String fields stay empty when the device could not be opened.
type USBInfo struct {
	VendorID         uint16
	ProductID        uint16
	Bus              int
	Address          int
	Class            uint8
	InterfaceClasses []uint8
	Manufacturer     string
	Product          string
	SerialNumber     string
}

// USBID derives the registry id of a USB device
func USBID(vid, pid uint16, bus, address int) string {
	return fmt.Sprintf("usb-%04x-%04x-%d-%d", vid, pid, bus, address)
}

// USBPath is the bus:address path used to reopen a device
func USBPath(bus, address int) string {
	return fmt.Sprintf("%03d:%03d", bus, address)
}

// ParseUSBPath is the inverse of USBPath
func ParseUSBPath(path string) (bus, address int, err error) {
	if _, err = fmt.Sscanf(path, "%d:%d", &bus, &address); err != nil {
		return 0, 0, fmt.Errorf("invalid usb path %q: %w", path, err)
	}
	return bus, address, nil
}

// Describe builds the descriptor of an attached USB device classified as t
func Describe(info USBInfo, t Type) Descriptor {
	return Descriptor{
		ID:           info.ID(),
		Name:         info.DisplayName(),
		Type:         t,
		Connection:   ConnUSB,
		Status:       StatusConnected,
		VendorID:     info.VendorID,
		ProductID:    info.ProductID,
		Manufacturer: info.Manufacturer,
		SerialNumber: info.SerialNumber,
		Path:         USBPath(info.Bus, info.Address),
	}
}

// ID returns the registry id of the device
func (u USBInfo) ID() string {
	return USBID(u.VendorID, u.ProductID, u.Bus, u.Address)
}

// DisplayName picks the most descriptive name available
func (u USBInfo) DisplayName() string {
	switch {
	case u.Manufacturer != "" && u.Product != "" && !strings.HasPrefix(u.Product, u.Manufacturer):
		return u.Manufacturer + " " + u.Product
	case u.Product != "":
		return u.Product
	case u.Manufacturer != "":
		return u.Manufacturer
	}
	return fmt.Sprintf("USB Device %04X:%04X", u.VendorID, u.ProductID)
}

// HasInterfaceClass reports whether the device itself or any interface carries class c
func (u USBInfo) HasInterfaceClass(c uint8) bool {
	if u.Class == c {
		return true
	}
	for _, ic := range u.InterfaceClasses {
		if ic == c {
			return true
		}
	}
	return false
}
