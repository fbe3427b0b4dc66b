package hwerr

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

func TestKindOf(t *testing.T) {
	native := fmt.Errorf("libusb: access denied")

	cases := map[string]error{
		"":                      nil,
		"device_not_found":      errors.Wrap(ErrDeviceNotFound, "usb-04b8-0e15-1-4"),
		"connection_failure":    Wrapf(ErrConnectionFailure, native, "open %s", "/dev/ttyUSB0"),
		"unsupported_operation": Wrapf(ErrUnsupportedOperation, nil, "network printers"),
		"internal":              native,
	}

	for want, err := range cases {
		if got := KindOf(err); got != want {
			t.Errorf("KindOf(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestWrapfKeepsCause(t *testing.T) {
	native := fmt.Errorf("broken pipe")
	err := Wrapf(ErrConnectionFailure, native, "write")

	if !errors.Is(err, native) {
		t.Error("Expected wrapped error to keep its native cause")
	}
	if err.Error() != "write: broken pipe" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
