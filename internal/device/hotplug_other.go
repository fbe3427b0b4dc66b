//go:build !linux

package device

import (
	"context"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/hwerr"
)

type unsupportedHotplug struct{}

// NewHotplugSource returns the platform hotplug source
func NewHotplugSource() HotplugSource {
	return unsupportedHotplug{}
}

func (unsupportedHotplug) Events(ctx context.Context) (<-chan HotplugEvent, error) {
	return nil, errors.WithStack(hwerr.ErrHotplugUnsupported)
}
