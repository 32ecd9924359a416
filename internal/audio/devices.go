package audio

import (
	"fmt"
	"log/slog"

	"github.com/oszuidwest/rdio-vox/internal/types"
)

// ListDevices returns the capture devices known to o.
// Enumeration failures are logged and yield an empty list.
func ListDevices(o Opener) []types.AudioDevice {
	devices, err := o.Devices()
	if err != nil {
		slog.Warn("failed to list audio devices", "error", err)
		return []types.AudioDevice{}
	}
	if devices == nil {
		return []types.AudioDevice{}
	}
	return devices
}

// deviceNotFound reports a configured device index that is out of range.
func deviceNotFound(index, available int) error {
	return fmt.Errorf("%w: index %d, %d available", ErrDeviceNotFound, index, available)
}
