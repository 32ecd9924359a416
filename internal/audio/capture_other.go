//go:build !linux

package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/gen2brain/malgo"

	"github.com/oszuidwest/rdio-vox/internal/types"
	"github.com/oszuidwest/rdio-vox/internal/util"
)

// malgoOpener captures through miniaudio (CoreAudio, WASAPI).
type malgoOpener struct{}

// DefaultOpener returns the capture backend for the current platform.
func DefaultOpener() Opener {
	return malgoOpener{}
}

// Devices implements Opener.
func (malgoOpener) Devices() ([]types.AudioDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, util.WrapError("initialize audio context", err)
	}
	defer func() {
		ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, util.WrapError("list capture devices", err)
	}

	devices := make([]types.AudioDevice, 0, len(infos))
	for i, d := range infos {
		devices = append(devices, types.AudioDevice{
			Index: i,
			ID:    d.ID.String(),
			Name:  d.Name(),
		})
	}
	return devices, nil
}

// Open implements Opener.
func (o malgoOpener) Open(cfg CaptureConfig) (Source, error) {
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChannels, cfg.Channels)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, util.WrapError("initialize audio context", err)
	}
	release := func() {
		ctx.Uninit()
		ctx.Free()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.BlockFrames)

	if cfg.DeviceIndex >= 0 {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			release()
			return nil, util.WrapError("list capture devices", err)
		}
		if cfg.DeviceIndex >= len(infos) {
			release()
			return nil, deviceNotFound(cfg.DeviceIndex, len(infos))
		}
		deviceConfig.Capture.DeviceID = infos[cfg.DeviceIndex].ID.Pointer()
	}

	src := newStreamSource(cfg)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			samples := make([]int16, len(data)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
			}
			src.push(samples)
		},
		Stop: func() {
			src.fail()
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		release()
		return nil, util.WrapError("open capture device", err)
	}

	src.stop = func() {
		device.Stop()
		device.Uninit()
		release()
	}

	if err := device.Start(); err != nil {
		src.stop()
		return nil, util.WrapError("start capture device", err)
	}

	return src, nil
}
