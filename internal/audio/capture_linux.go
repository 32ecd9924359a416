//go:build linux

package audio

import (
	"fmt"

	"github.com/jfreymuth/pulse"

	"github.com/oszuidwest/rdio-vox/internal/types"
	"github.com/oszuidwest/rdio-vox/internal/util"
)

// pulseOpener captures through PulseAudio or the PipeWire pulse server.
type pulseOpener struct{}

// DefaultOpener returns the capture backend for the current platform.
func DefaultOpener() Opener {
	return pulseOpener{}
}

// Devices implements Opener.
func (pulseOpener) Devices() ([]types.AudioDevice, error) {
	client, err := pulse.NewClient()
	if err != nil {
		return nil, util.WrapError("connect to pulse server", err)
	}
	defer client.Close()

	sources, err := client.ListSources()
	if err != nil {
		return nil, util.WrapError("list pulse sources", err)
	}

	devices := make([]types.AudioDevice, 0, len(sources))
	for i, s := range sources {
		devices = append(devices, types.AudioDevice{
			Index:      i,
			ID:         s.ID(),
			Name:       s.Name(),
			Channels:   len(s.Channels()),
			SampleRate: s.SampleRate(),
		})
	}
	return devices, nil
}

// Open implements Opener.
func (pulseOpener) Open(cfg CaptureConfig) (Source, error) {
	var layout pulse.RecordOption
	switch cfg.Channels {
	case 1:
		layout = pulse.RecordMono
	case 2:
		layout = pulse.RecordStereo
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChannels, cfg.Channels)
	}

	client, err := pulse.NewClient()
	if err != nil {
		return nil, util.WrapError("connect to pulse server", err)
	}

	opts := []pulse.RecordOption{
		layout,
		pulse.RecordSampleRate(cfg.SampleRate),
		pulse.RecordLatency(cfg.BlockDuration().Seconds()),
	}

	if cfg.DeviceIndex >= 0 {
		sources, err := client.ListSources()
		if err != nil {
			client.Close()
			return nil, util.WrapError("list pulse sources", err)
		}
		if cfg.DeviceIndex >= len(sources) {
			client.Close()
			return nil, deviceNotFound(cfg.DeviceIndex, len(sources))
		}
		opts = append(opts, pulse.RecordSource(sources[cfg.DeviceIndex]))
	}

	src := newStreamSource(cfg)
	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		src.push(buf)
		return len(buf), nil
	})

	stream, err := client.NewRecord(writer, opts...)
	if err != nil {
		client.Close()
		return nil, util.WrapError("open pulse record stream", err)
	}

	src.stop = func() {
		stream.Stop()
		stream.Close()
		client.Close()
	}
	stream.Start()

	return src, nil
}
