package audio

import (
	"context"
	"errors"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/types"
)

// Capture errors. Both end the monitoring loop; neither is retried automatically.
var (
	ErrDeviceClosed  = errors.New("audio device closed")
	ErrDeviceStalled = errors.New("audio device stalled")
)

// ErrUnsupportedChannels is returned when a backend cannot capture the requested channel count.
var ErrUnsupportedChannels = errors.New("unsupported channel count")

// ErrDeviceNotFound is returned when the configured device index is not in the device list.
var ErrDeviceNotFound = errors.New("audio device not found")

// Block is one fixed-size read from a capture device.
type Block struct {
	// Samples holds interleaved signed 16-bit PCM.
	Samples []int16
	// SampleRate is the capture rate in Hz.
	SampleRate int
	// Channels is the number of interleaved channels.
	Channels int
	// Timestamp is when the block was delivered by the device.
	Timestamp time.Time
}

// Frames returns the number of sample frames in the block.
func (b Block) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback duration of the block.
func (b Block) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Reading is the level of a single block.
type Reading struct {
	// Level is the RMS amplitude normalized to [0,1].
	Level float64
	// DB is 20*log10(Level), floored at MinDB.
	DB float64
	// Timestamp is copied from the measured block.
	Timestamp time.Time
}

// CaptureConfig selects a device and the format to capture in.
type CaptureConfig struct {
	DeviceIndex int // Position in Devices(); negative selects the system default
	SampleRate  int
	Channels    int
	BlockFrames int // Frames per delivered Block
}

// BlockDuration returns the nominal duration of one block.
func (c CaptureConfig) BlockDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.BlockFrames) * time.Second / time.Duration(c.SampleRate)
}

// Source delivers blocks from an open capture device.
type Source interface {
	// Read blocks until the next block is available, the device fails, or ctx is done.
	Read(ctx context.Context) (Block, error)
	Close() error
}

// Opener opens capture devices and enumerates them.
type Opener interface {
	Open(cfg CaptureConfig) (Source, error)
	Devices() ([]types.AudioDevice, error)
}
