package audio

import (
	"context"
	"sync"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/types"
)

// FakeSource replays scripted blocks. It is used in tests and for dry runs without hardware.
type FakeSource struct {
	// Interval paces reads to emulate device cadence. Zero returns blocks immediately.
	Interval time.Duration
	// EndErr is returned once all blocks are consumed. A nil EndErr makes Read
	// wait for ctx instead, like an idle device.
	EndErr error

	mu     sync.Mutex
	blocks []Block
	reads  int
	closed bool
}

// NewFakeSource returns a source that yields blocks in order.
func NewFakeSource(blocks ...Block) *FakeSource {
	return &FakeSource{blocks: blocks}
}

// Read implements Source.
func (f *FakeSource) Read(ctx context.Context) (Block, error) {
	if f.Interval > 0 {
		select {
		case <-time.After(f.Interval):
		case <-ctx.Done():
			return Block{}, ctx.Err()
		}
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Block{}, ErrDeviceClosed
	}
	if f.reads < len(f.blocks) {
		b := f.blocks[f.reads]
		f.reads++
		f.mu.Unlock()
		b.Samples = append([]int16(nil), b.Samples...)
		if b.Timestamp.IsZero() {
			b.Timestamp = time.Now()
		}
		return b, nil
	}
	endErr := f.EndErr
	f.mu.Unlock()

	if endErr != nil {
		return Block{}, endErr
	}
	<-ctx.Done()
	return Block{}, ctx.Err()
}

// Close implements Source.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Reads returns how many blocks have been delivered.
func (f *FakeSource) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Closed reports whether Close was called.
func (f *FakeSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeOpener hands out sources built by NewSource.
type FakeOpener struct {
	// NewSource builds the source for each Open call.
	NewSource func(cfg CaptureConfig) Source
	// OpenErr, when set, fails every Open.
	OpenErr error
	// DeviceList is returned by Devices. When set, Open rejects indexes outside it.
	DeviceList []types.AudioDevice

	mu    sync.Mutex
	opens int
}

// Open implements Opener.
func (o *FakeOpener) Open(cfg CaptureConfig) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	if o.DeviceList != nil && cfg.DeviceIndex >= len(o.DeviceList) {
		return nil, deviceNotFound(cfg.DeviceIndex, len(o.DeviceList))
	}
	o.opens++
	return o.NewSource(cfg), nil
}

// Devices implements Opener.
func (o *FakeOpener) Devices() ([]types.AudioDevice, error) {
	return o.DeviceList, nil
}

// Opens returns how many sources were opened.
func (o *FakeOpener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// ToneBlock returns a square wave block whose RMS level equals level.
func ToneBlock(level float64, frames, sampleRate, channels int) Block {
	amp := int16(min(max(level, 0), 1) * (MaxSampleValue - 1))
	samples := make([]int16, frames*channels)
	for i := range samples {
		if (i/channels)%2 == 0 {
			samples[i] = amp
		} else {
			samples[i] = -amp
		}
	}
	return Block{Samples: samples, SampleRate: sampleRate, Channels: channels}
}
