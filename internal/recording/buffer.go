package recording

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/audio"
)

// Buffer accumulates the blocks of one session in arrival order.
// The format is fixed by the first block. A Buffer is owned by a single goroutine.
type Buffer struct {
	sampleRate int
	channels   int
	samples    []int16
	blocks     int
}

// Append adds a block. A block whose rate or channel count differs from the
// first one is rejected with ErrFormatMismatch.
func (b *Buffer) Append(block audio.Block) error {
	if b.blocks == 0 {
		b.sampleRate = block.SampleRate
		b.channels = block.Channels
	} else if block.SampleRate != b.sampleRate || block.Channels != b.channels {
		return fmt.Errorf("%w: session %d Hz x %d, block %d Hz x %d",
			ErrFormatMismatch, b.sampleRate, b.channels, block.SampleRate, block.Channels)
	}
	b.samples = append(b.samples, block.Samples...)
	b.blocks++
	return nil
}

// Blocks returns how many blocks were appended.
func (b *Buffer) Blocks() int { return b.blocks }

// SampleRate returns the frozen sample rate.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// Channels returns the frozen channel count.
func (b *Buffer) Channels() int { return b.channels }

// Frames returns the number of sample frames held.
func (b *Buffer) Frames() int {
	if b.channels == 0 {
		return 0
	}
	return len(b.samples) / b.channels
}

// Duration returns the audio length held.
func (b *Buffer) Duration() time.Duration {
	if b.sampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.sampleRate)
}

// Samples returns the interleaved samples. The slice must not be modified.
func (b *Buffer) Samples() []int16 { return b.samples }

// PCM returns the samples as little-endian 16-bit bytes.
func (b *Buffer) PCM() []byte {
	return samplesToPCM(b.samples)
}

// NormalizedPCM returns the samples peak-normalized to full scale.
func (b *Buffer) NormalizedPCM() []byte {
	out := make([]int16, len(b.samples))
	copy(out, b.samples)
	NormalizePeak(out)
	return samplesToPCM(out)
}

// NormalizePeak scales samples in place so the loudest one reaches full scale.
// Silent input is left untouched.
func NormalizePeak(samples []int16) {
	var peak float64
	for _, s := range samples {
		peak = max(peak, math.Abs(float64(s)))
	}
	if peak == 0 {
		return
	}
	gain := math.MaxInt16 / peak
	for i, s := range samples {
		samples[i] = int16(max(min(math.Round(float64(s)*gain), math.MaxInt16), math.MinInt16))
	}
}

func samplesToPCM(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
