package audio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// minStallTimeout is the shortest time Read waits for a block before declaring the device stalled.
const minStallTimeout = 2 * time.Second

// blockBacklog is how many complete blocks may wait for the reader before new ones are dropped.
const blockBacklog = 32

// streamSource adapts a callback-driven backend to the blocking Source interface.
// Backends call push from their audio thread and fail when the device stops.
type streamSource struct {
	cfg    CaptureConfig
	blocks chan Block
	stall  time.Duration

	mu      sync.Mutex // guards pending
	pending []int16

	overruns atomic.Int64

	closed    chan struct{}
	closeOnce sync.Once
	stopOnce  sync.Once
	stop      func()
}

func newStreamSource(cfg CaptureConfig) *streamSource {
	return &streamSource{
		cfg:     cfg,
		blocks:  make(chan Block, blockBacklog),
		stall:   max(minStallTimeout, 4*cfg.BlockDuration()),
		pending: make([]int16, 0, 2*cfg.BlockFrames*cfg.Channels),
		closed:  make(chan struct{}),
	}
}

// push appends interleaved samples and emits every complete block.
// It never blocks: when the reader falls behind, whole blocks are dropped and counted.
func (s *streamSource) push(samples []int16) {
	size := s.cfg.BlockFrames * s.cfg.Channels
	if size <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, samples...)
	for len(s.pending) >= size {
		block := Block{
			Samples:    make([]int16, size),
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Timestamp:  time.Now(),
		}
		copy(block.Samples, s.pending[:size])
		s.pending = append(s.pending[:0], s.pending[size:]...)

		select {
		case s.blocks <- block:
		default:
			if n := s.overruns.Add(1); n == 1 || n%100 == 0 {
				slog.Warn("audio reader falling behind, dropping blocks", "dropped", n)
			}
		}
	}
}

// fail marks the device as gone. Pending reads return ErrDeviceClosed.
func (s *streamSource) fail() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Read implements Source.
func (s *streamSource) Read(ctx context.Context) (Block, error) {
	// Deliver queued blocks before reporting closure.
	select {
	case b := <-s.blocks:
		return b, nil
	default:
	}

	timer := time.NewTimer(s.stall)
	defer timer.Stop()

	select {
	case b := <-s.blocks:
		return b, nil
	case <-s.closed:
		return Block{}, ErrDeviceClosed
	case <-timer.C:
		return Block{}, ErrDeviceStalled
	case <-ctx.Done():
		return Block{}, ctx.Err()
	}
}

// Close implements Source. It is safe to call more than once.
func (s *streamSource) Close() error {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
	s.fail()
	return nil
}
