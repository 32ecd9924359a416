package audio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStreamSourceChunksIntoBlocks(t *testing.T) {
	src := newStreamSource(CaptureConfig{SampleRate: 8000, Channels: 2, BlockFrames: 4})

	// 3 frames then 7 frames yields two complete 4-frame blocks and one leftover frame.
	src.push(make([]int16, 6))
	src.push([]int16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14})

	ctx := context.Background()
	first, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(first.Samples) != 8 || first.Frames() != 4 {
		t.Fatalf("first block has %d samples (%d frames), want 8 (4)", len(first.Samples), first.Frames())
	}
	if first.Samples[6] != 1 || first.Samples[7] != 2 {
		t.Errorf("first block tail = %v, want samples continuing across pushes", first.Samples[6:])
	}

	second, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if second.Samples[0] != 3 || second.Samples[7] != 10 {
		t.Errorf("second block = %v, want 3..10", second.Samples)
	}
	if second.SampleRate != 8000 || second.Channels != 2 {
		t.Errorf("block format = %d Hz x %d, want 8000 x 2", second.SampleRate, second.Channels)
	}
}

func TestStreamSourceDeliversQueuedBlocksBeforeClosure(t *testing.T) {
	src := newStreamSource(CaptureConfig{SampleRate: 8000, Channels: 1, BlockFrames: 2})
	src.push([]int16{1, 2})
	src.fail()

	if _, err := src.Read(context.Background()); err != nil {
		t.Fatalf("Read() error = %v, want queued block", err)
	}
	if _, err := src.Read(context.Background()); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("Read() error = %v, want ErrDeviceClosed", err)
	}
}

func TestStreamSourceStall(t *testing.T) {
	src := newStreamSource(CaptureConfig{SampleRate: 8000, Channels: 1, BlockFrames: 2})
	src.stall = 10 * time.Millisecond

	if _, err := src.Read(context.Background()); !errors.Is(err, ErrDeviceStalled) {
		t.Errorf("Read() error = %v, want ErrDeviceStalled", err)
	}
}

func TestStreamSourceReadHonoursContext(t *testing.T) {
	src := newStreamSource(CaptureConfig{SampleRate: 8000, Channels: 1, BlockFrames: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}

func TestStreamSourceCloseRunsStopOnce(t *testing.T) {
	src := newStreamSource(CaptureConfig{SampleRate: 8000, Channels: 1, BlockFrames: 2})
	calls := 0
	src.stop = func() { calls++ }

	_ = src.Close()
	_ = src.Close()

	if calls != 1 {
		t.Errorf("stop called %d times, want 1", calls)
	}
}

func TestFakeSourceEndErr(t *testing.T) {
	src := NewFakeSource(ToneBlock(0.5, 4, 8000, 1))
	src.EndErr = ErrDeviceClosed

	if _, err := src.Read(context.Background()); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if _, err := src.Read(context.Background()); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("Read() error = %v, want ErrDeviceClosed", err)
	}
	if src.Reads() != 1 {
		t.Errorf("Reads() = %d, want 1", src.Reads())
	}
}
