package vox

import (
	"errors"
	"testing"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/audio"
	"github.com/oszuidwest/rdio-vox/internal/config"
	"github.com/oszuidwest/rdio-vox/internal/recording"
	"github.com/oszuidwest/rdio-vox/internal/types"
)

const (
	testRate   = 8000
	testFrames = 80 // 10 ms blocks
)

var (
	loud  = audio.ToneBlock(0.5, testFrames, testRate, 1)
	quiet = audio.ToneBlock(0.01, testFrames, testRate, 1)
)

func testParams() Params {
	return Params{
		Threshold:        0.1,
		ReleaseThreshold: 0.1,
		HangBlocks:       3,
		MaxBlocks:        100,
		Metadata:         types.Metadata{System: "7", Talkgroup: "42"},
	}
}

// stepBlock stamps and meters b, then feeds it to m.
func stepBlock(m *Machine, b audio.Block, at time.Time, p Params) Outcome {
	b.Samples = append([]int16(nil), b.Samples...)
	b.Timestamp = at
	return m.Step(b, audio.Measure(b), p)
}

func TestIdleBelowThreshold(t *testing.T) {
	m := NewMachine()
	p := testParams()
	now := time.Now()

	for i := range 50 {
		out := stepBlock(m, quiet, now.Add(time.Duration(i)*10*time.Millisecond), p)
		if out.Started != nil || out.Finished != nil || out.Discarded != nil {
			t.Fatalf("tick %d produced %+v, want nothing", i, out)
		}
		if m.State() != StateIdle || m.Session() != nil {
			t.Fatalf("tick %d: state = %s, want idle without session", i, m.State())
		}
	}
}

func TestTriggerBlockIsFirst(t *testing.T) {
	m := NewMachine()
	p := testParams()
	now := time.Now()

	stepBlock(m, quiet, now, p)
	trigger := audio.ToneBlock(0.7, testFrames, testRate, 1)
	out := stepBlock(m, trigger, now.Add(10*time.Millisecond), p)

	if out.Started == nil {
		t.Fatal("Started = nil, want a new session")
	}
	if m.State() != StateRecording {
		t.Fatalf("state = %s, want recording", m.State())
	}
	buf := out.Started.Buffer
	if buf.Blocks() != 1 || buf.Samples()[0] != trigger.Samples[0] {
		t.Errorf("session does not start with the triggering block")
	}
	if !out.Started.StartedAt.Equal(now.Add(10 * time.Millisecond)) {
		t.Errorf("StartedAt = %v, want trigger timestamp", out.Started.StartedAt)
	}
	if out.Started.Metadata.Talkgroup != "42" {
		t.Errorf("Metadata = %+v, want talkgroup 42", out.Started.Metadata)
	}
}

func TestHangTimeIsExact(t *testing.T) {
	for _, hang := range []int{1, 2, 5} {
		m := NewMachine()
		p := testParams()
		p.HangBlocks = hang
		now := time.Now()
		at := func(i int) time.Time { return now.Add(time.Duration(i) * 10 * time.Millisecond) }

		stepBlock(m, loud, at(0), p)
		for i := 1; i < hang; i++ {
			if out := stepBlock(m, quiet, at(i), p); out.Finished != nil {
				t.Fatalf("hang %d: finished after %d quiet blocks", hang, i)
			}
			if m.State() != StateRecording {
				t.Fatalf("hang %d: left recording after %d quiet blocks", hang, i)
			}
		}

		out := stepBlock(m, quiet, at(hang), p)
		if out.Finished == nil {
			t.Fatalf("hang %d: not finished after %d quiet blocks", hang, hang)
		}
		if m.State() != StateIdle {
			t.Errorf("hang %d: state = %s, want idle", hang, m.State())
		}
		if out.Finished.Reason != recording.EndSilence {
			t.Errorf("hang %d: Reason = %s, want silence", hang, out.Finished.Reason)
		}
		if got := out.Finished.Buffer.Blocks(); got != hang+1 {
			t.Errorf("hang %d: session has %d blocks, want %d", hang, got, hang+1)
		}
	}
}

func TestLoudBlockResetsHang(t *testing.T) {
	m := NewMachine()
	p := testParams()
	now := time.Now()
	seq := []audio.Block{loud, quiet, quiet, loud, quiet, quiet}

	for i, b := range seq {
		if out := stepBlock(m, b, now.Add(time.Duration(i)*10*time.Millisecond), p); out.Finished != nil {
			t.Fatalf("finished at block %d, want still recording", i)
		}
	}
	if out := stepBlock(m, quiet, now.Add(time.Second), p); out.Finished == nil {
		t.Fatal("not finished after three consecutive quiet blocks")
	}
}

func TestReleaseThresholdHysteresis(t *testing.T) {
	m := NewMachine()
	p := testParams()
	p.Threshold = 0.4
	p.ReleaseThreshold = 0.05
	p.HangBlocks = 1
	now := time.Now()

	mid := audio.ToneBlock(0.2, testFrames, testRate, 1)
	if out := stepBlock(m, mid, now, p); out.Started != nil {
		t.Fatal("block below threshold started a session")
	}
	stepBlock(m, loud, now, p)
	for i := range 10 {
		if out := stepBlock(m, mid, now, p); out.Finished != nil {
			t.Fatalf("block above release threshold ended the session at %d", i)
		}
	}
	if out := stepBlock(m, quiet, now, p); out.Finished == nil {
		t.Error("block below release threshold did not end the session")
	}
}

func TestMaxDurationForcesFinish(t *testing.T) {
	m := NewMachine()
	p := testParams()
	p.MaxBlocks = 10
	now := time.Now()

	var finished *recording.Session
	for i := range 25 {
		out := stepBlock(m, loud, now.Add(time.Duration(i)*10*time.Millisecond), p)
		if out.Finished != nil {
			finished = out.Finished
			if i != 9 {
				t.Errorf("finished at block %d, want 9", i)
			}
			break
		}
	}
	if finished == nil {
		t.Fatal("session never finished under continuous signal")
	}
	if finished.Reason != recording.EndMaxDuration {
		t.Errorf("Reason = %s, want max_duration", finished.Reason)
	}
	if got := finished.Buffer.Blocks(); got != 10 {
		t.Errorf("blocks = %d, want 10", got)
	}

	if out := stepBlock(m, loud, now.Add(time.Second), p); out.Started == nil {
		t.Error("continuous signal did not start a new session after the bound")
	}
}

func TestSingleBlockSessionIsKept(t *testing.T) {
	m := NewMachine()
	p := testParams()
	p.HangBlocks = 1

	stepBlock(m, loud, time.Now(), p)
	out := stepBlock(m, quiet, time.Now(), p)
	if out.Finished == nil {
		t.Fatal("short session was not finalized")
	}
}

func TestMinDurationDiscards(t *testing.T) {
	m := NewMachine()
	p := testParams()
	p.HangBlocks = 1
	p.MinDuration = time.Second

	stepBlock(m, loud, time.Now(), p)
	out := stepBlock(m, quiet, time.Now(), p)
	if out.Finished != nil || out.Discarded == nil || !errors.Is(out.Err, ErrTooShort) {
		t.Fatalf("outcome = %+v, want discarded as too short", out)
	}
}

func TestFormatChangeDiscards(t *testing.T) {
	m := NewMachine()
	p := testParams()

	stepBlock(m, loud, time.Now(), p)
	stereo := audio.ToneBlock(0.5, testFrames, testRate, 2)
	out := stepBlock(m, stereo, time.Now(), p)
	if out.Discarded == nil || !errors.Is(out.Err, recording.ErrFormatMismatch) {
		t.Fatalf("outcome = %+v, want discarded with ErrFormatMismatch", out)
	}
	if m.State() != StateIdle {
		t.Errorf("state = %s, want idle", m.State())
	}
}

func TestFlush(t *testing.T) {
	m := NewMachine()
	p := testParams()

	if out := m.Flush(time.Now(), recording.EndStopped); out.Finished != nil {
		t.Fatal("Flush while idle produced a session")
	}

	stepBlock(m, loud, time.Now(), p)
	out := m.Flush(time.Now(), recording.EndStopped)
	if out.Finished == nil || out.Finished.Reason != recording.EndStopped {
		t.Fatalf("Flush outcome = %+v, want stopped session", out)
	}
	if m.State() != StateIdle {
		t.Errorf("state = %s, want idle", m.State())
	}
}

func TestParamsFor(t *testing.T) {
	snap := config.Snapshot{
		VoxThreshold:  0.2,
		HangTimeMs:    1500,
		MaxDurationMs: 300000,
		MinDurationMs: 1000,
	}
	p := ParamsFor(snap, 100*time.Millisecond)
	if p.HangBlocks != 15 || p.MaxBlocks != 3000 {
		t.Errorf("HangBlocks/MaxBlocks = %d/%d, want 15/3000", p.HangBlocks, p.MaxBlocks)
	}
	if p.ReleaseThreshold != 0.2 {
		t.Errorf("ReleaseThreshold = %v, want threshold", p.ReleaseThreshold)
	}

	p = ParamsFor(config.Snapshot{HangTimeMs: 10}, 23*time.Millisecond)
	if p.HangBlocks != 1 {
		t.Errorf("HangBlocks = %d, want at least 1", p.HangBlocks)
	}
	if got := ticks(50*time.Millisecond, 20*time.Millisecond); got != 3 {
		t.Errorf("ticks(50ms, 20ms) = %d, want 3", got)
	}
}
