// Package vox implements the voice-operated recording trigger and the loop that drives it.
package vox

import (
	"errors"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/audio"
	"github.com/oszuidwest/rdio-vox/internal/config"
	"github.com/oszuidwest/rdio-vox/internal/recording"
	"github.com/oszuidwest/rdio-vox/internal/types"
)

// ErrTooShort is reported for sessions shorter than the configured minimum.
var ErrTooShort = errors.New("recording shorter than minimum duration")

// State is the trigger state.
type State string

const (
	// StateIdle means no recording is open.
	StateIdle State = "idle"
	// StateRecording means a session is collecting blocks.
	StateRecording State = "recording"
)

// Params are the trigger settings for one tick.
type Params struct {
	Threshold        float64 // Level that opens a session
	ReleaseThreshold float64 // Level that keeps it open
	HangBlocks       int     // Consecutive quiet blocks that close it, at least 1
	MaxBlocks        int     // Blocks after which it is closed regardless of level
	MinDuration      time.Duration
	Metadata         types.Metadata // Copied into new sessions
}

// ParamsFor converts configuration into tick counts for blocks of the given duration.
func ParamsFor(snap config.Snapshot, block time.Duration) Params {
	return Params{
		Threshold:        snap.VoxThreshold,
		ReleaseThreshold: snap.ReleaseThreshold(),
		HangBlocks:       ticks(time.Duration(snap.HangTimeMs)*time.Millisecond, block),
		MaxBlocks:        ticks(time.Duration(snap.MaxDurationMs)*time.Millisecond, block),
		MinDuration:      time.Duration(snap.MinDurationMs) * time.Millisecond,
		Metadata:         snap.Metadata,
	}
}

// ticks rounds d up to whole blocks, with a minimum of one.
func ticks(d, block time.Duration) int {
	if block <= 0 {
		return 1
	}
	return max(int((d+block-1)/block), 1)
}

// Outcome reports what a tick changed. At most one of Finished and Discarded is set.
type Outcome struct {
	Started   *recording.Session // Opened on this tick
	Finished  *recording.Session // Closed and ready for upload
	Discarded *recording.Session // Closed and dropped, see Err
	Err       error
}

// Machine is the IDLE/RECORDING state machine. It is owned by one goroutine
// and is not safe for concurrent use.
type Machine struct {
	state   State
	session *recording.Session
	quiet   int // consecutive blocks below the release threshold
	blocks  int
	minDur  time.Duration
}

// NewMachine returns a machine in the idle state.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Session returns the open session, or nil when idle.
func (m *Machine) Session() *recording.Session {
	return m.session
}

// Step feeds one block and its reading through the state machine.
func (m *Machine) Step(block audio.Block, r audio.Reading, p Params) Outcome {
	var out Outcome
	m.minDur = p.MinDuration
	end := block.Timestamp.Add(block.Duration())

	if m.state == StateIdle {
		if r.Level < p.Threshold {
			return out
		}
		s := recording.NewSession(block.Timestamp, p.Metadata)
		if err := s.Buffer.Append(block); err != nil {
			out.Discarded, out.Err = s, err
			return out
		}
		m.state = StateRecording
		m.session = s
		m.quiet = 0
		m.blocks = 1
		out.Started = s
	} else {
		if err := m.session.Buffer.Append(block); err != nil {
			m.session.Finish(end, recording.EndDeviceError)
			out.Discarded, out.Err = m.session, err
			m.reset()
			return out
		}
		m.blocks++
		if r.Level >= p.ReleaseThreshold {
			m.quiet = 0
		} else {
			m.quiet++
		}
	}

	switch {
	case m.quiet >= max(p.HangBlocks, 1):
		m.finish(&out, end, recording.EndSilence)
	case m.blocks >= max(p.MaxBlocks, 1):
		m.finish(&out, end, recording.EndMaxDuration)
	}
	return out
}

// Flush closes the open session, if any, as if it had ended normally.
func (m *Machine) Flush(at time.Time, reason recording.EndReason) Outcome {
	var out Outcome
	if m.state == StateRecording {
		m.finish(&out, at, reason)
	}
	return out
}

func (m *Machine) finish(out *Outcome, at time.Time, reason recording.EndReason) {
	s := m.session
	s.Finish(at, reason)
	m.reset()

	if m.minDur > 0 && s.Duration() < m.minDur {
		out.Discarded, out.Err = s, ErrTooShort
		return
	}
	out.Finished = s
}

func (m *Machine) reset() {
	m.state = StateIdle
	m.session = nil
	m.quiet = 0
	m.blocks = 0
}
