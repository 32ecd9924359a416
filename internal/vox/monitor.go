package vox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/audio"
	"github.com/oszuidwest/rdio-vox/internal/config"
	"github.com/oszuidwest/rdio-vox/internal/recording"
	"github.com/oszuidwest/rdio-vox/internal/util"
)

// SessionSink receives finished sessions. Submit must not block on I/O.
type SessionSink interface {
	Submit(s *recording.Session) error
}

// Hooks observe the monitoring loop. Every field is optional. Hooks run on
// the loop goroutine and must return quickly.
type Hooks struct {
	OnStart     func()
	OnStop      func(err error) // err is nil for a requested stop
	OnTick      func(elapsed time.Duration, r audio.Reading, state State)
	OnStarted   func(s *recording.Session)
	OnFinished  func(s *recording.Session)
	OnDiscarded func(s *recording.Session, err error)
}

// Monitor runs the single monitoring loop: read a block, meter it, step the
// state machine, publish status. It is safe for concurrent use.
type Monitor struct {
	opener   audio.Opener
	settings func() config.Snapshot
	sink     SessionSink
	status   *StatusPublisher
	hooks    Hooks

	mu     sync.Mutex // serializes Start and Stop
	cancel context.CancelFunc
	done   chan struct{} // closed when the current loop has exited
}

// NewMonitor returns a stopped monitor.
func NewMonitor(opener audio.Opener, settings func() config.Snapshot, sink SessionSink, status *StatusPublisher, hooks Hooks) *Monitor {
	return &Monitor{
		opener:   opener,
		settings: settings,
		sink:     sink,
		status:   status,
		hooks:    hooks,
	}
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

func (m *Monitor) runningLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Start opens the configured device and launches the loop in the idle state.
// Starting a running monitor does nothing.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runningLocked() {
		slog.Debug("monitor already running")
		return nil
	}

	snap := m.settings()
	capture := audio.CaptureConfig{
		DeviceIndex: snap.DeviceIndex,
		SampleRate:  snap.SampleRate,
		Channels:    snap.Channels,
		BlockFrames: snap.BlockFrames,
	}

	src, err := m.opener.Open(capture)
	if err != nil {
		err = util.WrapError("open audio device", err)
		m.status.Publish(Status{State: StateIdle, LastError: err.Error(), UpdatedAt: time.Now()})
		slog.Error("monitor failed to start", "device_index", capture.DeviceIndex, "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	m.status.Publish(Status{Monitoring: true, State: StateIdle, DB: audio.MinDB, UpdatedAt: time.Now()})
	slog.Info("monitor started",
		"device_index", capture.DeviceIndex,
		"sample_rate", capture.SampleRate,
		"channels", capture.Channels,
		"block", capture.BlockDuration())
	if m.hooks.OnStart != nil {
		m.hooks.OnStart()
	}

	go m.run(ctx, src, m.done)
	return nil
}

// Stop ends the loop after its current tick and flushes an open recording.
// Stopping a stopped monitor does nothing.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

// run is the monitoring loop. It owns src and the state machine.
func (m *Monitor) run(ctx context.Context, src audio.Source, done chan struct{}) {
	defer close(done)

	machine := NewMachine()
	var deviceErr error

	for {
		block, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				deviceErr = err
			}
			break
		}
		m.tick(machine, block)
	}

	if err := src.Close(); err != nil {
		slog.Warn("failed to close audio device", "error", err)
	}

	reason := recording.EndStopped
	status := Status{State: StateIdle, DB: audio.MinDB, UpdatedAt: time.Now()}
	if deviceErr != nil {
		reason = recording.EndDeviceError
		status.LastError = deviceErr.Error()
		slog.Error("audio device error, monitoring stopped", "error", deviceErr)
	}

	m.handle(machine.Flush(time.Now(), reason))
	m.status.Publish(status)
	slog.Info("monitor stopped")

	if m.hooks.OnStop != nil {
		m.hooks.OnStop(deviceErr)
	}
}

// tick processes one block. It never blocks on I/O.
func (m *Monitor) tick(machine *Machine, block audio.Block) {
	start := time.Now()
	snap := m.settings()

	audio.ApplyGain(block.Samples, snap.InputGain)
	reading := audio.Measure(block)
	m.handle(machine.Step(block, reading, ParamsFor(snap, block.Duration())))

	state := machine.State()
	m.status.Publish(Status{
		Monitoring: true,
		Recording:  state == StateRecording,
		State:      state,
		Level:      reading.Level,
		DB:         reading.DB,
		UpdatedAt:  reading.Timestamp,
	})

	if m.hooks.OnTick != nil {
		m.hooks.OnTick(time.Since(start), reading, state)
	}
}

func (m *Monitor) handle(out Outcome) {
	if s := out.Started; s != nil {
		slog.Info("recording started", "session", s.ID, "talkgroup", s.Metadata.Talkgroup)
		if m.hooks.OnStarted != nil {
			m.hooks.OnStarted(s)
		}
	}

	if s := out.Discarded; s != nil {
		level := slog.LevelWarn
		if errors.Is(out.Err, ErrTooShort) {
			level = slog.LevelInfo
		}
		slog.Log(context.Background(), level, "recording discarded",
			"session", s.ID, "duration", s.Duration(), "reason", out.Err)
		if m.hooks.OnDiscarded != nil {
			m.hooks.OnDiscarded(s, out.Err)
		}
	}

	if s := out.Finished; s != nil {
		slog.Info("recording finished",
			"session", s.ID, "duration", s.Duration(), "reason", s.Reason)
		if err := m.sink.Submit(s); err != nil {
			slog.Error("failed to queue recording for upload", "session", s.ID, "error", err)
		}
		if m.hooks.OnFinished != nil {
			m.hooks.OnFinished(s)
		}
	}
}
