package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/oszuidwest/rdio-vox/internal/audio"
	"github.com/oszuidwest/rdio-vox/internal/config"
	"github.com/oszuidwest/rdio-vox/internal/eventlog"
	"github.com/oszuidwest/rdio-vox/internal/metrics"
	"github.com/oszuidwest/rdio-vox/internal/notify"
	"github.com/oszuidwest/rdio-vox/internal/recording"
	"github.com/oszuidwest/rdio-vox/internal/types"
	"github.com/oszuidwest/rdio-vox/internal/vox"
)

// App owns the monitoring loop, the upload dispatcher and everything that
// observes them. It implements server.Controller.
type App struct {
	config     *config.Config
	opener     audio.Opener
	status     *vox.StatusPublisher
	monitor    *vox.Monitor
	dispatcher *recording.Dispatcher
	notifier   *notify.Notifier
	events     *eventlog.Logger
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
}

// NewApp wires the components together. events may be nil.
func NewApp(cfg *config.Config, opener audio.Opener, events *eventlog.Logger) *App {
	a := &App{
		config:   cfg,
		opener:   opener,
		status:   vox.NewStatusPublisher(),
		notifier: notify.NewNotifier(cfg.Snapshot),
		events:   events,
		registry: prometheus.NewRegistry(),
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewMetrics(a.registry)

	snap := cfg.Snapshot()
	a.dispatcher = recording.NewDispatcher(a.uploadSettings, recording.Options{
		Workers:   snap.UploadWorkers,
		QueueSize: snap.UploadQueueSize,
		Client:    recording.NewClient(recording.DefaultUploadTimeout, "rdio-vox/"+Version),
		OnResult:  a.onUploadResult,
		OnCleanup: a.onCleanup,
	})
	metrics.RegisterUploadQueue(a.registry, a.dispatcher.Stats)

	a.monitor = vox.NewMonitor(opener, cfg.Snapshot, a, a.status, vox.Hooks{
		OnStart:     a.onMonitorStart,
		OnStop:      a.onMonitorStop,
		OnTick:      a.onTick,
		OnStarted:   a.onRecordingStarted,
		OnFinished:  a.onRecordingFinished,
		OnDiscarded: a.onRecordingDiscarded,
	})
	return a
}

// Start launches the upload workers and, when auto_start is set, monitoring.
func (a *App) Start() {
	a.dispatcher.Start()
	if a.config.Snapshot().AutoStart {
		if err := a.monitor.Start(); err != nil {
			slog.Error("auto start failed", "error", err)
		}
	}
}

// Shutdown stops monitoring, drains the upload queue and waits for pending alerts.
func (a *App) Shutdown(ctx context.Context) error {
	a.monitor.Stop()

	var errs []error
	if err := a.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("upload queue: %w", err))
	}
	if err := a.notifier.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("notifications: %w", err))
	}
	if err := a.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event log: %w", err))
	}
	return errors.Join(errs...)
}

// StartMonitor starts monitoring. Starting a running monitor does nothing.
func (a *App) StartMonitor() error {
	return a.monitor.Start()
}

// StopMonitor stops monitoring and flushes an open recording.
func (a *App) StopMonitor() {
	a.monitor.Stop()
}

// TestNotification sends a test alert on one channel.
func (a *App) TestNotification(ctx context.Context, channel string) error {
	return a.notifier.Test(ctx, channel)
}

// TestConnection probes the Rdio Scanner server with the configured key.
func (a *App) TestConnection(ctx context.Context) error {
	return a.dispatcher.TestConnection(ctx, a.config.Snapshot().Metadata)
}

// TestArchive checks the S3 archive settings.
func (a *App) TestArchive(ctx context.Context) error {
	return a.dispatcher.TestArchive(ctx)
}

// silentDB is the db_level published while the level is exactly 0.
const silentDB = -100.0

// Status combines the monitor status with upload statistics.
func (a *App) Status() types.StatusResponse {
	st := a.status.Load()
	db := st.DB
	if st.Level == 0 {
		db = silentDB
	}
	return types.StatusResponse{
		Monitoring: st.Monitoring,
		Recording:  st.Recording,
		State:      string(st.State),
		Level:      st.Level,
		DBLevel:    db,
		LastError:  st.LastError,
		Uploads:    a.dispatcher.Stats(),
	}
}

// Submit queues a finished session for upload and records it in the event log.
func (a *App) Submit(s *recording.Session) error {
	if err := a.dispatcher.Submit(s); err != nil {
		return err
	}
	a.logUpload(eventlog.UploadQueued, s.ID, "recording queued for upload", eventlog.UploadDetails{
		Filename: s.Filename(),
	})
	return nil
}

func (a *App) uploadSettings() recording.Settings {
	snap := a.config.Snapshot()
	return recording.Settings{
		Target:         recording.Target{ServerURL: snap.ServerURL, APIKey: snap.APIKey},
		Dir:            snap.RecordingsDir,
		MaxAttempts:    snap.UploadMaxAttempts,
		Normalize:      snap.Normalize,
		KeepRecordings: snap.KeepRecordings,
		RetentionDays:  snap.RetentionDays,
		Archive:        snap.Archive,
	}
}

func (a *App) onMonitorStart() {
	a.metrics.SetMonitorRunning(true)
	snap := a.config.Snapshot()
	a.logMonitor(eventlog.MonitorStarted, eventlog.MonitorDetails{
		DeviceIndex: snap.DeviceIndex,
		SampleRate:  snap.SampleRate,
		Channels:    snap.Channels,
	})
	a.notifier.DeviceRecovered()
}

func (a *App) onMonitorStop(err error) {
	a.metrics.SetMonitorRunning(false)
	snap := a.config.Snapshot()
	if err == nil {
		a.logMonitor(eventlog.MonitorStopped, eventlog.MonitorDetails{DeviceIndex: snap.DeviceIndex})
		return
	}
	a.metrics.DeviceErrors.Inc()
	a.logMonitor(eventlog.DeviceError, eventlog.MonitorDetails{DeviceIndex: snap.DeviceIndex, Error: err.Error()})
	a.notifier.DeviceError(err)
}

func (a *App) onTick(elapsed time.Duration, r audio.Reading, state vox.State) {
	a.metrics.ObserveTick(elapsed, r.Level, state == vox.StateRecording)
}

func (a *App) onRecordingStarted(s *recording.Session) {
	a.metrics.RecordingsStarted.Inc()
	a.logRecording(eventlog.RecordingStarted, s.ID, eventlog.RecordingDetails{
		Talkgroup: s.Metadata.Talkgroup,
		System:    s.Metadata.System,
	})
}

func (a *App) onRecordingFinished(s *recording.Session) {
	a.metrics.ObserveRecording(string(s.Reason), s.Duration())
	a.logRecording(eventlog.RecordingFinished, s.ID, eventlog.RecordingDetails{
		DurationMs: s.Duration().Milliseconds(),
		Reason:     string(s.Reason),
		Talkgroup:  s.Metadata.Talkgroup,
	})
}

func (a *App) onRecordingDiscarded(s *recording.Session, err error) {
	a.metrics.RecordingsDiscarded.Inc()
	details := eventlog.RecordingDetails{DurationMs: s.Duration().Milliseconds()}
	if err != nil {
		details.Error = err.Error()
	}
	a.logRecording(eventlog.RecordingDiscarded, s.ID, details)
}

// onUploadResult runs on upload workers.
func (a *App) onUploadResult(r recording.Result) {
	a.metrics.UploadResults.WithLabelValues(string(r.Outcome)).Inc()

	details := eventlog.UploadDetails{
		Filename:  r.Job.Name,
		SizeBytes: r.Job.Size,
		Attempts:  r.Job.Attempts,
		Retained:  r.Retained,
		Archived:  r.Archived,
	}
	if r.Err != nil {
		details.Error = r.Err.Error()
	}
	alert := notify.UploadAlert{
		SessionID: r.Job.SessionID,
		Filename:  r.Job.Name,
		Talkgroup: r.Job.Metadata.Talkgroup,
		Duration:  r.Job.Duration,
		Attempts:  r.Job.Attempts,
		Err:       r.Err,
	}

	switch r.Outcome {
	case recording.OutcomeDelivered:
		a.metrics.UploadBytes.Add(float64(r.Job.Size))
		a.logUpload(eventlog.UploadCompleted, r.Job.SessionID, "call uploaded", details)
	case recording.OutcomeRetrying:
		a.logUpload(eventlog.UploadRetry, r.Job.SessionID, "upload attempt failed, retrying", details)
	case recording.OutcomeFailed:
		a.logUpload(eventlog.UploadFailed, r.Job.SessionID, "upload abandoned", details)
		a.notifier.UploadFailed(alert)
	case recording.OutcomeDropped:
		a.logUpload(eventlog.UploadDropped, r.Job.SessionID, "upload queue full", details)
		a.notifier.UploadDropped(alert)
	case recording.OutcomeDiscarded:
		a.logRecording(eventlog.RecordingDiscarded, r.Job.SessionID, eventlog.RecordingDetails{
			Talkgroup: r.Job.Metadata.Talkgroup,
			Error:     details.Error,
		})
	}
}

func (a *App) onCleanup(local, archived int) {
	if local+archived == 0 {
		return
	}
	a.logUpload(eventlog.CleanupCompleted, "",
		fmt.Sprintf("removed %d local and %d archived recordings", local, archived),
		eventlog.UploadDetails{FilesDeleted: local + archived})
}

func (a *App) logMonitor(t eventlog.EventType, d eventlog.MonitorDetails) {
	if err := a.events.LogMonitor(t, d); err != nil {
		slog.Warn("failed to write event log", "type", t, "error", err)
	}
}

func (a *App) logRecording(t eventlog.EventType, sessionID string, d eventlog.RecordingDetails) {
	if err := a.events.LogRecording(t, sessionID, d); err != nil {
		slog.Warn("failed to write event log", "type", t, "error", err)
	}
}

func (a *App) logUpload(t eventlog.EventType, sessionID, msg string, d eventlog.UploadDetails) {
	if err := a.events.LogUpload(t, sessionID, msg, d); err != nil {
		slog.Warn("failed to write event log", "type", t, "error", err)
	}
}
