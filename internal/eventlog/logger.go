// Package eventlog records monitor, recording and upload events in a single
// JSON lines file that the web interface can page through.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/util"
)

// EventType represents the type of event.
type EventType string

// Monitor event types.
const (
	MonitorStarted EventType = "monitor_started"
	MonitorStopped EventType = "monitor_stopped"
	DeviceError    EventType = "device_error"
)

// Recording event types.
const (
	RecordingStarted   EventType = "recording_started"
	RecordingFinished  EventType = "recording_finished"
	RecordingDiscarded EventType = "recording_discarded"
)

// Upload event types.
const (
	UploadQueued     EventType = "upload_queued"
	UploadCompleted  EventType = "upload_completed"
	UploadRetry      EventType = "upload_retry"
	UploadFailed     EventType = "upload_failed"
	UploadDropped    EventType = "upload_dropped"
	CleanupCompleted EventType = "cleanup_completed"
)

var (
	monitorEvents   = []EventType{MonitorStarted, MonitorStopped, DeviceError}
	recordingEvents = []EventType{RecordingStarted, RecordingFinished, RecordingDiscarded}
	uploadEvents    = []EventType{UploadQueued, UploadCompleted, UploadRetry, UploadFailed, UploadDropped, CleanupCompleted}
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// MonitorDetails contains monitor-specific event details.
type MonitorDetails struct {
	DeviceIndex int    `json:"device_index"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RecordingDetails contains recording-specific event details.
type RecordingDetails struct {
	DurationMs int64  `json:"duration_ms,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Talkgroup  string `json:"talkgroup,omitempty"`
	System     string `json:"system,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UploadDetails contains upload-specific event details.
type UploadDetails struct {
	Filename     string `json:"filename,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
	Error        string `json:"error,omitempty"`
	Retained     bool   `json:"retained,omitempty"`
	Archived     bool   `json:"archived,omitempty"`
	FilesDeleted int    `json:"files_deleted,omitempty"`
}

// Logger writes events to a JSON lines file. A nil *Logger discards events,
// so callers never need to check whether logging is enabled.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "rdio-vox", "logs", "events.jsonl")
	default:
		return "/var/log/rdio-vox/events.jsonl"
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, util.WrapError("create log directory", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, util.WrapError("open log file", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// LogMonitor logs a monitor lifecycle event.
func (l *Logger) LogMonitor(eventType EventType, details MonitorDetails) error {
	return l.Log(&Event{Type: eventType, Details: &details})
}

// LogRecording logs a recording event for a session.
func (l *Logger) LogRecording(eventType EventType, sessionID string, details RecordingDetails) error {
	return l.Log(&Event{Type: eventType, SessionID: sessionID, Details: &details})
}

// LogUpload logs an upload event. sessionID is empty for cleanup events.
func (l *Logger) LogUpload(eventType EventType, sessionID, message string, details UploadDetails) error {
	return l.Log(&Event{Type: eventType, SessionID: sessionID, Message: message, Details: &details})
}

// Close closes the log file. Events logged afterwards return os.ErrClosed.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterMonitor   TypeFilter = "monitor"
	FilterRecording TypeFilter = "recording"
	FilterUpload    TypeFilter = "upload"
)

// ParseFilter converts a query value into a TypeFilter.
func ParseFilter(s string) (TypeFilter, bool) {
	switch f := TypeFilter(s); f {
	case FilterAll, FilterMonitor, FilterRecording, FilterUpload:
		return f, true
	default:
		return FilterAll, false
	}
}

// Match reports whether t passes the filter.
func (f TypeFilter) Match(t EventType) bool {
	switch f {
	case FilterMonitor:
		return slices.Contains(monitorEvents, t)
	case FilterRecording:
		return slices.Contains(recordingEvents, t)
	case FilterUpload:
		return slices.Contains(uploadEvents, t)
	default:
		return true
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast returns up to n events after skipping offset matching events,
// newest first. hasMore reports whether older matching events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) (events []Event, hasMore bool, err error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, false, nil
		}
		return nil, false, util.WrapError("open event log", err)
	}
	defer util.SafeCloseFunc(file, "event log")()

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, slices.Clone(scanner.Bytes()))
	}
	if err := scanner.Err(); err != nil {
		return nil, false, util.WrapError("read event log", err)
	}

	events = make([]Event, 0, n)
	matched := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal(lines[i], &event); err != nil {
			continue // malformed line
		}
		if !filter.Match(event.Type) {
			continue
		}
		matched++
		if matched <= offset {
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}
	return events, false, nil
}
