// Package recording buffers VOX sessions, encodes them as WAV and delivers them
// to an Rdio Scanner server with an optional S3 archive.
package recording

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/rdio-vox/internal/types"
)

// Sentinel errors for recording operations.
var (
	// ErrEmptyPayload is returned when asked to encode a session without audio.
	ErrEmptyPayload = errors.New("empty audio payload")

	// ErrFormatMismatch is returned when a block's format differs from the session's.
	ErrFormatMismatch = errors.New("audio format changed during recording")

	// ErrNotConfigured is returned when the upload server URL or API key is missing.
	ErrNotConfigured = errors.New("upload target is not configured")

	// ErrDispatcherClosed is returned when submitting to a closed dispatcher.
	ErrDispatcherClosed = errors.New("upload dispatcher is closed")
)

// DefaultRecordingsDir is where WAV artifacts are written before upload.
const DefaultRecordingsDir = "/var/lib/rdio-vox/recordings"

// EndReason records why a session was finalized.
type EndReason string

const (
	// EndSilence means the hang time elapsed below threshold.
	EndSilence EndReason = "silence"
	// EndMaxDuration means the session hit the maximum duration bound.
	EndMaxDuration EndReason = "max_duration"
	// EndStopped means the monitor was stopped while recording.
	EndStopped EndReason = "stopped"
	// EndDeviceError means capture failed while recording.
	EndDeviceError EndReason = "device_error"
)

// Session is one VOX recording from trigger to finalization.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Reason    EndReason
	Metadata  types.Metadata
	Buffer    *Buffer
}

// NewSession starts an empty session. The metadata is copied by value.
func NewSession(startedAt time.Time, meta types.Metadata) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: startedAt,
		Metadata:  meta,
		Buffer:    &Buffer{},
	}
}

// Finish marks the session complete.
func (s *Session) Finish(at time.Time, reason EndReason) {
	s.EndedAt = at
	s.Reason = reason
}

// Duration returns the audio length of the session.
func (s *Session) Duration() time.Duration {
	return s.Buffer.Duration()
}

// Filename returns the artifact name, e.g. vox-2025-01-31-142501-3f2a9c1b.wav.
func (s *Session) Filename() string {
	short := strings.ReplaceAll(s.ID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return "vox-" + s.StartedAt.Format("2006-01-02-150405") + "-" + short + ".wav"
}
