package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/audio"
	"github.com/oszuidwest/rdio-vox/internal/config"
	"github.com/oszuidwest/rdio-vox/internal/eventlog"
	"github.com/oszuidwest/rdio-vox/internal/notify"
	"github.com/oszuidwest/rdio-vox/internal/recording"
	"github.com/oszuidwest/rdio-vox/internal/server"
	"github.com/oszuidwest/rdio-vox/internal/types"
)

// testTimeout bounds connection, archive and notification tests.
const testTimeout = 30 * time.Second

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeRequestError answers 400 with field errors when err carries them.
func (s *Server) writeRequestError(w http.ResponseWriter, err error) {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		s.writeJSON(w, http.StatusBadRequest, verr)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

// parseJSON decodes and validates the body, writing a 400 on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	v, err := server.DecodeRequest[T](r)
	if err != nil {
		s.writeRequestError(w, err)
		return v, false
	}
	return v, true
}

func (s *Server) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// handleAPIStatus returns the live monitor status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.app.Status())
}

// handleAPIConfig reads or updates the configuration.
// GET /api/config, POST /api/config
func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, configResponse(s.config.Snapshot()))
	case http.MethodPost:
		s.updateConfig(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// configUpdateResponse is returned after a successful POST /api/config.
type configUpdateResponse struct {
	types.ConfigResponse
	RestartRequired []string `json:"restart_required"`
	CaptureChanged  bool     `json:"capture_changed"`
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.ConfigUpdateRequest](s, w, r)
	if !ok {
		return
	}

	var passwordHash string
	if req.WebPassword != "" {
		hash, err := config.HashPassword(req.WebPassword)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		passwordHash = hash
	}

	before := s.config.Snapshot()
	err := s.config.Update(func(cfg *config.Settings) error {
		req.Apply(cfg)
		if passwordHash != "" {
			cfg.Web.PasswordHash = passwordHash
		}
		return nil
	})
	if err != nil {
		slog.Warn("configuration update rejected", "error", err)
		s.writeRequestError(w, err)
		return
	}
	after := s.config.Snapshot()

	restart := config.RestartRequired(before, after)
	capture := config.CaptureChanged(before, after)
	slog.Info("configuration updated", "restart_required", restart, "capture_changed", capture)

	s.writeJSON(w, http.StatusOK, configUpdateResponse{
		ConfigResponse:  configResponse(after),
		RestartRequired: restart,
		CaptureChanged:  capture,
	})
}

// configResponse flattens a snapshot for the API, masking secrets.
func configResponse(cfg config.Snapshot) types.ConfigResponse {
	return types.ConfigResponse{
		ServerURL: cfg.ServerURL,
		APIKey:    cfg.APIKey,

		DeviceIndex: cfg.DeviceIndex,
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		BlockFrames: cfg.BlockFrames,
		InputGain:   cfg.InputGain,

		VoxThreshold:        cfg.VoxThreshold,
		VoxReleaseThreshold: cfg.VoxReleaseThreshold,
		HangTimeMs:          cfg.HangTimeMs,
		MaxDurationMs:       cfg.MaxDurationMs,
		MinDurationMs:       cfg.MinDurationMs,
		Normalize:           cfg.Normalize,

		Metadata: cfg.Metadata,

		WebPort:   cfg.WebPort,
		AutoStart: cfg.AutoStart,

		UploadMaxAttempts: cfg.UploadMaxAttempts,
		UploadWorkers:     cfg.UploadWorkers,
		UploadQueueSize:   cfg.UploadQueueSize,
		RecordingsDir:     cfg.RecordingsDir,
		KeepRecordings:    cfg.KeepRecordings,
		RetentionDays:     cfg.RetentionDays,

		S3Endpoint:  cfg.Archive.Endpoint,
		S3Bucket:    cfg.Archive.Bucket,
		S3Region:    cfg.Archive.Region,
		S3AccessKey: cfg.Archive.AccessKeyID,
		S3HasSecret: cfg.Archive.SecretAccessKey != "",
		S3Prefix:    cfg.Archive.Prefix,

		WebhookURL:       cfg.WebhookURL,
		EventLogPath:     cfg.LogPath,
		GraphTenantID:    cfg.GraphTenantID,
		GraphClientID:    cfg.GraphClientID,
		GraphHasSecret:   cfg.GraphClientSecret != "",
		GraphFromAddress: cfg.GraphFromAddress,
		GraphRecipients:  cfg.GraphRecipients,
	}
}

// handleAPIControl starts or stops monitoring. Both actions are idempotent.
// POST /api/control
func (s *Server) handleAPIControl(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := parseJSON[server.ControlRequest](s, w, r)
	if !ok {
		return
	}

	switch req.Action {
	case "start":
		if err := s.app.StartMonitor(); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	case "stop":
		s.app.StopMonitor()
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleAPIDevices returns the capture devices in index order.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, audio.ListDevices(s.app.opener))
}

// handleAPIVersion returns build and release information.
// GET /api/version
func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.version.Info())
}

// handleAPIChangeSettings changes the console password and web port after
// checking the current password.
// POST /api/change-settings
func (s *Server) handleAPIChangeSettings(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := parseJSON[server.ChangeSettingsRequest](s, w, r)
	if !ok {
		return
	}
	if !s.config.CheckPassword(req.CurrentPassword) {
		s.writeError(w, http.StatusUnauthorized, config.ErrWrongPassword.Error())
		return
	}

	var passwordHash string
	if req.NewPassword != "" {
		hash, err := config.HashPassword(req.NewPassword)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		passwordHash = hash
	}

	before := s.config.Snapshot()
	err := s.config.Update(func(cfg *config.Settings) error {
		if passwordHash != "" {
			cfg.Web.PasswordHash = passwordHash
		}
		if req.WebPort != nil {
			cfg.Web.Port = *req.WebPort
		}
		return nil
	})
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	restart := config.RestartRequired(before, s.config.Snapshot())
	slog.Info("console settings changed", "password_changed", passwordHash != "", "restart_required", restart)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"restart_required": len(restart) > 0,
	})
}

// handleAPITestConnection sends a probe call to the Rdio Scanner server.
// POST /api/test-connection
func (s *Server) handleAPITestConnection(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	s.runTest(w, r, s.app.TestConnection)
}

// handleAPITestArchive checks the S3 archive settings.
// POST /api/archive/test
func (s *Server) handleAPITestArchive(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	s.runTest(w, r, s.app.TestArchive)
}

// handleAPITestNotification sends a test alert on one channel.
// POST /api/notifications/test
func (s *Server) handleAPITestNotification(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := parseJSON[server.NotificationTestRequest](s, w, r)
	if !ok {
		return
	}
	s.runTest(w, r, func(ctx context.Context) error {
		return s.app.TestNotification(ctx, req.Channel)
	})
}

// runTest runs a connectivity test and reports its outcome. A failed test is
// a successful request, so the body carries the error with status 200.
func (s *Server) runTest(w http.ResponseWriter, r *http.Request, test func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), testTimeout)
	defer cancel()

	if err := test(ctx); err != nil {
		if errors.Is(err, notify.ErrNotConfigured) || errors.Is(err, recording.ErrNotConfigured) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// eventsResponse is a page of the event log.
type eventsResponse struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// handleAPIEvents returns a newest-first page of the event log.
// GET /api/events?limit=&offset=&type=
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), 100)
	offset := queryInt(q.Get("offset"), 0)
	if limit < 1 || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "limit must be positive and offset non-negative")
		return
	}
	filter, ok := eventlog.ParseFilter(q.Get("type"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "type must be monitor, recording or upload")
		return
	}

	path := s.app.events.Path()
	if path == "" {
		s.writeJSON(w, http.StatusOK, eventsResponse{Events: []eventlog.Event{}})
		return
	}

	events, hasMore, err := eventlog.ReadLast(path, limit, offset, filter)
	if err != nil {
		slog.Error("failed to read event log", "path", path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read event log")
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	s.writeJSON(w, http.StatusOK, eventsResponse{Events: events, HasMore: hasMore})
}

// queryInt parses a query value, returning def when it is empty and -1 when
// it is not a number.
func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
