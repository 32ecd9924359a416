// Package config provides application configuration management.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"

	"github.com/oszuidwest/rdio-vox/internal/types"
	"github.com/oszuidwest/rdio-vox/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultPath              = "/etc/rdio-vox/config.json"
	DefaultWebPort           = 8080
	DefaultWebPassword       = "admin"
	DefaultSampleRate        = 44100
	DefaultChannels          = 1
	DefaultBlockFrames       = 1024
	DefaultInputGain         = 0.5
	DefaultVoxThreshold      = 0.1
	DefaultHangTimeMs        = 1500
	DefaultMaxDurationMs     = 300000 // 5 minutes
	DefaultUploadMaxAttempts = 5
	DefaultUploadWorkers     = 2
	DefaultUploadQueueSize   = 32
	DefaultRecordingsDir     = "/var/lib/rdio-vox/recordings"
)

// Allowed ranges for validated settings.
const (
	MinWebPort        = 1024
	MaxWebPort        = 65535
	MinPasswordLength = 6
)

// ErrWrongPassword is returned when the current password does not match.
var ErrWrongPassword = errors.New("current password is incorrect")

// SystemConfig holds process-level behavior.
type SystemConfig struct {
	AutoStart bool `json:"auto_start"` // Start monitoring at boot
}

// WebConfig holds web console settings that require restart.
type WebConfig struct {
	Port         int    `json:"port"`          // HTTP server port
	PasswordHash string `json:"password_hash"` // bcrypt hash of the console password
}

// AudioConfig holds capture device settings.
type AudioConfig struct {
	DeviceIndex int     `json:"device_index"` // Index into the device list
	SampleRate  int     `json:"sample_rate"`  // Hz
	Channels    int     `json:"channels"`     // 1 or 2
	BlockFrames int     `json:"block_frames"` // Frames per block; one block is one tick
	InputGain   float64 `json:"input_gain"`   // Linear gain applied before metering
}

// VoxConfig holds the trigger and session bounds.
type VoxConfig struct {
	Threshold        float64 `json:"threshold"`         // Level that starts a recording
	ReleaseThreshold float64 `json:"release_threshold"` // Level that keeps it open, 0 = Threshold
	HangTimeMs       int64   `json:"hang_time_ms"`      // Sub-threshold time before the recording ends
	MaxDurationMs    int64   `json:"max_duration_ms"`   // Hard bound on one recording
	MinDurationMs    int64   `json:"min_duration_ms"`   // Shorter recordings are discarded, 0 = keep all
	Normalize        bool    `json:"normalize"`         // Peak-normalize before encoding
}

// UploadConfig holds the Rdio Scanner target and delivery settings.
type UploadConfig struct {
	ServerURL      string `json:"server_url"`
	APIKey         string `json:"api_key"`
	MaxAttempts    int    `json:"max_attempts"`
	Workers        int    `json:"workers"`
	QueueSize      int    `json:"queue_size"`
	RecordingsDir  string `json:"recordings_dir"`
	KeepRecordings bool   `json:"keep_recordings"`
	RetentionDays  int    `json:"retention_days"` // 0 disables cleanup
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url"` // Webhook URL for alerts
}

// LogConfig holds event log settings.
type LogConfig struct {
	Path string `json:"path"` // JSON-lines event log path
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"`
	Log     LogConfig     `json:"log"`
	Email   EmailConfig   `json:"email"`
}

// Settings is the persisted configuration document.
type Settings struct {
	System        SystemConfig        `json:"system"`
	Web           WebConfig           `json:"web"`
	Audio         AudioConfig         `json:"audio"`
	Vox           VoxConfig           `json:"vox"`
	Radio         types.Metadata      `json:"radio"`
	Upload        UploadConfig        `json:"upload"`
	Archive       types.S3Config      `json:"archive"`
	Notifications NotificationsConfig `json:"notifications"`
}

// Config is the live configuration. Writers serialize on a mutex; readers load
// the latest Snapshot without locking. It is safe for concurrent use.
type Config struct {
	mu       sync.Mutex
	current  Settings
	snap     atomic.Pointer[Snapshot]
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.current.applyDefaults()
	c.publish()
	return c
}

// Path returns the file the configuration is persisted to.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := Settings{}
	dirty := false
	data, err := os.ReadFile(c.filePath)
	switch {
	case os.IsNotExist(err):
		next.applyDefaults()
		dirty = true
	case err != nil:
		return util.WrapError("read config", err)
	default:
		if err := json.Unmarshal(data, &next); err != nil {
			return util.WrapError("parse config", err)
		}
		next.applyDefaults()
	}

	if next.Web.PasswordHash == "" {
		hash, err := HashPassword(DefaultWebPassword)
		if err != nil {
			return err
		}
		next.Web.PasswordHash = hash
		dirty = true
	}

	if err := next.validate(); err != nil {
		return err
	}

	c.current = next
	if dirty {
		if err := c.saveLocked(); err != nil {
			return err
		}
	}
	c.publish()
	return nil
}

// Update applies fn to a copy of the settings, validates the result and
// persists it. The live configuration is unchanged when any step fails.
func (c *Config) Update(fn func(*Settings) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current
	next := c.current
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.validate(); err != nil {
		return err
	}

	c.current = next
	if err := c.saveLocked(); err != nil {
		c.current = prev
		return err
	}
	c.publish()
	return nil
}

// SetPassword replaces the console password.
func (c *Config) SetPassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return c.Update(func(s *Settings) error {
		s.Web.PasswordHash = hash
		return nil
	})
}

// ChangePassword replaces the console password after verifying the current one.
func (c *Config) ChangePassword(current, next string) error {
	if !c.CheckPassword(current) {
		return ErrWrongPassword
	}
	return c.SetPassword(next)
}

// CheckPassword reports whether password matches the stored hash.
func (c *Config) CheckPassword(password string) bool {
	hash := c.Snapshot().PasswordHash
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword returns the bcrypt hash stored for a console password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", util.WrapError("hash password", err)
	}
	return string(hash), nil
}

// validate checks all configuration fields and reports every violation.
func (s *Settings) validate() error {
	verr := types.NewValidationError()

	if p := s.Web.Port; p < MinWebPort || p > MaxWebPort {
		verr.Add("web_port", fmt.Sprintf("must be between %d and %d", MinWebPort, MaxWebPort), p)
	}

	a := s.Audio
	if a.DeviceIndex < 0 {
		verr.Add("device_index", "must not be negative", a.DeviceIndex)
	}
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		verr.Add("sample_rate", "must be between 8000 and 192000", a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		verr.Add("channels", "must be 1 or 2", a.Channels)
	}
	if a.BlockFrames < 64 || a.BlockFrames > 16384 {
		verr.Add("block_frames", "must be between 64 and 16384", a.BlockFrames)
	}
	if a.InputGain <= 0 || a.InputGain > 10 {
		verr.Add("input_gain", "must be greater than 0 and at most 10", a.InputGain)
	}

	v := s.Vox
	if v.Threshold <= 0 || v.Threshold > 1 {
		verr.Add("vox_threshold", "must be greater than 0 and at most 1", v.Threshold)
	}
	if v.ReleaseThreshold < 0 || v.ReleaseThreshold > v.Threshold {
		verr.Add("vox_release_threshold", "must be between 0 and vox_threshold", v.ReleaseThreshold)
	}
	if v.HangTimeMs < 1 || v.HangTimeMs > 60000 {
		verr.Add("hang_time_ms", "must be between 1 and 60000", v.HangTimeMs)
	}
	if v.MaxDurationMs < 1000 || v.MaxDurationMs > 3600000 {
		verr.Add("max_duration_ms", "must be between 1000 and 3600000", v.MaxDurationMs)
	}
	if v.MinDurationMs < 0 || v.MinDurationMs >= v.MaxDurationMs {
		verr.Add("min_duration_ms", "must be at least 0 and below max_duration_ms", v.MinDurationMs)
	}

	u := s.Upload
	if u.ServerURL != "" && !isHTTPURL(u.ServerURL) {
		verr.Add("server_url", "must be an http or https URL", u.ServerURL)
	}
	if u.MaxAttempts < 1 || u.MaxAttempts > 20 {
		verr.Add("upload_max_attempts", "must be between 1 and 20", u.MaxAttempts)
	}
	if u.Workers < 1 || u.Workers > 16 {
		verr.Add("upload_workers", "must be between 1 and 16", u.Workers)
	}
	if u.QueueSize < 1 || u.QueueSize > 1024 {
		verr.Add("upload_queue_size", "must be between 1 and 1024", u.QueueSize)
	}
	if err := util.ValidatePath("recordings_dir", u.RecordingsDir); err != nil {
		verr.Add("recordings_dir", "must be a clean path", u.RecordingsDir)
	}
	if u.RetentionDays < 0 || u.RetentionDays > 3650 {
		verr.Add("retention_days", "must be between 0 and 3650", u.RetentionDays)
	}

	if s.Notifications.Webhook.URL != "" && !isHTTPURL(s.Notifications.Webhook.URL) {
		verr.Add("webhook_url", "must be an http or https URL", s.Notifications.Webhook.URL)
	}
	if p := s.Notifications.Log.Path; p != "" {
		if err := util.ValidatePath("event_log_path", p); err != nil {
			verr.Add("event_log_path", "must be a clean path", p)
		}
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// applyDefaults sets default values for zero-value fields.
func (s *Settings) applyDefaults() {
	if s.Web.Port == 0 {
		s.Web.Port = DefaultWebPort
	}
	// Audio defaults
	if s.Audio.SampleRate == 0 {
		s.Audio.SampleRate = DefaultSampleRate
	}
	if s.Audio.Channels == 0 {
		s.Audio.Channels = DefaultChannels
	}
	if s.Audio.BlockFrames == 0 {
		s.Audio.BlockFrames = DefaultBlockFrames
	}
	if s.Audio.InputGain == 0 {
		s.Audio.InputGain = DefaultInputGain
	}
	// VOX defaults
	if s.Vox.Threshold == 0 {
		s.Vox.Threshold = DefaultVoxThreshold
	}
	if s.Vox.HangTimeMs == 0 {
		s.Vox.HangTimeMs = DefaultHangTimeMs
	}
	if s.Vox.MaxDurationMs == 0 {
		s.Vox.MaxDurationMs = DefaultMaxDurationMs
	}
	// Upload defaults
	if s.Upload.MaxAttempts == 0 {
		s.Upload.MaxAttempts = DefaultUploadMaxAttempts
	}
	if s.Upload.Workers == 0 {
		s.Upload.Workers = DefaultUploadWorkers
	}
	if s.Upload.QueueSize == 0 {
		s.Upload.QueueSize = DefaultUploadQueueSize
	}
	if s.Upload.RecordingsDir == "" {
		s.Upload.RecordingsDir = DefaultRecordingsDir
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c.current, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	tmp := c.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}
	if err := os.Rename(tmp, c.filePath); err != nil {
		_ = os.Remove(tmp)
		return util.WrapError("replace config", err)
	}

	return nil
}

// publish stores a snapshot of the current settings. Caller must hold c.mu or own c.
func (c *Config) publish() {
	s := c.current.snapshot()
	c.snap.Store(&s)
}

// --- Snapshot for lock-free reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	AutoStart bool

	// Web
	WebPort      int
	PasswordHash string

	// Audio
	DeviceIndex int
	SampleRate  int
	Channels    int
	BlockFrames int
	InputGain   float64

	// VOX
	VoxThreshold        float64
	VoxReleaseThreshold float64
	HangTimeMs          int64
	MaxDurationMs       int64
	MinDurationMs       int64
	Normalize           bool

	// Radio metadata
	Metadata types.Metadata

	// Upload
	ServerURL         string
	APIKey            string
	UploadMaxAttempts int
	UploadWorkers     int
	UploadQueueSize   int
	RecordingsDir     string
	KeepRecordings    bool
	RetentionDays     int

	// Archive
	Archive types.S3Config

	// Notifications
	WebhookURL        string
	LogPath           string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
}

// Snapshot returns the latest published configuration. It never blocks.
func (c *Config) Snapshot() Snapshot {
	return *c.snap.Load()
}

func (s *Settings) snapshot() Snapshot {
	return Snapshot{
		AutoStart: s.System.AutoStart,

		WebPort:      s.Web.Port,
		PasswordHash: s.Web.PasswordHash,

		DeviceIndex: s.Audio.DeviceIndex,
		SampleRate:  s.Audio.SampleRate,
		Channels:    s.Audio.Channels,
		BlockFrames: s.Audio.BlockFrames,
		InputGain:   s.Audio.InputGain,

		VoxThreshold:        s.Vox.Threshold,
		VoxReleaseThreshold: s.Vox.ReleaseThreshold,
		HangTimeMs:          s.Vox.HangTimeMs,
		MaxDurationMs:       s.Vox.MaxDurationMs,
		MinDurationMs:       s.Vox.MinDurationMs,
		Normalize:           s.Vox.Normalize,

		Metadata: s.Radio,

		ServerURL:         s.Upload.ServerURL,
		APIKey:            s.Upload.APIKey,
		UploadMaxAttempts: s.Upload.MaxAttempts,
		UploadWorkers:     s.Upload.Workers,
		UploadQueueSize:   s.Upload.QueueSize,
		RecordingsDir:     s.Upload.RecordingsDir,
		KeepRecordings:    s.Upload.KeepRecordings,
		RetentionDays:     s.Upload.RetentionDays,

		Archive: s.Archive,

		WebhookURL:        s.Notifications.Webhook.URL,
		LogPath:           s.Notifications.Log.Path,
		GraphTenantID:     s.Notifications.Email.TenantID,
		GraphClientID:     s.Notifications.Email.ClientID,
		GraphClientSecret: s.Notifications.Email.ClientSecret,
		GraphFromAddress:  s.Notifications.Email.FromAddress,
		GraphRecipients:   s.Notifications.Email.Recipients,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return util.IsConfigured(s.GraphTenantID, s.GraphClientID, s.GraphClientSecret,
		s.GraphFromAddress, s.GraphRecipients)
}

// HasLogPath reports whether an event log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// GraphConfig returns the Microsoft Graph settings.
func (s *Snapshot) GraphConfig() types.GraphConfig {
	return types.GraphConfig{
		TenantID:     s.GraphTenantID,
		ClientID:     s.GraphClientID,
		ClientSecret: s.GraphClientSecret,
		FromAddress:  s.GraphFromAddress,
		Recipients:   s.GraphRecipients,
	}
}

// ReleaseThreshold returns the level that keeps a recording open.
func (s *Snapshot) ReleaseThreshold() float64 {
	if s.VoxReleaseThreshold > 0 {
		return s.VoxReleaseThreshold
	}
	return s.VoxThreshold
}

// RestartRequired reports which changed settings only apply after a restart.
func RestartRequired(before, after Snapshot) []string {
	var fields []string
	if before.WebPort != after.WebPort {
		fields = append(fields, "web_port")
	}
	if before.UploadWorkers != after.UploadWorkers {
		fields = append(fields, "upload_workers")
	}
	if before.UploadQueueSize != after.UploadQueueSize {
		fields = append(fields, "upload_queue_size")
	}
	if before.LogPath != after.LogPath {
		fields = append(fields, "event_log_path")
	}
	return fields
}

// CaptureChanged reports whether device settings changed. They apply the next
// time monitoring starts.
func CaptureChanged(before, after Snapshot) bool {
	return before.DeviceIndex != after.DeviceIndex ||
		before.SampleRate != after.SampleRate ||
		before.Channels != after.Channels ||
		before.BlockFrames != after.BlockFrames
}
