package server

import "github.com/oszuidwest/rdio-vox/internal/config"

// Request types for the HTTP API and WebSocket commands. Struct tags bound
// input shape; value ranges are enforced by config validation so that one
// rule set covers both the file and the API.

// ConfigUpdateRequest is the body of POST /api/config. Nil fields are left unchanged.
type ConfigUpdateRequest struct {
	// Upload target
	ServerURL *string `json:"server_url" validate:"omitempty,max=2048"`
	APIKey    *string `json:"api_key" validate:"omitempty,max=512"`

	// Audio
	DeviceIndex *int     `json:"device_index"`
	SampleRate  *int     `json:"sample_rate"`
	Channels    *int     `json:"channels"`
	BlockFrames *int     `json:"block_frames"`
	InputGain   *float64 `json:"input_gain"`

	// VOX
	VoxThreshold        *float64 `json:"vox_threshold"`
	VoxReleaseThreshold *float64 `json:"vox_release_threshold"`
	HangTimeMs          *int64   `json:"hang_time_ms"`
	MaxDurationMs       *int64   `json:"max_duration_ms"`
	MinDurationMs       *int64   `json:"min_duration_ms"`
	Normalize           *bool    `json:"normalize"`

	// Radio metadata
	Frequency      *string `json:"frequency" validate:"omitempty,max=64"`
	Source         *string `json:"source" validate:"omitempty,max=64"`
	System         *string `json:"system" validate:"omitempty,max=64"`
	SystemLabel    *string `json:"system_label" validate:"omitempty,max=128"`
	Talkgroup      *string `json:"talkgroup" validate:"omitempty,max=64"`
	TalkgroupGroup *string `json:"talkgroup_group" validate:"omitempty,max=128"`
	TalkgroupLabel *string `json:"talkgroup_label" validate:"omitempty,max=128"`
	TalkgroupTag   *string `json:"talkgroup_tag" validate:"omitempty,max=128"`

	// Web
	WebPort     *int   `json:"web_port"`
	WebPassword string `json:"web_password" validate:"omitempty,min=6,max=256"` // Empty keeps the current password
	AutoStart   *bool  `json:"auto_start"`

	// Upload queue and storage
	UploadMaxAttempts *int    `json:"upload_max_attempts"`
	UploadWorkers     *int    `json:"upload_workers"`
	UploadQueueSize   *int    `json:"upload_queue_size"`
	RecordingsDir     *string `json:"recordings_dir" validate:"omitempty,max=4096"`
	KeepRecordings    *bool   `json:"keep_recordings"`
	RetentionDays     *int    `json:"retention_days"`

	// Archive
	S3Endpoint        *string `json:"s3_endpoint" validate:"omitempty,max=2048"`
	S3Bucket          *string `json:"s3_bucket" validate:"omitempty,max=63"`
	S3Region          *string `json:"s3_region" validate:"omitempty,max=64"`
	S3AccessKeyID     *string `json:"s3_access_key_id" validate:"omitempty,max=128"`
	S3SecretAccessKey *string `json:"s3_secret_access_key" validate:"omitempty,max=256"`
	S3Prefix          *string `json:"s3_prefix" validate:"omitempty,max=512"`

	// Notifications
	WebhookURL        *string `json:"webhook_url" validate:"omitempty,max=2048"`
	EventLogPath      *string `json:"event_log_path" validate:"omitempty,max=4096"`
	GraphTenantID     *string `json:"graph_tenant_id" validate:"omitempty,max=100"`
	GraphClientID     *string `json:"graph_client_id" validate:"omitempty,max=100"`
	GraphClientSecret *string `json:"graph_client_secret" validate:"omitempty,max=500"`
	GraphFromAddress  *string `json:"graph_from_address" validate:"omitempty,max=254"`
	GraphRecipients   *string `json:"graph_recipients" validate:"omitempty,max=1000"`
}

// Apply copies every set field onto s. The web password is not applied
// here because it must be hashed first.
func (r *ConfigUpdateRequest) Apply(s *config.Settings) {
	set(&s.Upload.ServerURL, r.ServerURL)
	set(&s.Upload.APIKey, r.APIKey)

	set(&s.Audio.DeviceIndex, r.DeviceIndex)
	set(&s.Audio.SampleRate, r.SampleRate)
	set(&s.Audio.Channels, r.Channels)
	set(&s.Audio.BlockFrames, r.BlockFrames)
	set(&s.Audio.InputGain, r.InputGain)

	set(&s.Vox.Threshold, r.VoxThreshold)
	set(&s.Vox.ReleaseThreshold, r.VoxReleaseThreshold)
	set(&s.Vox.HangTimeMs, r.HangTimeMs)
	set(&s.Vox.MaxDurationMs, r.MaxDurationMs)
	set(&s.Vox.MinDurationMs, r.MinDurationMs)
	set(&s.Vox.Normalize, r.Normalize)

	set(&s.Radio.Frequency, r.Frequency)
	set(&s.Radio.Source, r.Source)
	set(&s.Radio.System, r.System)
	set(&s.Radio.SystemLabel, r.SystemLabel)
	set(&s.Radio.Talkgroup, r.Talkgroup)
	set(&s.Radio.TalkgroupGroup, r.TalkgroupGroup)
	set(&s.Radio.TalkgroupLabel, r.TalkgroupLabel)
	set(&s.Radio.TalkgroupTag, r.TalkgroupTag)

	set(&s.Web.Port, r.WebPort)
	set(&s.System.AutoStart, r.AutoStart)

	set(&s.Upload.MaxAttempts, r.UploadMaxAttempts)
	set(&s.Upload.Workers, r.UploadWorkers)
	set(&s.Upload.QueueSize, r.UploadQueueSize)
	set(&s.Upload.RecordingsDir, r.RecordingsDir)
	set(&s.Upload.KeepRecordings, r.KeepRecordings)
	set(&s.Upload.RetentionDays, r.RetentionDays)

	set(&s.Archive.Endpoint, r.S3Endpoint)
	set(&s.Archive.Bucket, r.S3Bucket)
	set(&s.Archive.Region, r.S3Region)
	set(&s.Archive.AccessKeyID, r.S3AccessKeyID)
	set(&s.Archive.SecretAccessKey, r.S3SecretAccessKey)
	set(&s.Archive.Prefix, r.S3Prefix)

	set(&s.Notifications.Webhook.URL, r.WebhookURL)
	set(&s.Notifications.Log.Path, r.EventLogPath)
	set(&s.Notifications.Email.TenantID, r.GraphTenantID)
	set(&s.Notifications.Email.ClientID, r.GraphClientID)
	set(&s.Notifications.Email.ClientSecret, r.GraphClientSecret)
	set(&s.Notifications.Email.FromAddress, r.GraphFromAddress)
	set(&s.Notifications.Email.Recipients, r.GraphRecipients)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// ControlRequest is the body of POST /api/control.
type ControlRequest struct {
	Action string `json:"action" validate:"required,oneof=start stop"`
}

// ChangeSettingsRequest is the body of POST /api/change-settings.
type ChangeSettingsRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"omitempty,min=6,max=256"`
	ConfirmPassword string `json:"confirm_password" validate:"eqfield=NewPassword"`
	WebPort         *int   `json:"web_port"`
}

// NotificationTestRequest selects the channel for a test alert.
type NotificationTestRequest struct {
	Channel string `json:"channel" validate:"required,oneof=webhook email"`
}
