package types

// StatusResponse is returned by GET /api/status and pushed over /ws.
type StatusResponse struct {
	Type       string      `json:"type,omitempty"` // "status" on the WebSocket
	Monitoring bool        `json:"monitoring"`
	Recording  bool        `json:"recording"`
	State      string      `json:"state"`
	Level      float64     `json:"level"`
	DBLevel    float64     `json:"db_level"`
	LastError  string      `json:"last_error,omitempty"`
	Uploads    UploadStats `json:"uploads"`
}

// ConfigResponse is the flat configuration returned by GET /api/config.
// Secrets other than the upload API key are masked.
type ConfigResponse struct {
	// Upload target
	ServerURL string `json:"server_url"`
	APIKey    string `json:"api_key"`

	// Audio
	DeviceIndex int     `json:"device_index"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
	BlockFrames int     `json:"block_frames"`
	InputGain   float64 `json:"input_gain"`

	// VOX
	VoxThreshold        float64 `json:"vox_threshold"`
	VoxReleaseThreshold float64 `json:"vox_release_threshold"`
	HangTimeMs          int64   `json:"hang_time_ms"`
	MaxDurationMs       int64   `json:"max_duration_ms"`
	MinDurationMs       int64   `json:"min_duration_ms"`
	Normalize           bool    `json:"normalize"`

	// Radio metadata
	Metadata

	// Web
	WebPort   int  `json:"web_port"`
	AutoStart bool `json:"auto_start"`

	// Upload queue and storage
	UploadMaxAttempts int    `json:"upload_max_attempts"`
	UploadWorkers     int    `json:"upload_workers"`
	UploadQueueSize   int    `json:"upload_queue_size"`
	RecordingsDir     string `json:"recordings_dir"`
	KeepRecordings    bool   `json:"keep_recordings"`
	RetentionDays     int    `json:"retention_days"`

	// Archive
	S3Endpoint  string `json:"s3_endpoint"`
	S3Bucket    string `json:"s3_bucket"`
	S3Region    string `json:"s3_region"`
	S3AccessKey string `json:"s3_access_key_id"`
	S3HasSecret bool   `json:"s3_has_secret"`
	S3Prefix    string `json:"s3_prefix"`

	// Notifications
	WebhookURL       string `json:"webhook_url"`
	EventLogPath     string `json:"event_log_path"`
	GraphTenantID    string `json:"graph_tenant_id"`
	GraphClientID    string `json:"graph_client_id"`
	GraphHasSecret   bool   `json:"graph_has_secret"`
	GraphFromAddress string `json:"graph_from_address"`
	GraphRecipients  string `json:"graph_recipients"`
}
