package types

// Metadata holds the radio-system fields sent with every call upload.
// A copy is taken when a recording starts so later edits never affect it.
type Metadata struct {
	Frequency      string `json:"frequency"`
	Source         string `json:"source"`
	System         string `json:"system"`
	SystemLabel    string `json:"system_label"`
	Talkgroup      string `json:"talkgroup"`
	TalkgroupGroup string `json:"talkgroup_group"`
	TalkgroupLabel string `json:"talkgroup_label"`
	TalkgroupTag   string `json:"talkgroup_tag"`
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	Index      int    `json:"index"`       // Position in the enumeration, used as device_index
	ID         string `json:"-"`           // Backend identifier
	Name       string `json:"name"`        // Device display name
	Channels   int    `json:"channels"`    // Default channel count, 0 if unknown
	SampleRate int    `json:"sample_rate"` // Default sample rate, 0 if unknown
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// S3Config contains settings for the optional recording archive.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
}

// IsConfigured reports whether the archive has enough settings to connect.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// UploadStats summarizes the upload dispatcher.
type UploadStats struct {
	Pending   int    `json:"pending"`
	InFlight  int    `json:"in_flight"`
	Delivered int64  `json:"delivered"`
	Failed    int64  `json:"failed"`
	Dropped   int64  `json:"dropped"`
	LastError string `json:"last_error,omitempty"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Name        string `json:"name"`
	Author      string `json:"author"`
	Current     string `json:"version"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
