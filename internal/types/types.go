// Package types provides shared type definitions used across silentjack.
package types

import "time"

// EngineState represents the lifecycle state of the detection engine.
type EngineState string

const (
	// StateStopped indicates the engine is not running.
	StateStopped EngineState = "stopped"
	// StateStarting indicates the audio source is being opened.
	StateStarting EngineState = "starting"
	// StateRunning indicates the control loop is ticking.
	StateRunning EngineState = "running"
	// StateStopping indicates shutdown has been requested.
	StateStopping EngineState = "stopping"
)

// Backend names an audio source implementation.
type Backend string

// Supported audio backends.
const (
	BackendPortAudio Backend = "portaudio" // Real-time callback via PortAudio
	BackendCapture   Backend = "capture"   // arecord/ffmpeg capture process
)

const (
	// TickInterval is the control loop cadence.
	TickInterval = 1 * time.Second
	// ConnectedWindow is how recently audio must have arrived for an input to
	// count as connected.
	ConnectedWindow = 2 * time.Second
	// StallTimeout is how long a source may deliver nothing before it is
	// treated as gone.
	StallTimeout = 30 * time.Second
)

const (
	// InitialRetryDelay is the starting delay between capture restarts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between capture restarts.
	MaxRetryDelay = 60000 * time.Millisecond
	// MaxRetries is the number of consecutive short capture runs before the
	// source gives up.
	MaxRetries = 10
	// SuccessThreshold is the run time after which the retry count resets.
	SuccessThreshold = 30000 * time.Millisecond
)

// ShutdownTimeout is how long a child process gets to exit after SIGINT.
const ShutdownTimeout = 3000 * time.Millisecond

// Audio format constants for capture.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 48000
	// Channels is the number of captured channels. Analysis is mono.
	Channels = 1
	// FramesPerBuffer is the real-time block size requested from PortAudio.
	FramesPerBuffer = 1024
)

// EngineStatus summarizes the engine for status responses.
type EngineStatus struct {
	State            EngineState `json:"state"`                       // Current engine state
	Name             string      `json:"name"`                        // Client name
	Backend          Backend     `json:"backend"`                     // Audio backend in use
	Device           string      `json:"device,omitzero"`             // Connected device
	Connected        bool        `json:"connected"`                   // Input currently delivering audio
	Uptime           string      `json:"uptime,omitzero"`             // Time since start
	LastError        string      `json:"last_error,omitzero"`         // Most recent source error
	SourceRetryCount int         `json:"source_retry_count,omitzero"` // Capture restart attempts
	SourceMaxRetries int         `json:"source_max_retries"`          // Max capture restarts
}

// DetectorSettings mirrors the active detector configuration.
type DetectorSettings struct {
	SilenceThresholdDB   float64 `json:"silence_threshold_db"`
	SilencePeriod        int     `json:"silence_period"`
	NoDynamicThresholdDB float64 `json:"no_dynamic_threshold_db"`
	NoDynamicPeriod      int     `json:"no_dynamic_period"`
	Grace                int     `json:"grace"`
	Reverse              bool    `json:"reverse,omitzero"`
}

// StatusResponse is returned by /status and sent on websocket connect.
type StatusResponse struct {
	Type     string           `json:"type"`              // Message type identifier
	Engine   EngineStatus     `json:"engine"`            // Engine status
	Detector DetectorSettings `json:"detector"`          // Detector configuration
	Counters any              `json:"counters"`          // Current detector counters
	LevelDB  float64          `json:"level_db"`          // Last reading in dBFS
	Devices  []AudioDevice    `json:"devices,omitempty"` // Available input devices
	Version  VersionInfo      `json:"version"`           // Version information
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty" yaml:"tenant_id" toml:"tenant_id"`             // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty" yaml:"client_id" toml:"client_id"`             // App registration client ID
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret" toml:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty" yaml:"from_address" toml:"from_address"`    // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty" yaml:"recipients" toml:"recipients"`          // Comma-separated recipients
}

// ZabbixConfig contains settings for sending trapper items to a Zabbix server.
type ZabbixConfig struct {
	Server string `json:"server,omitempty" yaml:"server" toml:"server" validate:"omitempty,max=253"`
	Port   int    `json:"port,omitempty" yaml:"port" toml:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host,omitempty" yaml:"host" toml:"host" validate:"omitempty,max=253"`
	Key    string `json:"key,omitempty" yaml:"key" toml:"key" validate:"omitempty,max=256"`
}

// S3Config contains settings for archiving fire events to an S3 bucket.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint" toml:"endpoint" validate:"omitempty,max=2048"`
	Region          string `json:"region,omitempty" yaml:"region" toml:"region"`
	Bucket          string `json:"bucket,omitempty" yaml:"bucket" toml:"bucket" validate:"omitempty,max=63"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix" toml:"prefix"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key" toml:"secret_access_key"`
}

// IsConfigured reports whether the bucket and credentials are set.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
