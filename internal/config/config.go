// Package config provides application configuration management.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/njh/silentjack/internal/detector"
	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/util"
)

// Configuration defaults match the classic command-line behavior.
const (
	DefaultName                 = "silentjack"
	DefaultBackend              = types.BackendPortAudio
	DefaultSilenceThresholdDB   = -40.0
	DefaultSilencePeriod        = 1
	DefaultNoDynamicThresholdDB = 0.0 // disabled
	DefaultNoDynamicPeriod      = 10
	DefaultGrace                = 0

	DefaultUpdateRepo     = "njh/silentjack"
	DefaultUpdateInterval = "24h"

	// MinUpdateInterval keeps release checks well inside the GitHub
	// anonymous rate limit.
	MinUpdateInterval = time.Hour

	// MaxConnect is the number of input ports that may be listed.
	MaxConnect = 8
)

// AudioConfig holds audio input settings.
type AudioConfig struct {
	Backend    types.Backend `json:"backend" yaml:"backend" toml:"backend" validate:"omitempty,oneof=portaudio capture"`
	Connect    []string      `json:"connect" yaml:"connect" toml:"connect" validate:"max=8,dive,required"`
	FFmpegPath string        `json:"ffmpeg_path,omitempty" yaml:"ffmpeg_path,omitempty" toml:"ffmpeg_path,omitempty"`
}

// DetectionConfig holds detector thresholds. Periods and grace are in
// seconds, one tick each.
type DetectionConfig struct {
	SilenceThresholdDB   float64 `json:"silence_threshold_db" yaml:"silence_threshold_db" toml:"silence_threshold_db"`
	SilencePeriod        int     `json:"silence_period" yaml:"silence_period" toml:"silence_period" validate:"gte=0"`
	NoDynamicThresholdDB float64 `json:"no_dynamic_threshold_db" yaml:"no_dynamic_threshold_db" toml:"no_dynamic_threshold_db" validate:"gte=0"`
	NoDynamicPeriod      float64 `json:"no_dynamic_period" yaml:"no_dynamic_period" toml:"no_dynamic_period" validate:"gte=0"`
	Grace                int     `json:"grace" yaml:"grace" toml:"grace" validate:"gte=0"`
	Reverse              bool    `json:"reverse" yaml:"reverse" toml:"reverse"`
}

// TriggerConfig holds the command run on each fire.
type TriggerConfig struct {
	Command []string `json:"command" yaml:"command" toml:"command"`
}

// ServerConfig holds status server settings. An empty Listen disables it.
// UpdateInterval is a Go duration; "0" turns the release check off.
type ServerConfig struct {
	Listen         string `json:"listen,omitempty" yaml:"listen,omitempty" toml:"listen,omitempty" validate:"omitempty,hostname_port"`
	UpdateRepo     string `json:"update_repo,omitempty" yaml:"update_repo,omitempty" toml:"update_repo,omitempty" validate:"omitempty,max=100"`
	UpdateInterval string `json:"update_interval,omitempty" yaml:"update_interval,omitempty" toml:"update_interval,omitempty"`
}

// updateInterval parses UpdateInterval.
func (s *ServerConfig) updateInterval() (time.Duration, error) {
	return time.ParseDuration(s.UpdateInterval)
}

// LoggingConfig holds console verbosity.
type LoggingConfig struct {
	Verbose bool `json:"verbose" yaml:"verbose" toml:"verbose"`
	Quiet   bool `json:"quiet" yaml:"quiet" toml:"quiet"`
}

// EventLogConfig holds the detector event log location.
type EventLogConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty" validate:"omitempty,url,max=2048"`
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig      `json:"webhook" yaml:"webhook" toml:"webhook"`
	Log     LogConfig          `json:"log" yaml:"log" toml:"log"`
	Email   types.GraphConfig  `json:"email" yaml:"email" toml:"email"`
	Zabbix  types.ZabbixConfig `json:"zabbix" yaml:"zabbix" toml:"zabbix"`
	S3      types.S3Config     `json:"s3" yaml:"s3" toml:"s3"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	Name          string              `json:"name" yaml:"name" toml:"name" validate:"required,max=64,printascii"`
	Audio         AudioConfig         `json:"audio" yaml:"audio" toml:"audio"`
	Detection     DetectionConfig     `json:"detection" yaml:"detection" toml:"detection"`
	Trigger       TriggerConfig       `json:"trigger" yaml:"trigger" toml:"trigger"`
	Server        ServerConfig        `json:"server" yaml:"server" toml:"server"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging" toml:"logging"`
	EventLog      EventLogConfig      `json:"event_log" yaml:"event_log" toml:"event_log"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications" toml:"notifications"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values. An empty filePath means the
// configuration lives only in memory.
func New(filePath string) *Config {
	return &Config{
		Name: DefaultName,
		Audio: AudioConfig{
			Backend: DefaultBackend,
			Connect: []string{},
		},
		Detection: DetectionConfig{
			SilenceThresholdDB:   DefaultSilenceThresholdDB,
			SilencePeriod:        DefaultSilencePeriod,
			NoDynamicThresholdDB: DefaultNoDynamicThresholdDB,
			NoDynamicPeriod:      DefaultNoDynamicPeriod,
			Grace:                DefaultGrace,
		},
		Trigger: TriggerConfig{Command: []string{}},
		Server: ServerConfig{
			UpdateRepo:     DefaultUpdateRepo,
			UpdateInterval: DefaultUpdateInterval,
		},
		filePath: filePath,
	}
}

// Path returns the configuration file path.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists. The file
// format follows the extension: .json, .yaml/.yml or .toml.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" {
		c.applyDefaults()
		return c.validate()
	}

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		c.applyDefaults()
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := c.decode(data); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()
	return c.validate()
}

func (c *Config) decode(data []byte) error {
	switch format(c.filePath) {
	case formatYAML:
		return yaml.Unmarshal(data, c)
	case formatTOML:
		_, err := toml.Decode(string(data), c)
		return err
	default:
		return json.Unmarshal(data, c)
	}
}

// applyDefaults sets default values for zero-value fields that must not be
// left empty. Zero thresholds and periods are meaningful and kept.
func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Audio.Backend == "" {
		c.Audio.Backend = DefaultBackend
	}
	if c.Audio.Connect == nil {
		c.Audio.Connect = []string{}
	}
	if c.Trigger.Command == nil {
		c.Trigger.Command = []string{}
	}
	if c.Server.UpdateRepo == "" {
		c.Server.UpdateRepo = DefaultUpdateRepo
	}
	if c.Server.UpdateInterval == "" {
		c.Server.UpdateInterval = DefaultUpdateInterval
	}
}

// Overrides carries command-line values. Nil pointers and empty slices leave
// the loaded configuration alone.
type Overrides struct {
	Name                 *string
	Backend              *string
	Connect              []string
	SilenceThresholdDB   *float64
	SilencePeriod        *int
	NoDynamicThresholdDB *float64
	NoDynamicPeriod      *float64
	Grace                *int
	Reverse              bool
	Verbose              bool
	Quiet                bool
	Listen               *string
	EventLog             *string
	Command              []string
}

// Apply merges command-line overrides and validates the result. Flags always
// win over the file.
func (c *Config) Apply(o *Overrides) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o.Name != nil {
		c.Name = *o.Name
	}
	if o.Backend != nil {
		c.Audio.Backend = types.Backend(*o.Backend)
	}
	if len(o.Connect) > 0 {
		c.Audio.Connect = slices.Clone(o.Connect)
	}
	if o.SilenceThresholdDB != nil {
		c.Detection.SilenceThresholdDB = *o.SilenceThresholdDB
	}
	if o.SilencePeriod != nil {
		c.Detection.SilencePeriod = *o.SilencePeriod
	}
	if o.NoDynamicThresholdDB != nil {
		c.Detection.NoDynamicThresholdDB = *o.NoDynamicThresholdDB
	}
	if o.NoDynamicPeriod != nil {
		c.Detection.NoDynamicPeriod = *o.NoDynamicPeriod
	}
	if o.Grace != nil {
		c.Detection.Grace = *o.Grace
	}
	if o.Reverse {
		c.Detection.Reverse = true
	}
	if o.Verbose {
		c.Logging.Verbose = true
	}
	if o.Quiet {
		c.Logging.Quiet = true
	}
	if o.Listen != nil {
		c.Server.Listen = *o.Listen
	}
	if o.EventLog != nil {
		c.EventLog.Path = *o.EventLog
	}
	if len(o.Command) > 0 {
		c.Trigger.Command = slices.Clone(o.Command)
	}

	c.applyDefaults()
	return c.validate()
}

// Save persists the configuration to its file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filePath == "" {
		return nil
	}
	return c.saveLocked()
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	var (
		data []byte
		err  error
	)
	switch format(c.filePath) {
	case formatYAML:
		data, err = yaml.Marshal(c)
	case formatTOML:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
	formatTOML
)

func format(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	default:
		return formatJSON
	}
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	Name string

	// Audio
	Backend    types.Backend
	Connect    []string
	FFmpegPath string

	// Detection
	Detection DetectionConfig

	// Trigger
	Command []string

	// Server and logging
	Listen         string
	UpdateRepo     string
	UpdateInterval time.Duration
	Verbose        bool
	Quiet          bool
	EventLogPath   string

	// Notifications
	WebhookURL string
	LogPath    string
	Graph      types.GraphConfig
	Zabbix     types.ZabbixConfig
	S3         types.S3Config
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Validation rejects intervals that do not parse.
	updateInterval, _ := c.Server.updateInterval()

	return Snapshot{
		Name: c.Name,

		Backend:    c.Audio.Backend,
		Connect:    slices.Clone(c.Audio.Connect),
		FFmpegPath: c.Audio.FFmpegPath,

		Detection: c.Detection,

		Command: slices.Clone(c.Trigger.Command),

		Listen:         c.Server.Listen,
		UpdateRepo:     c.Server.UpdateRepo,
		UpdateInterval: updateInterval,
		Verbose:        c.Logging.Verbose,
		Quiet:          c.Logging.Quiet,
		EventLogPath:   c.EventLog.Path,

		WebhookURL: c.Notifications.Webhook.URL,
		LogPath:    c.Notifications.Log.Path,
		Graph:      c.Notifications.Email,
		Zabbix:     c.Notifications.Zabbix,
		S3:         c.Notifications.S3,
	}
}

// DetectorConfig converts the detection settings for the state machine.
// The no-dynamic period converts without loss: validate rejects fractional
// values and anything beyond int32, so never relax that check alone.
func (s *Snapshot) DetectorConfig() detector.Config {
	return detector.Config{
		SilenceThresholdDB:   s.Detection.SilenceThresholdDB,
		SilencePeriod:        s.Detection.SilencePeriod,
		NoDynamicThresholdDB: s.Detection.NoDynamicThresholdDB,
		NoDynamicPeriod:      int(s.Detection.NoDynamicPeriod),
		Grace:                s.Detection.Grace,
		Invert:               s.Detection.Reverse,
	}
}

// Settings returns the detection settings in status form.
func (s *Snapshot) Settings() types.DetectorSettings {
	return types.DetectorSettings{
		SilenceThresholdDB:   s.Detection.SilenceThresholdDB,
		SilencePeriod:        s.Detection.SilencePeriod,
		NoDynamicThresholdDB: s.Detection.NoDynamicThresholdDB,
		NoDynamicPeriod:      int(s.Detection.NoDynamicPeriod),
		Grace:                s.Detection.Grace,
		Reverse:              s.Detection.Reverse,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	g := s.Graph
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != "" &&
		g.FromAddress != "" && g.Recipients != ""
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasZabbix reports whether Zabbix trapper notifications are configured.
func (s *Snapshot) HasZabbix() bool {
	return s.Zabbix.Server != "" && s.Zabbix.Host != "" && s.Zabbix.Key != ""
}

// HasS3 reports whether the S3 event archive is configured.
func (s *Snapshot) HasS3() bool {
	return s.S3.IsConfigured()
}
