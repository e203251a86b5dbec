// Package config provides the configuration schema, loader and typed path
// builders for clipforge.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ChannelMode selects how a device recording is reduced to one waveform per
// participant.
type ChannelMode string

const (
	// ChannelMono expects a single-channel file per participant.
	ChannelMono ChannelMode = "mono"

	// ChannelSelect extracts one fixed channel.
	ChannelSelect ChannelMode = "select"

	// ChannelSum sums a fixed list of channels (all channels when empty).
	ChannelSum ChannelMode = "sum"

	// ChannelSlot extracts the channel matching the participant's roster slot
	// (pos1 → channel 0). Used when one multi-channel file holds every
	// participant.
	ChannelSlot ChannelMode = "slot"
)

// IsValid reports whether m is a recognised channel mode.
func (m ChannelMode) IsValid() bool {
	switch m {
	case ChannelMono, ChannelSelect, ChannelSum, ChannelSlot:
		return true
	}
	return false
}

// CatalogDriver selects where finished clips are recorded.
type CatalogDriver string

const (
	CatalogNone     CatalogDriver = "none"
	CatalogJSON     CatalogDriver = "json"
	CatalogPostgres CatalogDriver = "postgres"
)

// IsValid reports whether d is a recognised catalog driver.
func (d CatalogDriver) IsValid() bool {
	switch d {
	case CatalogNone, CatalogJSON, CatalogPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], which also apply defaults.
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Session is the default session id when none is given on the command line.
	Session string `yaml:"session"`

	// Device selects an entry of Devices.
	Device string `yaml:"device"`

	// TargetPID is the participant whose utterances are the transcription targets.
	TargetPID string `yaml:"target_pid"`

	// ContextTime is how many seconds before the target segment each clip starts.
	ContextTime float64 `yaml:"context_time"`

	// RMS is the loudness of the mixed audio excerpt.
	RMS float64 `yaml:"rms"`

	// Overwrite regenerates artifacts that already exist.
	Overwrite bool `yaml:"overwrite"`

	// Workers bounds the number of segments processed concurrently.
	// 0 means runtime.NumCPU().
	Workers int `yaml:"workers"`

	// MaxEncoders bounds concurrent external encoder processes.
	// 0 means runtime.NumCPU().
	MaxEncoders int `yaml:"max_encoders"`

	Audio   AudioConfig             `yaml:"audio"`
	Video   VideoConfig             `yaml:"video"`
	Devices map[string]DeviceConfig `yaml:"devices"`
	Paths   PathsConfig             `yaml:"paths"`
	Catalog CatalogConfig           `yaml:"catalog"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Encoder EncoderConfig           `yaml:"encoder"`

	// paths holds the parsed path templates; populated by Validate.
	paths *Paths
}

// AudioConfig holds sample-rate settings.
type AudioConfig struct {
	// SampleRate is the working rate every recording is converted to. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// DisplayRate is the waveform rate used for plotting; SampleRate must be a
	// multiple of it. Default: 500.
	DisplayRate int `yaml:"display_rate"`
}

// Decimation returns the stride that converts the working rate to the
// display rate.
func (a AudioConfig) Decimation() int {
	if a.DisplayRate <= 0 {
		return 1
	}
	return a.SampleRate / a.DisplayRate
}

// VideoConfig holds animation settings.
type VideoConfig struct {
	// FrameInterval is the time between frames in seconds. Default: 0.01 (100 fps).
	FrameInterval float64 `yaml:"frame_interval"`

	// Width and Height are the frame size in pixels. Both must be even.
	// Defaults: 900x300.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// Prompt replaces the target segment's transcript in the plot.
	// Default: "Transcribe Here".
	Prompt string `yaml:"prompt"`
}

// FPS returns the frame rate implied by FrameInterval.
func (v VideoConfig) FPS() float64 {
	if v.FrameInterval <= 0 {
		return 0
	}
	return 1 / v.FrameInterval
}

// DeviceConfig describes one recording device.
type DeviceConfig struct {
	// WearerColumn names the roster column holding the slot number of the
	// participant wearing the device (e.g. "aria_pos"). Empty for devices
	// nobody wears.
	WearerColumn string `yaml:"wearer_column"`

	// Channels describes how the participant's waveform is reduced from the
	// recording.
	Channels ChannelConfig `yaml:"channels"`
}

// ChannelConfig is the YAML form of an audio channel reduction.
type ChannelConfig struct {
	Mode  ChannelMode `yaml:"mode"`
	Index []int       `yaml:"index"`
}

// PathsConfig holds the input file and output path templates. Templates use
// text/template syntax over typed keys, e.g. "{{.Session}}/{{.PID}}.wav".
type PathsConfig struct {
	// SessionInfo is the roster CSV (a plain path, not a template).
	SessionInfo string `yaml:"session_info"`

	// Recording is the per-participant recording; fields: Session, Device, PID.
	Recording string `yaml:"recording"`

	// Transcript is the per-participant transcript JSON; fields: Session, PID.
	Transcript string `yaml:"transcript"`

	// Manifest is the per-target manifest JSON; fields: Session, Device, PID.
	Manifest string `yaml:"manifest"`

	// Sample is the clip artifact path; fields: Kind, Session, Device, PID,
	// Segment, Ext.
	Sample string `yaml:"sample"`
}

// CatalogConfig selects the clip catalog.
type CatalogConfig struct {
	// Driver is "none", "json" or "postgres". Default: "json".
	Driver CatalogDriver `yaml:"driver"`

	// Path is the JSON catalog file. Default: "catalog.json".
	Path string `yaml:"path"`

	// PostgresDSN is the connection string for the postgres driver.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MetricsConfig controls the optional Prometheus / health endpoint.
type MetricsConfig struct {
	// ListenAddr enables /metrics, /healthz and /readyz when non-empty
	// (e.g. ":9464").
	ListenAddr string `yaml:"listen_addr"`
}

// EncoderConfig tunes the circuit breaker around encoder invocations.
type EncoderConfig struct {
	// Binary is the ffmpeg executable. Default: "ffmpeg".
	Binary string `yaml:"binary"`

	// ProbeBinary is the ffprobe executable. Default: "ffprobe".
	ProbeBinary string `yaml:"probe_binary"`

	// MaxFailures is the number of consecutive encoder failures after which
	// remaining segments fail fast. Default: 3.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before probing again.
	// Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// VerifyDuration probes merged clips and warns when their duration drifts
	// by more than one frame.
	VerifyDuration bool `yaml:"verify_duration"`
}

// PathsBuilder returns the typed path builders. It is nil until the config has
// passed [Validate].
func (c *Config) PathsBuilder() *Paths { return c.paths }
