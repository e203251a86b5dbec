package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	// context_time: 0 is meaningful, so its default is seeded before decoding.
	cfg := &Config{ContextTime: DefaultContextTime}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultContextTime is the context_time used when the key is absent.
const DefaultContextTime = 5.0

// ApplyDefaults fills zero-valued fields with their documented defaults.
// ContextTime is left alone since zero is a valid setting.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.RMS == 0 {
		cfg.RMS = 0.05
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.DisplayRate == 0 {
		cfg.Audio.DisplayRate = 500
	}
	if cfg.Video.FrameInterval == 0 {
		cfg.Video.FrameInterval = 0.01
	}
	if cfg.Video.Width == 0 {
		cfg.Video.Width = 900
	}
	if cfg.Video.Height == 0 {
		cfg.Video.Height = 300
	}
	if cfg.Video.Prompt == "" {
		cfg.Video.Prompt = "Transcribe Here"
	}
	if cfg.Catalog.Driver == "" {
		cfg.Catalog.Driver = CatalogJSON
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "catalog.json"
	}
	if cfg.Encoder.Binary == "" {
		cfg.Encoder.Binary = "ffmpeg"
	}
	if cfg.Encoder.ProbeBinary == "" {
		cfg.Encoder.ProbeBinary = "ffprobe"
	}
	if cfg.Encoder.MaxFailures == 0 {
		cfg.Encoder.MaxFailures = 3
	}
	if cfg.Encoder.ResetTimeout == 0 {
		cfg.Encoder.ResetTimeout = 30 * time.Second
	}
	for name, dev := range cfg.Devices {
		if dev.Channels.Mode == "" {
			dev.Channels.Mode = ChannelMono
			cfg.Devices[name] = dev
		}
	}
}

// Validate checks that cfg contains a coherent set of values and builds the
// typed path builders. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.ContextTime < 0 {
		errs = append(errs, fmt.Errorf("context_time %.3f must not be negative", cfg.ContextTime))
	}
	if cfg.RMS <= 0 {
		errs = append(errs, fmt.Errorf("rms %.4f must be positive", cfg.RMS))
	}
	if cfg.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers %d must not be negative", cfg.Workers))
	}
	if cfg.MaxEncoders < 0 {
		errs = append(errs, fmt.Errorf("max_encoders %d must not be negative", cfg.MaxEncoders))
	}

	// Rates
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.DisplayRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.display_rate %d must be positive", cfg.Audio.DisplayRate))
	} else if cfg.Audio.SampleRate > 0 && cfg.Audio.SampleRate%cfg.Audio.DisplayRate != 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is not a multiple of audio.display_rate %d",
			cfg.Audio.SampleRate, cfg.Audio.DisplayRate))
	}

	// Video
	if cfg.Video.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("video.frame_interval %.4f must be positive", cfg.Video.FrameInterval))
	} else if cfg.Audio.SampleRate > 0 && !isWhole(float64(cfg.Audio.SampleRate)*cfg.Video.FrameInterval) {
		errs = append(errs, fmt.Errorf("video.frame_interval %.4f does not span a whole number of samples at %d Hz",
			cfg.Video.FrameInterval, cfg.Audio.SampleRate))
	}
	if cfg.Video.Width <= 0 || cfg.Video.Width%2 != 0 || cfg.Video.Height <= 0 || cfg.Video.Height%2 != 0 {
		errs = append(errs, fmt.Errorf("video size %dx%d must be positive and even", cfg.Video.Width, cfg.Video.Height))
	}

	// Devices
	if len(cfg.Devices) == 0 {
		errs = append(errs, errors.New("devices: at least one device is required"))
	}
	for name, dev := range cfg.Devices {
		prefix := fmt.Sprintf("devices.%s", name)
		if dev.Channels.Mode != "" && !dev.Channels.Mode.IsValid() {
			errs = append(errs, fmt.Errorf("%s.channels.mode %q is invalid; valid values: mono, select, sum, slot", prefix, dev.Channels.Mode))
		}
		if dev.Channels.Mode == ChannelSelect && len(dev.Channels.Index) != 1 {
			errs = append(errs, fmt.Errorf("%s.channels.index must hold exactly one channel for mode select", prefix))
		}
		for _, idx := range dev.Channels.Index {
			if idx < 0 {
				errs = append(errs, fmt.Errorf("%s.channels.index %d must not be negative", prefix, idx))
			}
		}
	}
	if cfg.Device != "" {
		if _, ok := cfg.Devices[cfg.Device]; !ok {
			errs = append(errs, fmt.Errorf("device %q is not declared under devices", cfg.Device))
		}
	}

	// Catalog
	if !cfg.Catalog.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("catalog.driver %q is invalid; valid values: none, json, postgres", cfg.Catalog.Driver))
	}
	if cfg.Catalog.Driver == CatalogPostgres && cfg.Catalog.PostgresDSN == "" {
		errs = append(errs, errors.New("catalog.postgres_dsn is required when catalog.driver is postgres"))
	}

	// Encoder
	if cfg.Encoder.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("encoder.max_failures %d must not be negative", cfg.Encoder.MaxFailures))
	}

	paths, err := NewPaths(cfg.Paths)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.paths = paths
	}

	return errors.Join(errs...)
}

func isWhole(x float64) bool {
	return math.Abs(x-math.Round(x)) < 1e-6 && math.Round(x) > 0
}
