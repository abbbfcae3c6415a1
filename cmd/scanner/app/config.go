package app

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/spectrum-scanner/internal/scanner"
	"github.com/roman-kulish/spectrum-scanner/internal/sdr/rtltcp"
	"github.com/roman-kulish/spectrum-scanner/internal/sdr/sim"
)

const (
	DeviceRTLTCP = "rtl-tcp"
	DeviceSim    = "sim"
)

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Device    DeviceConfig    `yaml:"device"`
	Tuning    TuningConfig    `yaml:"tuning"`
	Waterfall WaterfallConfig `yaml:"waterfall"`
	Storage   StorageConfig   `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// SlogLevel parses the configured log level, defaulting to info.
func (s Settings) SlogLevel() (slog.Level, error) {
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	return level, nil
}

// DeviceConfig selects and configures the sample source backend
type DeviceConfig struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`
	RTLTCP *rtltcp.Config `yaml:"rtltcp"`
	Sim    *sim.Config    `yaml:"sim"`
}

// TuningConfig is the engine's initial tuning
type TuningConfig struct {
	CenterFreq int64       `yaml:"centerFreq"`
	FreqOffset int64       `yaml:"freqOffset"`
	SampleRate int64       `yaml:"sampleRate"`
	Gain       GainSetting `yaml:"gain"`
	FFTSize    int         `yaml:"fftSize"`
	Averaging  float64     `yaml:"averaging"`
}

// WaterfallConfig represents history buffer settings
type WaterfallConfig struct {
	Depth       int     `yaml:"depth"`
	PeakDecay   float64 `yaml:"peakDecay"`
	ReadTimeout string  `yaml:"readTimeout"`
}

// StorageConfig represents recording settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DataDirectory string `yaml:"dataDirectory"`
}

// GainSetting is either "auto" or a manual gain in dB. The zero value, for
// a configuration without a gain key, means auto.
type GainSetting struct {
	Auto bool
	DB   float64

	set bool
}

func (g *GainSetting) UnmarshalYAML(value *yaml.Node) error {
	g.set = true

	if value.Value == "" || value.Value == "auto" {
		g.Auto = true
		return nil
	}

	db, err := strconv.ParseFloat(value.Value, 64)
	if err != nil {
		return fmt.Errorf("gain must be \"auto\" or a dB value: %q given", value.Value)
	}

	g.DB = db
	return nil
}

func (g GainSetting) MarshalYAML() (any, error) {
	if g.Auto || !g.set {
		return "auto", nil
	}
	return g.DB, nil
}

// EngineConfig translates the tuning section into an engine configuration,
// filling unset values with engine defaults.
func (c *Config) EngineConfig() scanner.Config {
	cfg := scanner.DefaultConfig()
	if c.Tuning.CenterFreq != 0 {
		cfg.CenterFreq = c.Tuning.CenterFreq
	}
	if c.Tuning.SampleRate != 0 {
		cfg.SampleRate = c.Tuning.SampleRate
	}
	if c.Tuning.FFTSize != 0 {
		cfg.FFTSize = c.Tuning.FFTSize
	}
	cfg.FreqOffset = c.Tuning.FreqOffset
	cfg.Averaging = c.Tuning.Averaging
	if c.Tuning.Gain.set && !c.Tuning.Gain.Auto {
		cfg.AutoGain = false
		cfg.GainDB = c.Tuning.Gain.DB
	}
	return cfg
}

// ReadTimeout parses the waterfall read timeout, defaulting to the engine's.
func (c *Config) ReadTimeout() (time.Duration, error) {
	if c.Waterfall.ReadTimeout == "" {
		return scanner.DefaultReadTimeout, nil
	}

	d, err := time.ParseDuration(c.Waterfall.ReadTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid read timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("read timeout must be positive: %s given", d)
	}
	return d, nil
}

func (c *Config) Validate() error {
	switch c.Device.Type {
	case DeviceRTLTCP:
		if c.Device.RTLTCP == nil {
			c.Device.RTLTCP = rtltcp.NewConfig()
		}
		if err := c.Device.RTLTCP.Validate(); err != nil {
			return err
		}

	case DeviceSim:
		if c.Device.Sim == nil {
			c.Device.Sim = sim.NewConfig()
		}
		if err := c.Device.Sim.Validate(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown device type %q", c.Device.Type)
	}

	if c.Waterfall.Depth < 0 {
		return fmt.Errorf("waterfall depth must not be negative: %d given", c.Waterfall.Depth)
	}
	if c.Waterfall.PeakDecay < 0 {
		return fmt.Errorf("waterfall peak decay must not be negative: %f given", c.Waterfall.PeakDecay)
	}
	if _, err := c.ReadTimeout(); err != nil {
		return err
	}
	if _, err := c.Settings.SlogLevel(); err != nil {
		return err
	}

	return c.EngineConfig().Validate()
}

// LoadConfig reads and validates a yaml configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration file: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
