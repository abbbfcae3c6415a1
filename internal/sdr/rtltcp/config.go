package rtltcp

import (
	"fmt"
	"net"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddress     = "127.0.0.1:1234"
	DefaultDialTimeout = 5 * time.Second
)

// Config holds rtl_tcp connection settings.
type Config struct {
	// Address is the host:port of the rtl_tcp server.
	Address string `yaml:"address" json:"address"`

	// DialTimeout bounds the initial connection attempt.
	Dial Timeout `yaml:"dialTimeout" json:"dialTimeout"`

	// FreqCorrection is the tuner frequency correction in PPM.
	FreqCorrection *int `yaml:"freqCorrection" json:"freqCorrection"`
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	return &Config{
		Address: DefaultAddress,
		Dial:    Timeout(DefaultDialTimeout),
	}
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("rtltcp.Config: address must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("rtltcp.Config: invalid address %q: %w", c.Address, err)
	}
	if time.Duration(c.Dial) < 0 {
		return fmt.Errorf("rtltcp.Config: dial timeout must not be negative")
	}
	if c.FreqCorrection != nil && (*c.FreqCorrection < -1000 || *c.FreqCorrection > 1000) {
		return fmt.Errorf("rtltcp.Config: frequency correction must be within ±1000 ppm: %d given", *c.FreqCorrection)
	}
	return nil
}

func (c *Config) dialTimeout() time.Duration {
	if c.Dial == 0 {
		return DefaultDialTimeout
	}
	return time.Duration(c.Dial)
}

// Timeout is a time.Duration that unmarshals from a duration string.
type Timeout time.Duration

func (t *Timeout) UnmarshalYAML(value *yaml.Node) error {
	d, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("rtltcp.Timeout: failed to parse: %w", err)
	}

	*t = Timeout(d)
	return nil
}

func (t Timeout) MarshalYAML() (any, error) {
	return time.Duration(t).String(), nil
}
