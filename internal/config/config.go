// Package config provides configuration management for jerry-coverage.
//
// Configuration controls:
//   - Target address of the JerryScript debug server
//   - Coverage output file (merged on start, rewritten on a clean end)
//   - Poll interval of the run loop and hit logging
//   - Capability mode of the MCP server (readonly vs full)
//
// Configuration can be loaded from a JSON file or use sensible defaults;
// command line flags override file values.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ctagard/jerry-coverage/internal/errors"
	"github.com/ctagard/jerry-coverage/internal/jerry"
)

// CapabilityMode defines which MCP tools are exposed
type CapabilityMode string

const (
	ModeReadOnly CapabilityMode = "readonly" // Report tools only
	ModeFull     CapabilityMode = "full"     // Report tools and coverage collection
)

// Config holds the tool configuration
type Config struct {
	Mode CapabilityMode `json:"mode"`

	// Debug server address, "host[:port]"
	Address string `json:"address"`

	// Coverage results file
	CoverageOutput string `json:"coverageOutput"`

	// Pause between polls while the engine runs
	PollInterval Duration `json:"pollInterval"`

	// Log every breakpoint hit
	Verbose bool `json:"verbose"`
}

// Duration is a time.Duration that decodes from either a Go duration
// string ("10ms") or a number of nanoseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or an integer: %w", err)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:           ModeFull,
		Address:        "localhost:5001",
		CoverageOutput: "coverage_output.json",
		PollInterval:   Duration(10 * time.Millisecond),
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfigInvalid,
			fmt.Sprintf("failed to read configuration file %s", path),
			"Check that the -config path exists and is readable", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.CodeConfigInvalid,
			fmt.Sprintf("configuration file %s is not valid JSON", path),
			"Durations such as pollInterval are strings like \"10ms\"", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration can be used for a run
func (c *Config) Validate() error {
	if c.Mode != ModeReadOnly && c.Mode != ModeFull {
		return errors.ConfigInvalid("mode", fmt.Sprintf("unknown mode %q", c.Mode))
	}
	if _, err := ParseAddress(c.Address); err != nil {
		return err
	}
	if strings.TrimSpace(c.CoverageOutput) == "" {
		return errors.ConfigInvalid("coverageOutput", "must not be empty")
	}
	if c.PollInterval < 0 {
		return errors.ConfigInvalid("pollInterval", "must not be negative")
	}
	return nil
}

// CanCollect returns true if the coverage collection tool is enabled
func (c *Config) CanCollect() bool {
	return c.Mode == ModeFull
}

// ParseAddress normalizes "host[:port]" to "host:port", using jerry.DefaultPort
// when no port is given.
func ParseAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.ConfigInvalid("address", "must not be empty")
	}

	if !strings.Contains(address, ":") {
		return net.JoinHostPort(address, strconv.Itoa(jerry.DefaultPort)), nil
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", errors.ConfigInvalid("address", err.Error())
	}
	if host == "" {
		return "", errors.ConfigInvalid("address", "missing host")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", errors.ConfigInvalid("address", fmt.Sprintf("invalid port %q", portStr))
	}
	return net.JoinHostPort(host, portStr), nil
}
