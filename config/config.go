// Package config loads the handful of scheduler tunables from YAML, the
// way a production deployment would feed scheduler.New's options without
// hardcoding values into the binary. Loading happens once at startup;
// there is deliberately no hot-reload (see DESIGN.md for why
// threadpoolSize can't safely change underneath a running scheduler).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "5m"/"30s" in
// YAML instead of a raw nanosecond count; time.Duration has no
// UnmarshalYAML of its own.
type Duration time.Duration

// UnmarshalYAML parses a duration string via time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back in time.ParseDuration form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration unwraps to a plain time.Duration for callers.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Tunables are the external interfaces' tunables (spec §6).
type Tunables struct {
	SchedulerName            string   `yaml:"schedulerName"`
	ThreadpoolSize           int      `yaml:"threadpoolSize"`
	PollingLimit             int      `yaml:"pollingLimit"`
	PollInterval             Duration `yaml:"pollInterval"`
	HeartbeatInterval        Duration `yaml:"heartbeatInterval"`
	ShutdownWait             Duration `yaml:"shutdownWait"`
	EnableImmediateExecution bool     `yaml:"enableImmediateExecution"`
}

// Default returns the tunables scheduler.New uses when no option
// overrides them.
func Default() Tunables {
	return Tunables{
		ThreadpoolSize:           10,
		PollingLimit:             100,
		PollInterval:             Duration(10 * time.Second),
		HeartbeatInterval:        Duration(5 * time.Minute),
		ShutdownWait:             Duration(30 * time.Minute),
		EnableImmediateExecution: false,
	}
}

// Load reads and parses a YAML tunables file, filling in defaults for
// any field the file omits.
func Load(path string) (Tunables, error) {
	t := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Tunables{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tunables{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return t, nil
}
