// Package config loads the YAML configuration file a docbase
// instance is started with.
package config

import (
	"fmt"
	"os"
	"time"

	"docbase/counter"
	"docbase/engine"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Root string `yaml:"root"`
	// JSONBuffer controls how many documents a drained append batch
	// writes per append_file call; update and remove passes do not use
	// it. See engine.WithJSONBuffer.
	JSONBuffer int           `yaml:"json_buffer"`
	Counter    CounterConfig `yaml:"counter"`
	Worker     WorkerConfig  `yaml:"worker"`
	Log        LogConfig     `yaml:"log"`
}

// CounterConfig tunes the counter subsystem's flush behavior.
type CounterConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// WorkerConfig tunes the RPC wrapper used when a database is hosted
// in a child process.
type WorkerConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig holds settings for a human-readable operation log. No
// package in this module reads them; EngineOptions does not pass them on.
type LogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func defaults() Config {
	return Config{
		Root:       "data",
		JSONBuffer: engine.JSONBufferDefault,
		Counter: CounterConfig{
			FlushInterval: 30 * time.Second,
		},
		Worker: WorkerConfig{
			Enabled: false,
			Timeout: 60 * time.Second,
		},
		Log: LogConfig{
			Enabled: false,
		},
	}
}

// EngineOptions translates JSONBuffer, Counter.FlushInterval and
// Worker.Enabled into the engine.Option set engine.Open should be
// called with. Worker.Timeout and Log are not passed to the engine.
func (c *Config) EngineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithJSONBuffer(c.JSONBuffer),
		engine.WithFlushInterval(counter.WithFlushInterval(c.Counter.FlushInterval)),
	}
	if c.Worker.Enabled {
		opts = append(opts, engine.WithWorkerMode())
	}
	return opts
}

// Load reads and parses the YAML configuration at path, filling
// unset fields with their defaults. A missing file yields a config
// with every field at its default.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
