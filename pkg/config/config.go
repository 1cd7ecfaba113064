// Package config loads engine configuration from a YAML file and
// EDGEFLEET_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/raycarroll/edgefleet/pkg/backend"
	"github.com/raycarroll/edgefleet/pkg/history"
	"github.com/raycarroll/edgefleet/pkg/lifecycle"
)

// Config holds all engine configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	History     HistoryConfig     `yaml:"history"`
	Poll        PollConfig        `yaml:"poll"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Stream      StreamConfig      `yaml:"stream"`
	Backend     BackendConfig     `yaml:"backend"`
	API         APIConfig         `yaml:"api"`
	VirtualNode VirtualNodeConfig `yaml:"virtual_node"`
}

// HistoryConfig sizes the metric ring buffer.
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// PollConfig controls the periodic full refresh.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// SimulationConfig tunes simulated workload execution.
type SimulationConfig struct {
	DelayMin           time.Duration `yaml:"delay_min"`
	DelayMax           time.Duration `yaml:"delay_max"`
	SuccessProbability float64       `yaml:"success_probability"`
	DurationMin        time.Duration `yaml:"duration_min"`
	DurationMax        time.Duration `yaml:"duration_max"`
}

// StreamConfig locates the event stream.
type StreamConfig struct {
	URL     string        `yaml:"url"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig is the reconnect policy.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Factor  float64       `yaml:"factor"`
	Jitter  float64       `yaml:"jitter"`
	Cap     time.Duration `yaml:"cap"`
}

// BackendConfig locates the CRUD backend.
type BackendConfig struct {
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"`
	InsecureTLS  bool          `yaml:"insecure_tls"`
	WriteThrough bool          `yaml:"write_through"`
}

// APIConfig controls the observer HTTP API.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// VirtualNodeConfig controls the Virtual Kubelet bridge.
type VirtualNodeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// Default returns the reference configuration.
func Default() Config {
	sim := lifecycle.DefaultSimulation()
	return Config{
		LogLevel: "info",
		History:  HistoryConfig{Capacity: history.DefaultCapacity},
		Poll:     PollConfig{Interval: 30 * time.Second},
		Simulation: SimulationConfig{
			DelayMin:           sim.DelayMin,
			DelayMax:           sim.DelayMax,
			SuccessProbability: sim.SuccessProbability,
			DurationMin:        sim.DurationMin,
			DurationMax:        sim.DurationMax,
		},
		Stream: StreamConfig{
			URL: "ws://localhost:8001/ws",
			Backoff: BackoffConfig{
				Initial: time.Second,
				Factor:  2.0,
				Jitter:  0.1,
				Cap:     30 * time.Second,
			},
		},
		Backend: BackendConfig{
			URL:          "http://localhost:8001/api",
			Timeout:      10 * time.Second,
			WriteThrough: true,
		},
		API:         APIConfig{Listen: ":8080"},
		VirtualNode: VirtualNodeConfig{Name: "edgefleet-node"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := cfg.Decode(data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML data on c. Unknown keys are rejected.
func (c *Config) Decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// Validate checks ranges and required fields.
func (c Config) Validate() error {
	var errs []error
	if c.History.Capacity < 1 {
		errs = append(errs, fmt.Errorf("history.capacity must be at least 1, got %d", c.History.Capacity))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval))
	}
	if err := c.Simulation.Lifecycle().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Stream.URL == "" {
		errs = append(errs, errors.New("stream.url is required"))
	}
	b := c.Stream.Backoff
	if b.Initial <= 0 {
		errs = append(errs, fmt.Errorf("stream.backoff.initial must be positive, got %s", b.Initial))
	}
	if b.Factor < 1 {
		errs = append(errs, fmt.Errorf("stream.backoff.factor must be at least 1, got %v", b.Factor))
	}
	if b.Jitter < 0 {
		errs = append(errs, fmt.Errorf("stream.backoff.jitter must not be negative, got %v", b.Jitter))
	}
	if b.Cap < b.Initial {
		errs = append(errs, fmt.Errorf("stream.backoff.cap %s is below initial %s", b.Cap, b.Initial))
	}
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("backend.timeout must be positive, got %s", c.Backend.Timeout))
	}
	if c.VirtualNode.Enabled && c.VirtualNode.Name == "" {
		errs = append(errs, errors.New("virtual_node.name is required when the virtual node is enabled"))
	}
	return errors.Join(errs...)
}

// Lifecycle converts the simulation tuning for the lifecycle controller.
func (s SimulationConfig) Lifecycle() lifecycle.SimulationConfig {
	return lifecycle.SimulationConfig{
		DelayMin:           s.DelayMin,
		DelayMax:           s.DelayMax,
		SuccessProbability: s.SuccessProbability,
		DurationMin:        s.DurationMin,
		DurationMax:        s.DurationMax,
	}
}

// Wait converts the reconnect policy. The policy never runs out of steps.
func (b BackoffConfig) Wait() wait.Backoff {
	return wait.Backoff{
		Duration: b.Initial,
		Factor:   b.Factor,
		Jitter:   b.Jitter,
		Steps:    1 << 30,
		Cap:      b.Cap,
	}
}

// Client converts the backend settings for the HTTP client.
func (b BackendConfig) Client() backend.Config {
	return backend.Config{
		APIURL:      b.URL,
		AuthToken:   b.Token,
		InsecureTLS: b.InsecureTLS,
		Timeout:     b.Timeout,
	}
}
