package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EDGEFLEET_"

type binding struct {
	key string
	set func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func float(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var bindings = []binding{
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"HISTORY_CAPACITY", integer(func(c *Config) *int { return &c.History.Capacity })},
	{"POLL_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Poll.Interval })},
	{"SIMULATION_DELAY_MIN", duration(func(c *Config) *time.Duration { return &c.Simulation.DelayMin })},
	{"SIMULATION_DELAY_MAX", duration(func(c *Config) *time.Duration { return &c.Simulation.DelayMax })},
	{"SIMULATION_SUCCESS_PROBABILITY", float(func(c *Config) *float64 { return &c.Simulation.SuccessProbability })},
	{"SIMULATION_DURATION_MIN", duration(func(c *Config) *time.Duration { return &c.Simulation.DurationMin })},
	{"SIMULATION_DURATION_MAX", duration(func(c *Config) *time.Duration { return &c.Simulation.DurationMax })},
	{"STREAM_URL", str(func(c *Config) *string { return &c.Stream.URL })},
	{"STREAM_BACKOFF_INITIAL", duration(func(c *Config) *time.Duration { return &c.Stream.Backoff.Initial })},
	{"STREAM_BACKOFF_FACTOR", float(func(c *Config) *float64 { return &c.Stream.Backoff.Factor })},
	{"STREAM_BACKOFF_JITTER", float(func(c *Config) *float64 { return &c.Stream.Backoff.Jitter })},
	{"STREAM_BACKOFF_CAP", duration(func(c *Config) *time.Duration { return &c.Stream.Backoff.Cap })},
	{"BACKEND_URL", str(func(c *Config) *string { return &c.Backend.URL })},
	{"BACKEND_TOKEN", str(func(c *Config) *string { return &c.Backend.Token })},
	{"BACKEND_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Backend.Timeout })},
	{"BACKEND_INSECURE_TLS", boolean(func(c *Config) *bool { return &c.Backend.InsecureTLS })},
	{"BACKEND_WRITE_THROUGH", boolean(func(c *Config) *bool { return &c.Backend.WriteThrough })},
	{"API_LISTEN", str(func(c *Config) *string { return &c.API.Listen })},
	{"VIRTUAL_NODE_ENABLED", boolean(func(c *Config) *bool { return &c.VirtualNode.Enabled })},
	{"VIRTUAL_NODE_NAME", str(func(c *Config) *string { return &c.VirtualNode.Name })},
}

// ApplyEnv overrides c from EDGEFLEET_* variables found through lookup.
// Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range bindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.set(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
		}
	}
	return nil
}
