package lifecycle

import (
	"fmt"
	"sync"
	"time"
)

// Source is the randomness consumed by the simulated execution path.
// *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// SimulationConfig tunes simulated workload execution.
type SimulationConfig struct {
	DelayMin           time.Duration // earliest resolution after start
	DelayMax           time.Duration // latest resolution after start
	SuccessProbability float64       // chance that a run completes
	DurationMin        time.Duration // reported execution time lower bound
	DurationMax        time.Duration // reported execution time upper bound
}

// DefaultSimulation returns the reference tuning.
func DefaultSimulation() SimulationConfig {
	return SimulationConfig{
		DelayMin:           3 * time.Second,
		DelayMax:           8 * time.Second,
		SuccessProbability: 0.9,
		DurationMin:        30 * time.Second,
		DurationMax:        150 * time.Second,
	}
}

// Validate checks the tuning for inverted ranges and bad probabilities.
func (c SimulationConfig) Validate() error {
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		return fmt.Errorf("simulation delay range [%s, %s] is invalid", c.DelayMin, c.DelayMax)
	}
	if c.SuccessProbability < 0 || c.SuccessProbability > 1 {
		return fmt.Errorf("simulation success probability %v must be within [0, 1]", c.SuccessProbability)
	}
	if c.DurationMin < 0 || c.DurationMax < c.DurationMin {
		return fmt.Errorf("simulation duration range [%s, %s] is invalid", c.DurationMin, c.DurationMax)
	}
	return nil
}

func (c SimulationConfig) delay(r Source) time.Duration {
	return c.DelayMin + time.Duration(r.Float64()*float64(c.DelayMax-c.DelayMin))
}

func (c SimulationConfig) succeeds(r Source) bool {
	return r.Float64() < c.SuccessProbability
}

// executionSeconds is drawn independently of the scheduling delay.
func (c SimulationConfig) executionSeconds(r Source) float64 {
	lo, hi := c.DurationMin.Seconds(), c.DurationMax.Seconds()
	return lo + r.Float64()*(hi-lo)
}

// Sequence replays fixed values in order and then repeats the last one.
// Useful for deterministic runs.
type Sequence struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSequence creates a Sequence over values.
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

// Float64 implements Source.
func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	if s.next >= len(s.values) {
		return s.values[len(s.values)-1]
	}
	v := s.values[s.next]
	s.next++
	return v
}
