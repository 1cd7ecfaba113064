package history

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raycarroll/edgefleet/pkg/models"
)

func TestTrend_StableBelowTenSamples(t *testing.T) {
	b := NewBuffer(DefaultCapacity)
	for i := 0; i < 9; i++ {
		b.Append("n1", sample(float64(i*50)))
		for _, f := range models.Fields {
			assert.Equal(t, TrendStable, b.Trend("n1", f), "after %d samples", i+1)
		}
	}
	assert.Equal(t, TrendStable, b.Trend("unknown", models.FieldCPU))
}

func TestTrendOf(t *testing.T) {
	build := func(prior, recent float64) []models.MetricSample {
		var out []models.MetricSample
		for i := 0; i < 5; i++ {
			out = append(out, sample(prior))
		}
		for i := 0; i < 5; i++ {
			out = append(out, sample(recent))
		}
		return out
	}

	tests := []struct {
		name          string
		prior, recent float64
		want          Trend
	}{
		{"up", 40, 46, TrendUp},
		{"down", 40, 34, TrendDown},
		{"exactly threshold is stable", 40, 45, TrendStable},
		{"flat", 40, 40, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrendOf(build(tt.prior, tt.recent), models.FieldCPU))
		})
	}
}

func TestTrendOf_UsesMostRecentTen(t *testing.T) {
	var samples []models.MetricSample
	for i := 0; i < 5; i++ {
		samples = append(samples, sample(0))
	}
	for i := 0; i < 10; i++ {
		samples = append(samples, sample(50))
	}
	assert.Equal(t, TrendStable, TrendOf(samples, models.FieldLatency))
}
