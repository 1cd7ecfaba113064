package history

import "github.com/raycarroll/edgefleet/pkg/models"

// Trend is the direction of a gauge over the recent window.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

const (
	trendWindow    = 5
	trendThreshold = 5.0
)

// TrendOf compares the mean of the last five samples with the mean of the
// five before them. Fewer than ten samples is always stable.
func TrendOf(samples []models.MetricSample, field models.Field) Trend {
	n := len(samples)
	if n < 2*trendWindow {
		return TrendStable
	}
	recent := mean(samples[n-trendWindow:], field)
	prior := mean(samples[n-2*trendWindow:n-trendWindow], field)

	switch {
	case recent > prior+trendThreshold:
		return TrendUp
	case recent < prior-trendThreshold:
		return TrendDown
	default:
		return TrendStable
	}
}

func mean(samples []models.MetricSample, field models.Field) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.Value(field)
	}
	return sum / float64(len(samples))
}
