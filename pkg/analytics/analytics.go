// Package analytics derives fleet aggregates, advisories and rankings from
// a store snapshot. Everything here is a pure function of its inputs.
package analytics

import (
	"math"
	"sort"

	"github.com/raycarroll/edgefleet/pkg/history"
	"github.com/raycarroll/edgefleet/pkg/models"
	"github.com/raycarroll/edgefleet/pkg/store"
)

// Advisory thresholds.
const (
	CPUThreshold         = 80.0 // percent
	MemoryThreshold      = 85.0 // percent
	LatencyThreshold     = 50.0 // ms
	SuccessRateThreshold = 95.0 // percent

	TopNodes    = 5
	BottomNodes = 3
)

// Report is the derived view of one snapshot.
type Report struct {
	Aggregates           Aggregates           `json:"aggregates"`
	Recommendations      []Recommendation     `json:"recommendations"`
	TopNodes             []RankedNode         `json:"top_nodes"`
	BottomNodes          []RankedNode         `json:"bottom_nodes"`
	NodeDistribution     []Share              `json:"node_distribution"`
	WorkloadDistribution []Share              `json:"workload_distribution"`
	Trends               map[string]NodeTrend `json:"trends"`
}

// Aggregates are fleet-wide gauges. Averages cover online nodes only.
type Aggregates struct {
	TotalNodes        int     `json:"total_nodes"`
	ActiveNodes       int     `json:"active_nodes"`
	TotalWorkloads    int     `json:"total_workloads"`
	RunningWorkloads  int     `json:"running_workloads"`
	TerminalWorkloads int     `json:"terminal_workloads"`
	AverageCPU        float64 `json:"average_cpu_usage"`
	AverageMemory     float64 `json:"average_memory_usage"`
	AverageLatency    float64 `json:"average_latency"`
	SuccessRate       float64 `json:"success_rate"`
	SecurityIncidents int     `json:"security_incidents"`
}

// Level is the urgency of a recommendation.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
)

// Kind groups recommendations.
type Kind string

const (
	KindPerformance Kind = "performance"
	KindCapacity    Kind = "capacity"
	KindNetwork     Kind = "network"
	KindReliability Kind = "reliability"
)

// Recommendation is an advisory raised by a threshold.
type Recommendation struct {
	Kind    Kind   `json:"type"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// RankedNode is a node with its ranking score.
type RankedNode struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Category models.NodeCategory `json:"node_type"`
	Score    float64             `json:"score"`
	models.Gauges
}

// Share is one bucket of a category distribution.
type Share struct {
	Category   string  `json:"type"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// NodeTrend is the direction of each gauge of a node.
type NodeTrend struct {
	CPU     history.Trend `json:"cpu_usage"`
	Memory  history.Trend `json:"memory_usage"`
	Latency history.Trend `json:"network_latency"`
}

// Compute derives a report from snap and the ring buffer windows. Empty
// inputs produce zeroed aggregates and no recommendations.
func Compute(snap store.Snapshot, windows map[string][]models.MetricSample) Report {
	agg := Aggregate(snap)
	return Report{
		Aggregates:           agg,
		Recommendations:      Recommend(agg),
		TopNodes:             TopPerforming(snap, TopNodes),
		BottomNodes:          MostLoaded(snap, BottomNodes),
		NodeDistribution:     NodeDistribution(snap),
		WorkloadDistribution: WorkloadDistribution(snap),
		Trends:               Trends(snap, windows),
	}
}

// Aggregate computes fleet-wide gauges.
func Aggregate(snap store.Snapshot) Aggregates {
	a := Aggregates{
		TotalNodes:     len(snap.Nodes),
		TotalWorkloads: len(snap.Workloads),
	}

	var cpu, mem, lat float64
	for _, n := range snap.Nodes {
		if !n.IsOnline() {
			continue
		}
		a.ActiveNodes++
		cpu += n.CPUUsage
		mem += n.MemoryUsage
		lat += n.NetworkLatency
	}
	if a.ActiveNodes > 0 {
		k := float64(a.ActiveNodes)
		a.AverageCPU, a.AverageMemory, a.AverageLatency = cpu/k, mem/k, lat/k
	}

	var completed int
	for _, w := range snap.Workloads {
		switch w.Status {
		case models.WorkloadRunning:
			a.RunningWorkloads++
		case models.WorkloadCompleted:
			completed++
			a.TerminalWorkloads++
		case models.WorkloadFailed:
			a.TerminalWorkloads++
		}
	}
	if a.TerminalWorkloads > 0 {
		a.SuccessRate = float64(completed) / float64(a.TerminalWorkloads) * 100
	}

	for _, e := range snap.SecurityEvents {
		if !e.Resolved {
			a.SecurityIncidents++
		}
	}
	return a
}

// Recommend applies the advisory thresholds. Advisories are independent;
// the reliability advisory needs at least one finished workload.
func Recommend(a Aggregates) []Recommendation {
	recs := []Recommendation{}
	if a.AverageCPU > CPUThreshold {
		recs = append(recs, Recommendation{
			Kind:    KindPerformance,
			Level:   LevelHigh,
			Message: "High CPU usage detected across edge nodes. Consider load balancing or scaling.",
			Action:  "Scale edge infrastructure or optimize workload distribution",
		})
	}
	if a.AverageMemory > MemoryThreshold {
		recs = append(recs, Recommendation{
			Kind:    KindCapacity,
			Level:   LevelHigh,
			Message: "Memory usage is critically high. Immediate action required.",
			Action:  "Add more edge nodes or reduce memory-intensive workloads",
		})
	}
	if a.AverageLatency > LatencyThreshold {
		recs = append(recs, Recommendation{
			Kind:    KindNetwork,
			Level:   LevelMedium,
			Message: "Network latency is above optimal thresholds.",
			Action:  "Check network connectivity and consider edge node placement",
		})
	}
	if a.TerminalWorkloads > 0 && a.SuccessRate < SuccessRateThreshold {
		recs = append(recs, Recommendation{
			Kind:    KindReliability,
			Level:   LevelMedium,
			Message: "Workload success rate is below target (95%).",
			Action:  "Review failed workloads and improve error handling",
		})
	}
	return recs
}

// TopPerforming ranks online nodes by health score, best first.
func TopPerforming(snap store.Snapshot, limit int) []RankedNode {
	return rank(snap, limit, models.Gauges.HealthScore)
}

// MostLoaded ranks online nodes by load score, most loaded first.
func MostLoaded(snap store.Snapshot, limit int) []RankedNode {
	return rank(snap, limit, models.Gauges.LoadScore)
}

func rank(snap store.Snapshot, limit int, score func(models.Gauges) float64) []RankedNode {
	out := []RankedNode{}
	for _, n := range snap.OnlineNodes() {
		out = append(out, RankedNode{
			ID:       n.ID,
			Name:     n.Name,
			Category: n.Category,
			Score:    score(n.Gauges),
			Gauges:   n.Gauges,
		})
	}
	// stable keeps snapshot order among equal scores
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// NodeDistribution counts nodes per category.
func NodeDistribution(snap store.Snapshot) []Share {
	counts := map[string]int{}
	for _, n := range snap.Nodes {
		counts[string(n.Category)]++
	}
	return shares(counts, len(snap.Nodes))
}

// WorkloadDistribution counts workloads per category.
func WorkloadDistribution(snap store.Snapshot) []Share {
	counts := map[string]int{}
	for _, w := range snap.Workloads {
		counts[string(w.Category)]++
	}
	return shares(counts, len(snap.Workloads))
}

func shares(counts map[string]int, total int) []Share {
	out := make([]Share, 0, len(counts))
	for c, n := range counts {
		out = append(out, Share{
			Category:   c,
			Count:      n,
			Percentage: math.Round(float64(n)/float64(total)*1000) / 10,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Trends reports the gauge trends of every online node.
func Trends(snap store.Snapshot, windows map[string][]models.MetricSample) map[string]NodeTrend {
	out := make(map[string]NodeTrend)
	for _, n := range snap.OnlineNodes() {
		w := windows[n.ID]
		out[n.ID] = NodeTrend{
			CPU:     history.TrendOf(w, models.FieldCPU),
			Memory:  history.TrendOf(w, models.FieldMemory),
			Latency: history.TrendOf(w, models.FieldLatency),
		}
	}
	return out
}
