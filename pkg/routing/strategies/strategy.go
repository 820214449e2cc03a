// Package strategies selects one provider from a filtered candidate list.
package strategies

import "github.com/jeffersonwarrior/aimux-sub000/pkg/providers"

// Strategy picks a provider name from candidates that have already been
// filtered for health and capability.
//
// Implementations must be safe for concurrent use.
type Strategy interface {
	// Select returns the name of one candidate. It returns
	// routing.ErrNoCandidates when candidates is empty.
	Select(candidates []providers.Entry) (string, error)

	// Name identifies the strategy in logs.
	Name() string
}

// Weight scores a provider for load-balancing: higher priority raises it,
// slower responses and higher output-token cost lower it.
//
//	weight = priority / (1 + avg_ms/100) / (1 + cost*1000)
//
// Negative inputs are clamped to zero.
func Weight(e providers.Entry) float64 {
	priority := nonNegative(e.Performance.PriorityScore)
	latency := nonNegative(e.Performance.AvgResponseTimeMs)
	cost := nonNegative(e.Performance.CostPerOutputToken)
	return priority / (1 + latency/100) / (1 + cost*1000)
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
