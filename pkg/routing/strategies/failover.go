package strategies

import "github.com/jeffersonwarrior/aimux-sub000/pkg/providers"

// Failover picks an alternative after a provider failed.
type Failover struct {
	balancer Strategy
}

// NewFailover creates a failover selector that weights alternatives with
// balancer. A nil balancer uses a new WeightedRandom.
func NewFailover(balancer Strategy) *Failover {
	if balancer == nil {
		balancer = NewWeightedRandom()
	}
	return &Failover{balancer: balancer}
}

// SelectFailover returns a candidate other than excluded, or "" when no
// alternative exists.
func (f *Failover) SelectFailover(excluded string, candidates []providers.Entry) string {
	remaining := make([]providers.Entry, 0, len(candidates))
	for _, c := range candidates {
		if c.Name != excluded {
			remaining = append(remaining, c)
		}
	}

	name, err := f.balancer.Select(remaining)
	if err != nil {
		return ""
	}
	return name
}
