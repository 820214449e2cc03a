package strategies

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

// WeightedRandom draws one candidate with probability proportional to its
// Weight. When every weight is zero the draw is uniform.
type WeightedRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewWeightedRandom creates a strategy seeded from the clock.
func NewWeightedRandom() *WeightedRandom {
	return NewSeededWeightedRandom(uint64(time.Now().UnixNano()))
}

// NewSeededWeightedRandom creates a strategy with a reproducible sequence.
func NewSeededWeightedRandom(seed uint64) *WeightedRandom {
	return &WeightedRandom{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Name returns "weighted-random".
func (w *WeightedRandom) Name() string {
	return "weighted-random"
}

// Select returns one candidate name, or routing.ErrNoCandidates.
func (w *WeightedRandom) Select(candidates []providers.Entry) (string, error) {
	if len(candidates) == 0 {
		return "", routing.ErrNoCandidates
	}
	if len(candidates) == 1 {
		return candidates[0].Name, nil
	}

	cumulative := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		total += Weight(c)
		cumulative[i] = total
	}

	if total <= 0 {
		return candidates[w.index(len(candidates))].Name, nil
	}

	draw := w.uniform() * total
	for i, bound := range cumulative {
		if draw < bound {
			return candidates[i].Name, nil
		}
	}
	// Floating point rounding can leave draw at the upper bound.
	return candidates[len(candidates)-1].Name, nil
}

func (w *WeightedRandom) uniform() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rng.Float64()
}

func (w *WeightedRandom) index(n int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rng.IntN(n)
}
