package loadbalancer

import "sync/atomic"

// RoundRobin cycles through the healthy targets. When the healthy set shrinks
// the cursor keeps moving, so the order restarts from wherever it lands.
type RoundRobin struct {
	cursor atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	n := r.cursor.Add(1) - 1
	return targets[n%uint64(len(targets))]
}

func (r *RoundRobin) Name() string {
	return StrategyRoundRobin
}
