package loadbalancer

import "math/rand/v2"

// Random spreads calls uniformly over the healthy upstream targets.
type Random struct {
	intN func(n int) int
}

func NewRandom() *Random {
	return &Random{intN: rand.IntN}
}

func (r *Random) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}
	if len(targets) == 1 {
		return targets[0]
	}

	return targets[r.intN(len(targets))]
}

func (r *Random) Name() string {
	return StrategyRandom
}
