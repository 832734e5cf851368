package loadbalancer

import "github.com/aman-churiwal/llm-gateway/internal/metrics"

type Strategy interface {
	// Selects the next target from available targets
	Next(targets []string) string

	// Returns the strategy name
	Name() string
}

// Implemented by strategies that need to know about in-flight calls.
type ConnectionTracker interface {
	Increment(target string)
	Decrement(target string)
}

// Pick selects a target for one upstream call and marks it in flight. The
// returned func marks the call done. Empty targets give "" and a no-op func.
func Pick(s Strategy, targets []string) (string, func()) {
	target := s.Next(targets)
	if target == "" {
		return "", func() {}
	}
	metrics.UpstreamPicksTotal.WithLabelValues(s.Name(), target).Inc()
	return target, Track(s, target)
}

// Marks a call to target as started and returns the func that marks it done.
func Track(s Strategy, target string) func() {
	ct, ok := s.(ConnectionTracker)
	if !ok {
		return func() {}
	}
	ct.Increment(target)
	return func() { ct.Decrement(target) }
}
