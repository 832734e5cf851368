package loadbalancer

import "fmt"

// Strategy names as reported by Name and exported in metrics.
const (
	StrategyRoundRobin       = "round_robin"
	StrategyRandom           = "random"
	StrategyLeastConnections = "least_connections"
)

// Creates the strategy for an upstream.load_balancer_strategy value. Dashed
// spellings are accepted alongside the canonical names.
func NewStrategy(strategyName string) (Strategy, error) {
	switch strategyName {
	case StrategyRoundRobin, "round-robin", "":
		return NewRoundRobin(), nil
	case StrategyRandom:
		return NewRandom(), nil
	case StrategyLeastConnections, "least-connections", "least-connection":
		return NewLeastConnections(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q (want %s, %s or %s)",
			strategyName, StrategyRoundRobin, StrategyRandom, StrategyLeastConnections)
	}
}
