package loadbalancer

import "sync"

type LeastConnections struct {
	mu          sync.RWMutex
	connections map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{
		connections: make(map[string]int),
	}
}

// Returns the target with the fewest in-flight calls; ties go to the earlier target.
func (l *LeastConnections) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	selected := targets[0]
	minConn := l.connections[selected]

	for _, target := range targets[1:] {
		if conn := l.connections[target]; conn < minConn {
			minConn = conn
			selected = target
		}
	}

	return selected
}

func (l *LeastConnections) Increment(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connections[target]++
}

func (l *LeastConnections) Decrement(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[target] > 0 {
		l.connections[target]--
	}
}

// Returns the in-flight count of target
func (l *LeastConnections) Connections(target string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connections[target]
}

func (l *LeastConnections) Name() string {
	return StrategyLeastConnections
}
