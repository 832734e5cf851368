package loadbalancer

import (
	"testing"

	"github.com/aman-churiwal/llm-gateway/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var targets = []string{"http://a", "http://b", "http://c"}

func TestNewStrategy(t *testing.T) {
	for name, want := range map[string]string{
		"":                  "round_robin",
		"round-robin":       "round_robin",
		"random":            "random",
		"least_connections": "least_connections",
	} {
		s, err := NewStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, s.Name())
	}

	_, err := NewStrategy("weighted")
	assert.Error(t, err)
}

func TestRoundRobin(t *testing.T) {
	rr := NewRoundRobin()

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, rr.Next(targets))
	}
	assert.Equal(t, []string{"http://a", "http://b", "http://c", "http://a"}, got)
	assert.Empty(t, rr.Next(nil))
}

func TestRandom(t *testing.T) {
	r := NewRandom()
	for i := 0; i < 20; i++ {
		assert.Contains(t, targets, r.Next(targets))
	}
	assert.Empty(t, r.Next(nil))
}

func TestLeastConnections(t *testing.T) {
	lc := NewLeastConnections()

	assert.Equal(t, "http://a", lc.Next(targets))

	doneA := Track(lc, "http://a")
	doneB := Track(lc, "http://b")
	assert.Equal(t, "http://c", lc.Next(targets))

	doneA()
	assert.Equal(t, "http://a", lc.Next(targets))
	assert.Equal(t, 1, lc.Connections("http://b"))

	doneB()
	doneB()
	assert.Zero(t, lc.Connections("http://b"))
}

func TestTrackWithoutTracker(t *testing.T) {
	done := Track(NewRoundRobin(), "http://a")
	assert.NotPanics(t, done)
}

func TestRandom_UsesSource(t *testing.T) {
	r := &Random{intN: func(n int) int { return n - 1 }}
	assert.Equal(t, "http://c", r.Next(targets))
	assert.Equal(t, "http://a", r.Next(targets[:1]))
}

func TestPick(t *testing.T) {
	lc := NewLeastConnections()
	picks := metrics.UpstreamPicksTotal.WithLabelValues(StrategyLeastConnections, "http://a")
	before := testutil.ToFloat64(picks)

	target, done := Pick(lc, targets)
	assert.Equal(t, "http://a", target)
	assert.Equal(t, 1, lc.Connections("http://a"))
	assert.Equal(t, before+1, testutil.ToFloat64(picks))

	next, doneNext := Pick(lc, targets)
	assert.Equal(t, "http://b", next)

	done()
	doneNext()
	assert.Zero(t, lc.Connections("http://a"))

	target, done = Pick(NewRoundRobin(), nil)
	assert.Empty(t, target)
	done()
}
