package healthcheck

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChecker_MarksUnhealthyAfterMaxFailures(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer flaky.Close()

	c := NewChecker(Config{
		Targets:     []string{up.URL, flaky.URL},
		MaxFailures: 2,
		Timeout:     time.Second,
	}, up.Client(), nil)

	c.CheckAll()
	assert.Equal(t, Healthy, c.OverallHealth())

	healthy.Store(false)
	c.CheckAll()
	assert.Len(t, c.GetHealthyTargets(), 2, "one failure is tolerated")

	c.CheckAll()
	assert.Equal(t, []string{up.URL}, c.GetHealthyTargets())
	assert.Equal(t, Degraded, c.OverallHealth())
	assert.Equal(t, 2, c.GetStatus(flaky.URL).FailureCount)

	healthy.Store(true)
	c.CheckAll()
	assert.Equal(t, Healthy, c.OverallHealth())
}

func TestChecker_UnreachableTarget(t *testing.T) {
	c := NewChecker(Config{
		Targets:     []string{"http://127.0.0.1:1"},
		MaxFailures: 1,
		Timeout:     200 * time.Millisecond,
	}, nil, nil)

	c.CheckAll()
	assert.Empty(t, c.GetHealthyTargets())
	assert.Equal(t, Unhealthy, c.OverallHealth())
}

func TestChecker_StartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
	}))
	defer srv.Close()

	c := NewChecker(Config{Targets: []string{srv.URL}, Endpoint: "/healthz", Interval: time.Hour}, nil, nil)
	c.Start()
	c.Start()
	c.Stop()
	c.Stop()

	assert.False(t, c.GetStatus(srv.URL).LastSuccess.IsZero())
	assert.Nil(t, c.GetStatus("http://other"))
}
