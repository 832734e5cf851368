package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-churiwal/llm-gateway/internal/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, status *atomic.Int32, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if code := int(status.Load()); code != http.StatusOK {
			http.Error(w, "nope", code)
			return
		}

		var req chatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": req.Model,
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "echo: " + req.Messages[0].Content}},
			},
			"usage": map[string]int64{"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	cfg.APIKey = "sk-test"
	cfg.DisableHealthCheck = true
	c, err := New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func TestComplete(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := completionServer(t, &status, nil)

	c := newClient(t, Config{Targets: []string{srv.URL + "/"}})

	resp, err := c.Complete(context.Background(), Request{Model: "gpt-4o-mini", Prompt: "hi", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", resp.Content)
	assert.Equal(t, int64(12), resp.InputTokens)
	assert.Equal(t, int64(34), resp.OutputTokens)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, srv.URL, resp.Target)
}

func TestComplete_ServerErrorOpensCircuit(t *testing.T) {
	var status, hits atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := completionServer(t, &status, &hits)

	c := newClient(t, Config{
		Targets:        []string{srv.URL},
		CircuitBreaker: circuitbreaker.Config{MaxFailures: 2, Timeout: time.Hour},
	})

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.Code)
		assert.True(t, Retryable(err))
	}

	_, err := c.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, Retryable(err))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, circuitbreaker.StateOpen, c.CircuitBreakerMetrics()[0].State)

	c.ResetCircuitBreakers()
	assert.Equal(t, circuitbreaker.StateClosed, c.CircuitBreakerMetrics()[0].State)
}

func TestComplete_ClientErrorDoesNotTripBreaker(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	srv := completionServer(t, &status, nil)

	c := newClient(t, Config{
		Targets:        []string{srv.URL},
		CircuitBreaker: circuitbreaker.Config{MaxFailures: 1},
	})

	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
		require.Error(t, err)
		assert.False(t, Retryable(err))
	}
	assert.Equal(t, circuitbreaker.StateClosed, c.CircuitBreakerMetrics()[0].State)
}

func TestComplete_RoundRobinAcrossTargets(t *testing.T) {
	var status, hitsA, hitsB atomic.Int32
	status.Store(http.StatusOK)
	a := completionServer(t, &status, &hitsA)
	b := completionServer(t, &status, &hitsB)

	c := newClient(t, Config{Targets: []string{a.URL, b.URL}, LoadBalancerStrategy: "round_robin"})

	for i := 0; i < 4; i++ {
		_, err := c.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hitsA.Load())
	assert.Equal(t, int32(2), hitsB.Load())
}

func TestComplete_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)

	c := newClient(t, Config{Targets: []string{slow.URL}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, Request{Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, Retryable(err))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Targets: []string{"http://a"}, LoadBalancerStrategy: "weighted", DisableHealthCheck: true}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Targets: []string{"not a url"}, DisableHealthCheck: true}, nil, nil)
	assert.Error(t, err)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(ErrNoHealthyTargets))
	assert.True(t, Retryable(&StatusError{Code: 429}))
	assert.False(t, Retryable(&StatusError{Code: 404}))
}
