package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusStartsHealthy(t *testing.T) {
	s := NewStatus()
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.ConsecutiveFailures)
}

func TestStatusFlipsAfterRetriesFailures(t *testing.T) {
	cfg := Config{Retries: 3}
	s := NewStatus()

	now := time.Now()
	fail := Result{Healthy: false, Message: "boom", CheckedAt: now}

	s.Update(fail, cfg)
	assert.True(t, s.Healthy, "one failure should not flip the status")
	assert.Equal(t, 1, s.ConsecutiveFailures)

	s.Update(fail, cfg)
	assert.True(t, s.Healthy)

	s.Update(fail, cfg)
	assert.False(t, s.Healthy, "third consecutive failure crosses the threshold")
	assert.Equal(t, 3, s.ConsecutiveFailures)
}

func TestStatusRecoversOnSuccess(t *testing.T) {
	cfg := Config{Retries: 2}
	s := NewStatus()

	fail := Result{Healthy: false}
	ok := Result{Healthy: true}

	s.Update(fail, cfg)
	s.Update(fail, cfg)
	require.False(t, s.Healthy)

	s.Update(ok, cfg)
	assert.True(t, s.Healthy, "a single success recovers the status")
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, 1, s.ConsecutiveSuccesses)
}

func TestStatusFailureResetsSuccessStreak(t *testing.T) {
	cfg := Config{Retries: 3}
	s := NewStatus()

	s.Update(Result{Healthy: true}, cfg)
	s.Update(Result{Healthy: true}, cfg)
	s.Update(Result{Healthy: false}, cfg)

	assert.Equal(t, 0, s.ConsecutiveSuccesses)
	assert.Equal(t, 1, s.ConsecutiveFailures)
}

func TestHTTPCheckerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewHTTPChecker(srv.URL)
	result := checker.Check(context.Background())

	assert.True(t, result.Healthy)
	assert.Contains(t, result.Message, "200")
	assert.False(t, result.CheckedAt.IsZero())
}

func TestHTTPCheckerAcceptsRedirectRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	result := NewHTTPChecker(srv.URL).Check(context.Background())
	assert.True(t, result.Healthy, "3xx is within the default accepted range")
}

func TestHTTPCheckerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	result := NewHTTPChecker(srv.URL).Check(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "500")
	assert.Contains(t, result.Message, "expected 200-399")
}

func TestHTTPCheckerUnreachable(t *testing.T) {
	checker := NewHTTPChecker("http://127.0.0.1:1").WithTimeout(500 * time.Millisecond)
	result := checker.Check(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestTCPCheckerSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	result := NewTCPChecker(ln.Addr().String()).Check(context.Background())
	assert.True(t, result.Healthy)
}

func TestTCPCheckerRefused(t *testing.T) {
	// Grab a free port, then close the listener so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	result := NewTCPChecker(addr).WithTimeout(500 * time.Millisecond).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "connection failed")
}
