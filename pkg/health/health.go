package health

import (
	"context"
	"time"
)

// CheckType identifies a probe protocol
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result is the outcome of one probe attempt
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes a single target
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config holds the probing parameters of one task
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// Retries is the number of consecutive failures before the task is
	// considered unhealthy
	Retries int
}

// DefaultConfig returns the probe parameters applied when a task's health
// check leaves them unset
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks the probe history of one task. A task starts healthy and
// flips only after Retries consecutive failures; a single success flips it
// back.
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a new Status, healthy until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update applies a probe result to the status
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}
