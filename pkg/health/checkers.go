package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPChecker probes an HTTP endpoint. Any status within the accepted
// range counts as healthy, so redirects pass by default.
type HTTPChecker struct {
	URL               string
	Method            string
	ExpectedStatusMin int
	ExpectedStatusMax int
	Client            *http.Client
}

// NewHTTPChecker creates an HTTP checker with GET and the 200-399 range
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		Method:            http.MethodGet,
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client:            &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return failure(start, fmt.Sprintf("failed to create request: %v", err))
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return failure(start, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if resp.StatusCode < h.ExpectedStatusMin || resp.StatusCode > h.ExpectedStatusMax {
		return failure(start, fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax))
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

// TCPChecker probes a TCP address; a completed dial counts as healthy
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a TCP checker with a 5 second dial timeout
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 5 * time.Second}
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failure(start, fmt.Sprintf("connection failed: %v", err))
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the dial timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

func failure(start time.Time, message string) Result {
	return Result{
		Healthy:   false,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
