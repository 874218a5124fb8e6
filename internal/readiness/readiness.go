// Package readiness implements the bounded polling primitive used to gate
// every pipeline stage on a dependency becoming healthy. One implementation,
// parameterized per dependency; timeout and interval values never drift apart
// per call site.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultInterval is the probe interval used when a Probe leaves it unset.
	DefaultInterval = 2 * time.Second
	// DefaultTimeout is the total polling bound used when a Probe leaves it unset.
	DefaultTimeout = 2 * time.Minute
	// DefaultMaxAttempts caps probe attempts when a Probe leaves it unset.
	DefaultMaxAttempts = 60
)

// Probe describes one repeatable readiness check.
type Probe struct {
	// Name identifies the dependency in logs and errors.
	Name string
	// Check performs a single liveness attempt. A nil error means ready.
	Check func(ctx context.Context) error
	// Interval is the delay between attempts.
	Interval time.Duration
	// Timeout bounds total polling wall-time.
	Timeout time.Duration
	// MaxAttempts caps the number of attempts.
	MaxAttempts int
}

// TimeoutError reports that a probe exhausted its attempts or timeout without
// ever succeeding. It carries the last observed failure so the operator sees
// why the dependency never became healthy.
type TimeoutError struct {
	// Probe is the probe name.
	Probe string
	// Attempts is the number of checks performed.
	Attempts int
	// LastErr is the error from the final failed check.
	LastErr error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s not ready after %d attempts: %v", e.Probe, e.Attempts, e.LastErr)
}

// Unwrap returns the last observed probe failure.
func (e *TimeoutError) Unwrap() error { return e.LastErr }

// Wait polls the probe at a fixed interval until it succeeds, the attempt
// limit or timeout is exhausted, or ctx is cancelled. Individual check failures
// are swallowed and retried. On success Wait returns immediately without an
// extra interval sleep. On exhaustion it returns a *TimeoutError; callers must
// treat that as terminal, never as "probably ready".
func Wait(ctx context.Context, logger *slog.Logger, probe Probe) error {
	if probe.Check == nil {
		return fmt.Errorf("probe %q has no check function", probe.Name)
	}
	interval := probe.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxAttempts := probe.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = probe.Check(ctx)
		if lastErr == nil {
			if logger != nil {
				logger.Debug("probe succeeded", "probe", probe.Name, "attempt", attempt)
			}
			return nil
		}
		if logger != nil {
			logger.Debug("probe attempt failed", "probe", probe.Name, "attempt", attempt, "error", lastErr)
		}

		if attempt >= maxAttempts {
			return &TimeoutError{Probe: probe.Name, Attempts: attempt, LastErr: lastErr}
		}

		select {
		case <-ctx.Done():
			if parent := ctx.Err(); parent == context.DeadlineExceeded {
				return &TimeoutError{Probe: probe.Name, Attempts: attempt, LastErr: lastErr}
			}
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// HTTPCheck returns a check that performs a GET against url and requires a 2xx
// response. The supplied client's timeout bounds each individual attempt.
func HTTPCheck(client *http.Client, url string) func(ctx context.Context) error {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request for %s: %w", url, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
		}
		return nil
	}
}

// TCPCheck returns a check that succeeds once a TCP connection to addr can be
// established. Used for the database, which has no HTTP surface.
func TCPCheck(addr string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
