// Package readiness implements the probing loop every service uses to
// detect that its subprocess accepts traffic. Process spawn completes
// asynchronously relative to network readiness, so this is the single
// synchronization primitive between "the binary is running" and "the
// service is usable".
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTimeout bounds how long a service may take to become
	// ready before its environment setup fails.
	DefaultTimeout = 30 * time.Second

	// DefaultInterval is the spacing between probe attempts.
	DefaultInterval = 100 * time.Millisecond
)

// Probe is a boolean readiness check: a TCP connect, an HTTP health
// endpoint, or a protocol-native ping. Probes must be cheap enough to
// run every DefaultInterval and must respect ctx.
type Probe func(ctx context.Context) bool

// TimeoutError is the named failure for a readiness wait that never saw
// a successful probe. It identifies the stalled dependency so a failed
// setup points at the right service.
type TimeoutError struct {
	// Service names the dependency that never became ready.
	Service string

	// Elapsed is how long the wait actually ran before giving up. This
	// is the configured timeout when it expired, and less when the
	// parent context was cancelled first.
	Elapsed time.Duration
}

// Error satisfies the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s not ready after %s", e.Service, e.Elapsed)
}

// errNotReady is the internal sentinel that keeps the retry loop going.
var errNotReady = errors.New("not ready")

// Wait invokes probe at interval spacing until it returns true or
// timeout elapses. The first successful probe returns nil immediately;
// exhaustion of the timeout (or cancellation of ctx) returns a
// *TimeoutError naming the service and how long the wait really ran.
func Wait(ctx context.Context, service string, timeout, interval time.Duration, probe Probe) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	op := func() error {
		if probe(ctx) {
			return nil
		}
		return errNotReady
	}

	// Constant backoff under a context deadline: the deadline, not an
	// attempt count, decides when to give up.
	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return &TimeoutError{Service: service, Elapsed: time.Since(start)}
	}
	return nil
}

// WaitDefault is Wait with the package default timeout and interval.
func WaitDefault(ctx context.Context, service string, probe Probe) error {
	return Wait(ctx, service, DefaultTimeout, DefaultInterval, probe)
}

// TCP returns a probe that succeeds once a TCP connection to host:port
// can be established.
func TCP(host string, port uint16) Probe {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// HTTP returns a probe that succeeds once a GET against url returns a
// 2xx status.
func HTTP(url string) Probe {
	client := &http.Client{Timeout: 2 * time.Second}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode >= 200 && resp.StatusCode < 300
	}
}
