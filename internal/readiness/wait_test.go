package readiness

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWait_ImmediateSuccess verifies Wait returns as soon as the probe
// first reports true.
func TestWait_ImmediateSuccess(t *testing.T) {
	start := time.Now()
	err := Wait(context.Background(), "svc", time.Second, 10*time.Millisecond, func(context.Context) bool {
		return true
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "success should not wait out the timeout")
}

// TestWait_EventualSuccess verifies a probe that flips true after a
// sub-timeout delay succeeds rather than timing out.
func TestWait_EventualSuccess(t *testing.T) {
	var calls atomic.Int32
	err := Wait(context.Background(), "svc", time.Second, 10*time.Millisecond, func(context.Context) bool {
		return calls.Add(1) >= 3
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

// TestWait_Timeout verifies a probe that never flips yields a
// TimeoutError naming the service and roughly the configured timeout.
func TestWait_Timeout(t *testing.T) {
	err := Wait(context.Background(), "postgres", 50*time.Millisecond, 10*time.Millisecond, func(context.Context) bool {
		return false
	})
	require.Error(t, err)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "postgres", te.Service)
	assert.GreaterOrEqual(t, te.Elapsed, 50*time.Millisecond)
	assert.Less(t, te.Elapsed, time.Second)
	assert.Contains(t, err.Error(), "postgres")
	assert.Contains(t, err.Error(), "not ready after")
}

// TestWait_CancelledContext verifies cancellation of the parent context
// ends the wait early and the error reports the time actually spent,
// not the configured timeout.
func TestWait_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Wait(ctx, "svc", 5*time.Second, 10*time.Millisecond, func(context.Context) bool {
		return false
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Less(t, te.Elapsed, time.Second, "elapsed must reflect the short wait, not the 5s timeout")
}

// TestTCP_Probe verifies the TCP probe against a real listener: false
// before anything listens, true once something does.
func TestTCP_Probe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(l.Addr().(*net.TCPAddr).Port)

	probe := TCP("127.0.0.1", port)
	assert.True(t, probe(context.Background()))

	require.NoError(t, l.Close())
	// The listener is gone; connects should start failing. Allow a
	// moment for the OS to tear the socket down.
	assert.Eventually(t, func() bool {
		return !probe(context.Background())
	}, time.Second, 20*time.Millisecond)
}

// TestHTTP_Probe verifies the HTTP probe treats 2xx as ready and
// anything else as not ready.
func TestHTTP_Probe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	probe := HTTP(fmt.Sprintf("%s/health", srv.URL))
	assert.False(t, probe(context.Background()))

	status.Store(http.StatusOK)
	assert.True(t, probe(context.Background()))
}
