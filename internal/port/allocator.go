package port

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

const (
	// DefaultRangeStart is the lower bound of the default allocation
	// range. It sits above the common well-known service ports so that
	// test services never collide with a developer's local PostgreSQL,
	// Redis, etc.
	DefaultRangeStart uint16 = 15000

	// DefaultRangeEnd is the upper bound of the default allocation range.
	// Staying below the IANA dynamic range (49152+) avoids fighting the
	// OS over ephemeral outbound ports. With 45000 candidate ports and a
	// handful of allocations per environment, exhaustion is practically
	// unreachable.
	DefaultRangeEnd uint16 = 60000
)

// Allocator hands out unique TCP ports from a bounded range.
//
// The counter supplies candidates; the held set records ports owned by
// live allocations. An Allocator is safe for concurrent use: the counter
// is atomic, so two concurrent Allocate calls never probe the same
// candidate, and claims go through the held set's SetIfAbsent.
//
// Allocators are explicit values injected into whoever needs them
// (see harness.Factory). A process-wide instance exists behind
// DefaultAllocator for callers that want the shared-singleton behavior.
type Allocator struct {
	lo, hi uint16

	// next is the monotonically increasing candidate counter. It holds
	// the next candidate as a uint32 so the wraparound check can happen
	// before narrowing to uint16.
	next atomic.Uint32

	// held tracks ports owned by live allocations. Keys are the ports
	// themselves; the port number doubles as its own shard hash.
	held cmap.ConcurrentMap[uint16, struct{}]
}

// NewAllocator creates an Allocator issuing ports from [lo, hi].
// Panics if the range is empty; a misordered range is a programming
// error, not a runtime condition.
func NewAllocator(lo, hi uint16) *Allocator {
	if lo >= hi {
		panic(fmt.Sprintf("port: invalid allocation range [%d, %d]", lo, hi))
	}
	a := &Allocator{
		lo:   lo,
		hi:   hi,
		held: cmap.NewWithCustomShardingFunction[uint16, struct{}](func(p uint16) uint32 { return uint32(p) }),
	}
	a.next.Store(uint32(lo))
	return a
}

// Allocate returns a port that is not held by any live allocation from
// this Allocator and was bindable on loopback at the moment of
// allocation. The call loops until it succeeds; with the default range
// this terminates quickly in practice, so no error is reported.
//
// The returned port remains reserved until Release is called for it.
// Allocation order across concurrent callers is unspecified; uniqueness
// among currently-held ports is guaranteed.
func (a *Allocator) Allocate() uint16 {
	for {
		c := a.next.Add(1) - 1
		if c > uint32(a.hi) {
			// Wrap back to the bottom of the range. Concurrent callers
			// may both observe the overflow and both store; that is
			// harmless because candidates are re-screened against the
			// held set below.
			a.next.Store(uint32(a.lo))
			continue
		}

		candidate := uint16(c)
		if a.held.Has(candidate) {
			continue
		}
		// Probe by binding a loopback listener and releasing it. A port
		// that fails the probe is skipped without being marked held, so
		// it stays eligible once whatever occupies it goes away.
		if !bindable(candidate) {
			continue
		}
		// SetIfAbsent is the claim. It can only lose to a racing call
		// after a full counter wraparound, which the range size makes
		// practically unreachable; losing just retries.
		if a.held.SetIfAbsent(candidate, struct{}{}) {
			return candidate
		}
	}
}

// AllocateN returns count ports, each individually allocated.
func (a *Allocator) AllocateN(count int) []uint16 {
	ports := make([]uint16, 0, count)
	for i := 0; i < count; i++ {
		ports = append(ports, a.Allocate())
	}
	return ports
}

// Release removes the port from the held set, making it eligible for
// reuse. The underlying socket need not already be free; the next
// Allocate that reaches this port re-probes it anyway.
func (a *Allocator) Release(port uint16) {
	a.held.Remove(port)
}

// Held reports whether the port is currently owned by a live allocation.
func (a *Allocator) Held(port uint16) bool {
	return a.held.Has(port)
}

// HeldCount returns the number of live allocations. Primarily a test
// and diagnostics hook.
func (a *Allocator) HeldCount() int {
	return a.held.Count()
}

// bindable checks whether the port can be bound on loopback right now.
// The listener is closed immediately; only availability is tested.
func bindable(port uint16) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

var (
	defaultOnce  sync.Once
	defaultAlloc *Allocator
)

// DefaultAllocator returns the process-wide Allocator over the default
// range, creating it on first call. It lives for the remainder of the
// process; ports allocated from it are shared state across every
// environment in the process, which is exactly what makes concurrent
// test setups collision-free without caller coordination.
//
// Code that wants isolated accounting (or a different range) should
// construct its own Allocator and inject it instead.
func DefaultAllocator() *Allocator {
	defaultOnce.Do(func() {
		defaultAlloc = NewAllocator(DefaultRangeStart, DefaultRangeEnd)
	})
	return defaultAlloc
}
