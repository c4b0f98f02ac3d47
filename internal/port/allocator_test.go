package port

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAllocate_Distinct verifies that sequential allocations never
// return the same port while all are held.
func TestAllocate_Distinct(t *testing.T) {
	a := NewAllocator(41000, 41999)

	seen := make(map[uint16]bool)
	for i := 0; i < 50; i++ {
		p := a.Allocate()
		assert.False(t, seen[p], "port %d issued twice", p)
		assert.GreaterOrEqual(t, p, uint16(41000))
		assert.LessOrEqual(t, p, uint16(41999))
		seen[p] = true
	}
	assert.Equal(t, 50, a.HeldCount())
}

// TestAllocate_Concurrent verifies pairwise distinctness under
// simultaneous allocation from many goroutines, the property the whole
// harness depends on for parallel test runs.
func TestAllocate_Concurrent(t *testing.T) {
	a := NewAllocator(42000, 42999)

	const workers = 20
	const perWorker = 10

	var mu sync.Mutex
	seen := make(map[uint16]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p := a.Allocate()
				mu.Lock()
				seen[p]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker, "every allocation must be distinct")
	for p, n := range seen {
		assert.Equal(t, 1, n, "port %d issued %d times", p, n)
	}
}

// TestRelease_AllowsReuse verifies that a released port eventually comes
// back once the counter wraps around the range.
func TestRelease_AllowsReuse(t *testing.T) {
	// Tiny range so the counter wraps quickly.
	a := NewAllocator(43000, 43009)

	first := a.Allocate()
	a.Release(first)
	assert.False(t, a.Held(first))

	// Drain enough allocations to force wraparound; the released port
	// must show up again.
	reissued := false
	held := make([]uint16, 0, 16)
	for i := 0; i < 16; i++ {
		p := a.Allocate()
		if p == first {
			reissued = true
			break
		}
		held = append(held, p)
	}
	assert.True(t, reissued, "released port %d was never reissued", first)

	for _, p := range held {
		a.Release(p)
	}
}

// TestAllocate_SkipsBoundPorts verifies that a port occupied by another
// listener is skipped without being marked held.
func TestAllocate_SkipsBoundPorts(t *testing.T) {
	a := NewAllocator(44000, 44009)

	// Occupy the first port of the range so the allocator must skip it.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", 44000))
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	p := a.Allocate()
	assert.NotEqual(t, uint16(44000), p)
	assert.False(t, a.Held(44000), "unbindable candidate must not be marked held")

	a.Release(p)
}

// TestAllocate_PortIsBindable verifies the issued port can actually be
// bound by the caller, which is the allocator's contract.
func TestAllocate_PortIsBindable(t *testing.T) {
	a := NewAllocator(45000, 45099)

	p := a.Allocate()
	defer a.Release(p)

	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
	require.NoError(t, err, "allocated port should be bindable")
	_ = l.Close()
}

// TestNewAllocator_InvalidRange verifies the constructor rejects an
// empty range.
func TestNewAllocator_InvalidRange(t *testing.T) {
	assert.Panics(t, func() { NewAllocator(5000, 5000) })
	assert.Panics(t, func() { NewAllocator(6000, 5000) })
}

// TestDefaultAllocator_Singleton verifies the process default is created
// once and reused.
func TestDefaultAllocator_Singleton(t *testing.T) {
	a := DefaultAllocator()
	b := DefaultAllocator()
	assert.Same(t, a, b)
}
