package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAllocateSet_DistinctMembers verifies that all named ports in one
// set are pairwise distinct.
func TestAllocateSet_DistinctMembers(t *testing.T) {
	a := NewAllocator(46000, 46999)

	s := AllocateSet(a)
	defer s.Release()

	ports := []uint16{s.Postgres, s.Minio, s.Redis, s.App}
	seen := make(map[uint16]bool)
	for _, p := range ports {
		assert.False(t, seen[p], "port %d appears twice in one set", p)
		seen[p] = true
	}
}

// TestAllocateSet_DisjointAcrossEnvironments verifies that two sets
// created back-to-back share no ports, with no caller coordination.
func TestAllocateSet_DisjointAcrossEnvironments(t *testing.T) {
	a := NewAllocator(47000, 47999)

	s1 := AllocateSet(a)
	s2 := AllocateSet(a)
	defer s1.Release()
	defer s2.Release()

	first := map[uint16]bool{s1.Postgres: true, s1.Minio: true, s1.Redis: true, s1.App: true}
	for _, p := range []uint16{s2.Postgres, s2.Minio, s2.Redis, s2.App} {
		assert.False(t, first[p], "port %d issued to both environments", p)
	}
}

// TestPortSet_ReleaseIdempotent verifies that releasing twice does not
// disturb a later allocation that legitimately re-acquired a port.
func TestPortSet_ReleaseIdempotent(t *testing.T) {
	a := NewAllocator(48000, 48009)

	s := AllocateSet(a)
	s.Release()
	assert.Equal(t, 0, a.HeldCount())

	// Re-acquire ports; the second Release of the old set must not
	// free them out from under the new owner.
	s2 := AllocateSet(a)
	held := a.HeldCount()

	s.Release()
	assert.Equal(t, held, a.HeldCount(), "double release must be a no-op")

	s2.Release()
}
