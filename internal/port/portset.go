package port

import "sync"

// PortSet is the group of named ports one environment needs. It is
// created once per environment and released as a unit when the
// environment is torn down.
//
// App is the port reserved for the application under test; bottest does
// not bind it itself, it only guarantees no other environment gets it.
type PortSet struct {
	Postgres uint16
	Minio    uint16
	Redis    uint16
	App      uint16

	alloc       *Allocator
	releaseOnce sync.Once
}

// AllocateSet allocates one port per member from the given Allocator.
// Ports are allocated even for services the environment will not start;
// four ports per environment is cheap against a 45000-port range, and it
// keeps descriptor methods total.
func AllocateSet(a *Allocator) *PortSet {
	return &PortSet{
		Postgres: a.Allocate(),
		Minio:    a.Allocate(),
		Redis:    a.Allocate(),
		App:      a.Allocate(),
		alloc:    a,
	}
}

// Release returns every member port to the Allocator. Safe to call more
// than once; only the first call releases.
func (s *PortSet) Release() {
	s.releaseOnce.Do(func() {
		s.alloc.Release(s.Postgres)
		s.alloc.Release(s.Minio)
		s.alloc.Release(s.Redis)
		s.alloc.Release(s.App)
	})
}
