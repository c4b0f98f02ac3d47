// Package port implements unique TCP port allocation for parallel test
// environments.
//
// The Allocator hands out ports from a bounded range using a monotonically
// increasing counter that wraps past the upper bound. Each candidate is
// verified by actually binding a loopback listener before it is issued, so
// a returned port was bindable at the moment of allocation. Ports held by
// live allocations are tracked in a concurrent set and never reissued
// until released.
//
// A PortSet groups the named ports one environment needs and releases
// them as a unit, mirroring how an environment acquires them.
package port
