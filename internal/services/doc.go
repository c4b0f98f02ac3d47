// Package services implements the subprocess-backed dependencies a test
// environment runs: PostgreSQL, MinIO, and Redis.
//
// Each service wraps one external server binary with its own startup
// arguments, readiness probe, and teardown, and shares a common
// lifecycle shape through the Service interface:
//
//	Start → WaitReady → (use) → Stop → Cleanup
//
// All services are configured for speed over durability (no fsync, no
// persistence) because their data directories are discarded at
// teardown. Services are single-owner: one environment starts, uses,
// and stops its own instances; nothing here is designed for concurrent
// access from multiple environments.
package services
