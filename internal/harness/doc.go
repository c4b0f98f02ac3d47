// Package harness assembles disposable test environments: a set of
// unique ports, a private working directory, and the subprocess-backed
// services a configuration enables, torn down exactly once.
//
// The Factory is the entry point. Setup starts services in a fixed
// order (postgres, minio, redis) and returns the Environment even when
// a service fails, so the caller can inspect partial state and must
// always call Teardown regardless of the setup outcome. Teardown stops
// services in reverse start order, never propagates per-service
// failures, and removes the working directory.
package harness
