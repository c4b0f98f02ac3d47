package services

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// StackPathEnv points at a botserver-stack checkout containing bundled
// service binaries. When set, bundled binaries win over system installs
// so tests exercise exactly the stack the application ships with.
const StackPathEnv = "BOTTEST_STACK_PATH"

// relative paths probed (from the working directory) for a sibling
// botserver-stack checkout when StackPathEnv is unset.
var stackRelativePaths = []string{
	"../botserver/botserver-stack",
	"botserver/botserver-stack",
	"botserver-stack",
}

// findStackPath returns candidate stack roots in precedence order:
// the env var first, then relative checkout locations.
func findStackPath() []string {
	var roots []string
	if p := os.Getenv(StackPathEnv); p != "" {
		roots = append(roots, p)
	}
	cwd, err := os.Getwd()
	if err == nil {
		for _, rel := range stackRelativePaths {
			roots = append(roots, filepath.Join(cwd, rel))
		}
	}
	return roots
}

// isExecutableFile reports whether path exists and is a regular file.
// Execute permission is left to the spawn step; a missing x-bit surfaces
// as a spawn failure naming the binary.
func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// findBinary locates name by checking, in order: the stack subpath under
// each stack root, explicit well-known paths, then $PATH. Returns the
// first hit or an error naming the binary.
func findBinary(name, stackSubpath string, systemPaths []string) (string, error) {
	for _, root := range findStackPath() {
		candidate := filepath.Join(root, stackSubpath, name)
		if isExecutableFile(candidate) {
			return candidate, nil
		}
	}

	for _, dir := range systemPaths {
		candidate := filepath.Join(dir, name)
		if isExecutableFile(candidate) {
			return candidate, nil
		}
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("%s not found: install it or set %s", name, StackPathEnv)
}

// postgresSystemPaths are the well-known install locations checked for
// PostgreSQL binaries, newest major version first.
var postgresSystemPaths = []string{
	"/usr/lib/postgresql/17/bin",
	"/usr/lib/postgresql/16/bin",
	"/usr/lib/postgresql/15/bin",
	"/usr/lib/postgresql/14/bin",
	"/usr/bin",
	"/usr/local/bin",
	"/opt/homebrew/bin",
	"/opt/homebrew/opt/postgresql@17/bin",
	"/opt/homebrew/opt/postgresql@16/bin",
	"/opt/homebrew/opt/postgresql@15/bin",
}

// findPostgresInstallation locates the PostgreSQL bin directory and, for
// bundled stacks, the matching lib directory for LD_LIBRARY_PATH. A
// directory qualifies if it holds either postgres or initdb.
func findPostgresInstallation() (binDir, libDir string, err error) {
	hasPostgres := func(dir string) bool {
		return isExecutableFile(filepath.Join(dir, "postgres")) ||
			isExecutableFile(filepath.Join(dir, "initdb"))
	}

	for _, root := range findStackPath() {
		dir := filepath.Join(root, "bin", "tables", "bin")
		if hasPostgres(dir) {
			lib := filepath.Join(root, "bin", "tables", "lib")
			if _, statErr := os.Stat(lib); statErr != nil {
				lib = ""
			}
			return dir, lib, nil
		}
	}

	for _, dir := range postgresSystemPaths {
		if hasPostgres(dir) {
			return dir, "", nil
		}
	}

	if p, lookErr := exec.LookPath("initdb"); lookErr == nil {
		return filepath.Dir(p), "", nil
	}

	return "", "", fmt.Errorf("PostgreSQL not found: install it or set %s", StackPathEnv)
}

var minioSystemPaths = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/opt/minio",
	"/opt/homebrew/bin",
}

// findMinioBinary locates the minio server binary.
func findMinioBinary() (string, error) {
	return findBinary("minio", filepath.Join("bin", "drive"), minioSystemPaths)
}

// findMCBinary locates the MinIO client. Callers fall back to plain
// HTTP when it is absent, so the error is advisory.
func findMCBinary() (string, error) {
	return findBinary("mc", filepath.Join("bin", "drive"), minioSystemPaths)
}

var redisSystemPaths = []string{
	"/usr/bin",
	"/usr/local/bin",
	"/opt/homebrew/bin",
	"/opt/redis",
}

// findRedisServer locates the redis-server binary.
func findRedisServer() (string, error) {
	return findBinary("redis-server", filepath.Join("bin", "cache"), redisSystemPaths)
}

// findRedisCLI locates the redis-cli binary, which the cache service
// uses for both readiness pings and its command primitive.
func findRedisCLI() (string, error) {
	return findBinary("redis-cli", filepath.Join("bin", "cache"), redisSystemPaths)
}

// BinaryStatus describes one discovery result for diagnostics output.
type BinaryStatus struct {
	// Name is the binary looked for.
	Name string `json:"name"`

	// Path is where it was found; empty when missing.
	Path string `json:"path,omitempty"`

	// Found reports whether discovery succeeded.
	Found bool `json:"found"`

	// Required is false for binaries the services can work without
	// (mc has an HTTP fallback, goose only matters for migrations).
	Required bool `json:"required"`
}

// Discover reports where each service binary would be loaded from.
// Backs the doctor CLI command.
func Discover() []BinaryStatus {
	var out []BinaryStatus

	pgBin, _, pgErr := findPostgresInstallation()
	for _, name := range []string{"initdb", "postgres", "psql", "pg_isready"} {
		s := BinaryStatus{Name: name, Required: true}
		if pgErr == nil {
			candidate := filepath.Join(pgBin, name)
			if isExecutableFile(candidate) {
				s.Path, s.Found = candidate, true
			}
		}
		out = append(out, s)
	}

	appendLookup := func(name string, required bool, find func() (string, error)) {
		s := BinaryStatus{Name: name, Required: required}
		if p, err := find(); err == nil {
			s.Path, s.Found = p, true
		}
		out = append(out, s)
	}

	appendLookup("minio", true, findMinioBinary)
	appendLookup("mc", false, findMCBinary)
	appendLookup("redis-server", true, findRedisServer)
	appendLookup("redis-cli", true, findRedisCLI)
	appendLookup("goose", false, func() (string, error) { return exec.LookPath("goose") })

	return out
}
