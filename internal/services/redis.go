package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/GeneralBots/bottest/internal/model"
	"github.com/GeneralBots/bottest/internal/readiness"
)

// RedisService runs an ephemeral Redis server with persistence disabled
// and a bounded memory cap. Every operation goes through redis-cli and
// parses its textual reply, so the harness needs no Redis client
// library of its own.
type RedisService struct {
	port    uint16
	dataDir string

	proc   *process
	state  model.ServiceState
	logger zerolog.Logger

	// password is empty when the server runs without authentication.
	password string
}

// NewRedis creates a RedisService without authentication.
func NewRedis(port uint16, baseDir string, logger zerolog.Logger) *RedisService {
	return &RedisService{
		port:    port,
		dataDir: filepath.Join(baseDir, "redis"),
		state:   model.StateStopped,
		logger:  logger.With().Str("service", "redis").Logger(),
	}
}

// NewRedisWithPassword creates a RedisService requiring the given
// password.
func NewRedisWithPassword(port uint16, baseDir, password string, logger zerolog.Logger) *RedisService {
	s := NewRedis(port, baseDir, logger)
	s.password = password
	return s
}

// Name implements Service.
func (s *RedisService) Name() string { return "redis" }

// State implements Service.
func (s *RedisService) State() model.ServiceState { return s.state }

// Port returns the TCP port the server listens on.
func (s *RedisService) Port() uint16 { return s.port }

// ConnectionString returns the cache URL, including the password when
// one is set.
func (s *RedisService) ConnectionString() string {
	if s.password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d", s.password, Host, s.port)
	}
	return fmt.Sprintf("redis://%s:%d", Host, s.port)
}

// serverArgs builds the redis-server argument list: persistence off (no
// save points, no append-only log), a 64mb cap with LRU eviction, and
// loopback binding. The instance must never block on disk I/O.
func (s *RedisService) serverArgs() []string {
	args := []string{
		"--port", strconv.Itoa(int(s.port)),
		"--bind", Host,
		"--dir", s.dataDir,
		"--daemonize", "no",
		"--save", "",
		"--appendonly", "no",
		"--maxmemory", "64mb",
		"--maxmemory-policy", "allkeys-lru",
	}
	if s.password != "" {
		args = append(args, "--requirepass", s.password)
	}
	return args
}

// Start locates redis-server and spawns it.
func (s *RedisService) Start(ctx context.Context) error {
	bin, err := findRedisServer()
	if err != nil {
		return err
	}

	if err := ensureDir(s.dataDir); err != nil {
		return fmt.Errorf("create redis data dir: %w", err)
	}

	s.logger.Info().Uint16("port", s.port).Msg("starting Redis")

	p, err := spawn(exec.Command(bin, s.serverArgs()...))
	if err != nil {
		return err
	}
	s.proc = p
	s.state = model.StateStarting
	return nil
}

// WaitReady blocks until the port accepts connections, then confirms
// with a PING through redis-cli. The PING phase is skipped when
// redis-cli is not installed; the TCP phase is mandatory and its
// timeout is terminal.
func (s *RedisService) WaitReady(ctx context.Context) error {
	s.logger.Debug().Msg("waiting for Redis readiness")

	if err := readiness.WaitDefault(ctx, "redis", readiness.TCP(Host, s.port)); err != nil {
		s.state = model.StateFailed
		return err
	}

	if _, err := findRedisCLI(); err == nil {
		ping := func(ctx context.Context) bool {
			out, err := s.Do(ctx, "PING")
			return err == nil && out == "PONG"
		}
		if err := readiness.Wait(ctx, "redis", 3*time.Second, readiness.DefaultInterval, ping); err != nil {
			s.logger.Debug().Msg("PING never answered; continuing on TCP readiness")
		}
	}

	s.state = model.StateRunning
	return nil
}

// Do runs one Redis command through redis-cli and returns its trimmed
// textual reply. This is the primitive every typed operation builds on.
func (s *RedisService) Do(ctx context.Context, args ...string) (string, error) {
	cli, err := findRedisCLI()
	if err != nil {
		return "", err
	}

	cliArgs := []string{"-h", Host, "-p", strconv.Itoa(int(s.port))}
	if s.password != "" {
		cliArgs = append(cliArgs, "-a", s.password)
	}
	cliArgs = append(cliArgs, args...)

	out, err := exec.CommandContext(ctx, cli, cliArgs...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("redis command failed: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("redis command failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// isNilReply reports whether a reply is the nil marker: an absent key,
// not an error.
func isNilReply(reply string) bool {
	return reply == "" || reply == "(nil)"
}

// isEmptyListReply reports whether a reply is the empty-collection
// marker.
func isEmptyListReply(reply string) bool {
	return reply == "" || reply == "(empty list or set)" || reply == "(empty array)"
}

// parseIntReply extracts the number from an integer reply, which
// redis-cli renders either bare ("3") or annotated ("(integer) 3").
func parseIntReply(reply string) int64 {
	n, err := strconv.ParseInt(strings.TrimPrefix(reply, "(integer) "), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Set stores a key-value pair.
func (s *RedisService) Set(ctx context.Context, key, value string) error {
	_, err := s.Do(ctx, "SET", key, value)
	return err
}

// SetEx stores a key-value pair with an expiration in seconds.
func (s *RedisService) SetEx(ctx context.Context, key string, seconds int64, value string) error {
	_, err := s.Do(ctx, "SETEX", key, strconv.FormatInt(seconds, 10), value)
	return err
}

// Get returns the value for key. ok is false when the key is absent.
func (s *RedisService) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	reply, err := s.Do(ctx, "GET", key)
	if err != nil || isNilReply(reply) {
		return "", false, err
	}
	return reply, true, nil
}

// Del deletes a key.
func (s *RedisService) Del(ctx context.Context, key string) error {
	_, err := s.Do(ctx, "DEL", key)
	return err
}

// Exists reports whether key exists.
func (s *RedisService) Exists(ctx context.Context, key string) (bool, error) {
	reply, err := s.Do(ctx, "EXISTS", key)
	if err != nil {
		return false, err
	}
	return parseIntReply(reply) == 1, nil
}

// Keys returns all keys matching pattern.
func (s *RedisService) Keys(ctx context.Context, pattern string) ([]string, error) {
	reply, err := s.Do(ctx, "KEYS", pattern)
	if err != nil || isEmptyListReply(reply) {
		return nil, err
	}
	return strings.Split(reply, "\n"), nil
}

// FlushAll removes every key.
func (s *RedisService) FlushAll(ctx context.Context) error {
	_, err := s.Do(ctx, "FLUSHALL")
	return err
}

// Publish sends message to channel and returns the subscriber count.
func (s *RedisService) Publish(ctx context.Context, channel, message string) (int64, error) {
	reply, err := s.Do(ctx, "PUBLISH", channel, message)
	if err != nil {
		return 0, err
	}
	return parseIntReply(reply), nil
}

// LPush prepends value to the list at key.
func (s *RedisService) LPush(ctx context.Context, key, value string) error {
	_, err := s.Do(ctx, "LPUSH", key, value)
	return err
}

// RPush appends value to the list at key.
func (s *RedisService) RPush(ctx context.Context, key, value string) error {
	_, err := s.Do(ctx, "RPUSH", key, value)
	return err
}

// LPop removes and returns the head of the list at key. ok is false
// when the list is empty or absent.
func (s *RedisService) LPop(ctx context.Context, key string) (value string, ok bool, err error) {
	reply, err := s.Do(ctx, "LPOP", key)
	if err != nil || isNilReply(reply) {
		return "", false, err
	}
	return reply, true, nil
}

// RPop removes and returns the tail of the list at key. ok is false
// when the list is empty or absent.
func (s *RedisService) RPop(ctx context.Context, key string) (value string, ok bool, err error) {
	reply, err := s.Do(ctx, "RPOP", key)
	if err != nil || isNilReply(reply) {
		return "", false, err
	}
	return reply, true, nil
}

// LLen returns the length of the list at key.
func (s *RedisService) LLen(ctx context.Context, key string) (int64, error) {
	reply, err := s.Do(ctx, "LLEN", key)
	if err != nil {
		return 0, err
	}
	return parseIntReply(reply), nil
}

// HSet stores a hash field.
func (s *RedisService) HSet(ctx context.Context, key, field, value string) error {
	_, err := s.Do(ctx, "HSET", key, field, value)
	return err
}

// HGet returns a hash field. ok is false when the field is absent.
func (s *RedisService) HGet(ctx context.Context, key, field string) (value string, ok bool, err error) {
	reply, err := s.Do(ctx, "HGET", key, field)
	if err != nil || isNilReply(reply) {
		return "", false, err
	}
	return reply, true, nil
}

// HGetAll returns every field-value pair of the hash at key, in reply
// order. redis-cli renders the pairs as alternating lines.
func (s *RedisService) HGetAll(ctx context.Context, key string) ([][2]string, error) {
	reply, err := s.Do(ctx, "HGETALL", key)
	if err != nil || isEmptyListReply(reply) {
		return nil, err
	}

	lines := strings.Split(reply, "\n")
	pairs := make([][2]string, 0, len(lines)/2)
	for i := 0; i+1 < len(lines); i += 2 {
		pairs = append(pairs, [2]string{lines[i], lines[i+1]})
	}
	return pairs, nil
}

// Incr increments the counter at key and returns the new value.
func (s *RedisService) Incr(ctx context.Context, key string) (int64, error) {
	reply, err := s.Do(ctx, "INCR", key)
	if err != nil {
		return 0, err
	}
	return parseIntReply(reply), nil
}

// Decr decrements the counter at key and returns the new value.
func (s *RedisService) Decr(ctx context.Context, key string) (int64, error) {
	reply, err := s.Do(ctx, "DECR", key)
	if err != nil {
		return 0, err
	}
	return parseIntReply(reply), nil
}

// Stop terminates the server. It tries a protocol-level SHUTDOWN NOSAVE
// first, which exits without touching disk, then falls back to the
// two-stage signal state machine.
func (s *RedisService) Stop(ctx context.Context) error {
	if s.proc == nil || !s.proc.Alive() {
		s.state = model.StateStopped
		return nil
	}

	s.logger.Info().Msg("stopping Redis")
	s.state = model.StateStopping

	if _, err := findRedisCLI(); err == nil {
		_, _ = s.Do(ctx, "SHUTDOWN", "NOSAVE")
		if s.proc.waitExit(30, stopPollInterval) {
			s.state = model.StateStopped
			return nil
		}
	}

	forced := s.proc.Stop(ctx)
	if forced {
		s.logger.Warn().Msg("Redis did not exit gracefully, killed")
	}
	s.state = model.StateStopped
	return nil
}

// Cleanup removes the data directory.
func (s *RedisService) Cleanup() error {
	if _, err := os.Stat(s.dataDir); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(s.dataDir)
}
