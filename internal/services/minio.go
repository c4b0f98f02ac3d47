package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/GeneralBots/bottest/internal/model"
	"github.com/GeneralBots/bottest/internal/readiness"
)

// Default MinIO root credentials, matching the binary's own defaults.
const (
	DefaultAccessKey = "minioadmin"
	DefaultSecretKey = "minioadmin"
)

// consolePortOffset derives the web console port from the API port.
// The console port is not separately allocated; the offset keeps it far
// from the allocation range's active ports.
const consolePortOffset = 1000

// MinioService runs an ephemeral MinIO object store in a private data
// directory. Bucket and object operations work two ways with identical
// semantics: through the mc client binary when it is installed, and
// through plain HTTP against the S3-compatible surface otherwise.
type MinioService struct {
	apiPort     uint16
	consolePort uint16
	dataDir     string
	binPath     string

	proc   *process
	state  model.ServiceState
	logger zerolog.Logger

	accessKey string
	secretKey string

	httpc *http.Client
}

// NewMinio creates a MinioService with the default root credentials.
func NewMinio(apiPort uint16, baseDir string, logger zerolog.Logger) *MinioService {
	return NewMinioWithCredentials(apiPort, baseDir, DefaultAccessKey, DefaultSecretKey, logger)
}

// NewMinioWithCredentials creates a MinioService with explicit root
// credentials, for suites that exercise credential handling in the
// application under test.
func NewMinioWithCredentials(apiPort uint16, baseDir, accessKey, secretKey string, logger zerolog.Logger) *MinioService {
	return &MinioService{
		apiPort:     apiPort,
		consolePort: apiPort + consolePortOffset,
		dataDir:     filepath.Join(baseDir, "minio"),
		state:       model.StateStopped,
		logger:      logger.With().Str("service", "minio").Logger(),
		accessKey:   accessKey,
		secretKey:   secretKey,
		httpc:       &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Service.
func (s *MinioService) Name() string { return "minio" }

// State implements Service.
func (s *MinioService) State() model.ServiceState { return s.state }

// APIPort returns the S3 API port.
func (s *MinioService) APIPort() uint16 { return s.apiPort }

// ConsolePort returns the derived web console port.
func (s *MinioService) ConsolePort() uint16 { return s.consolePort }

// Endpoint returns the S3 API endpoint URL.
func (s *MinioService) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", Host, s.apiPort)
}

// ConsoleURL returns the web console URL.
func (s *MinioService) ConsoleURL() string {
	return fmt.Sprintf("http://%s:%d", Host, s.consolePort)
}

// ConnectionString implements Service; it is the API endpoint.
func (s *MinioService) ConnectionString() string { return s.Endpoint() }

// Credentials returns the root access and secret key pair.
func (s *MinioService) Credentials() (accessKey, secretKey string) {
	return s.accessKey, s.secretKey
}

// S3Config returns the settings an S3 client needs to talk to this
// instance, in the key names the application under test reads.
func (s *MinioService) S3Config() map[string]string {
	return map[string]string{
		"endpoint_url":      s.Endpoint(),
		"access_key_id":     s.accessKey,
		"secret_access_key": s.secretKey,
		"region":            "us-east-1",
		"force_path_style":  "true",
	}
}

// Start locates the minio binary and spawns the server with root
// credentials passed through the environment.
func (s *MinioService) Start(ctx context.Context) error {
	binPath, err := findMinioBinary()
	if err != nil {
		return err
	}
	s.binPath = binPath
	s.logger.Debug().Str("bin", binPath).Msg("using MinIO binary")

	if err := ensureDir(s.dataDir); err != nil {
		return fmt.Errorf("create minio data dir: %w", err)
	}

	s.logger.Info().
		Uint16("port", s.apiPort).
		Uint16("console", s.consolePort).
		Msg("starting MinIO")

	cmd := exec.Command(s.binPath,
		"server", s.dataDir,
		"--address", fmt.Sprintf("%s:%d", Host, s.apiPort),
		"--console-address", fmt.Sprintf("%s:%d", Host, s.consolePort),
	)
	cmd.Env = append(os.Environ(),
		"MINIO_ROOT_USER="+s.accessKey,
		"MINIO_ROOT_PASSWORD="+s.secretKey,
	)
	cmd.Stdout = nil
	cmd.Stderr = nil

	p, err := spawn(cmd)
	if err != nil {
		return err
	}
	s.proc = p
	s.state = model.StateStarting
	return nil
}

// WaitReady blocks until the API port accepts connections, then polls
// the liveness endpoint. The HTTP phase tolerates absence (older
// builds lack it) and falls back to TCP-only readiness; the TCP phase
// is mandatory and its timeout is terminal.
func (s *MinioService) WaitReady(ctx context.Context) error {
	s.logger.Debug().Msg("waiting for MinIO readiness")

	if err := readiness.WaitDefault(ctx, "minio", readiness.TCP(Host, s.apiPort)); err != nil {
		s.state = model.StateFailed
		return err
	}

	liveURL := s.Endpoint() + "/minio/health/live"
	if err := readiness.Wait(ctx, "minio", 3*time.Second, readiness.DefaultInterval, readiness.HTTP(liveURL)); err != nil {
		s.logger.Debug().Msg("liveness endpoint never answered; continuing on TCP readiness")
	}

	s.state = model.StateRunning
	return nil
}

// CreateBucket creates a bucket, preferring the mc client and falling
// back to an HTTP PUT. Creation tolerates "already exists" either way.
func (s *MinioService) CreateBucket(ctx context.Context, name string) error {
	s.logger.Info().Str("bucket", name).Msg("creating bucket")

	if mc, err := findMCBinary(); err == nil {
		return s.createBucketMC(ctx, mc, name)
	}

	resp, err := s.request(ctx, http.MethodPut, "/"+name, nil)
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	defer drainClose(resp)

	if !success(resp) && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("create bucket %s: status %s", name, resp.Status)
	}
	return nil
}

// createBucketMC shells out to mc: register an alias for this instance,
// then mb --ignore-existing.
func (s *MinioService) createBucketMC(ctx context.Context, mc, name string) error {
	alias := fmt.Sprintf("test%d", s.apiPort)

	// Alias registration is idempotent; failures surface on mb below.
	_ = exec.CommandContext(ctx, mc, "alias", "set", alias, s.Endpoint(), s.accessKey, s.secretKey).Run()

	out, err := exec.CommandContext(ctx, mc, "mb", "--ignore-existing", alias+"/"+name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "already") {
		return fmt.Errorf("create bucket %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// BucketExists reports whether the bucket exists.
func (s *MinioService) BucketExists(ctx context.Context, name string) (bool, error) {
	resp, err := s.request(ctx, http.MethodHead, "/"+name, nil)
	if err != nil {
		return false, fmt.Errorf("head bucket %s: %w", name, err)
	}
	defer drainClose(resp)
	return success(resp), nil
}

// DeleteBucket removes a bucket, tolerating "not found".
func (s *MinioService) DeleteBucket(ctx context.Context, name string) error {
	s.logger.Info().Str("bucket", name).Msg("deleting bucket")

	resp, err := s.request(ctx, http.MethodDelete, "/"+name, nil)
	if err != nil {
		return fmt.Errorf("delete bucket %s: %w", name, err)
	}
	defer drainClose(resp)

	if !success(resp) && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete bucket %s: status %s", name, resp.Status)
	}
	return nil
}

// PutObject uploads data under bucket/key.
func (s *MinioService) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	s.logger.Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("putting object")

	resp, err := s.request(ctx, http.MethodPut, "/"+bucket+"/"+key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	defer drainClose(resp)

	if !success(resp) {
		return fmt.Errorf("put object %s/%s: status %s", bucket, key, resp.Status)
	}
	return nil
}

// GetObject downloads the object at bucket/key.
func (s *MinioService) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	s.logger.Debug().Str("bucket", bucket).Str("key", key).Msg("getting object")

	resp, err := s.request(ctx, http.MethodGet, "/"+bucket+"/"+key, nil)
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !success(resp) {
		return nil, fmt.Errorf("get object %s/%s: status %s", bucket, key, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// DeleteObject removes the object at bucket/key, tolerating "not found".
func (s *MinioService) DeleteObject(ctx context.Context, bucket, key string) error {
	s.logger.Debug().Str("bucket", bucket).Str("key", key).Msg("deleting object")

	resp, err := s.request(ctx, http.MethodDelete, "/"+bucket+"/"+key, nil)
	if err != nil {
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	defer drainClose(resp)

	if !success(resp) && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete object %s/%s: status %s", bucket, key, resp.Status)
	}
	return nil
}

// ListObjects returns the keys in a bucket, optionally filtered by
// prefix.
func (s *MinioService) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	s.logger.Debug().Str("bucket", bucket).Msg("listing objects")

	path := "/" + bucket
	if prefix != "" {
		path += "?prefix=" + prefix
	}

	resp, err := s.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list objects in %s: %w", bucket, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !success(resp) {
		return nil, fmt.Errorf("list objects in %s: status %s", bucket, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return extractKeys(string(body)), nil
}

// extractKeys pulls <Key> elements out of an S3 list response. The
// listing XML is shallow enough that scanning beats carrying a schema
// for one element.
func extractKeys(body string) []string {
	var keys []string
	rest := body
	for {
		start := strings.Index(rest, "<Key>")
		if start < 0 {
			return keys
		}
		rest = rest[start+len("<Key>"):]
		end := strings.Index(rest, "</Key>")
		if end < 0 {
			return keys
		}
		keys = append(keys, rest[:end])
		rest = rest[end:]
	}
}

// request issues a basic-auth HTTP request against the S3 surface.
func (s *MinioService) request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.Endpoint()+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.accessKey, s.secretKey)
	return s.httpc.Do(req)
}

func success(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// drainClose discards the body so the connection can be reused.
func drainClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// Stop terminates the server via the two-stage state machine.
func (s *MinioService) Stop(ctx context.Context) error {
	if s.proc == nil || !s.proc.Alive() {
		s.state = model.StateStopped
		return nil
	}

	s.logger.Info().Msg("stopping MinIO")
	s.state = model.StateStopping

	forced := s.proc.Stop(ctx)
	if forced {
		s.logger.Warn().Msg("MinIO did not exit gracefully, killed")
	}
	s.state = model.StateStopped
	return nil
}

// Cleanup removes the data directory.
func (s *MinioService) Cleanup() error {
	if _, err := os.Stat(s.dataDir); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(s.dataDir)
}
