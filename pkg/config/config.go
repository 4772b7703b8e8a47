// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TenantHeader is the request header carrying the tenant identifier when
// multi-tenant schema routing is enabled.
const TenantHeader = "X-Test-Worker"

// Config holds all runtime configuration for the service.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// MultiTenantSchemas enables per-request tenant schema routing.
	MultiTenantSchemas bool

	// SupervisorTimeout is the wall-clock budget for one supervisor turn.
	// Expiry defers the run; it does not fail it.
	SupervisorTimeout time.Duration

	// DispatchTick is the worker dispatcher poll interval.
	DispatchTick time.Duration

	// MaxConcurrency bounds concurrently-executing worker jobs per process.
	MaxConcurrency int

	// WorkerJobTimeout is the per-job execution budget; expiry transitions
	// the job to the timeout status.
	WorkerJobTimeout time.Duration

	// SSEHeartbeat is the idle interval between SSE heartbeat frames.
	SSEHeartbeat time.Duration

	// SSEQueueSize bounds the per-connection live event queue.
	SSEQueueSize int

	// IdempotencyTTL and IdempotencyMaxSize bound the dispatch dedupe cache.
	IdempotencyTTL     time.Duration
	IdempotencyMaxSize int

	// OrphanDetectionInterval is how often to scan for jobs stranded in
	// running; OrphanThreshold is how stale started_at must be.
	OrphanDetectionInterval time.Duration
	OrphanThreshold         time.Duration

	// EventRetention is how long persisted events of terminal runs are kept.
	EventRetention time.Duration

	// GracefulShutdownTimeout caps the wait for in-flight workers on stop.
	GracefulShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:              getEnvOrDefault("LISTEN_ADDR", ":8000"),
		MultiTenantSchemas:      getEnvBool("MULTI_TENANT_SCHEMAS", false),
		SupervisorTimeout:       getEnvSeconds("DEFAULT_SUPERVISOR_TIMEOUT_SECS", 120),
		DispatchTick:            getEnvMillis("WORKER_DISPATCH_TICK_MS", 1000),
		MaxConcurrency:          getEnvInt("WORKER_MAX_CONCURRENCY", 5),
		WorkerJobTimeout:        getEnvSeconds("WORKER_JOB_TIMEOUT_SECS", 900),
		SSEHeartbeat:            getEnvSeconds("SSE_HEARTBEAT_SECS", 30),
		SSEQueueSize:            getEnvInt("SSE_QUEUE_SIZE", 1000),
		IdempotencyTTL:          getEnvSeconds("IDEMPOTENCY_TTL_SECS", 600),
		IdempotencyMaxSize:      getEnvInt("IDEMPOTENCY_MAX_SIZE", 1000),
		OrphanDetectionInterval: getEnvSeconds("ORPHAN_DETECTION_INTERVAL_SECS", 300),
		OrphanThreshold:         getEnvSeconds("ORPHAN_THRESHOLD_SECS", 300),
		EventRetention:          getEnvHours("EVENT_RETENTION_HOURS", 24),
		GracefulShutdownTimeout: getEnvSeconds("GRACEFUL_SHUTDOWN_TIMEOUT_SECS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("WORKER_MAX_CONCURRENCY must be >= 1, got %d", c.MaxConcurrency)
	}
	if c.DispatchTick <= 0 {
		return fmt.Errorf("WORKER_DISPATCH_TICK_MS must be positive, got %s", c.DispatchTick)
	}
	if c.SupervisorTimeout <= 0 {
		return fmt.Errorf("DEFAULT_SUPERVISOR_TIMEOUT_SECS must be positive, got %s", c.SupervisorTimeout)
	}
	if c.SSEQueueSize < 1 {
		return fmt.Errorf("SSE_QUEUE_SIZE must be >= 1, got %d", c.SSEQueueSize)
	}
	if c.IdempotencyMaxSize < 1 {
		return fmt.Errorf("IDEMPOTENCY_MAX_SIZE must be >= 1, got %d", c.IdempotencyMaxSize)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvSeconds(key string, defaultSecs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSecs)) * time.Second
}

func getEnvMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMillis)) * time.Millisecond
}

func getEnvHours(key string, defaultHours int) time.Duration {
	return time.Duration(getEnvInt(key, defaultHours)) * time.Hour
}
