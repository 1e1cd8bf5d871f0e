// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// Identity allocation strategies.
const (
	IDModeRandom     = "random"
	IDModeSequential = "sequential"
)

// Correlation strategies for the front door.
const (
	CorrelatorWait  = "wait"
	CorrelatorFixed = "fixed"
)

// ProxyConfig holds configuration for the front door.
type ProxyConfig struct {
	Port              string
	MetricsPort       string
	IDMode            string
	IDReserve         int // ids reserved per counter write (0 = save at shutdown only)
	CorrelatorMode    string
	CorrelatorTimeout time.Duration
	CorrelatorDelay   time.Duration // fixed mode only
	PollInitial       time.Duration
	PollMax           time.Duration
	MaxConcurrent     int
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
}

// LoadProxyConfig loads front door configuration from environment variables.
func LoadProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		IDMode:            GetChoiceEnv("ID_MODE", IDModeRandom, IDModeRandom, IDModeSequential),
		IDReserve:         GetIntEnv("ID_RESERVE", 100),
		CorrelatorMode:    GetChoiceEnv("CORRELATOR_MODE", CorrelatorWait, CorrelatorWait, CorrelatorFixed),
		CorrelatorTimeout: GetDurationEnv("CORRELATOR_TIMEOUT", 15*time.Second),
		CorrelatorDelay:   GetDurationEnv("CORRELATOR_DELAY", 100*time.Millisecond),
		PollInitial:       GetDurationEnv("CORRELATOR_POLL_INITIAL", 5*time.Millisecond),
		PollMax:           GetDurationEnv("CORRELATOR_POLL_MAX", 100*time.Millisecond),
		MaxConcurrent:     GetIntEnv("MAX_CONCURRENT_REQUESTS", 256),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
	}
}

// WorkerConfig holds configuration for the worker process.
type WorkerConfig struct {
	MetricsPort       string
	DownstreamURL     string
	DownstreamTimeout time.Duration
	Workers           int
	PopTimeout        time.Duration
	ResultTTL         time.Duration
}

// LoadWorkerConfig loads worker configuration from environment variables.
func LoadWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		MetricsPort:       GetEnv("METRICS_PORT", "9091"),
		DownstreamURL:     GetEnv("DOWNSTREAM_URL", "http://localhost:3000"),
		DownstreamTimeout: GetDurationEnv("DOWNSTREAM_TIMEOUT", 10*time.Second),
		Workers:           GetIntEnv("WORKERS", 4),
		PopTimeout:        GetDurationEnv("POP_TIMEOUT", 10*time.Second),
		ResultTTL:         GetDurationEnv("RESULT_TTL", 60*time.Second),
	}
}
