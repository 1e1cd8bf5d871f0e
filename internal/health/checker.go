// Package health reports whether this process can reach the broker.
package health

import (
	"context"
	"sync"
	"time"
)

// Pinger is the broker readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Option configures a Checker.
type Option func(*Checker)

// WithCacheTTL reuses a result for d instead of pinging on every probe.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Checker) { c.cacheTTL = d }
}

// WithTimeout bounds each ping (default: 2s).
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Checker pings the broker and tracks shutdown draining.
type Checker struct {
	broker   Pinger
	timeout  time.Duration
	cacheTTL time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cached       *Response
	shuttingDown bool
}

// NewChecker creates a checker. By default every probe pings the broker.
func NewChecker(broker Pinger, opts ...Option) *Checker {
	c := &Checker{
		broker:  broker,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check reports healthy only if the service is not draining and a broker ping succeeds.
func (c *Checker) Check(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cached != nil && c.cacheTTL > 0 && time.Since(c.lastCheck) < c.cacheTTL {
		cached := c.cached
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	brokerCheck := c.checkBroker(ctx)
	response := &Response{
		Status: brokerCheck.Status,
		Checks: map[string]CheckResult{"broker": brokerCheck},
	}

	c.mu.Lock()
	if !c.shuttingDown {
		c.cached = response
		c.lastCheck = time.Now()
	}
	c.mu.Unlock()

	return response
}

func (c *Checker) checkBroker(ctx context.Context) CheckResult {
	if c.broker == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "broker not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.broker.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// SetShuttingDown makes every later check unhealthy so load balancers stop
// routing new requests here.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cached = nil
}
