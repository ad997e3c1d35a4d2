package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// HealthChecker polls dependency checks and publishes the result on the gRPC
// health service. Each check is exposed under its own service name; the
// overall "" service is SERVING only when every check passes.
type HealthChecker struct {
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]error
}

// NewHealthChecker wires checks to hs. interval <= 0 selects 30s.
func NewHealthChecker(hs *health.Server, checks map[string]Check, interval time.Duration, logger *slog.Logger) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthChecker{
		health:   hs,
		checks:   checks,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logger,
		last:     make(map[string]error),
	}
}

// Run checks immediately and then every interval until ctx is cancelled.
func (h *HealthChecker) Run(ctx context.Context) {
	h.CheckOnce(ctx)

	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs every check and updates the serving status. It reports
// whether all checks passed.
func (h *HealthChecker) CheckOnce(ctx context.Context) bool {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name](cctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			healthy = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.health.SetServingStatus(name, status)
		h.record(name, err)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", overall)
	return healthy
}

// record logs transitions only.
func (h *HealthChecker) record(name string, err error) {
	h.mu.Lock()
	prev, seen := h.last[name]
	h.last[name] = err
	h.mu.Unlock()

	switch {
	case err != nil && (!seen || prev == nil):
		h.logger.Warn("health: check failing", "check", name, "error", err)
	case err == nil && seen && prev != nil:
		h.logger.Info("health: check recovered", "check", name)
	}
}
