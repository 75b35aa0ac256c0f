package services

import "context"

// ContextRunner matches *health.Monitor's Run method. Declared here rather
// than imported to avoid a dependency from services back to health.
type ContextRunner interface {
	Run(ctx context.Context) error
}

// HealthService wraps the C3 health monitor as a supervised service.
type HealthService struct {
	monitor ContextRunner
}

// NewHealthService constructs a HealthService around monitor.
func NewHealthService(monitor ContextRunner) *HealthService {
	return &HealthService{monitor: monitor}
}

// Serve implements suture.Service by delegating to the monitor's probe
// loop, which already returns nil on cooperative shutdown.
func (h *HealthService) Serve(ctx context.Context) error {
	return h.monitor.Run(ctx)
}

// String implements fmt.Stringer for suture's log attribution.
func (h *HealthService) String() string {
	return "health-monitor"
}
