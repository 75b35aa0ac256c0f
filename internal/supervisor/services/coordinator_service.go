package services

import "context"

// BatchRunner matches *coordinator.Coordinator's Run method.
type BatchRunner interface {
	Run(ctx context.Context) error
}

// CoordinatorService wraps the C7 persistence coordinator as a supervised
// service.
type CoordinatorService struct {
	coordinator BatchRunner
}

// NewCoordinatorService constructs a CoordinatorService around coordinator.
func NewCoordinatorService(coordinator BatchRunner) *CoordinatorService {
	return &CoordinatorService{coordinator: coordinator}
}

// Serve implements suture.Service. Run already drains the ingress queue
// through the last live mode before returning, so Serve returning signals
// that the drain named in spec.md §4.10 has completed.
func (c *CoordinatorService) Serve(ctx context.Context) error {
	return c.coordinator.Run(ctx)
}

// String implements fmt.Stringer for suture's log attribution.
func (c *CoordinatorService) String() string {
	return "persistence-coordinator"
}
