package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production-ready defaults.
// These values match suture's built-in defaults per pkg.go.dev documentation.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SupervisorTree manages the hierarchical supervisor structure for the
// agent.
//
// The tree is organized into three layers:
//   - acquisition: the server manager (one OPC UA session per configured
//     server)
//   - persistence: the health monitor, the persistence coordinator, and the
//     recovery worker
//   - control: reserved for a future control-plane listener; currently
//     empty, kept so the tree shape matches the isolation rationale below
//
// This structure provides failure isolation - a crash while reconnecting
// to one OPC UA server won't affect in-flight batches being persisted.
type SupervisorTree struct {
	root        *suture.Supervisor
	acquisition *suture.Supervisor
	persistence *suture.Supervisor
	control     *suture.Supervisor
	logger      *slog.Logger
	config      TreeConfig
}

// NewSupervisorTree creates a new supervisor tree with the given configuration.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	// Apply defaults for zero values
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// Create event hook using sutureslog.
	// The correct API is (&Handler{Logger: logger}).MustHook(), which has a
	// pointer receiver, so we need to take the address.
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	// Child supervisors use the same failure parameters. They inherit the
	// EventHook when added to the root.
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("daqagent", rootSpec)
	acquisition := suture.New("acquisition-layer", childSpec)
	persistence := suture.New("persistence-layer", childSpec)
	control := suture.New("control-layer", childSpec)

	root.Add(acquisition)
	root.Add(persistence)
	root.Add(control)

	return &SupervisorTree{
		root:        root,
		acquisition: acquisition,
		persistence: persistence,
		control:     control,
		logger:      logger,
		config:      config,
	}, nil
}

// Root returns the root supervisor for direct access if needed.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// AddAcquisitionService adds a service to the acquisition layer supervisor.
// Use this for the C9 server manager.
func (t *SupervisorTree) AddAcquisitionService(svc suture.Service) suture.ServiceToken {
	return t.acquisition.Add(svc)
}

// AddPersistenceService adds a service to the persistence layer supervisor.
// Use this for the C3 health monitor, C7 coordinator, and C6 recovery worker.
func (t *SupervisorTree) AddPersistenceService(svc suture.Service) suture.ServiceToken {
	return t.persistence.Add(svc)
}

// AddControlService adds a service to the control layer supervisor.
func (t *SupervisorTree) AddControlService(svc suture.Service) suture.ServiceToken {
	return t.control.Add(svc)
}

// RemoveAcquisitionService removes a service from the acquisition layer
// supervisor. Use this to tear down a C8 session wrapper added with
// AddAcquisitionService (C9's removeServer operation).
func (t *SupervisorTree) RemoveAcquisitionService(token suture.ServiceToken) error {
	return t.acquisition.Remove(token)
}

// Serve starts the supervisor tree and blocks until the context is canceled.
// This is the main entry point for running the supervised application.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the supervisor tree in a background goroutine.
// Returns a channel that receives the error (or nil) when the supervisor stops.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport returns information about services that failed to stop
// within the configured shutdown timeout. Useful for debugging shutdown issues.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// Remove removes a service from the tree by its token.
// The service will be stopped and removed.
func (t *SupervisorTree) Remove(token suture.ServiceToken) error {
	for _, s := range []*suture.Supervisor{t.acquisition, t.persistence, t.control} {
		if err := s.Remove(token); !errors.Is(err, suture.ErrWrongSupervisor) {
			return err
		}
	}
	return t.root.Remove(token)
}

// RemoveAndWait removes a service and waits for it to fully stop.
// Use this when you need to ensure a service has completely terminated
// before proceeding (e.g., during a server's removeServer operation).
func (t *SupervisorTree) RemoveAndWait(token suture.ServiceToken, timeout time.Duration) error {
	for _, s := range []*suture.Supervisor{t.acquisition, t.persistence, t.control} {
		if err := s.RemoveAndWait(token, timeout); !errors.Is(err, suture.ErrWrongSupervisor) {
			return err
		}
	}
	return t.root.RemoveAndWait(token, timeout)
}
