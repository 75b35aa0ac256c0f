package services

import "context"

// PassWorker is the cancel half of *recovery.Worker's trigger/cancel pair. Passes are
// started externally (the coordinator calls Start when health recovers);
// this service's only job is to make sure an in-flight pass is cancelled
// on shutdown.
type PassWorker interface {
	Stop()
}

// RecoveryService wraps the C6 recovery worker as a supervised service.
type RecoveryService struct {
	worker PassWorker
}

// NewRecoveryService constructs a RecoveryService around worker.
func NewRecoveryService(worker PassWorker) *RecoveryService {
	return &RecoveryService{worker: worker}
}

// Serve implements suture.Service. It blocks until ctx is cancelled, then
// stops any pass currently in flight before returning.
func (r *RecoveryService) Serve(ctx context.Context) error {
	<-ctx.Done()
	r.worker.Stop()
	return nil
}

// String implements fmt.Stringer for suture's log attribution.
func (r *RecoveryService) String() string {
	return "recovery-worker"
}
