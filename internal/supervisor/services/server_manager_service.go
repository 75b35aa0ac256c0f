package services

import "context"

// ServerManagerService wraps the C9 server manager as a supervised
// service, connecting every enabled server on Serve and disconnecting all
// of them on shutdown.
type ServerManagerService struct {
	connect    func(ctx context.Context) error
	disconnect func()
}

// NewServerManagerService constructs a ServerManagerService. connect and
// disconnect close over the manager and its configured server list so this
// package never needs to import internal/config or internal/opcua.
func NewServerManagerService(connect func(ctx context.Context) error, disconnect func()) *ServerManagerService {
	return &ServerManagerService{connect: connect, disconnect: disconnect}
}

// Serve implements suture.Service: connects every configured server, then
// blocks until ctx is cancelled, then disconnects all of them.
func (s *ServerManagerService) Serve(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.disconnect()
	return nil
}

// String implements fmt.Stringer for suture's log attribution.
func (s *ServerManagerService) String() string {
	return "server-manager"
}
