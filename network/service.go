package network

import (
	"fmt"
	"log/slog"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/executor"
	"github.com/bearlytools/mbus/rpc/frame"
	"github.com/bearlytools/mbus/rpc/server"
	"github.com/bearlytools/mbus/threadservice"
	"github.com/bearlytools/mbus/version"
)

// VersionService answers GetVersionMethod with the local protocol version.
//
// The version is owned by the worker of a threadservice.Service: it is only read
// and written by tasks run there, so an update never races with replies.
type VersionService struct {
	ts  *threadservice.Service
	log *slog.Logger

	// Only touched on ts's worker.
	version version.Version
}

// NewVersionService returns a service answering with v.
func NewVersionService(ts *threadservice.Service, v version.Version, log *slog.Logger) *VersionService {
	if log == nil {
		log = slog.Default()
	}
	return &VersionService{ts: ts, log: log, version: v}
}

// Register registers the service on srv.
func (s *VersionService) Register(srv *server.Server) error {
	return srv.Register(GetVersionMethod, s.handle)
}

// Version returns the version currently served.
func (s *VersionService) Version(ctx context.Context) (version.Version, error) {
	var v version.Version
	err := s.ts.Run(ctx, func(context.Context) {
		v = s.version
	})
	return v, err
}

// SetVersion changes the version served from now on.
func (s *VersionService) SetVersion(ctx context.Context, v version.Version) error {
	return s.ts.Run(ctx, func(context.Context) {
		if !s.version.Equal(v) {
			s.log.Info("serving new version", "old", s.version, "new", v)
		}
		s.version = v
	})
}

func (s *VersionService) handle(ctx context.Context, params frame.Values) (frame.Values, error) {
	if len(params) != 0 {
		return nil, server.Errorf(frame.CodeWrongParams, "%s takes no parameters, got %q", GetVersionMethod, params.Types())
	}
	v, err := s.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	return frame.Values{frame.StringValue(v.String())}, nil
}

// newWorkerService starts a one worker executor and binds a threadservice to it.
// The returned close func stops the executor.
func newWorkerService(ctx context.Context, name string, log *slog.Logger) (*threadservice.Service, func(), error) {
	exec, err := executor.New(ctx, name, 1, executor.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	ts, err := threadservice.New(ctx, exec)
	if err != nil {
		exec.Close()
		return nil, nil, err
	}
	return ts, exec.Close, nil
}

// StartVersionService is NewVersionService on a dedicated worker. Call the
// returned func to stop the worker once the service is no longer used.
func StartVersionService(ctx context.Context, v version.Version, log *slog.Logger) (*VersionService, func(), error) {
	ts, stop, err := newWorkerService(ctx, "mbus-version", log)
	if err != nil {
		return nil, nil, err
	}
	return NewVersionService(ts, v, log), stop, nil
}
