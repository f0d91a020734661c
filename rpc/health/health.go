// Package health provides a health check method for mbus RPC servers.
package health

import (
	"fmt"
	"time"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/client"
	"github.com/bearlytools/mbus/rpc/frame"
	"github.com/bearlytools/mbus/rpc/server"
)

// Method is the RPC method health checks are served on. It takes an optional
// service name and returns the ServingStatus as an int64.
const Method = "mbus.health"

// ServingStatus is the health of a service.
type ServingStatus int64

const (
	Unknown ServingStatus = iota
	Serving
	NotServing
	// ServiceUnknown is returned for services that never had a status set.
	ServiceUnknown
)

func (s ServingStatus) String() string {
	switch s {
	case Serving:
		return "SERVING"
	case NotServing:
		return "NOT_SERVING"
	case ServiceUnknown:
		return "SERVICE_UNKNOWN"
	}
	return "UNKNOWN"
}

// Server implements the health check service.
// Use NewServer() to create an instance, then register it with Register.
type Server struct {
	mu       sync.RWMutex
	services map[string]ServingStatus
}

// NewServer creates a new health check server.
// By default, the overall server health (empty service name) is set to Serving.
func NewServer() *Server {
	return &Server{
		services: map[string]ServingStatus{
			"": Serving,
		},
	}
}

// SetServingStatus sets the health status for a service.
// Use an empty string to set the overall server health status.
func (s *Server) SetServingStatus(service string, status ServingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[service] = status
}

// ServingStatus returns the health status for a service.
// Returns ServiceUnknown if the service is not registered.
func (s *Server) ServingStatus(service string) ServingStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.services[service]
	if !ok {
		return ServiceUnknown
	}
	return status
}

// Check handles a health check request.
func (s *Server) Check(ctx context.Context, params frame.Values) (frame.Values, error) {
	var service string
	switch params.Types() {
	case "":
	case string(frame.TypeString):
		service = params[0].String()
	default:
		return nil, server.Errorf(frame.CodeWrongParams, "%s takes an optional service name, got %q", Method, params.Types())
	}
	return frame.Values{frame.Int64Value(int64(s.ServingStatus(service)))}, nil
}

// Register registers the health check service with an RPC server.
//
// Example usage:
//
//	srv := server.New()
//	healthSvc := health.NewServer()
//	health.Register(srv, healthSvc)
//	// Update service status as needed:
//	healthSvc.SetServingStatus("myservice", health.Serving)
func Register(srv *server.Server, health *Server) error {
	return srv.Register(Method, health.Check)
}

// Enable is a convenience function that creates a health server and registers it.
// Returns the health.Server so you can update service status.
func Enable(srv *server.Server) (*Server, error) {
	h := NewServer()
	if err := Register(srv, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Check performs a health check on the server behind t.
// Use an empty string to check the overall server health.
func Check(ctx context.Context, t *client.Target, service string, timeout time.Duration) (ServingStatus, error) {
	req := client.NewRequest(ctx).SetMethodName(Method)
	defer req.SubRef()
	if service != "" {
		req.Params().AddString(service)
	}

	t.InvokeSync(ctx, req, timeout)
	if req.IsError() {
		return Unknown, fmt.Errorf("health check of %s: %s: %s", t.Spec(), req.ErrorCode(), req.ErrorMessage())
	}
	if !req.CheckReturnTypes(string(frame.TypeInt64)) {
		return Unknown, fmt.Errorf("health check of %s: %s", t.Spec(), req.ErrorMessage())
	}
	return ServingStatus(req.Return()[0].Int64()), nil
}
