// Package network resolves and caches the protocol version of message bus
// endpoints.
//
// An RPCTarget wraps the transport connection to one endpoint. The first caller
// that asks for the endpoint's version sends a single "mbus.getVersion" request;
// everyone asking while it is in flight is queued and told the answer when it
// arrives. A resolved version is cached for the lifetime of the target, a failed
// resolution is not, so the next caller asks again.
package network

import (
	"fmt"
	"time"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/client"
	"github.com/bearlytools/mbus/version"
)

// GetVersionMethod is the RPC method endpoints answer with their version string.
const GetVersionMethod = "mbus.getVersion"

// FallbackVersion is assumed for endpoints that do not implement
// GetVersionMethod. Those predate version negotiation and all speak 4.1.
var FallbackVersion = version.MustParse("4.1")

// ResolutionState is the state of version resolution of an RPCTarget.
type ResolutionState uint8

const (
	// Unresolved means no version is cached and no request is in flight.
	Unresolved ResolutionState = 0
	// Invoked means a version request is in flight.
	Invoked ResolutionState = 1
	// Delivering means the reply arrived and queued handlers are being called.
	Delivering ResolutionState = 2
	// Resolved means a version is cached.
	Resolved ResolutionState = 3
)

// String implements fmt.Stringer.
func (s ResolutionState) String() string {
	switch s {
	case Unresolved:
		return "Unresolved"
	case Invoked:
		return "Invoked"
	case Delivering:
		return "Delivering"
	case Resolved:
		return "Resolved"
	}
	return fmt.Sprintf("ResolutionState(%d)", uint8(s))
}

// VersionHandler receives the outcome of a version resolution. ok is false when
// the version could not be resolved; v is then the zero Version.
// Handlers must not panic.
type VersionHandler interface {
	HandleVersion(v version.Version, ok bool)
}

// VersionHandlerFunc adapts a function to a VersionHandler.
type VersionHandlerFunc func(v version.Version, ok bool)

// HandleVersion implements VersionHandler.
func (f VersionHandlerFunc) HandleVersion(v version.Version, ok bool) {
	f(v, ok)
}

// Supervisor is the transport library an RPCTarget gets its endpoint and
// requests from.
type Supervisor interface {
	// GetTarget returns an endpoint handle for spec holding one reference.
	GetTarget(ctx context.Context, spec string) (Endpoint, error)
	// AllocRequest returns a fresh request.
	AllocRequest(ctx context.Context) *client.Request
}

// Endpoint is a reference counted handle to one remote endpoint.
type Endpoint interface {
	// IsValid reports if the handle can still carry requests.
	IsValid() bool
	// InvokeAsync sends req and calls w.RequestDone exactly once when it finished.
	InvokeAsync(ctx context.Context, req *client.Request, timeout time.Duration, w client.RequestWaiter)
	// SubRef releases one reference.
	SubRef()
}

// FromClient adapts a *client.Supervisor to a Supervisor.
func FromClient(s *client.Supervisor) Supervisor {
	return clientSupervisor{s}
}

type clientSupervisor struct {
	*client.Supervisor
}

func (c clientSupervisor) GetTarget(ctx context.Context, spec string) (Endpoint, error) {
	t, err := c.Supervisor.GetTarget(ctx, spec)
	if err != nil {
		return nil, err
	}
	return t, nil
}
