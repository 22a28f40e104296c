package transports

import (
	"context"

	"github.com/furrow-sh/furrow/pkg/inventory"
)

// connectionVar selects the transport for a host ("local" or "ssh").
const connectionVar = "connection"

// Router dispatches each host to the local or remote transport.
// Hosts with connection=local, or that plainly name the current
// machine, run through the local transport; everything else goes over
// the remote dialer.
type Router struct {
	Remote Dialer
	Local  Dialer
}

// NewRouter creates a router over the given remote dialer.
func NewRouter(remote Dialer) *Router {
	return &Router{
		Remote: remote,
		Local:  &LocalDialer{},
	}
}

// Dial implements the Dialer interface.
func (r *Router) Dial(ctx context.Context, host *inventory.Host) (Connection, error) {
	if isLocal(host) {
		return r.Local.Dial(ctx, host)
	}
	return r.Remote.Dial(ctx, host)
}

func isLocal(host *inventory.Host) bool {
	if host.Vars[connectionVar] == "local" {
		return true
	}
	switch host.Address {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return host.Address == "" && host.Name == "localhost"
}
