// Package protocol defines the contract between the imposter core and
// protocol transports: the factory that binds a listening server, the
// running server handle, and the request handler the transport calls
// for every inbound request.
//
// Requests and responses cross this boundary as generic JSON-shaped
// maps; each protocol documents its own field conventions (TCP uses
// {"requestFrom", "data"}, HTTP uses {"requestFrom", "method", "path",
// "query", "headers", "body"}).
package protocol

import (
	"context"
	"log/slog"

	"github.com/imposterd/imposterd/pkg/config"
	"github.com/imposterd/imposterd/pkg/resolver"
	"github.com/imposterd/imposterd/pkg/stub"
)

// RequestHandler is what a transport calls to answer inbound traffic.
// The imposter core implements it.
type RequestHandler interface {
	// GetResponseFor resolves an inbound request. A KindProxyPending
	// resolution instructs the transport to dial the upstream itself
	// and complete via GetProxyResponseFor.
	GetResponseFor(ctx context.Context, request map[string]any) (*resolver.Resolution, error)

	// GetProxyResponseFor delivers the raw result of an upstream proxy
	// call, correlated by the resolution key issued earlier.
	GetProxyResponseFor(ctx context.Context, response map[string]any, key resolver.ResolutionKey) (*resolver.Resolution, error)
}

// Factory creates running servers for one protocol.
type Factory interface {
	// Protocol returns the protocol name this factory serves, e.g.
	// "tcp" or "http".
	Protocol() string

	// CreateServer binds a listening transport for the creation
	// request and starts serving, routing every inbound request
	// through the handler. Bind failures are returned raw; the caller
	// maps them to its error taxonomy.
	CreateServer(ctx context.Context, req *config.CreationRequest, log *slog.Logger, handler RequestHandler) (Server, error)
}

// Server is a running transport endpoint. It owns the listening socket;
// the imposter owns the Server and is solely responsible for closing
// it.
type Server interface {
	// Port returns the bound port. Meaningful once CreateServer has
	// returned, including when the creation request asked for port 0.
	Port() int

	// Metadata returns protocol-specific attributes to surface in the
	// imposter's serialized form (e.g. {"mode": "text"} for TCP).
	Metadata() map[string]any

	// Stubs is the stub store the transport was created with.
	Stubs() *stub.Store

	// Resolver is the resolver the transport was created with.
	Resolver() *resolver.Resolver

	// Errors reports fatal transport-level errors raised while
	// serving. The channel is closed when the server stops. Consumers
	// must drain it; transports must never panic across this boundary.
	Errors() <-chan error

	// Close shuts the listening socket and releases resources,
	// returning once closure is confirmed or the context is done.
	Close(ctx context.Context) error
}
