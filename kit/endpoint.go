// Package kit provides the transport-agnostic plumbing shared by every
// service surface: the Endpoint function type, middleware chaining,
// request-scoped context keys and the MCP tool bridge.
package kit

import "context"

// Endpoint is a transport-agnostic request handler: one typed request
// in, one typed response out. HTTP handlers, MCP tools and in-process
// calls all terminate in an Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left-to-right: the first middleware is the
// outermost wrapper (executed first on the request path).
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
