// Package kit holds the transport-neutral endpoint plumbing shared by the
// HTTP API and the MCP tool surface: the Endpoint function type, middleware
// chaining, request-scoped context keys, and MCP registration helpers.
package kit

import "context"

// Endpoint is a transport-neutral request handler. Both chi handlers and
// MCP tools decode into a typed request and delegate to an Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares left to right: the first argument is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
