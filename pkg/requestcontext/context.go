// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// This package defines context keys and getter/setter functions for values
// that are typically set by middleware but consumed by the persistence core
// when it materializes audit entries. By keeping this package free of
// net/http dependencies, the core can record who changed what without
// pulling in HTTP-related code.
//
// Usage in the core (read values):
//
//	actor := requestcontext.ActorFrom(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithActor(ctx, actor)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

// Actor captures the identity and request metadata of the current caller.
// Every field is optional: background jobs and CLI invocations carry no HTTP
// request, and unauthenticated requests carry no user. Absent fields are
// persisted as NULL on audit entries rather than invented defaults.
type Actor struct {
	UserID        string
	UserName      string
	IPAddress     string
	UserAgent     string
	RequestURL    string
	RequestMethod string
}

// Context key types (unexported for encapsulation).
type (
	actorKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// ActorFrom retrieves the actor recorded for this request.
// Returns the zero Actor if none was set.
func ActorFrom(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorKey{}).(Actor); ok {
		return actor
	}
	return Actor{}
}

// WithActor injects the caller's identity and request metadata into the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// RequestID retrieves the correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts (workers, CLI, tests that
// don't pin the clock).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the request-scoped clock. Useful for service unit tests and
// for batch jobs that want one consistent timestamp across an operation.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
