// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package event

import "context"

type scopeKey struct{}

// WithScope attaches a handler call scope to ctx. Plugin runtimes use it to
// recognise calls that re-enter them from inside their own handlers.
func WithScope(ctx context.Context, scope any) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// Scope returns the call scope carried by ctx, or nil.
func Scope(ctx context.Context) any {
	if ctx == nil {
		return nil
	}
	return ctx.Value(scopeKey{})
}

// Detach returns a context for work that continues after the current handler
// returns. It keeps request values but is never cancelled and carries no call
// scope.
func Detach(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(context.WithoutCancel(ctx), scopeKey{}, nil)
}
