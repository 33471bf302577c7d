// Copyright 2022 Molecula Corp (DBA FeatureBase). All rights reserved.

// Package context carries request-scoped correlation identifiers that need
// to travel alongside a context.Context but aren't part of the insert/select
// settings pair in writectx.go: the query id an insert was submitted under,
// and (once bound) the display name of the view currently being processed,
// for log correlation across a recursive Fan-out Writer tree.
package context

import "context"

type contextKeyQueryID struct{}
type contextKeyViewDisplayName struct{}

// QueryID returns the query id an insert was submitted under, if set.
func QueryID(ctx context.Context) (queryID string, ok bool) {
	queryID, ok = ctx.Value(contextKeyQueryID{}).(string)
	return
}

// WithQueryID attaches queryID to ctx. The Fan-out Writer does not read it:
// it takes its query id as an explicit constructor argument and passes that
// to TableHandle.LockForShare.
func WithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, contextKeyQueryID{}, queryID)
}

// ViewDisplayName returns the display name of the view whose stage is
// currently executing, if any.
func ViewDisplayName(ctx context.Context) (name string, ok bool) {
	name, ok = ctx.Value(contextKeyViewDisplayName{}).(string)
	return
}

// WithViewDisplayName attaches name to ctx. The per-view stage runner does
// not set it: a stage's context carries only the accounting thread that
// accounting.WithCurrent installs.
func WithViewDisplayName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextKeyViewDisplayName{}, name)
}
