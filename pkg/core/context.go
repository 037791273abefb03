package core

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}
type compoundKey struct{}

// WithRunID attaches a run id to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id if present.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

// EnsureRunID ensures a run id exists in the context.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := "run-" + uuid.NewString()
	return WithRunID(ctx, id), id
}

// WithCompound attaches the compound under analysis to the context.
func WithCompound(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, compoundKey{}, name)
}

// Compound returns the compound under analysis if present.
func Compound(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(compoundKey{}).(string)
	return name, ok
}
