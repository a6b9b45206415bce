package lifecycle

import (
	"context"
	"reflect"

	"go-securex/securex/internal/security"
)

type overrideKey struct{}

// overrides maps a record type to its provider stack. A context never mutates the map
// it carries; pushing copies it.
type overrides map[reflect.Type][]security.Provider

// WithProvider returns a context in which p is the active provider for records of typ.
// The parent context is left untouched, so the override ends when the derived context
// goes out of scope.
func WithProvider(ctx context.Context, typ reflect.Type, p security.Provider) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	current, _ := ctx.Value(overrideKey{}).(overrides)

	next := make(overrides, len(current)+1)
	for t, stack := range current {
		next[t] = stack
	}
	stack := current[typ]
	pushed := make([]security.Provider, len(stack), len(stack)+1)
	copy(pushed, stack)
	next[typ] = append(pushed, p)

	return context.WithValue(ctx, overrideKey{}, next)
}

// ActiveProvider returns the innermost override for typ
func ActiveProvider(ctx context.Context, typ reflect.Type) (security.Provider, bool) {
	if ctx == nil {
		return nil, false
	}
	current, _ := ctx.Value(overrideKey{}).(overrides)
	stack := current[typ]
	if len(stack) == 0 {
		return nil, false
	}
	return stack[len(stack)-1], true
}

// OverrideDepth is the number of overrides in effect for typ
func OverrideDepth(ctx context.Context, typ reflect.Type) int {
	if ctx == nil {
		return 0
	}
	current, _ := ctx.Value(overrideKey{}).(overrides)
	return len(current[typ])
}
