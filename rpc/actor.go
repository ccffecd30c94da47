package rpc

import "context"

// Handler implements one remotely-invocable method. Arguments arrive as
// decoded JSON values (float64 for numbers, string, bool, []any,
// map[string]any, nil). A nil result with a nil error is a void reply; the
// res field is omitted on the wire.
type Handler func(ctx context.Context, args []any) (any, error)

// Actor is a remotely-addressable object. Each remotely-invocable method is
// declared statically and looked up by its wire name, conventionally carrying
// a leading "$" marker.
type Actor interface {
	// LookupMethod resolves a wire method name to its handler.
	LookupMethod(name string) (Handler, bool)
}

// MethodMap is the stock Actor implementation: an explicit dispatch table
// from wire method name to handler.
type MethodMap map[string]Handler

// LookupMethod implements Actor.
func (m MethodMap) LookupMethod(name string) (Handler, bool) {
	h, ok := m[name]
	return h, ok
}
