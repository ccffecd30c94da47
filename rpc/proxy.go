package rpc

import (
	"context"

	"github.com/jckouame/proxyrpc/ident"
	"github.com/jckouame/proxyrpc/promise"
)

// Proxy is the local stand-in for an actor registered on the peer. Every
// method call forwards through the connection's single call path; typed
// client wrappers embed a Proxy and expose statically declared methods.
//
// Proxies are synthesized lazily by Conn.GetProxy and stay valid until the
// session disposes; calls on a disposed session fail with cancellation.
type Proxy struct {
	conn *Conn
	id   ident.Identifier
}

// Identifier returns the identifier this proxy addresses.
func (p *Proxy) Identifier() ident.Identifier {
	return p.id
}

// CallAsync invokes a remote method and returns the deferred result without
// waiting. The deferred is usable before the round trip finishes; callers
// needing a timeout race Done() externally, since the protocol has no
// per-call cancellation primitive.
func (p *Proxy) CallAsync(method string, args ...any) *promise.Deferred {
	if args == nil {
		args = []any{}
	}
	return p.conn.call(p.id.String(), method, args)
}

// Call invokes a remote method and waits for its settlement or ctx.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (any, error) {
	return p.CallAsync(method, args...).Wait(ctx)
}
