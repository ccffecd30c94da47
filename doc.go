// Package proxyrpc provides a bidirectional proxy-based RPC protocol core.
//
// Two isolated execution contexts (a "main" side and an "extension" side,
// each typically running in its own process or sandbox) call methods on each
// other through a single ordered, message-oriented channel. Each side
// registers actors (remotely-addressable objects) and obtains proxies for
// actors registered on the peer. Calls are correlated by monotonically
// increasing call ids and settle promise-like deferred results.
//
// This library follows the sans-IO pattern: it implements protocol logic
// only, with no transport code in the core. Consumers provide a message
// channel (see the channel package for in-process, byte-stream, and
// WebSocket implementations).
//
// # Architecture
//
// The library is organized into layers:
//
//   - rpc: protocol core - actor table, proxy synthesis, request/reply
//     state machine, disposal
//   - mux: outbound batching and inbound batch fan-out
//   - wire: the three wire message shapes and their JSON encoding
//   - promise: one-shot broadcast deferred results
//   - ident: side-tagged identifiers for remotely-addressable objects
//   - channel: reference transports (in-process pair, stream, WebSocket)
//
// # Basic Usage
//
//	a, b := channel.Pair()
//	main := rpc.New(a)
//	ext := rpc.New(b)
//
//	id := ident.New(ident.Main, "greeter")
//	main.RegisterActor(id, rpc.MethodMap{
//	    "$greet": func(ctx context.Context, args []any) (any, error) {
//	        return "Hello, " + args[0].(string), nil
//	    },
//	})
//
//	proxy := ext.GetProxy(id)
//	res, err := proxy.Call(ctx, "$greet", "World")
//
// # Transport Agnostic
//
// The core never assumes how a batch reaches the peer. Any ordered, reliable
// duplex carrier works: IPC pipes, domain sockets, WebSockets, or an
// in-process channel pair. The protocol does not implement retransmission or
// reordering correction.
package proxyrpc

// Version is the library version.
const Version = "0.1.0-dev"
