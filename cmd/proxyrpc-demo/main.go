// Command proxyrpc-demo runs a complete two-sided RPC session in one
// process: a main side exposing a greeter actor and an extension side
// calling it through a proxy. With -verbose it logs the protocol traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jckouame/proxyrpc/channel"
	"github.com/jckouame/proxyrpc/ident"
	"github.com/jckouame/proxyrpc/rpc"
)

func main() {
	verbose := flag.Bool("verbose", false, "log protocol traffic")
	name := flag.String("name", "World", "name to greet")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	a, b := channel.Pair()
	mainSide := rpc.New(a, rpc.WithLogger(logger))
	extSide := rpc.New(b, rpc.WithLogger(logger))
	defer mainSide.Dispose()
	defer extSide.Dispose()

	greeter := ident.New(ident.Main, "mService")
	mainSide.RegisterActor(greeter, rpc.MethodMap{
		"$greet": func(ctx context.Context, args []any) (any, error) {
			who, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("greet expects a string, got %T", args[0])
			}
			return "Hello, " + who, nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proxy := extSide.GetProxy(greeter)
	res, err := proxy.Call(ctx, "$greet", *name)
	if err != nil {
		log.Fatalf("greet failed: %v", err)
	}
	fmt.Println(res)

	// Demonstrate error propagation across the boundary.
	if _, err := proxy.Call(ctx, "$nope"); err != nil {
		fmt.Printf("calling $nope: %v\n", err)
	}
}
