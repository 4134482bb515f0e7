// Command hearth runs the subscription lifecycle service.
//
// Usage:
//
//	hearth                          serve HTTP and run the periodic sweeps
//	hearth dead-letters             list unresolved dead-lettered events
//	hearth dead-letters resolve ID  mark a dead letter as handled
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "hearth:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if len(args) > 0 && args[0] == "dead-letters" {
		return a.deadLetters(ctx, os.Stdout, args[1:])
	}
	if len(args) > 0 {
		return fmt.Errorf("unknown command %q", args[0])
	}
	return a.serve(ctx)
}
