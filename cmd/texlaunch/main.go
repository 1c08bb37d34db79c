// Command texlaunch runs external texture compression tools (PVRTexTool,
// Crunch, astcenc) with flags built from its own command line.
//
// Usage:
//
//	texlaunch compress -t <tool> -i <input> -o <output> [-f name=value ...] [-- extra flags]
//	texlaunch watch -t <tool> --dir <dir> [--out <dir>] [--workers N]
//	texlaunch tools
//	texlaunch history [--limit N]
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancelling kills the running tool's process group.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
