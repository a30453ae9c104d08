// Command wsstore drives the workspace store from the command line: it can
// populate a sample workspace, archive snapshots and inspect archives.
package main

import (
	"context"
	"os"
	"os/signal"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		exitFunc(1)
	}
}
