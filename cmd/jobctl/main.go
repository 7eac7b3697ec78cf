// Command jobctl administers the job queue: schema migrations, the demo
// fixture and inspection of stored jobs.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
