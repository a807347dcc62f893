// Command kctl is the operator-facing entry point for beehive-os/kernel: it
// drives a simulated multicore bring-up and lets an operator inspect the
// resulting per-PE and process-table state. Grounded on
// runsc/cli/main.go's subcommands.Register wiring (gvisor's own CLI
// entry point uses github.com/google/subcommands for exactly this "register
// a handful of verbs, dispatch, exit with its status" shape).
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/beehive-os/kernel/internal/klog"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&bootCommand{}, "")
	subcommands.Register(&inspectCommand{}, "")

	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()
	if *debug {
		klog.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
