package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
)

type bootCommand struct {
	configPath string
	npes       uint
}

func (*bootCommand) Name() string     { return "boot" }
func (*bootCommand) Synopsis() string { return "bring up a simulated multicore cluster" }
func (*bootCommand) Usage() string {
	return "boot [-config path] [-npes n]: run bring-up across n simulated PEs and report barrier status\n"
}

func (c *bootCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to a kernel.toml config file")
	f.UintVar(&c.npes, "npes", 0, "override the configured PE count (1 if neither is set)")
}

func (c *bootCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cl, err := newCluster(c.configPath, uint32(c.npes))
	if err != nil {
		fmt.Println("kctl: boot:", err)
		return subcommands.ExitFailure
	}
	if err := cl.boot(ctx); err != nil {
		fmt.Println("kctl: boot:", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("booted %d PEs; max interrupt priority %#x\n", cl.npes, cl.ic.GetMaxPriority())
	return subcommands.ExitSuccess
}
