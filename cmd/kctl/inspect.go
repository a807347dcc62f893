package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/beehive-os/kernel/pkg/percpu"
)

type inspectCommand struct {
	configPath string
	npes       uint
	process    string
}

func (*inspectCommand) Name() string     { return "inspect" }
func (*inspectCommand) Synopsis() string { return "boot a cluster, spawn a demo process, dump its state" }
func (*inspectCommand) Usage() string {
	return "inspect [-config path] [-npes n] [-process name]: report per-PE and process-table state after bring-up\n"
}

func (c *inspectCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to a kernel.toml config file")
	f.UintVar(&c.npes, "npes", 2, "number of simulated PEs")
	f.StringVar(&c.process, "process", "demo", "name of the process to spawn for inspection")
}

func (c *inspectCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cl, err := newCluster(c.configPath, uint32(c.npes))
	if err != nil {
		fmt.Println("kctl: inspect:", err)
		return subcommands.ExitFailure
	}
	if err := cl.boot(ctx); err != nil {
		fmt.Println("kctl: inspect:", err)
		return subcommands.ExitFailure
	}

	p := cl.spawnDemoProcess(c.process)

	fmt.Printf("process %q pid=%d state=%v threads=%d\n", p.Cmd, p.PID, p.State(), len(p.Threads))
	for _, th := range p.Threads {
		fmt.Printf("  tid=%d name=%q state=%v affinity=%#x running_core=%d\n",
			th.TID(), th.Name, th.State(), th.Affinity, th.RunningCore)
	}

	fmt.Println("per-PE run queues:")
	for pe := uint32(0); pe < cl.npes; pe++ {
		fmt.Printf("  pe=%d queue_len=%d pending_irq_bitmap=%#x current_thread=%v\n",
			pe, cl.sched.Len(pe), percpu.Get(pe).PendingIRQBitmap(), percpu.Get(pe).CurrentThread())
	}
	return subcommands.ExitSuccess
}
