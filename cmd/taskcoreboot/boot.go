// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	log "github.com/sirupsen/logrus"

	"kranos.dev/taskcore"
	"kranos.dev/taskcore/kernel"
	"kranos.dev/taskcore/mm/frame"
	"kranos.dev/taskcore/mm/pagetables"
	"kranos.dev/taskcore/platform"
)

// bootCommand implements subcommands.Command for "boot": it brings up a
// Kernel against a mock platform and idles it through a run of simulated
// timer ticks, printing the resulting Stats, matching scenario 1
// (boot-and-idle) end to end.
type bootCommand struct {
	ticks int
}

func (*bootCommand) Name() string     { return "boot" }
func (*bootCommand) Synopsis() string { return "bring up the scheduler and idle it through N timer ticks" }
func (*bootCommand) Usage() string {
	return "boot [-ticks N]\n  Installs the init task and drives N simulated timer interrupts against it.\n"
}

func (c *bootCommand) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.ticks, "ticks", 100, "number of simulated timer ticks to run")
}

func (c *bootCommand) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg, ok := args[0].(taskcore.Config)
	if !ok {
		log.Fatal("boot: expected a taskcore.Config argument")
	}

	alloc, err := frame.NewMockAllocator(cfg.FramePoolSize)
	if err != nil {
		log.WithError(err).Fatal("boot: creating frame allocator")
	}
	defer alloc.Close()

	plat := platform.NewMock(0x100000, 0x200000)
	kernelDir := pagetables.NewDirectory()
	k := kernel.NewKernel(cfg, alloc, plat, kernelDir)

	done := make(chan struct{})
	err = k.TaskingInstall(func(k *kernel.Kernel, self *kernel.Task) {
		for i := 0; i < c.ticks; i++ {
			if (i+1)%cfg.TimerQuantum == 0 {
				k.SwitchTask(true)
			}
			k.Stats.TimerTicks++
		}
		close(done)
		// Idle forever instead of returning: returning here would make
		// runTask call TaskExit on init's behalf, and with nothing else
		// ever made ready there is no next task for it to switch to.
		select {}
	})
	if err != nil {
		log.WithError(err).Fatal("boot: tasking_install")
	}
	<-done

	fmt.Printf("ran %d ticks: switches=%d same_task=%d forks=%d clones=%d reaps=%d\n",
		c.ticks, k.Stats.Switches, k.Stats.SameTask, k.Stats.Forks, k.Stats.Clones, k.Stats.Reaps)
	return subcommands.ExitSuccess
}
