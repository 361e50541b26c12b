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

// forkDemoCommand implements subcommands.Command for "fork-demo": it walks
// scenario 2 end to end — init forks, observes the child's id in the same
// call, and the child observes its own identity the first time the
// scheduler runs it — and prints both observations.
type forkDemoCommand struct{}

func (*forkDemoCommand) Name() string     { return "fork-demo" }
func (*forkDemoCommand) Synopsis() string { return "fork once from init and print both branches' observations" }
func (*forkDemoCommand) Usage() string {
	return "fork-demo\n  Forks a single child from the init task and prints the parent and child's views of the fork.\n"
}

func (*forkDemoCommand) SetFlags(*flag.FlagSet) {}

func (*forkDemoCommand) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg, ok := args[0].(taskcore.Config)
	if !ok {
		log.Fatal("fork-demo: expected a taskcore.Config argument")
	}

	alloc, err := frame.NewMockAllocator(cfg.FramePoolSize)
	if err != nil {
		log.WithError(err).Fatal("fork-demo: creating frame allocator")
	}
	defer alloc.Close()

	plat := platform.NewMock(0x100000, 0x200000)
	kernelDir := pagetables.NewDirectory()
	k := kernel.NewKernel(cfg, alloc, plat, kernelDir)

	done := make(chan struct{})
	err = k.TaskingInstall(func(k *kernel.Kernel, self *kernel.Task) {
		childID, err := k.Fork(self, func(child *kernel.Task) {
			fmt.Printf("child branch: scheduled as task %d\n", child.ID)
		})
		if err != nil {
			log.WithError(err).Fatal("fork-demo: fork")
		}
		fmt.Printf("parent branch: fork returned child id %d synchronously\n", childID)

		// One switch gives the scheduler a chance to run the child before
		// init reports the final tally.
		k.SwitchTask(true)
		fmt.Printf("after one switch: switches=%d forks=%d\n", k.Stats.Switches, k.Stats.Forks)
		close(done)
		select {}
	})
	if err != nil {
		log.WithError(err).Fatal("fork-demo: tasking_install")
	}
	<-done

	return subcommands.ExitSuccess
}
