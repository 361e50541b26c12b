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

package kernel

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"

	"kranos.dev/taskcore/kernel/capture"
	"kranos.dev/taskcore/mm/pagetables"
)

// spawnProcess allocates a fresh task: a zeroed kernel stack of
// cfg.KernelStackSize bytes, an empty FD table, and a freshly allocated ID.
// It does not bind an address space or insert the task into any queue; the
// caller (TaskingInstall, forkOrClone) does that once the task is otherwise
// fully formed, so a partially-constructed task is never observable to the
// scheduler.
func (k *Kernel) spawnProcess() *Task {
	stack := make([]byte, k.cfg.KernelStackSize)
	t := &Task{
		ID: k.pids.Allocate(),
		Image: Image{
			Stack:    stack,
			StackTop: uintptr(len(stack)),
		},
		FDs:   NewFDTable(),
		state: stateNew,
	}
	t.Thread.EIP = k.codeStart
	k.tasks[t.ID] = t
	return t
}

// setProcessEnvironmentLocked binds dir as t's address space. It does not
// install dir in the MMU; installTaskLocked does that when t becomes current.
func (k *Kernel) setProcessEnvironmentLocked(t *Task, dir *pagetables.Directory) {
	t.Thread.Dir = dir
}

// installTaskLocked makes nt the current task: binds its address space and
// kernel stack through the platform, and — for a task that has run before —
// checks its saved instruction pointer falls within the kernel text bounds,
// the direct analogue of switch_next's EIP-in-kernel-text check.
func (k *Kernel) installTaskLocked(nt *Task) {
	if nt.Thread.point != nil {
		k.assert(nt.Thread.EIP >= k.codeStart && nt.Thread.EIP < k.codeEnd,
			"switch_next: task %d resume EIP %#x outside kernel text [%#x, %#x)",
			nt.ID, nt.Thread.EIP, k.codeStart, k.codeEnd)
	}
	k.plat.SwitchPageDirectory(nt.Thread.Dir)
	k.plat.SetKernelStack(nt.Image.StackTop)
	k.current = nt
	nt.state = stateRunning
}

// resumeOrStart hands control to nt: if nt was previously switched out, its
// parked goroutine is woken via its saved capture.Point; otherwise nt has
// never run, and a fresh goroutine is started running its entry function.
func (k *Kernel) resumeOrStart(nt *Task) {
	if nt.Thread.point != nil {
		nt.Thread.point.Resume(capture.ResumeMagic)
		return
	}
	go k.runTask(nt)
}

// runTask is the body of a task's dedicated goroutine: it runs the task's
// entry function to completion, then exits the task with status 0 if the
// entry function returns normally instead of calling TaskExit itself.
func (k *Kernel) runTask(t *Task) {
	if t.entry != nil {
		t.entry(k, t)
	}
	if !t.Finished {
		k.TaskExit(t, 0)
	}
}

// WaitFor blocks waiter until target exits: it appends waiter to target's
// wait queue and yields without rescheduling. wakeupQueueLocked (driven by
// TaskExit) is what eventually makes waiter ready again. This fills the
// wait-queue's blocking side, the part no bare queue primitive can do on
// its own: something has to actually call SwitchTask to suspend a waiter.
func (k *Kernel) WaitFor(waiter *Task, target *Task) {
	k.irqOff()
	target.WaitQueue = append(target.WaitQueue, waiter.ID)
	k.irqRestore()
	k.SwitchTask(false)
}

// TaskingInstall brings up the scheduler: allocates the init task, binds it
// to kernelDir, installs it as current, and starts its goroutine running
// initEntry. It may be called exactly once per Kernel.
func (k *Kernel) TaskingInstall(initEntry func(k *Kernel, self *Task)) error {
	k.irqOff()
	if k.installed {
		k.irqRestore()
		return errors.New("kernel: tasking already installed")
	}
	init := k.spawnProcess()
	init.entry = initEntry
	k.setProcessEnvironmentLocked(init, k.kernelDir)
	k.installTaskLocked(init)
	k.installed = true
	k.irqRestore()

	go k.runTask(init)
	return nil
}

// TaskExit marks t finished, wakes any tasks blocked on its exit, makes it
// reapable, and switches away from it permanently: unlike SwitchTask, the
// outgoing task's context is never saved, and this call never returns to
// its caller — the calling goroutine instead terminates via
// runtime.Goexit, matching "a finished task will never be resumed".
func (k *Kernel) TaskExit(t *Task, retval int32) {
	k.irqOff()
	t.Finished = true
	t.Status = retval
	t.state = stateFinished
	waiters := t.WaitQueue
	t.WaitQueue = nil
	k.wakeupQueueLocked(waiters)
	k.markReapableLocked(t)

	nt, ok := k.switchNext()
	k.assert(ok, "task_exit: no ready task to switch to")
	k.irqRestore()

	k.resumeOrStart(nt)
	runtime.Goexit()
}

// ReapProcess frees a reapable task's resources: its wait-queue list, its
// kernel stack region, its address space (pagetables.FreeDirectory), and
// its FD table. The stack/directory/FD-table frees touch disjoint pools, so
// they run concurrently under an errgroup.Group, giving a teardown error
// from any one of them a path to the caller that a bare free() never had.
// ReapProcess panics if p is the currently running task.
func (k *Kernel) ReapProcess(p *Task) error {
	k.irqOff()
	if p == k.current {
		k.irqRestore()
		k.assert(false, "reap_process: task %d is the current task", p.ID)
	}
	p.WaitQueue = nil
	dir := p.Thread.Dir
	fds := p.FDs
	delete(k.tasks, p.ID)
	p.state = stateFreed
	k.irqRestore()

	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		p.Image.Stack = nil
		return nil
	})
	g.Go(func() error {
		if dir == nil || dir == k.kernelDir {
			return nil
		}
		return pagetables.FreeDirectory(k.alloc, dir)
	})
	g.Go(func() error {
		if fds != nil {
			fds.CloseAll()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	k.irqOff()
	k.Stats.Reaps++
	k.irqRestore()
	return nil
}
