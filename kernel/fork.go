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
	"encoding/binary"

	"kranos.dev/taskcore/mm/pagetables"
)

// taskMagic is written to the last four bytes of a task's kernel stack and
// re-checked across fork's stack copy and the child's first scheduling
// slice, the direct analogue of the source's TASK_MAGIC sentinel.
const taskMagic uint32 = 0x600dbabe

func writeTaskMagic(stack []byte) {
	if len(stack) < 4 {
		return
	}
	binary.LittleEndian.PutUint32(stack[len(stack)-4:], taskMagic)
}

func checkTaskMagic(stack []byte) bool {
	if len(stack) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(stack[len(stack)-4:]) == taskMagic
}

// addressSpacePolicy selects how forkOrClone binds the child's address
// space.
type addressSpacePolicy int

const (
	cloneAddressSpace addressSpacePolicy = iota
	shareAddressSpace
)

// addDelta applies a signed byte offset to a stack pointer value. uintptr
// arithmetic in Go wraps the same way C's does for this purpose, but going
// through int64 keeps a negative delta (child stack below parent's) honest
// instead of relying on unsigned wraparound to "just work".
func addDelta(v uintptr, delta int) uintptr {
	return uintptr(int64(v) + int64(delta))
}

// Fork creates a child task with a private deep copy of parent's address
// space (mm/pagetables.CloneDirectory).
func (k *Kernel) Fork(parent *Task, onChildStart func(child *Task)) (ID, error) {
	return k.forkOrClone(parent, cloneAddressSpace, 0, 0, onChildStart)
}

// Clone creates a child task that shares parent's address space by
// reference. stackTop and stackOld are recorded on the child verbatim for
// the caller's own userspace-visible stack relocation; this core only
// preserves the kernel register file.
func (k *Kernel) Clone(parent *Task, stackTop, stackOld uintptr, onChildStart func(child *Task)) (ID, error) {
	return k.forkOrClone(parent, shareAddressSpace, stackTop, stackOld, onChildStart)
}

// forkOrClone implements the five-step algorithm shared by Fork and Clone.
// It never blocks: the parent's branch runs to completion and returns
// child.ID synchronously, in the same call. The child's branch —
// "current_process == child, capture-resume returns 0" in the source — has
// no Go analogue of resuming mid-function on a fresh goroutine, so it is
// instead the explicit onChildStart continuation, invoked once when the
// scheduler first runs the child (see Kernel.runTask).
func (k *Kernel) forkOrClone(parent *Task, policy addressSpacePolicy, stackTop, stackOld uintptr, onChildStart func(child *Task)) (ID, error) {
	k.irqOff()
	defer k.irqRestore()

	writeTaskMagic(parent.Image.Stack)

	child := k.spawnProcess()

	var dir *pagetables.Directory
	switch policy {
	case cloneAddressSpace:
		cd, err := pagetables.CloneDirectory(k.alloc, parent.Thread.Dir)
		if err != nil {
			k.assert(false, "fork: clone address space for task %d: %v", parent.ID, err)
		}
		dir = cd
		k.Stats.Forks++
	case shareAddressSpace:
		dir = parent.Thread.Dir
		k.Stats.Clones++
	}
	k.setProcessEnvironmentLocked(child, dir)
	child.UserStackTop = stackTop
	child.UserStackOld = stackOld

	k.assert(checkTaskMagic(parent.Image.Stack), "fork: TASK_MAGIC corrupted on parent task %d stack", parent.ID)

	// Δ = child.image.stack - parent.image.stack, the symmetric formula
	// (esp' = esp + Δ, ebp' = ebp + Δ) rather than the source's asymmetric
	// one: both preserve offset-from-top identically, and the asymmetric
	// version is the latent bug flagged against this exact step.
	delta := int(child.Image.StackTop) - int(parent.Image.StackTop)
	childESP := addDelta(parent.Thread.ESP, delta)
	childEBP := addDelta(parent.Thread.EBP, delta)

	copy(child.Image.Stack, parent.Image.Stack)
	writeTaskMagic(child.Image.Stack)

	if parent.SyscallRegisters != nil {
		rebased := addDeltaOffset(*parent.SyscallRegisters, delta)
		child.SyscallRegisters = &rebased
	}

	child.Thread.ESP = childESP
	child.Thread.EBP = childEBP
	child.Thread.EIP = k.codeStart
	child.entry = func(kk *Kernel, self *Task) {
		kk.assert(checkTaskMagic(self.Image.Stack), "fork: TASK_MAGIC corrupted on child task %d stack", self.ID)
		if onChildStart != nil {
			onChildStart(self)
		}
	}

	k.makeReadyLocked(child)
	return child.ID, nil
}

// addDeltaOffset rebases a SyscallRegisters byte offset by the same
// base-to-base delta applied to the stack pointers.
func addDeltaOffset(offset, delta int) int {
	return offset + delta
}
