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
	"kranos.dev/taskcore/kernel/capture"
	"kranos.dev/taskcore/mm/pagetables"
)

// ID is a task identifier: unique, non-negative, and monotonically assigned
// by a PIDAllocator. IDs are never reused.
type ID uint32

// taskState is the lifecycle state machine a Task moves through. Every
// transition is driven by exactly one scheduler operation; an operation that
// would otherwise produce an illegal edge calls Kernel.assert instead.
type taskState uint8

const (
	stateNew taskState = iota
	stateReady
	stateRunning
	stateBlocked
	stateFinished
	stateReapable
	stateFreed
)

func (s taskState) String() string {
	switch s {
	case stateNew:
		return "NEW"
	case stateReady:
		return "READY"
	case stateRunning:
		return "RUNNING"
	case stateBlocked:
		return "BLOCKED"
	case stateFinished:
		return "FINISHED"
	case stateReapable:
		return "REAPABLE"
	case stateFreed:
		return "FREED"
	default:
		return "UNKNOWN"
	}
}

// Thread is a task's saved execution context: the register snapshot
// switch_task records and switch_next restores, together with the address
// space it runs in.
type Thread struct {
	EIP uintptr
	ESP uintptr
	EBP uintptr

	// Dir is a reference to this task's address space. Forked children get
	// a private deep copy (mm/pagetables.CloneDirectory); cloned threads
	// share their parent's by reference.
	Dir *pagetables.Directory

	// point is the capture-resume handle recorded the last time this task's
	// goroutine was parked by SwitchTask. It is nil until the task has been
	// switched out at least once; a task scheduled for the first time is
	// started as a fresh goroutine instead of being resumed through it.
	point *capture.Point
}

// Image is a task's kernel-stack region. StackTop is the simulated high
// address of Stack; the stack is conceptually full-descending, so valid
// data lives at offsets counting down from len(Stack).
type Image struct {
	Stack    []byte
	StackTop uintptr
}

// Task is the unit of scheduling.
type Task struct {
	ID     ID
	Thread Thread
	Image  Image

	// SyscallRegisters is a byte offset into Image.Stack locating the saved
	// register frame for an in-flight system call, or nil if none is in
	// flight. It is stored as an offset rather than a raw pointer so that
	// relocating it across a verbatim stack copy (fork's child stack, see
	// forkOrClone) is plain integer arithmetic, not pointer rewriting.
	SyscallRegisters *int

	FDs *FDTable

	// WaitQueue holds the IDs of tasks blocked waiting for this task to
	// exit. It is a list of weak references: the Kernel's task table is the
	// sole owner of the referenced Tasks.
	WaitQueue []ID

	Status   int32
	Finished bool
	Reapable bool

	// UserStackTop and UserStackOld are clone's stack_top/stack_old
	// arguments, recorded verbatim for the caller's own userspace-visible
	// stack relocation; the task-management core does not act on them.
	UserStackTop uintptr
	UserStackOld uintptr

	// UserStack is the simulated backing storage for this task's ring-3
	// stack. It is nil until something (usermode.EnterUserJmp, a clone's
	// caller) allocates one; the task-management core never reads or
	// writes it itself. Positions in it (such as usermode.EnterUserJmp's
	// userStackTop) are byte offsets from the start of the buffer, the same
	// way SyscallRegisters addresses Image.Stack, not raw pointers.
	UserStack []byte

	state taskState
	entry func(k *Kernel, self *Task)
}
