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

// Package platform provides the Platform abstraction: the MMU/TSS/code-layout
// contracts the task-management core consumes but never implements itself.
//
// See Platform for more information.
package platform

import "kranos.dev/taskcore/mm/pagetables"

// Platform is the boundary between the scheduler and whatever owns the real
// (or, here, simulated) MMU and task-state segment. A Platform installs a
// directory as the active address space and installs a kernel stack as the
// target of the next privilege-level transition; it also reports the bounds
// of the kernel text segment, since the scheduler validates a resumed task's
// instruction pointer against them before ever handing it control.
type Platform interface {
	// SwitchPageDirectory installs dir as the active address space, the
	// simulated analogue of loading CR3 with dir's physical address.
	SwitchPageDirectory(dir *pagetables.Directory)

	// SetKernelStack installs top as the kernel-mode stack pointer the next
	// ring transition back into the kernel should use (the TSS esp0 field on
	// real x86).
	SetKernelStack(top uintptr)

	// CodeBounds reports the [start, end) byte range of the kernel text
	// segment, against which a resumed task's saved instruction pointer is
	// checked.
	CodeBounds() (start, end uintptr)
}
