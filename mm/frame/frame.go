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

// Package frame defines the physical frame allocator contract that the
// page-table cloner (mm/pagetables) depends on, and provides a mock
// implementation suitable for tests and the CLI boot harness. On real
// hardware this contract is satisfied by a firmware- or BIOS-provided
// alloc_frame/free_frame/copy_page_physical trio; those are external
// collaborators of the task-management core, not something this module
// implements for a real MMU.
package frame

import "errors"

// ErrExhausted is returned by Allocator.AllocFrame when the pool has no
// free frames left.
var ErrExhausted = errors.New("frame: pool exhausted")

// PhysAddr is a physical, not virtual, address of a page-aligned frame.
type PhysAddr uintptr

// Allocator binds and releases physical frames, and copies between them
// without regard to what, if anything, currently maps them into a virtual
// address space. It is the direct analogue of a firmware-level
// alloc_frame/free_frame/copy_page_physical trio.
type Allocator interface {
	// AllocFrame reserves one free physical frame and returns its
	// address. It returns ErrExhausted if none remain.
	AllocFrame() (PhysAddr, error)

	// FreeFrame releases a frame previously returned by AllocFrame.
	// Freeing an address not currently allocated is a programmer error.
	FreeFrame(PhysAddr)

	// CopyPagePhysical copies PageSize bytes from src to dst, bypassing
	// any virtual mapping either frame may or may not currently have.
	CopyPagePhysical(dst, src PhysAddr) error

	// Balance reports the number of frames currently free. Used by
	// tests to check that freeing a directory is the exact dual of
	// cloning it: the count must return to its pre-clone value.
	Balance() int
}
