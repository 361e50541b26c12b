// Copyright 2018 Google Inc.
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

package pagetables

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"kranos.dev/taskcore/mm/frame"
)

var logger = log.WithField("component", "pagetables")

// SlotKind classifies a single directory slot: every non-sentinel entry
// of a directory points to a valid table, and a slot that holds a kernel
// table in one directory holds the very same table object in every other
// directory.
type SlotKind uint8

const (
	// SlotAbsent means the slot has no mapping at all.
	SlotAbsent SlotKind = iota
	// SlotSentinel is an all-ones reserved slot that must never be
	// cloned or freed.
	SlotSentinel
	// SlotKernel is a table shared, by reference, across every address
	// space.
	SlotKernel
	// SlotUser is a table private to one directory.
	SlotUser
)

// PhysEntry is the hardware-visible half of a directory slot: the
// physical address of the referenced table plus its permission bits, as
// the MMU root register would need it laid out.
type PhysEntry struct {
	Address uintptr
	Present bool
	RW      bool
	User    bool
}

// Directory is a page directory: Entries slots, each absent, a
// sentinel, a shared kernel table, or a private user table, plus the
// physical_tables mirror the MMU actually reads and this object's own
// physical self-reference.
type Directory struct {
	Slots          [Entries]SlotKind
	Tables         [Entries]*Table
	PhysicalTables [Entries]PhysEntry

	// PhysicalAddress is the physical address at which PhysicalTables
	// itself resides, required by the MMU root register (CR3 on x86).
	PhysicalAddress uintptr
}

// NewDirectory allocates a zeroed directory and assigns it a physical
// self-reference.
func NewDirectory() *Directory {
	return &Directory{PhysicalAddress: allocTablePhys()}
}

// MapKernel installs a kernel-shared table at the given slot. Every
// directory that shares this kernel table must call MapKernel with the
// identical *Table value; CloneDirectory relies on that reference
// identity to recognize kernel slots.
func (d *Directory) MapKernel(index int, t *Table, phys PhysEntry) {
	d.Slots[index] = SlotKernel
	d.Tables[index] = t
	d.PhysicalTables[index] = phys
}

// MapUser installs a private user table at the given slot.
func (d *Directory) MapUser(index int, t *Table, phys PhysEntry) {
	d.Slots[index] = SlotUser
	d.Tables[index] = t
	d.PhysicalTables[index] = phys
}

// MapSentinel marks a slot as reserved and forbidden to clone or free.
func (d *Directory) MapSentinel(index int) {
	d.Slots[index] = SlotSentinel
	d.Tables[index] = nil
	d.PhysicalTables[index] = PhysEntry{Address: ^uintptr(0)}
}

// CloneDirectory deep-copies a page directory: absent and sentinel slots
// are copied verbatim, kernel slots are shared by reference with the
// source (not with kernelDir — the source directory already carries the
// correct shared table pointer), and user slots are delegated to
// CloneTable and installed with user|rw|present permission bits. If any
// user table fails to clone, every user table already cloned for this
// directory is torn down (frames freed) before the error is returned, so
// a partially built directory is never returned to the caller.
func CloneDirectory(alloc frame.Allocator, src *Directory) (*Directory, error) {
	dst := NewDirectory()
	var cloned []*Table
	logger.WithField("phys", fmt.Sprintf("%#x", dst.PhysicalAddress)).Debug("clone_directory")

	for i := 0; i < Entries; i++ {
		switch src.Slots[i] {
		case SlotAbsent:
			// Nothing to do; dst.Slots[i] is already SlotAbsent.
		case SlotSentinel:
			dst.MapSentinel(i)
		case SlotKernel:
			dst.MapKernel(i, src.Tables[i], src.PhysicalTables[i])
		case SlotUser:
			child, err := CloneTable(alloc, src.Tables[i])
			if err != nil {
				logger.WithField("slot", i).WithError(err).Warn("clone_directory: rolling back partial clone")
				for _, t := range cloned {
					freeTableFrames(alloc, t)
				}
				return nil, fmt.Errorf("pagetables: clone directory slot %d: %w", i, err)
			}
			cloned = append(cloned, child)
			dst.MapUser(i, child, PhysEntry{
				Address: allocTablePhys(),
				Present: true,
				RW:      true,
				User:    true,
			})
		default:
			return nil, fmt.Errorf("pagetables: clone directory slot %d: unknown slot kind %v", i, src.Slots[i])
		}
	}
	return dst, nil
}

// FreeDirectory releases every frame mapped by dir's private user
// tables. Kernel tables are shared and are never freed here. The Table
// and Directory values themselves are ordinary Go heap objects; dropping
// the last reference to dir (as the caller should, immediately after
// this call) lets the garbage collector reclaim them, which is this
// rendition's analogue of the source's explicit free(table)/free(dir).
func FreeDirectory(alloc frame.Allocator, dir *Directory) error {
	logger.WithField("phys", fmt.Sprintf("%#x", dir.PhysicalAddress)).Debug("free_directory")
	for i := 0; i < Entries; i++ {
		if dir.Slots[i] != SlotUser {
			continue
		}
		freeTableFrames(alloc, dir.Tables[i])
		dir.Tables[i] = nil
		dir.Slots[i] = SlotAbsent
	}
	return nil
}

// SameKernelTable reports whether a and b share the identical kernel
// table object at index i — the reference-identity invariant every pair
// of address spaces must uphold for their shared kernel mappings.
func SameKernelTable(a, b *Directory, i int) bool {
	return a.Slots[i] == SlotKernel && b.Slots[i] == SlotKernel && a.Tables[i] == b.Tables[i]
}
