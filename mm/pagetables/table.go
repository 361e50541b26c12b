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

// Package pagetables provides a two-level x86 page table hierarchy —
// page directories and page tables — and the copy-on-nothing cloning
// operations a fork or clone needs to duplicate a user address space
// while sharing kernel mappings by reference.
package pagetables

import (
	"fmt"
	"sync/atomic"

	"kranos.dev/taskcore/mm/frame"
)

// Entries is the fixed number of entries in a page table or page
// directory, per the x86 32-bit two-level paging scheme.
const Entries = 1024

// Entry is a single page table entry. A Frame of 0 means unmapped.
type Entry struct {
	Frame    frame.PhysAddr
	Present  bool
	RW       bool
	User     bool
	Accessed bool
	Dirty    bool
}

// Mapped reports whether this entry currently binds a physical frame.
func (e Entry) Mapped() bool { return e.Frame != 0 }

// Table is a page table: 1024 entries, each optionally bound to a
// physical frame.
type Table struct {
	Entries [Entries]Entry
}

var nextTablePhys uint64

// allocTablePhys hands out a fresh, distinct physical address for a page
// table or directory's own storage, standing in for kvmalloc_p's
// out-parameter in a hosted simulation with no real MMU.
func allocTablePhys() uintptr {
	return uintptr(atomic.AddUint64(&nextTablePhys, 4096))
}

// CloneTable deep-copies a page table's mapped frames: for every entry
// whose Frame is non-zero, it allocates a fresh physical frame, mirrors
// the access bits, and copies the full page's contents via
// alloc.CopyPagePhysical. Entries with Frame == 0 are left unmapped in
// the result. If any allocation or copy fails partway through, every
// frame already committed for this table is released before the error is
// returned, so the caller never observes a partially cloned table: no
// partial clone is ever published to the scheduler.
func CloneTable(alloc frame.Allocator, src *Table) (*Table, error) {
	dst := &Table{}
	var committed []frame.PhysAddr

	for i := range src.Entries {
		se := src.Entries[i]
		if !se.Mapped() {
			continue
		}
		df, err := alloc.AllocFrame()
		if err != nil {
			logger.WithField("entry", i).WithError(err).Warn("clone_table: alloc_frame failed, rolling back")
			rollback(alloc, committed)
			return nil, fmt.Errorf("pagetables: clone table entry %d: %w", i, err)
		}
		committed = append(committed, df)
		if err := alloc.CopyPagePhysical(df, se.Frame); err != nil {
			logger.WithField("entry", i).WithError(err).Warn("clone_table: copy_page_physical failed, rolling back")
			rollback(alloc, committed)
			return nil, fmt.Errorf("pagetables: copy table entry %d: %w", i, err)
		}
		dst.Entries[i] = Entry{
			Frame:    df,
			Present:  se.Present,
			RW:       se.RW,
			User:     se.User,
			Accessed: se.Accessed,
			Dirty:    se.Dirty,
		}
	}
	return dst, nil
}

func rollback(alloc frame.Allocator, frames []frame.PhysAddr) {
	for _, f := range frames {
		alloc.FreeFrame(f)
	}
}

// freeTableFrames releases every physical frame this table has mapped.
// It does not free the Table value itself: in this Go rendition, a page
// table's storage is an ordinary heap object collected by the garbage
// collector once its last reference (the owning Directory slot) is
// cleared, replacing the source's explicit free(table).
func freeTableFrames(alloc frame.Allocator, t *Table) {
	for i := range t.Entries {
		if t.Entries[i].Mapped() {
			alloc.FreeFrame(t.Entries[i].Frame)
		}
	}
}
