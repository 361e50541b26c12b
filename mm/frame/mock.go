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

package frame

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"golang.org/x/sys/unix"
)

// pageSize mirrors taskcore.PageSize without importing the root package.
const pageSize = 4096

// frameRange is a half-open range [Start, End) of free frame indices.
type frameRange struct {
	Start, End int
}

func lessFrameRange(a, b frameRange) bool {
	return a.Start < b.Start
}

// MockAllocator is a frame.Allocator backed by an anonymous mmap arena,
// grounded on gvisor's pkg/sentry/pgalloc.MemoryFile: physical frames are
// real host memory carved out of one contiguous mapping, and "physical
// addresses" are byte offsets into that mapping rather than raw pointers,
// so CopyPagePhysical can move bytes between two frames regardless of
// whether either is currently mapped into some other address space's
// page tables (there are none here — it's all one Go process).
type MockAllocator struct {
	mu sync.Mutex

	arena []byte // mmap'd, len == (frames+1)*pageSize; frame 0 is never handed out
	free  *btree.BTreeG[frameRange]
	total int
}

// NewMockAllocator creates a MockAllocator managing the given number of
// PageSize frames.
func NewMockAllocator(frames int) (*MockAllocator, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("frame: frame pool size must be positive, got %d", frames)
	}
	// Frame index 0 sits at address 0, which a page table entry reads as
	// "unmapped", so the arena carries one extra frame at index 0 that is
	// kept out of the free set; the usable frames are indices 1..frames.
	arena, err := unix.Mmap(-1, 0, (frames+1)*pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("frame: mmap arena: %w", err)
	}
	free := btree.NewG(8, lessFrameRange)
	free.ReplaceOrInsert(frameRange{Start: 1, End: frames + 1})
	return &MockAllocator{arena: arena, free: free, total: frames + 1}, nil
}

// Close releases the backing mmap arena. Not part of the Allocator
// interface; callers that own a MockAllocator directly (tests, the CLI
// harness) should defer it.
func (m *MockAllocator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.arena == nil {
		return nil
	}
	err := unix.Munmap(m.arena)
	m.arena = nil
	return err
}

// AllocFrame implements Allocator.
func (m *MockAllocator) AllocFrame() (PhysAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found frameRange
	ok := false
	m.free.Ascend(func(r frameRange) bool {
		found = r
		ok = true
		return false
	})
	if !ok {
		return 0, ErrExhausted
	}
	m.free.Delete(found)
	idx := found.Start
	if found.Start+1 < found.End {
		m.free.ReplaceOrInsert(frameRange{Start: found.Start + 1, End: found.End})
	}
	return PhysAddr(idx * pageSize), nil
}

// FreeFrame implements Allocator.
func (m *MockAllocator) FreeFrame(addr PhysAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := int(addr) / pageSize
	if idx < 0 || idx >= m.total {
		panic(fmt.Sprintf("frame: FreeFrame(%d) out of range [0, %d)", idx, m.total))
	}

	// Coalesce with the range immediately below and/or above idx.
	newRange := frameRange{Start: idx, End: idx + 1}

	var below frameRange
	haveBelow := false
	m.free.DescendLessOrEqual(frameRange{Start: idx, End: idx}, func(r frameRange) bool {
		if r.End == idx {
			below = r
			haveBelow = true
		}
		return false
	})
	if haveBelow {
		m.free.Delete(below)
		newRange.Start = below.Start
	}

	var above frameRange
	haveAbove := false
	m.free.AscendGreaterOrEqual(frameRange{Start: idx, End: idx}, func(r frameRange) bool {
		if r.Start == idx+1 {
			above = r
			haveAbove = true
		}
		return false
	})
	if haveAbove {
		m.free.Delete(above)
		newRange.End = above.End
	}

	m.free.ReplaceOrInsert(newRange)
}

// CopyPagePhysical implements Allocator.
func (m *MockAllocator) CopyPagePhysical(dst, src PhysAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	si, di := int(src), int(dst)
	if si < 0 || si+pageSize > len(m.arena) || di < 0 || di+pageSize > len(m.arena) {
		return fmt.Errorf("frame: CopyPagePhysical(dst=%d, src=%d) out of range", dst, src)
	}
	copy(m.arena[di:di+pageSize], m.arena[si:si+pageSize])
	return nil
}

// Balance implements Allocator.
func (m *MockAllocator) Balance() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	m.free.Ascend(func(r frameRange) bool {
		n += r.End - r.Start
		return true
	})
	return n
}
