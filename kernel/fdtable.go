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

import "sync"

// FileDescriptor is an opaque handle a FDTable tracks. The task-management
// core never interprets its contents; reaping only needs to know that it
// exists and can be closed.
type FileDescriptor struct {
	Name string
}

// FDTable is a task's open-file-descriptor table, kept opaque to the
// task-management core: reaping a task only needs to free its storage,
// not interpret what it holds. Modeled on gvisor's fd_table.go, reduced
// to the operations reaping actually performs.
type FDTable struct {
	mu    sync.Mutex
	files map[int]FileDescriptor
}

// NewFDTable returns an empty FDTable.
func NewFDTable() *FDTable {
	return &FDTable{files: make(map[int]FileDescriptor)}
}

// Add installs fd in the table at the lowest unused descriptor number and
// returns it.
func (t *FDTable) Add(fd FileDescriptor) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for {
		if _, used := t.files[n]; !used {
			break
		}
		n++
	}
	t.files[n] = fd
	return n
}

// Close removes a single descriptor. It is a no-op if fd is not open.
func (t *FDTable) Close(fd int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, fd)
}

// CloseAll removes every open descriptor, the operation ReapProcess drives.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = make(map[int]FileDescriptor)
}

// Len reports the number of open descriptors.
func (t *FDTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}
