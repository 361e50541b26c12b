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

package platform

import (
	"sync"

	"kranos.dev/taskcore/mm/pagetables"
)

// Mock is a Platform that records installed state instead of touching real
// hardware, for use by tests and the CLI harness's boot simulation.
type Mock struct {
	mu sync.Mutex

	codeStart, codeEnd uintptr

	activeDir   *pagetables.Directory
	kernelStack uintptr

	Switches int
	Stacks   int
}

// NewMock returns a Mock platform whose kernel text segment spans
// [codeStart, codeEnd).
func NewMock(codeStart, codeEnd uintptr) *Mock {
	return &Mock{codeStart: codeStart, codeEnd: codeEnd}
}

func (m *Mock) SwitchPageDirectory(dir *pagetables.Directory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeDir = dir
	m.Switches++
}

func (m *Mock) SetKernelStack(top uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kernelStack = top
	m.Stacks++
}

func (m *Mock) CodeBounds() (start, end uintptr) {
	return m.codeStart, m.codeEnd
}

// ActiveDirectory returns the most recently installed address space.
func (m *Mock) ActiveDirectory() *pagetables.Directory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeDir
}

// KernelStack returns the most recently installed kernel stack top.
func (m *Mock) KernelStack() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kernelStack
}
