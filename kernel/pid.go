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

import "sync/atomic"

// PIDAllocator hands out monotonically increasing, never-reused task IDs.
// Task creation needs a unique identifier for every spawned task; this is
// the direct analogue of gvisor's PIDNamespace.allocateTID, without the
// namespace machinery a single flat task table has no use for.
type PIDAllocator struct {
	next atomic.Uint32
}

// NewPIDAllocator returns an allocator whose first Allocate call returns 1
// (0 is reserved to mean "no task").
func NewPIDAllocator() *PIDAllocator {
	return &PIDAllocator{}
}

// Allocate returns the next unused ID.
func (p *PIDAllocator) Allocate() ID {
	return ID(p.next.Add(1))
}
