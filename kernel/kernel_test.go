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
	"testing"
	"time"

	"kranos.dev/taskcore"
	"kranos.dev/taskcore/mm/frame"
	"kranos.dev/taskcore/mm/pagetables"
	"kranos.dev/taskcore/platform"
)

func timeoutChan(t *testing.T) <-chan time.Time {
	t.Helper()
	return time.After(2 * time.Second)
}

// newTestKernel returns an uninstalled Kernel wired to a mock allocator and
// mock platform, with a kernel text segment wide enough that the
// codeStart-as-initial-EIP convention never trips the resume EIP bounds
// check.
func newTestKernel(t *testing.T, frames int) (*Kernel, *frame.MockAllocator, *platform.Mock) {
	t.Helper()
	alloc, err := frame.NewMockAllocator(frames)
	if err != nil {
		t.Fatalf("NewMockAllocator(%d): %v", frames, err)
	}
	t.Cleanup(func() { alloc.Close() })

	mock := platform.NewMock(0x1000, 0x100000)
	kernelDir := pagetables.NewDirectory()
	cfg := taskcore.Config{KernelStackSize: 4096, FramePoolSize: frames, TimerQuantum: 1}

	k := NewKernel(cfg, alloc, mock, kernelDir)
	return k, alloc, mock
}

// installAndWait installs tasking with entry as init's entry function and
// blocks until done is closed, failing the test after a generous timeout if
// init's goroutine never reaches it. entry is responsible for closing done.
func installAndWait(t *testing.T, k *Kernel, entry func(k *Kernel, self *Task, done chan<- struct{})) {
	t.Helper()
	done := make(chan struct{})
	if err := k.TaskingInstall(func(k *Kernel, self *Task) {
		entry(k, self, done)
		// Block forever instead of returning: a return here would make
		// runTask call TaskExit on init's behalf, which would keep
		// draining the ready queue (running every task left over from
		// the test, in the background) well past this test function's
		// return — and an assert failure in that background drain would
		// crash the whole test binary, not just fail this test.
		select {}
	}); err != nil {
		t.Fatalf("TaskingInstall(): %v", err)
	}
	select {
	case <-done:
	case <-timeoutChan(t):
		t.Fatalf("init task did not complete")
	}
}
