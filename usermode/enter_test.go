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

package usermode

import (
	"testing"

	"kranos.dev/taskcore/kernel"
	"kranos.dev/taskcore/platform"
)

// TestEnterUserJmpBuildsArgvFrame checks scenario 6: esp lands at
// stack-16, the four-word argv frame (0xDECADE21, argc, argv, 0) is
// present at the top of the user stack in real push order, and
// interrupts are reported enabled in the returned Descent.
func TestEnterUserJmpBuildsArgvFrame(t *testing.T) {
	const stackSize = 4096
	task := &kernel.Task{ID: 1, UserStack: make([]byte, stackSize)}
	mock := platform.NewMock(0x1000, 0x100000)

	userStackTop := uintptr(stackSize)
	argv := []uintptr{0x2000, 0x2010, 0x2020}

	d, err := EnterUserJmp(mock, task, 0x2500, argv, userStackTop)
	if err != nil {
		t.Fatalf("EnterUserJmp(): %v", err)
	}

	wantESP := userStackTop - 16
	if d.ESP != wantESP {
		t.Errorf("Descent.ESP = %#x, want %#x (stack - 16)", d.ESP, wantESP)
	}
	if d.EFLAGS&interruptEnableFlag == 0 {
		t.Errorf("Descent.EFLAGS = %#x, interrupt-enable bit not set", d.EFLAGS)
	}
	if d.Entry != 0x2500 {
		t.Errorf("Descent.Entry = %#x, want 0x2500", d.Entry)
	}

	argvPtr, argc, ok := ReadArgvFrame(task.UserStack, userStackTop)
	if !ok {
		t.Fatalf("ReadArgvFrame(): recognition magic missing")
	}
	if argc != uint32(len(argv)) {
		t.Errorf("argc = %d, want %d", argc, len(argv))
	}
	wantArgvPtr := wantESP - uintptr(len(argv))*4
	if uint32(argvPtr) != uint32(wantArgvPtr) {
		t.Errorf("argvPtr = %#x, want %#x", argvPtr, wantArgvPtr)
	}

	if task.Thread.EIP != 0x2500 {
		t.Errorf("task.Thread.EIP = %#x, want entry 0x2500", task.Thread.EIP)
	}
	if task.Thread.ESP != wantESP {
		t.Errorf("task.Thread.ESP = %#x, want %#x", task.Thread.ESP, wantESP)
	}
	if mock.KernelStack() != task.Image.StackTop {
		t.Errorf("mock platform kernel stack = %#x, want task.Image.StackTop %#x", mock.KernelStack(), task.Image.StackTop)
	}
}

// TestEnterUserJmpRejectsMissingUserStack checks that a task with no
// UserStack buffer cannot be descended into, rather than panicking on a
// nil-slice write.
func TestEnterUserJmpRejectsMissingUserStack(t *testing.T) {
	task := &kernel.Task{ID: 2}
	mock := platform.NewMock(0x1000, 0x100000)

	if _, err := EnterUserJmp(mock, task, 0x2500, nil, 256); err == nil {
		t.Fatalf("EnterUserJmp() with nil UserStack succeeded, want error")
	}
}

// TestEnterUserJmpRejectsOversizedFrame checks that a user_stack_top too
// close to the start of the buffer to fit the argv frame is rejected
// instead of underflowing into a huge offset.
func TestEnterUserJmpRejectsOversizedFrame(t *testing.T) {
	task := &kernel.Task{ID: 3, UserStack: make([]byte, 8)}
	mock := platform.NewMock(0x1000, 0x100000)

	if _, err := EnterUserJmp(mock, task, 0x2500, []uintptr{1, 2, 3}, 8); err == nil {
		t.Fatalf("EnterUserJmp() with an undersized stack succeeded, want error")
	}
}
