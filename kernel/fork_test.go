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

import "testing"

// TestForkReturnsChildIDSynchronously checks the parent's half of fork's
// dual return: Fork returns child.ID to the parent in the same call,
// without blocking.
func TestForkReturnsChildIDSynchronously(t *testing.T) {
	k, _, _ := newTestKernel(t, 64)

	var childID ID
	installAndWait(t, k, func(k *Kernel, self *Task, done chan<- struct{}) {
		pid, err := k.Fork(self, func(child *Task) {})
		if err != nil {
			t.Errorf("Fork(): %v", err)
		}
		if pid == self.ID {
			t.Errorf("Fork() returned parent's own ID")
		}
		childID = pid

		child, ok := k.Task(pid)
		if !ok {
			t.Errorf("child task %d not registered", pid)
		} else if child.state != stateReady {
			t.Errorf("child task state = %v, want READY", child.state)
		}
		close(done)
	})

	if childID == 0 {
		t.Fatalf("child ID was never observed")
	}
	if k.Stats.Forks != 1 {
		t.Errorf("Stats.Forks = %d, want 1", k.Stats.Forks)
	}
}

// TestForkChildRunsOnFirstSchedule checks fork's child half, which stands
// in for the child's zero return: onChildStart runs, with the child's own
// non-zero ID, once the scheduler first schedules the child.
func TestForkChildRunsOnFirstSchedule(t *testing.T) {
	k, _, _ := newTestKernel(t, 64)

	childRan := make(chan ID, 1)
	installAndWait(t, k, func(k *Kernel, self *Task, done chan<- struct{}) {
		_, err := k.Fork(self, func(child *Task) {
			childRan <- child.ID
			k.SwitchTask(true) // hand control back to the parent
		})
		if err != nil {
			t.Fatalf("Fork(): %v", err)
		}

		// One explicit switch gives the scheduler a chance to run the
		// child before init proceeds.
		k.SwitchTask(true)
		close(done)
	})

	select {
	case id := <-childRan:
		if id == 0 {
			t.Errorf("child observed its own ID as 0, want a real task ID")
		}
	default:
		t.Fatalf("onChildStart was never invoked")
	}
}

// TestForkPreservesTaskMagic checks that TASK_MAGIC survives the stack
// copy on both the parent-resume path and the child's first slice.
func TestForkPreservesTaskMagic(t *testing.T) {
	k, _, _ := newTestKernel(t, 64)

	installAndWait(t, k, func(k *Kernel, self *Task, done chan<- struct{}) {
		if _, err := k.Fork(self, func(child *Task) {
			if !checkTaskMagic(child.Image.Stack) {
				t.Errorf("TASK_MAGIC invalid on child's first slice")
			}
		}); err != nil {
			t.Fatalf("Fork(): %v", err)
		}
		if !checkTaskMagic(self.Image.Stack) {
			t.Errorf("TASK_MAGIC invalid on parent-resume path")
		}
		k.SwitchTask(true)
		close(done)
	})
}

// TestForkClonesAddressSpaceCloneSharesIt checks scenario 4's setup: fork
// gives the child a distinct Directory object, clone gives it the same one.
func TestForkClonesAddressSpaceCloneSharesIt(t *testing.T) {
	k, _, _ := newTestKernel(t, 64)

	installAndWait(t, k, func(k *Kernel, self *Task, done chan<- struct{}) {
		forkedID, err := k.Fork(self, func(child *Task) {})
		if err != nil {
			t.Fatalf("Fork(): %v", err)
		}
		forked, _ := k.Task(forkedID)
		if forked.Thread.Dir == self.Thread.Dir {
			t.Errorf("fork: child shares parent's Directory object, want a distinct clone")
		}

		clonedID, err := k.Clone(self, 0x4000, 0x3000, func(child *Task) {})
		if err != nil {
			t.Fatalf("Clone(): %v", err)
		}
		cloned, _ := k.Task(clonedID)
		if cloned.Thread.Dir != self.Thread.Dir {
			t.Errorf("clone: child got a distinct Directory object, want the parent's shared by reference")
		}
		if cloned.UserStackTop != 0x4000 || cloned.UserStackOld != 0x3000 {
			t.Errorf("clone: UserStackTop/Old = %#x/%#x, want 0x4000/0x3000", cloned.UserStackTop, cloned.UserStackOld)
		}
		close(done)
	})

	if k.Stats.Forks != 1 || k.Stats.Clones != 1 {
		t.Errorf("Stats = %+v, want one fork and one clone", k.Stats)
	}
}
