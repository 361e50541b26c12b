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
	"sync"
	"testing"

	"kranos.dev/taskcore/kernel/capture"
)

// TestSwitchTaskIdleIsANoOp checks scenario 1: with only the init task
// ready (the ready set is empty right after install), 100 timer-driven
// SwitchTask(true) calls never perform a switch.
func TestSwitchTaskIdleIsANoOp(t *testing.T) {
	k, _, _ := newTestKernel(t, 16)

	installAndWait(t, k, func(k *Kernel, self *Task, done chan<- struct{}) {
		for i := 0; i < 100; i++ {
			k.SwitchTask(true)
		}
		close(done)
	})

	if k.Stats.Switches != 0 {
		t.Errorf("Stats.Switches = %d, want 0 (nothing else was ever ready)", k.Stats.Switches)
	}
	if k.Stats.Reaps != 0 {
		t.Errorf("Stats.Reaps = %d, want 0", k.Stats.Reaps)
	}
	if k.CurrentProcess().ID == 0 {
		t.Errorf("CurrentProcess() is unset after idling")
	}
}

// TestSwitchTaskRoundRobinNonStarvation checks scheduler fairness: every
// task inserted via make_process_ready runs within a bounded number of
// switch_task invocations, given a fair (FIFO) ready queue.
func TestSwitchTaskRoundRobinNonStarvation(t *testing.T) {
	k, _, _ := newTestKernel(t, 64)
	const children = 3

	var mu sync.Mutex
	seen := make(map[ID]int)

	installAndWait(t, k, func(k *Kernel, self *Task, done chan<- struct{}) {
		var ids []ID
		for i := 0; i < children; i++ {
			id, err := k.Fork(self, func(child *Task) {
				for {
					mu.Lock()
					seen[child.ID]++
					mu.Unlock()
					k.SwitchTask(true)
				}
			})
			if err != nil {
				t.Fatalf("Fork(): %v", err)
			}
			ids = append(ids, id)
		}

		// A fair FIFO queue guarantees every child has run at least once
		// within one full round: children+1 switches (the +1 covers init's
		// own reinsertion at the back of the line). The loop runs two such
		// rounds.
		for i := 0; i < (children+1)*2; i++ {
			k.SwitchTask(true)
		}

		mu.Lock()
		defer mu.Unlock()
		for _, id := range ids {
			if seen[id] == 0 {
				t.Errorf("task %d never scheduled within the bound", id)
			}
		}
		close(done)
	})
}

// TestInstallTaskLockedRejectsOutOfBoundsEIP checks that a resumed
// task's instruction pointer must lie within [codeStart, codeEnd).
func TestInstallTaskLockedRejectsOutOfBoundsEIP(t *testing.T) {
	k, _, _ := newTestKernel(t, 4)

	_, point := capture.Capture()
	bad := &Task{ID: 99, Thread: Thread{EIP: 0xDEADBEEF, point: point}}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("installTaskLocked did not panic on an out-of-bounds EIP")
		}
		if _, ok := r.(*Fault); !ok {
			t.Fatalf("panic value = %#v, want *Fault", r)
		}
	}()

	k.irqOff()
	defer k.irqRestore()
	k.installTaskLocked(bad)
}
