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

import "kranos.dev/taskcore/kernel/capture"

// SwitchTask voluntarily (or on a simulated timer tick) yields the CPU.
// If reschedule is true the current task is reinserted into the ready set
// before switching away; otherwise it is left off every queue (the caller
// is responsible for waking it later via the wait queue). SwitchTask is a
// silent no-op if tasking has not been installed or no task is ready —
// matching switch_task's documented "return without switching" behavior.
//
// SwitchTask blocks the calling goroutine until this task is scheduled
// again: the capture-resume rendezvous (kernel/capture) makes the "second
// return" of the source's read_eip-based switch_task a literal second
// return of this call, on the same goroutine, once some later SwitchTask or
// TaskExit elsewhere resumes this task's saved Point.
func (k *Kernel) SwitchTask(reschedule bool) {
	k.irqOff()
	if !k.installed || !k.processAvailableLocked() {
		k.irqRestore()
		return
	}

	t := k.current
	_, point := capture.Capture()
	t.Thread.point = point

	if reschedule {
		k.makeReadyLocked(t)
	} else {
		t.state = stateBlocked
	}

	nt, ok := k.switchNext()
	k.assert(ok, "switch_task: process_available() was true but next_ready_process() found nothing")
	if nt == t {
		k.Stats.SameTask++
	}
	k.irqRestore()

	// Release the lock before handing off: resuming nt (or starting its
	// goroutine) and parking this one must not be done while holding irqMu,
	// since the resumed task's own SwitchTask call will need it.
	k.resumeOrStart(nt)
	point.Wait()

	k.irqOff()
	k.drainReapQueueLocked()
	k.irqRestore()
}

// switchNext is switch_task's unconditional half: it always picks and
// installs the next ready task, with no bookkeeping for the one being left
// behind. Both SwitchTask and TaskExit call it once they have finished
// whatever they each need to do with the outgoing task's own context.
func (k *Kernel) switchNext() (*Task, bool) {
	nt, ok := k.popReadyLocked()
	if !ok {
		return nil, false
	}
	k.installTaskLocked(nt)
	k.Stats.Switches++
	return nt, true
}

// drainReapQueueLocked frees every task made reapable since this task was
// last scheduled. A task's own resumption is the only point in the
// simulation analogous to "the timer handler returns and reaping runs
// before user code resumes" in the source.
func (k *Kernel) drainReapQueueLocked() {
	for k.shouldReapLocked() {
		p, ok := k.nextReapableLocked()
		if !ok {
			break
		}
		k.irqRestore()
		if err := k.ReapProcess(p); err != nil {
			k.log.WithField("task", p.ID).WithError(err).Warn("reap_process failed")
		}
		k.irqOff()
	}
}
