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
	"errors"
	"fmt"
)

// ErrNotInstalled is returned when an operation that requires tasking_install
// to have already run is attempted before it has.
var ErrNotInstalled = errors.New("kernel: tasking not installed")

// Fault is the panic value raised for invariant violations that imply
// memory corruption or a scheduler bug: a bad TASK_MAGIC after resume, a nil
// current task inside fork, a resumed task whose instruction pointer falls
// outside the kernel text segment. These are never recovered inside this
// package; only a top-level harness should choose to recover one, and then
// only for reporting.
type Fault struct {
	Task    ID
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("kernel: fatal fault (task %d): %s", f.Task, f.Message)
}

// assert panics with a *Fault if cond is false. It is the direct analogue of
// the source's assert()/STOP: there is no recovery path, because by the time
// one of these fires the invariant it checks has already been violated.
func (k *Kernel) assert(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	var tid ID
	if k.current != nil {
		tid = k.current.ID
	}
	k.log.WithField("task", tid).Error("fatal invariant violation: ", msg)
	panic(&Fault{Task: tid, Message: msg})
}
