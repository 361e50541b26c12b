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

// Package capture provides the non-local control transfer primitive
// fork, clone, and the context switcher build on: a routine that returns
// twice, once live and once at resumption, distinguished by a sentinel
// value.
//
// On real x86 hardware this is a few lines of inline assembly that reads
// the return address and plants a sentinel register on the resume path.
// This module runs hosted, with no access to raw stack/instruction pointers from Go,
// so Capture is instead a rendezvous between the outgoing goroutine and
// whichever goroutine later calls Resume: it is not a coroutine (there is
// no heap-allocated continuation carried across arbitrary code), it is a
// single blocking handoff over a channel, mirroring the two-return
// contract of read_eip bit for bit.
package capture

import "sync"

// ResumeMagic is returned by Capture on the resumption path, standing in
// for the RESUME_MAGIC sentinel (0x10000) a real resume path would plant
// in a register. It is never a captured value: Capture's live values start
// at 1 and skip ResumeMagic.
const ResumeMagic uintptr = 0x10000

// Point is the handle a live Capture returns. Resume may be called at most
// once per Point.
type Point struct {
	resumeCh chan uintptr
	done     chan struct{}
}

// Capture returns once "live", with a monotonically increasing captured
// value and isResume == false, handing the caller a *Point. Some later
// call to point.Resume(v) causes this same call site's goroutine —
// specifically, the one blocked past Capture waiting on the Point — to
// return a second time with value == v and isResume == true.
//
// Capture itself never blocks: the live return happens immediately. The
// blocking happens in Wait, which the caller invokes after publishing the
// Point somewhere a future Resume can find it (the running task's saved
// Thread state, in this module's usage).
func Capture() (value uintptr, point *Point) {
	nextMu.Lock()
	next++
	if next == ResumeMagic {
		next++
	}
	v := next
	nextMu.Unlock()
	return v, &Point{
		resumeCh: make(chan uintptr, 1),
		done:     make(chan struct{}),
	}
}

// Wait blocks until Resume is called on this Point, then returns the value
// passed to Resume and true, mirroring the resumed-path return of a real
// read_eip (the kernel always resumes with ResumeMagic). Wait must be
// called at most once per Point.
func (p *Point) Wait() (value uintptr, isResume bool) {
	v := <-p.resumeCh
	close(p.done)
	return v, true
}

// Resume unblocks a goroutine waiting in Point.Wait with the given
// value. Resume must be called at most once per Point, and only after
// the corresponding Capture has returned. Calling Resume on a Point
// nobody is waiting on yet is not a race: resumeCh is buffered, so
// Resume never blocks.
func (p *Point) Resume(value uintptr) {
	p.resumeCh <- value
}

var (
	nextMu sync.Mutex
	next   uintptr
)
