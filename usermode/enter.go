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

// Package usermode models the one-way supervisor-to-user descent a task's
// first entry into its own code makes: installing the kernel stack the
// next trap will resume onto, building the argv frame a ring-3 entry point
// expects to find on its own stack, and the register/selector state an
// iret-based transition would restore. There is no ring 3 in a hosted Go
// process, so EnterUserJmp never actually transfers control — it is a
// faithful data-construction simulation of what a real enter_user_jmp
// would leave behind the instant before the iret, the same boundary
// gvisor's pkg/sentry/arch draws between register-state construction and
// the platform-specific code that actually installs it.
package usermode

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"kranos.dev/taskcore/kernel"
	"kranos.dev/taskcore/platform"
)

var logger = log.WithField("component", "usermode")

// recognitionMagic is pushed as the top word of the argv frame so a user
// entry point can sanity-check that it was actually reached through
// EnterUserJmp rather than, say, called directly during a test.
const recognitionMagic uint32 = 0xDECADE21

// Typical flat 32-bit ring-3 GDT selectors: a user code segment at index 3
// and a user data segment at index 4, both requesting privilege level 3.
// These never address a real GDT in this hosted simulation; they exist so
// Descent has something concrete to carry, the way a real enter_user_jmp's
// iret frame would.
const (
	UserCodeSelector uint16 = (3 << 3) | 3
	UserDataSelector uint16 = (4 << 3) | 3
)

// interruptEnableFlag is EFLAGS bit 9 (IF), forced on by every descent to
// user mode per spec.
const interruptEnableFlag uint32 = 1 << 9

// Descent describes the register and selector state a real iret-based
// transition to ring 3 would restore, as reconstructed by EnterUserJmp.
// Nothing in this package ever installs it against real hardware; it
// exists so callers and tests can observe what the simulated transition
// produced.
type Descent struct {
	Entry        uintptr
	ESP          uintptr
	EFLAGS       uint32
	CodeSelector uint16
	DataSelector uint16
}

// EnterUserJmp performs a one-shot, one-way descent for t: with the
// scheduler's interrupts-off convention assumed already held by the
// caller, it installs t's kernel stack top as the simulated TSS entry via
// plat, writes the four-word argv frame at userStackTop-16 in
// t.UserStack in the order a real "pushl $0 / pushl argv / pushl argc /
// pushl $0xDECADE21" sequence leaves it — each push decrements esp
// before storing, so the word pushed last (the magic) ends up at the
// lowest address: frameBase+0 is 0xDECADE21, +4 is argc, +8 is argvPtr,
// +12 is the null terminator — and returns the Descent an iret would
// have restored: user stack selector implied by UserDataSelector, esp at
// the base of the pushed frame, flags with the interrupt-enable bit
// forced on, user code selector, and entry.
//
// argv is encoded as a flat array of 32-bit words immediately below the
// four-word frame, one argument value (truncated to 32 bits) per slot, so
// argvPtr always equals userStackTop-16-4*len(argv). EnterUserJmp copies
// only those values, not any strings they may point to, mirroring a
// minimal argv frame with a recognition magic rather than a full ABI.
//
// There is no return from a real enter_user_jmp. This rendition cannot
// enforce that in the type system, so it is the caller's responsibility
// never to resume t's kernel-side context after a successful descent.
func EnterUserJmp(plat platform.Platform, t *kernel.Task, entry uintptr, argv []uintptr, userStackTop uintptr) (Descent, error) {
	const wordSize = 4
	const frameWords = 4

	frameBase := userStackTop - frameWords*wordSize
	argvBase := frameBase - uintptr(len(argv))*wordSize

	if t.UserStack == nil {
		return Descent{}, fmt.Errorf("usermode: task %d has no UserStack buffer", t.ID)
	}
	if int(userStackTop) > len(t.UserStack) || int(argvBase) < 0 {
		return Descent{}, fmt.Errorf("usermode: user_stack_top %#x out of bounds for a %d-byte stack", userStackTop, len(t.UserStack))
	}

	for i, v := range argv {
		putWord(t.UserStack, argvBase+uintptr(i)*wordSize, uint32(v))
	}

	argc := uint32(len(argv))
	putWord(t.UserStack, frameBase, recognitionMagic)
	putWord(t.UserStack, frameBase+wordSize, argc)
	putWord(t.UserStack, frameBase+2*wordSize, uint32(argvBase))
	putWord(t.UserStack, frameBase+3*wordSize, 0)

	plat.SetKernelStack(t.Image.StackTop)

	t.Thread.EIP = entry
	t.Thread.ESP = frameBase

	logger.WithField("task", t.ID).WithField("entry", fmt.Sprintf("%#x", entry)).Debug("enter_user_jmp")

	return Descent{
		Entry:        entry,
		ESP:          frameBase,
		EFLAGS:       interruptEnableFlag,
		CodeSelector: UserCodeSelector,
		DataSelector: UserDataSelector,
	}, nil
}

func putWord(buf []byte, offset uintptr, v uint32) {
	binary.LittleEndian.PutUint32(buf[offset:offset+4], v)
}

// ReadArgvFrame decodes the four-word frame EnterUserJmp left at
// stackTop-16 in stack, for tests and any trap handler that needs to
// recover argc/argv after a descent. It reports ok == false if the
// recognition magic does not match, the signal a corrupted or
// never-descended stack gives a real entry point.
func ReadArgvFrame(stack []byte, stackTop uintptr) (argvPtr uintptr, argc uint32, ok bool) {
	const wordSize = 4
	const frameWords = 4
	frameBase := stackTop - frameWords*wordSize
	if int(frameBase)+16 > len(stack) {
		return 0, 0, false
	}
	magic := binary.LittleEndian.Uint32(stack[frameBase : frameBase+wordSize])
	if magic != recognitionMagic {
		return 0, 0, false
	}
	argc = binary.LittleEndian.Uint32(stack[frameBase+wordSize : frameBase+2*wordSize])
	argvPtr = uintptr(binary.LittleEndian.Uint32(stack[frameBase+2*wordSize : frameBase+3*wordSize]))
	return argvPtr, argc, true
}
