// Package vm implements the RPLed bytecode VM core: a stack machine over a
// flat 16-bit-addressed byte buffer, dispatching module-slot opcodes out to
// whatever LED/hardware module the Program Loader bound into each slot.
//
// The dispatch loop, fault-then-freeze discipline, and the push/pop/peek
// stack helpers are adapted from the teacher's vm/vm.go and vm/exec.go
// (KTStephano-GVM): a big opcode switch over a flat register+stack machine,
// with faults reported by freezing PC/SP rather than unwinding. This
// package generalizes that shape from the teacher's 32-bit register VM to
// spec.md's 16-bit stack VM with module-slot calls instead of a fixed
// device table.
package vm

import (
	"encoding/binary"

	"github.com/rpled/firmware/internal/memplan"
	"github.com/rpled/firmware/internal/module"
)

// Signal reports what a single Step caused, for the Frame Scheduler to act
// on (spec.md §9 "Coroutines": SLEEP is modeled as a return to the
// scheduler with a resume request, not as blocking).
type Signal int

const (
	// SignalNone means the instruction completed and the VM is ready for
	// another Step.
	SignalNone Signal = iota
	// SignalSleep means the VM executed SLEEP; SleepMicros reports the
	// requested delay and the scheduler must call Resume before the next
	// Step runs another instruction.
	SignalSleep
	// SignalHalted means the VM is no longer runnable, whether from HALT
	// or from a fault. Fault distinguishes the two (FaultNone vs. not).
	SignalHalted
)

// VM is one instance of the bytecode machine bound to one Memory Plan and
// one set of module-slot bindings. A VM is not safe for concurrent use;
// the LED core is single-threaded and cooperative (spec.md §5).
type VM struct {
	mem  []byte
	plan memplan.Plan

	pc uint16
	sp uint16

	// instrPC is the address of the instruction currently being dispatched,
	// captured by Step before it fetches the opcode byte. setFault rewinds
	// pc here so a fault freezes PC at the faulting instruction rather than
	// wherever fetch/decode had already advanced to (spec.md §7 "the VM
	// stops on the faulting instruction; PC and SP are frozen").
	instrPC uint16

	halted bool
	fault  Fault

	modules []module.Instance

	sleeping    bool
	sleepMicros uint16
}

// New constructs a VM over a freshly loaded program. mem is the full flat
// buffer (already populated by the Program Loader: bytecode at
// plan.ProgramStart, heap zeroed, stack region zeroed). modules is indexed
// by slot (modules[i] is whatever the loader bound to header position i,
// or nil for an unused slot within the declared module count).
func New(mem []byte, plan memplan.Plan, modules []module.Instance) *VM {
	return &VM{
		mem:     mem,
		plan:    plan,
		pc:      plan.ProgramStart,
		sp:      plan.StackBase,
		modules: modules,
	}
}

// PC reports the current program counter. Frozen at the faulting
// instruction once Halted is true and Fault is not FaultNone (spec.md §7).
func (vm *VM) PC() uint16 { return vm.pc }

// SP reports the current stack pointer.
func (vm *VM) SP() uint16 { return vm.sp }

// Halted reports whether the VM can execute another Step.
func (vm *VM) Halted() bool { return vm.halted }

// Fault reports the fault code, or FaultNone if the VM is running or
// halted cleanly via HALT.
func (vm *VM) Fault() Fault { return vm.fault }

// Sleeping reports whether the VM is waiting on a SLEEP the scheduler
// hasn't resumed yet.
func (vm *VM) Sleeping() bool { return vm.sleeping }

// SleepMicros reports the delay requested by the SLEEP that produced the
// last SignalSleep.
func (vm *VM) SleepMicros() uint16 { return vm.sleepMicros }

// Resume clears a pending SLEEP, allowing Step to run the next instruction.
// The Frame Scheduler calls this once the requested wall-clock delay has
// elapsed; a cancellation goes through Cancel instead.
func (vm *VM) Resume() {
	vm.sleeping = false
	vm.sleepMicros = 0
}

// Cancel ends an in-flight SLEEP early and halts the VM, as
// StopProgram/LoadProgram do to any running program (spec.md §5
// "Cancellation"). Calling Cancel when the VM isn't sleeping is a no-op;
// callers check Sleeping first.
func (vm *VM) Cancel() {
	if !vm.sleeping {
		return
	}
	vm.sleeping = false
	// Not a dispatch-time fault: the SLEEP that suspended the VM already
	// retired. Pin instrPC to the current pc so setFault's rewind is a
	// no-op and PC stays at the instruction following SLEEP.
	vm.instrPC = vm.pc
	vm.setFault(FaultSleepCancelled)
}

// ForceHalt halts the VM cleanly (no fault), as StopProgram does to a VM
// that isn't in the middle of a SLEEP (spec.md §4.5 "halt VM cleanly;
// pixel buffers remain as-is"). Cancelling an in-flight SLEEP instead uses
// Cancel, which records FaultSleepCancelled.
func (vm *VM) ForceHalt() {
	vm.halted = true
	vm.fault = FaultNone
}

func (vm *VM) setFault(f Fault) {
	vm.halted = true
	vm.fault = f
	vm.pc = vm.instrPC
}

// stack helpers. SP is a byte offset into mem; words are 2 bytes,
// little-endian, and the stack grows upward from plan.StackBase toward
// plan.StackTop (spec.md §3 "Stack").

func (vm *VM) pushWord(v int16) bool {
	if vm.sp+2 > vm.plan.StackTop {
		return false
	}
	binary.LittleEndian.PutUint16(vm.mem[vm.sp:vm.sp+2], uint16(v))
	vm.sp += 2
	return true
}

func (vm *VM) popWord() (int16, bool) {
	if vm.sp < vm.plan.StackBase+2 {
		return 0, false
	}
	vm.sp -= 2
	return int16(binary.LittleEndian.Uint16(vm.mem[vm.sp : vm.sp+2])), true
}

// peekWord reads the word `depth` slots below the current top (depth 0 is
// the top-of-stack word) without popping it.
func (vm *VM) peekWord(depth int) (int16, bool) {
	off := int(vm.sp) - 2 - depth*2
	if off < int(vm.plan.StackBase) {
		return 0, false
	}
	return int16(binary.LittleEndian.Uint16(vm.mem[off : off+2])), true
}

func (vm *VM) fetchU8() (byte, bool) {
	if vm.pc+1 > vm.plan.ProgramEnd {
		return 0, false
	}
	b := vm.mem[vm.pc]
	vm.pc++
	return b, true
}

func (vm *VM) fetchI16() (int16, bool) {
	if vm.pc+2 > vm.plan.ProgramEnd {
		return 0, false
	}
	v := int16(binary.LittleEndian.Uint16(vm.mem[vm.pc : vm.pc+2]))
	vm.pc += 2
	return v, true
}

// branchTarget validates a displacement computed relative to the
// post-advance PC already sitting in vm.pc. Landing exactly at program_end
// is out of bounds (spec.md §8 boundary behavior: "JMP with displacement
// landing exactly at program_end faults").
func (vm *VM) branchTarget(disp int16) (uint16, bool) {
	target := int32(vm.pc) + int32(disp)
	if target < int32(vm.plan.ProgramStart) || target >= int32(vm.plan.ProgramEnd) {
		return 0, false
	}
	return uint16(target), true
}
