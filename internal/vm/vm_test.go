package vm

import (
	"testing"

	"github.com/rpled/firmware/internal/memplan"
)

// assert mirrors the teacher's vm_test.go helper: a single formatted
// condition check instead of pulling in an assertion library for every
// straight-line VM test.
func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func newTestVM(t *testing.T, program []byte) *VM {
	t.Helper()
	plan, err := memplan.New(memplan.Size4KB, len(program), 0)
	assert(t, err == nil, "memplan.New: %v", err)
	mem := make([]byte, plan.Size)
	copy(mem, program)
	return New(mem, plan, nil)
}

func runToHalt(vm *VM) {
	for {
		switch vm.Step() {
		case SignalHalted:
			return
		case SignalSleep:
			vm.Resume()
		}
	}
}

func enc16(v int16) []byte {
	return []byte{byte(uint16(v)), byte(uint16(v) >> 8)}
}

func TestPushAddHalt(t *testing.T) {
	program := []byte{OpPush}
	program = append(program, enc16(2)...)
	program = append(program, OpPush)
	program = append(program, enc16(3)...)
	program = append(program, OpAdd, OpHalt)

	vm := newTestVM(t, program)
	runToHalt(vm)

	assert(t, vm.Halted(), "expected halted")
	assert(t, vm.Fault() == FaultNone, "expected clean halt, got fault %v", vm.Fault())
	result, ok := vm.peekWord(0)
	assert(t, ok, "expected a value on the stack")
	assert(t, result == 5, "expected 2+3=5, got %d", result)
}

func TestDivideByZeroFaultsOnDivInstruction(t *testing.T) {
	// PUSH 10; PUSH 0; DIV; HALT -- the literal scenario from spec.md §8.
	program := []byte{OpPush}
	program = append(program, enc16(10)...)
	program = append(program, OpPush)
	program = append(program, enc16(0)...)
	divAt := len(program)
	program = append(program, OpDiv, OpHalt)

	vm := newTestVM(t, program)
	runToHalt(vm)

	assert(t, vm.Halted(), "expected halted")
	assert(t, vm.Fault() == FaultDivByZero, "expected div_by_zero fault, got %v", vm.Fault())
	assert(t, int(vm.PC()) == divAt, "expected PC frozen at DIV (%d), got %d", divAt, vm.PC())
}

func TestModByZeroFaults(t *testing.T) {
	program := []byte{OpPush}
	program = append(program, enc16(7)...)
	program = append(program, OpPush)
	program = append(program, enc16(0)...)
	program = append(program, OpMod, OpHalt)

	vm := newTestVM(t, program)
	runToHalt(vm)

	assert(t, vm.Fault() == FaultDivByZero, "expected div_by_zero fault for MOD, got %v", vm.Fault())
}

func TestStackOverflowFillsStackExactly(t *testing.T) {
	// loop: PUSH 1; JMP loop -- §8's literal stack-overflow scenario.
	program := []byte{OpPush}
	program = append(program, enc16(1)...)
	program = append(program, OpJmp)
	program = append(program, enc16(-6)...) // displacement back to PUSH

	vm := newTestVM(t, program)
	for i := 0; i < 100000 && !vm.Halted(); i++ {
		vm.Step()
	}

	assert(t, vm.Halted(), "expected halted after filling the stack")
	assert(t, vm.Fault() == FaultStackOverflow, "expected stack_overflow, got %v", vm.Fault())
	assert(t, vm.SP() == vm.plan.StackTop, "expected SP == stack_top, got %d (top=%d)", vm.SP(), vm.plan.StackTop)
}

func TestPopUnderflowFaults(t *testing.T) {
	program := []byte{OpPop, OpHalt}
	vm := newTestVM(t, program)
	runToHalt(vm)

	assert(t, vm.Fault() == FaultStackUnderflow, "expected stack_underflow, got %v", vm.Fault())
}

func TestInvalidOpcodeFaults(t *testing.T) {
	program := []byte{0x2A} // inside the 40..63 reserved gap
	vm := newTestVM(t, program)
	runToHalt(vm)

	assert(t, vm.Fault() == FaultInvalidOpcode, "expected invalid_opcode, got %v", vm.Fault())
}

func TestJumpLandingAtProgramEndFaults(t *testing.T) {
	// JMP with a displacement that lands exactly on program_end: §8 boundary case.
	program := []byte{OpJmp}
	program = append(program, enc16(0)...) // post-advance PC already equals program_end

	vm := newTestVM(t, program)
	runToHalt(vm)

	assert(t, vm.Fault() == FaultBadBranchTarget, "expected bad_branch_target, got %v", vm.Fault())
}

func TestSleepZeroYieldsWithoutUnderflowingStack(t *testing.T) {
	program := []byte{OpZero, OpSleep, OpHalt}
	vm := newTestVM(t, program)

	assert(t, vm.Step() == SignalNone, "expected ZERO to complete")
	assert(t, vm.Step() == SignalSleep, "expected SLEEP to yield")
	assert(t, vm.SleepMicros() == 0, "expected sleep(0), got %d", vm.SleepMicros())
	vm.Resume()
	assert(t, vm.Step() == SignalHalted, "expected HALT after resume")
	assert(t, vm.Fault() == FaultNone, "expected clean halt")
}

func TestClampTieBreakWhenLoGreaterThanHi(t *testing.T) {
	// value=5, lo=10, hi=1 (lo>hi): result must be lo per spec.md §8.
	program := []byte{OpPush}
	program = append(program, enc16(5)...)
	program = append(program, OpPush)
	program = append(program, enc16(10)...)
	program = append(program, OpPush)
	program = append(program, enc16(1)...)
	program = append(program, OpClamp, OpHalt)

	vm := newTestVM(t, program)
	runToHalt(vm)

	result, ok := vm.peekWord(0)
	assert(t, ok, "expected a result on the stack")
	assert(t, result == 10, "expected clamp tie-break to lo=10, got %d", result)
}

func TestClampWithinRange(t *testing.T) {
	// value=50, lo=0, hi=100
	program := []byte{OpPush}
	program = append(program, enc16(50)...)
	program = append(program, OpPush)
	program = append(program, enc16(0)...)
	program = append(program, OpPush)
	program = append(program, enc16(100)...)
	program = append(program, OpClamp, OpHalt)

	vm := newTestVM(t, program)
	runToHalt(vm)

	result, _ := vm.peekWord(0)
	assert(t, result == 50, "expected value unchanged at 50, got %d", result)
}

func TestStoreThenLoadRoundTrips(t *testing.T) {
	// PUSH 42; STORE heapAddr; LOAD heapAddr; HALT -- heapAddr targets the
	// heap region immediately past the program bytes.
	program := []byte{OpPush}
	program = append(program, enc16(42)...)
	program = append(program, OpStore)
	storeAt := len(program)
	program = append(program, 0, 0) // address operand, patched below
	program = append(program, OpLoad)
	loadAt := len(program)
	program = append(program, 0, 0) // address operand, patched below
	program = append(program, OpHalt)

	heapAddr := int16(len(program))
	copy(program[storeAt:storeAt+2], enc16(heapAddr))
	copy(program[loadAt:loadAt+2], enc16(heapAddr))

	plan, err := memplan.New(memplan.Size4KB, len(program), 16)
	assert(t, err == nil, "memplan.New: %v", err)
	mem := make([]byte, plan.Size)
	copy(mem, program)
	vm := New(mem, plan, nil)
	runToHalt(vm)

	assert(t, vm.Fault() == FaultNone, "expected clean halt, got fault %v", vm.Fault())
	result, ok := vm.peekWord(0)
	assert(t, ok, "expected a value on the stack")
	assert(t, result == 42, "expected LOAD to read back STOREd 42, got %d", result)
}

func TestStoreOutOfBoundsFaults(t *testing.T) {
	// PUSH 1; STORE <one past the end of the memory buffer>; HALT.
	program := []byte{OpPush}
	program = append(program, enc16(1)...)
	program = append(program, OpStore)
	storeAt := len(program)
	program = append(program, 0, 0)
	program = append(program, OpHalt)

	plan, err := memplan.New(memplan.Size4KB, len(program), 0)
	assert(t, err == nil, "memplan.New: %v", err)
	copy(program[storeAt:storeAt+2], enc16(int16(plan.Size)))

	mem := make([]byte, plan.Size)
	copy(mem, program)
	vm := New(mem, plan, nil)
	runToHalt(vm)

	assert(t, vm.Fault() == FaultOutOfBounds, "expected out_of_bounds, got %v", vm.Fault())
}

func TestLoadOutOfBoundsFaults(t *testing.T) {
	// LOAD <one past the end of the memory buffer>; HALT.
	program := []byte{OpLoad}
	loadAt := len(program)
	program = append(program, 0, 0)
	program = append(program, OpHalt)

	plan, err := memplan.New(memplan.Size4KB, len(program), 0)
	assert(t, err == nil, "memplan.New: %v", err)
	copy(program[loadAt:loadAt+2], enc16(int16(plan.Size)))

	mem := make([]byte, plan.Size)
	copy(mem, program)
	vm := New(mem, plan, nil)
	runToHalt(vm)

	assert(t, vm.Fault() == FaultOutOfBounds, "expected out_of_bounds, got %v", vm.Fault())
}
