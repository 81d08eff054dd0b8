package vm

import "github.com/rpled/firmware/internal/module"

// Step executes at most one instruction and reports what happened. The
// Frame Scheduler (spec.md §4.4) is the only caller; it never invokes Step
// again after SignalSleep until Resume, and never after SignalHalted.
func (vm *VM) Step() Signal {
	if vm.halted {
		return SignalHalted
	}
	if vm.sleeping {
		return SignalSleep
	}

	vm.instrPC = vm.pc
	op, ok := vm.fetchU8()
	if !ok {
		// PC walked off the end of program space mid-fetch. The loader does
		// not inspect bytecode, so a program that runs past its last
		// instruction must fault cleanly here.
		vm.setFault(FaultBadBranchTarget)
		return SignalHalted
	}

	if op >= ModuleBase {
		return vm.execModuleCall(op)
	}

	switch op {
	case OpNop:
		// no-op

	case OpPush:
		v, ok := vm.fetchI16()
		if !ok || !vm.pushWord(v) {
			vm.setFault(vm.faultFor(ok))
			return SignalHalted
		}

	case OpLoad:
		addr, ok := vm.fetchI16()
		if !ok {
			vm.setFault(FaultBadBranchTarget)
			return SignalHalted
		}
		v, ok := vm.loadWord(uint16(addr))
		if !ok {
			vm.setFault(FaultOutOfBounds)
			return SignalHalted
		}
		if !vm.pushWord(v) {
			vm.setFault(FaultStackOverflow)
			return SignalHalted
		}

	case OpStore:
		addr, ok := vm.fetchI16()
		if !ok {
			vm.setFault(FaultBadBranchTarget)
			return SignalHalted
		}
		v, ok := vm.popWord()
		if !ok {
			vm.setFault(FaultStackUnderflow)
			return SignalHalted
		}
		if !vm.storeWord(uint16(addr), v) {
			vm.setFault(FaultOutOfBounds)
			return SignalHalted
		}

	case OpPopN:
		n, ok := vm.fetchU8()
		if !ok {
			vm.setFault(FaultBadBranchTarget)
			return SignalHalted
		}
		for i := byte(0); i < n; i++ {
			if _, ok := vm.popWord(); !ok {
				vm.setFault(FaultStackUnderflow)
				return SignalHalted
			}
		}

	case OpJmp:
		if !vm.doJump() {
			return SignalHalted
		}

	case OpJz:
		if !vm.doConditionalJump(false) {
			return SignalHalted
		}

	case OpJnz:
		if !vm.doConditionalJump(true) {
			return SignalHalted
		}

	case OpCall:
		if !vm.doCall() {
			return SignalHalted
		}

	case OpCallz:
		if !vm.doConditionalCall(false) {
			return SignalHalted
		}

	case OpCallnz:
		if !vm.doConditionalCall(true) {
			return SignalHalted
		}

	case OpPop:
		if _, ok := vm.popWord(); !ok {
			vm.setFault(FaultStackUnderflow)
			return SignalHalted
		}

	case OpDup:
		top, ok := vm.peekWord(0)
		if !ok {
			vm.setFault(FaultStackUnderflow)
			return SignalHalted
		}
		if !vm.pushWord(top) {
			vm.setFault(FaultStackOverflow)
			return SignalHalted
		}

	case OpSwap:
		a, ok1 := vm.popWord()
		b, ok2 := vm.popWord()
		if !ok1 || !ok2 {
			vm.setFault(FaultStackUnderflow)
			return SignalHalted
		}
		vm.pushWord(a)
		vm.pushWord(b)

	case OpOver:
		second, ok := vm.peekWord(1)
		if !ok {
			vm.setFault(FaultStackUnderflow)
			return SignalHalted
		}
		if !vm.pushWord(second) {
			vm.setFault(FaultStackOverflow)
			return SignalHalted
		}

	case OpRot:
		a, ok1 := vm.popWord()
		b, ok2 := vm.popWord()
		c, ok3 := vm.popWord()
		if !ok1 || !ok2 || !ok3 {
			vm.setFault(FaultStackUnderflow)
			return SignalHalted
		}
		vm.pushWord(b)
		vm.pushWord(a)
		vm.pushWord(c)

	case OpZero:
		if !vm.pushWord(0) {
			vm.setFault(FaultStackOverflow)
			return SignalHalted
		}

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		if !vm.execArith(op) {
			return SignalHalted
		}

	case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe:
		if !vm.execCompare(op) {
			return SignalHalted
		}

	case OpAnd, OpOr, OpXor:
		if !vm.execBitwise(op) {
			return SignalHalted
		}

	case OpNot:
		top, ok := vm.popWord()
		if !ok {
			vm.setFault(FaultStackUnderflow)
			return SignalHalted
		}
		result := int16(0)
		if top == 0 {
			result = 1
		}
		vm.pushWord(result)

	case OpInc, OpDec, OpNeg, OpAbs:
		if !vm.execUnary(op) {
			return SignalHalted
		}

	case OpClamp:
		if !vm.execClamp() {
			return SignalHalted
		}

	case OpRet:
		addr, ok := vm.popWord()
		if !ok {
			vm.setFault(FaultStackUnderflow)
			return SignalHalted
		}
		target := uint16(addr)
		if target >= vm.plan.ProgramEnd {
			vm.setFault(FaultBadBranchTarget)
			return SignalHalted
		}
		vm.pc = target

	case OpHalt:
		vm.halted = true
		vm.fault = FaultNone
		return SignalHalted

	case OpSleep:
		v, ok := vm.popWord()
		if !ok {
			vm.setFault(FaultStackUnderflow)
			return SignalHalted
		}
		micros := uint16(0)
		if v > 0 {
			micros = uint16(v)
		}
		vm.sleeping = true
		vm.sleepMicros = micros
		return SignalSleep

	default:
		vm.setFault(FaultInvalidOpcode)
		return SignalHalted
	}

	return SignalNone
}

// faultFor translates a failed operand fetch vs. a failed stack push into
// the right fault code for instructions that can fail either way.
func (vm *VM) faultFor(fetchOK bool) Fault {
	if !fetchOK {
		return FaultBadBranchTarget
	}
	return FaultStackOverflow
}

func (vm *VM) loadWord(addr uint16) (int16, bool) {
	if int(addr)+2 > len(vm.mem) {
		return 0, false
	}
	lo, hi := vm.mem[addr], vm.mem[addr+1]
	return int16(uint16(lo) | uint16(hi)<<8), true
}

func (vm *VM) storeWord(addr uint16, v int16) bool {
	if int(addr)+2 > len(vm.mem) {
		return false
	}
	u := uint16(v)
	vm.mem[addr] = byte(u)
	vm.mem[addr+1] = byte(u >> 8)
	return true
}

func (vm *VM) doJump() bool {
	disp, ok := vm.fetchI16()
	if !ok {
		vm.setFault(FaultBadBranchTarget)
		return false
	}
	target, ok := vm.branchTarget(disp)
	if !ok {
		vm.setFault(FaultBadBranchTarget)
		return false
	}
	vm.pc = target
	return true
}

// doConditionalJump handles JZ (wantNonZero=false) and JNZ (wantNonZero=true).
func (vm *VM) doConditionalJump(wantNonZero bool) bool {
	disp, ok := vm.fetchI16()
	if !ok {
		vm.setFault(FaultBadBranchTarget)
		return false
	}
	cond, ok := vm.popWord()
	if !ok {
		vm.setFault(FaultStackUnderflow)
		return false
	}
	if (cond != 0) != wantNonZero {
		return true
	}
	target, ok := vm.branchTarget(disp)
	if !ok {
		vm.setFault(FaultBadBranchTarget)
		return false
	}
	vm.pc = target
	return true
}

func (vm *VM) doCall() bool {
	disp, ok := vm.fetchI16()
	if !ok {
		vm.setFault(FaultBadBranchTarget)
		return false
	}
	target, ok := vm.branchTarget(disp)
	if !ok {
		vm.setFault(FaultBadBranchTarget)
		return false
	}
	if !vm.pushWord(int16(vm.pc)) {
		vm.setFault(FaultStackOverflow)
		return false
	}
	vm.pc = target
	return true
}

func (vm *VM) doConditionalCall(wantNonZero bool) bool {
	disp, ok := vm.fetchI16()
	if !ok {
		vm.setFault(FaultBadBranchTarget)
		return false
	}
	cond, ok := vm.popWord()
	if !ok {
		vm.setFault(FaultStackUnderflow)
		return false
	}
	if (cond != 0) != wantNonZero {
		return true
	}
	target, ok := vm.branchTarget(disp)
	if !ok {
		vm.setFault(FaultBadBranchTarget)
		return false
	}
	if !vm.pushWord(int16(vm.pc)) {
		vm.setFault(FaultStackOverflow)
		return false
	}
	vm.pc = target
	return true
}

// execArith pops b (top) then a (second) and pushes a <op> b, matching the
// §8 worked example "PUSH 10; PUSH 0; DIV" dividing 10 by 0.
func (vm *VM) execArith(op Op) bool {
	b, ok1 := vm.popWord()
	a, ok2 := vm.popWord()
	if !ok1 || !ok2 {
		vm.setFault(FaultStackUnderflow)
		return false
	}
	var result int16
	switch op {
	case OpAdd:
		result = a + b
	case OpSub:
		result = a - b
	case OpMul:
		result = a * b
	case OpDiv:
		if b == 0 {
			vm.setFault(FaultDivByZero)
			return false
		}
		result = a / b
	case OpMod:
		if b == 0 {
			vm.setFault(FaultDivByZero)
			return false
		}
		result = a % b
	}
	if !vm.pushWord(result) {
		vm.setFault(FaultStackOverflow)
		return false
	}
	return true
}

func (vm *VM) execCompare(op Op) bool {
	b, ok1 := vm.popWord()
	a, ok2 := vm.popWord()
	if !ok1 || !ok2 {
		vm.setFault(FaultStackUnderflow)
		return false
	}
	var cond bool
	switch op {
	case OpEq:
		cond = a == b
	case OpNe:
		cond = a != b
	case OpLt:
		cond = a < b
	case OpGt:
		cond = a > b
	case OpLe:
		cond = a <= b
	case OpGe:
		cond = a >= b
	}
	result := int16(0)
	if cond {
		result = 1
	}
	if !vm.pushWord(result) {
		vm.setFault(FaultStackOverflow)
		return false
	}
	return true
}

func (vm *VM) execBitwise(op Op) bool {
	b, ok1 := vm.popWord()
	a, ok2 := vm.popWord()
	if !ok1 || !ok2 {
		vm.setFault(FaultStackUnderflow)
		return false
	}
	var result int16
	switch op {
	case OpAnd:
		result = a & b
	case OpOr:
		result = a | b
	case OpXor:
		result = a ^ b
	}
	if !vm.pushWord(result) {
		vm.setFault(FaultStackOverflow)
		return false
	}
	return true
}

func (vm *VM) execUnary(op Op) bool {
	top, ok := vm.popWord()
	if !ok {
		vm.setFault(FaultStackUnderflow)
		return false
	}
	var result int16
	switch op {
	case OpInc:
		result = top + 1
	case OpDec:
		result = top - 1
	case OpNeg:
		result = -top
	case OpAbs:
		if top < 0 {
			result = -top
		} else {
			result = top
		}
	}
	if !vm.pushWord(result) {
		vm.setFault(FaultStackOverflow)
		return false
	}
	return true
}

// execClamp implements spec.md §9's resolved operand order: top-of-stack
// (popped first) is hi, then lo, then value. min(max(value, lo), hi), with
// the explicit tie-break result=lo when lo > hi.
func (vm *VM) execClamp() bool {
	hi, ok1 := vm.popWord()
	lo, ok2 := vm.popWord()
	value, ok3 := vm.popWord()
	if !ok1 || !ok2 || !ok3 {
		vm.setFault(FaultStackUnderflow)
		return false
	}
	var result int16
	if lo > hi {
		result = lo
	} else {
		result = value
		if result < lo {
			result = lo
		}
		if result > hi {
			result = hi
		}
	}
	if !vm.pushWord(result) {
		vm.setFault(FaultStackOverflow)
		return false
	}
	return true
}

// execModuleCall dispatches MOD0/MOD1/MOD2/MODN (opcodes ModuleBase..255),
// spec.md §4.2/§6.
func (vm *VM) execModuleCall(op Op) Signal {
	slot := int(op-ModuleBase) / 4
	tag := int(op-ModuleBase) % 4

	if slot >= len(vm.modules) || vm.modules[slot] == nil {
		vm.setFault(FaultUnknownModuleSlot)
		return SignalHalted
	}
	inst := vm.modules[slot]

	var n int
	var code byte
	var ok bool
	switch tag {
	case TagMod0, TagMod1, TagMod2:
		code, ok = vm.fetchU8()
		n = tag
	case TagModN:
		var count byte
		count, ok = vm.fetchU8()
		if ok {
			code, ok = vm.fetchU8()
		}
		n = int(count)
	}
	if !ok {
		vm.setFault(FaultBadBranchTarget)
		return SignalHalted
	}

	declaredN, returns, known := inst.Arity(code)
	if !known {
		vm.setFault(FaultModuleArity)
		return SignalHalted
	}
	if tag != TagModN && declaredN != n {
		vm.setFault(FaultModuleArity)
		return SignalHalted
	}
	if tag == TagModN && declaredN != module.Variable && declaredN != n {
		vm.setFault(FaultModuleArity)
		return SignalHalted
	}

	args := make([]int16, n)
	for i := 0; i < n; i++ {
		v, ok := vm.popWord()
		if !ok {
			vm.setFault(FaultStackUnderflow)
			return SignalHalted
		}
		args[i] = v
	}

	result, hasResult := inst.Invoke(code, args)
	if returns && hasResult {
		if !vm.pushWord(result) {
			vm.setFault(FaultStackOverflow)
			return SignalHalted
		}
	}
	return SignalNone
}
