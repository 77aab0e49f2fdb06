package vm

import (
	"github.com/wudi/luavm/opcodes"
	"github.com/wudi/luavm/values"
)

// dispatch decodes and executes one instruction against frame, returning the
// directive that tells run() how to advance the trampoline (§4.D). A call,
// tail call, close operation or yield is never performed here directly - it
// is described in the returned directive and carried out by run(), which is
// the only place t.current/execStack are allowed to change for those cases,
// so that a coroutine suspension always has a single, well-known re-entry
// point (§1, §4.E).
func (v *VM) dispatch(t *Thread, frame *Frame, inst opcodes.Instruction) (directive, error) {
	switch inst.Opcode {

	case opcodes.OP_NOP:
		return directive{kind: dContinue}, nil

	case opcodes.OP_MOVE:
		frame.setRegister(inst.A, frame.getRegister(inst.B))
		return directive{kind: dContinue}, nil

	case opcodes.OP_LOADK:
		frame.setRegister(inst.A, frame.Proto.ConstAt(int32(inst.Bx)))
		return directive{kind: dContinue}, nil

	case opcodes.OP_LOADI:
		frame.setRegister(inst.A, values.Int(int64(inst.SBx)))
		return directive{kind: dContinue}, nil

	case opcodes.OP_LOADBOOL:
		frame.setRegister(inst.A, values.Bool(inst.B != 0))
		if inst.C != 0 {
			return directive{kind: dSkipNext}, nil
		}
		return directive{kind: dContinue}, nil

	case opcodes.OP_LOADNIL:
		for r := inst.A; r <= inst.A+inst.B; r++ {
			frame.setRegister(r, values.Nil)
		}
		return directive{kind: dContinue}, nil

	case opcodes.OP_GETUPVAL:
		if int(inst.B) >= len(frame.Closure.Upvalues) {
			return directive{}, newRuntimeError(frame, "invalid upvalue index")
		}
		frame.setRegister(inst.A, frame.Closure.Upvalues[inst.B].Get())
		return directive{kind: dContinue}, nil

	case opcodes.OP_SETUPVAL:
		if int(inst.B) >= len(frame.Closure.Upvalues) {
			return directive{}, newRuntimeError(frame, "invalid upvalue index")
		}
		frame.Closure.Upvalues[inst.B].Set(frame.getRegister(inst.A))
		return directive{kind: dContinue}, nil

	case opcodes.OP_GETGLOBAL:
		name := frame.Proto.ConstAt(int32(inst.Bx))
		val, err := t.index(frame, values.Table(v.globals), name)
		if err != nil {
			return directive{}, err
		}
		frame.setRegister(inst.A, val)
		return directive{kind: dContinue}, nil

	case opcodes.OP_SETGLOBAL:
		name := frame.Proto.ConstAt(int32(inst.Bx))
		if err := t.newindex(frame, values.Table(v.globals), name, frame.getRegister(inst.A)); err != nil {
			return directive{}, err
		}
		return directive{kind: dContinue}, nil

	case opcodes.OP_NEWTABLE:
		frame.setRegister(inst.A, values.Table(values.NewTable()))
		return directive{kind: dContinue}, nil

	case opcodes.OP_GETTABLE:
		obj := frame.getRegister(inst.B)
		key := frame.rk(inst.C)
		val, err := t.index(frame, obj, key)
		if err != nil {
			return directive{}, err
		}
		frame.setRegister(inst.A, val)
		return directive{kind: dContinue}, nil

	case opcodes.OP_SETTABLE:
		obj := frame.getRegister(inst.A)
		key := frame.rk(inst.B)
		val := frame.rk(inst.C)
		if err := t.newindex(frame, obj, key, val); err != nil {
			return directive{}, err
		}
		return directive{kind: dContinue}, nil

	case opcodes.OP_SELF:
		obj := frame.getRegister(inst.B)
		key := frame.rk(inst.C)
		method, err := t.index(frame, obj, key)
		if err != nil {
			return directive{}, err
		}
		frame.setRegister(inst.A+1, obj)
		frame.setRegister(inst.A, method)
		return directive{kind: dContinue}, nil

	case opcodes.OP_SETLIST:
		n := int(inst.B)
		if n == 0 {
			n = int(frame.top) - int(inst.A+1)
		}
		dest := frame.getRegister(inst.A)
		for i := 1; i <= n; i++ {
			elem := frame.getRegister(inst.A + int32(i))
			if tbl, ok := dest.Data().(*values.TableValue); ok {
				tbl.Set(values.Int(int64(inst.C)+int64(i)), elem)
			}
		}
		return directive{kind: dContinue}, nil

	case opcodes.OP_ADD, opcodes.OP_SUB, opcodes.OP_MUL, opcodes.OP_DIV, opcodes.OP_MOD,
		opcodes.OP_POW, opcodes.OP_IDIV, opcodes.OP_BAND, opcodes.OP_BOR, opcodes.OP_BXOR,
		opcodes.OP_SHL, opcodes.OP_SHR:
		a := frame.rk(inst.B)
		b := frame.rk(inst.C)
		res, err := t.arith(frame, inst.Opcode, a, b)
		if err != nil {
			return directive{}, err
		}
		frame.setRegister(inst.A, res)
		return directive{kind: dContinue}, nil

	case opcodes.OP_UNM:
		res, err := t.unm(frame, frame.rk(inst.B))
		if err != nil {
			return directive{}, err
		}
		frame.setRegister(inst.A, res)
		return directive{kind: dContinue}, nil

	case opcodes.OP_BNOT:
		res, err := t.bnot(frame, frame.rk(inst.B))
		if err != nil {
			return directive{}, err
		}
		frame.setRegister(inst.A, res)
		return directive{kind: dContinue}, nil

	case opcodes.OP_CONCAT:
		acc := frame.getRegister(inst.C)
		for r := inst.C - 1; r >= inst.B; r-- {
			res, err := t.concat(frame, frame.getRegister(r), acc)
			if err != nil {
				return directive{}, err
			}
			acc = res
		}
		frame.setRegister(inst.A, acc)
		return directive{kind: dContinue}, nil

	case opcodes.OP_LEN:
		res, err := t.length(frame, frame.getRegister(inst.B))
		if err != nil {
			return directive{}, err
		}
		frame.setRegister(inst.A, res)
		return directive{kind: dContinue}, nil

	case opcodes.OP_EQ:
		eq, err := t.equals(frame.rk(inst.B), frame.rk(inst.C))
		if err != nil {
			return directive{}, err
		}
		if eq != (inst.A != 0) {
			return directive{kind: dSkipNext}, nil
		}
		return directive{kind: dContinue}, nil

	case opcodes.OP_LT:
		lt, err := t.less(frame, frame.rk(inst.B), frame.rk(inst.C))
		if err != nil {
			return directive{}, err
		}
		if lt != (inst.A != 0) {
			return directive{kind: dSkipNext}, nil
		}
		return directive{kind: dContinue}, nil

	case opcodes.OP_LE:
		le, err := t.lessEqual(frame, frame.rk(inst.B), frame.rk(inst.C))
		if err != nil {
			return directive{}, err
		}
		if le != (inst.A != 0) {
			return directive{kind: dSkipNext}, nil
		}
		return directive{kind: dContinue}, nil

	case opcodes.OP_NOT:
		frame.setRegister(inst.A, values.Bool(!frame.getRegister(inst.B).Truthy()))
		return directive{kind: dContinue}, nil

	case opcodes.OP_TEST:
		if frame.getRegister(inst.A).Truthy() == (inst.C != 0) {
			return directive{kind: dContinue}, nil
		}
		return directive{kind: dSkipNext}, nil

	case opcodes.OP_TESTSET:
		val := frame.getRegister(inst.B)
		if val.Truthy() == (inst.C != 0) {
			frame.setRegister(inst.A, val)
			return directive{kind: dContinue}, nil
		}
		return directive{kind: dSkipNext}, nil

	case opcodes.OP_JMP:
		return directive{kind: dJump, jumpPC: jumpTarget(frame, inst)}, nil

	case opcodes.OP_CALL:
		return directive{
			kind:            dCall,
			callTarget:      frame.getRegister(inst.A),
			callArgs:        callArgs(frame, inst.A, inst.B),
			callResultReg:   inst.A,
			callWantedCount: wantedCount(inst.C),
		}, nil

	case opcodes.OP_TAILCALL:
		return directive{
			kind:            dTailCall,
			callTarget:      frame.getRegister(inst.A),
			callArgs:        callArgs(frame, inst.A, inst.B),
			callResultReg:   inst.A,
			callWantedCount: -1,
		}, nil

	case opcodes.OP_RETURN:
		return directive{kind: dReturn, returnValues: callArgs(frame, inst.A-1, inst.B)}, nil

	case opcodes.OP_CLOSURE:
		proto := frame.Proto.Protos[inst.Bx]
		cl := &Closure{Proto: proto, Upvalues: make([]*Upvalue, len(proto.Upvalues))}
		for i, desc := range proto.Upvalues {
			if desc.FromStack {
				cl.Upvalues[i] = frame.getOrCreateOpenUpvalue(desc.Index)
			} else {
				cl.Upvalues[i] = frame.Closure.Upvalues[desc.Index]
			}
		}
		frame.setRegister(inst.A, values.Function(cl))
		return directive{kind: dContinue}, nil

	case opcodes.OP_CLOSE:
		return directive{kind: dClose, closeFrame: frame, closeReg: inst.A}, nil

	case opcodes.OP_TBC:
		frame.pushTBC(inst.A, frame.getRegister(inst.A))
		return directive{kind: dContinue}, nil

	case opcodes.OP_FORPREP:
		return v.execForPrep(frame, inst)

	case opcodes.OP_FORLOOP:
		return v.execForLoop(frame, inst)

	case opcodes.OP_TFORCALL:
		n := int32(inst.C)
		return directive{
			kind:            dCall,
			callTarget:      frame.getRegister(inst.A),
			callArgs:        []values.Value{frame.getRegister(inst.A + 1), frame.getRegister(inst.A + 2)},
			callResultReg:   inst.A + 3,
			callWantedCount: n,
		}, nil

	case opcodes.OP_TFORLOOP:
		if frame.getRegister(inst.A + 3).IsNil() {
			return directive{kind: dContinue}, nil
		}
		frame.setRegister(inst.A+2, frame.getRegister(inst.A+3))
		return directive{kind: dJump, jumpPC: jumpTarget(frame, inst)}, nil

	case opcodes.OP_VARARG:
		n := int(inst.B) - 1
		if inst.B == 0 {
			n = len(frame.varargs)
		}
		for i := 0; i < n; i++ {
			if i < len(frame.varargs) {
				frame.setRegister(inst.A+int32(i), frame.varargs[i])
			} else {
				frame.setRegister(inst.A+int32(i), values.Nil)
			}
		}
		if inst.B == 0 {
			frame.top = inst.A + int32(n)
		}
		return directive{kind: dContinue}, nil

	case opcodes.OP_YIELD:
		return directive{
			kind:            dYield,
			returnValues:    callArgs(frame, inst.A, inst.B),
			callResultReg:   inst.A,
			callWantedCount: wantedCount(inst.C),
		}, nil

	default:
		return directive{}, newRuntimeError(frame, "unimplemented opcode "+inst.Opcode.String())
	}
}

// jumpTarget computes a JMP-family displacement's absolute target: SBx is
// relative to the instruction following the jump (§4.B).
func jumpTarget(frame *Frame, inst opcodes.Instruction) int32 {
	return frame.pc + 1 + inst.SBx
}

// callArgs resolves a CALL/TAILCALL/RETURN-style operand list starting at
// base+1 (RETURN passes A-1 as base so its list starts at A): count-1 for a
// fixed list, or "every register up to frame.top" when count==0, the
// encoding that lets a call/vararg expression in the last argument position
// expand to all of its results (§4.C, §4.D).
func callArgs(frame *Frame, base, count int32) []values.Value {
	if count == 0 {
		n := int(frame.top) - int(base+1)
		if n < 0 {
			n = 0
		}
		out := make([]values.Value, n)
		for i := 0; i < n; i++ {
			out[i] = frame.getRegister(base + 1 + int32(i))
		}
		return out
	}
	n := int(count) - 1
	out := make([]values.Value, n)
	for i := 0; i < n; i++ {
		out[i] = frame.getRegister(base + 1 + int32(i))
	}
	return out
}

// wantedCount decodes a CALL's C operand into the wanted-result count: -1
// means "all" (C==0), otherwise C-1 (§4.D).
func wantedCount(c int32) int32 {
	if c == 0 {
		return -1
	}
	return c - 1
}

// execForPrep implements the numeric for's setup (§4.D FORPREP): check that
// the three control values are numbers (each keeps its own subtype), reject a zero step, and
// bias the initial value by -step so FORLOOP's first increment lands exactly
// on it.
func (v *VM) execForPrep(frame *Frame, inst opcodes.Instruction) (directive, error) {
	init, ok1 := toForNumber(frame.getRegister(inst.A))
	limit, ok2 := toForNumber(frame.getRegister(inst.A + 1))
	step, ok3 := toForNumber(frame.getRegister(inst.A + 2))
	if !ok1 || !ok2 || !ok3 {
		return directive{}, newRuntimeError(frame, "'for' initial value, limit and step must be numbers")
	}
	if isZero(step) {
		return directive{}, newRuntimeError(frame, "'for' step is zero")
	}
	biased, _ := numericArith(opcodes.OP_SUB, init, step)
	frame.setRegister(inst.A, biased)
	frame.setRegister(inst.A+1, limit)
	frame.setRegister(inst.A+2, step)
	return directive{kind: dJump, jumpPC: jumpTarget(frame, inst)}, nil
}

// execForLoop implements the numeric for's per-iteration step (§4.D
// FORLOOP): advance the control variable, test against the limit according
// to the step's sign, and either publish the loop variable and jump back to
// the body or fall through past the loop.
func (v *VM) execForLoop(frame *Frame, inst opcodes.Instruction) (directive, error) {
	cur := frame.getRegister(inst.A)
	limit := frame.getRegister(inst.A + 1)
	step := frame.getRegister(inst.A + 2)

	next, _ := numericArith(opcodes.OP_ADD, cur, step)
	frame.setRegister(inst.A, next)

	var cont bool
	if isNegative(step) {
		cont = !values.NumberLess(next, limit)
	} else {
		cont = !values.NumberLess(limit, next)
	}
	if !cont {
		return directive{kind: dContinue}, nil
	}
	frame.setRegister(inst.A+3, next)
	return directive{kind: dJump, jumpPC: jumpTarget(frame, inst)}, nil
}

func toForNumber(v values.Value) (values.Value, bool) {
	switch v.Kind {
	case values.KindInt, values.KindFloat:
		return v, true
	default:
		return values.Nil, false
	}
}

func isZero(v values.Value) bool {
	f, _ := v.ToFloat()
	return f == 0
}

func isNegative(v values.Value) bool {
	f, _ := v.ToFloat()
	return f < 0
}
