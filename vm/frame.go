package vm

import (
	"github.com/wudi/luavm/registry"
	"github.com/wudi/luavm/values"
)

// tbcEntry is one to-be-closed local (§3, §4.G): the register it lives in
// and the value captured at the point `<close>` was declared.
type tbcEntry struct {
	register int32
	value    values.Value
	closed   bool
}

// Frame is the per-invocation mutable state described by §2.C/§3: registers,
// program counter, the variable-result `top` marker, varargs, open
// upvalues, the TBC list and the captured return values.
type Frame struct {
	Proto    *registry.Prototype
	Closure  *Closure // nil for the synthetic top-level/native-call frames
	registers []values.Value
	pc        int32
	top       int32 // non-zero only between a var-result producer and its consumer (§4.C)

	varargs []values.Value

	openUpvalues map[int32]*Upvalue
	tbcList      []*tbcEntry

	// capturedReturns is nil until RETURN has fired; it becomes the return
	// value list just before <close> handlers run so a yield inside
	// __close can still deliver results on final resume (§3, §4.G).
	capturedReturns []values.Value
	hasReturned     bool
}

func newFrame(proto *registry.Prototype, closure *Closure, args []values.Value) *Frame {
	stackSize := proto.MaxStack
	if stackSize < proto.NumParams {
		stackSize = proto.NumParams
	}
	if stackSize < 2 {
		stackSize = 2
	}
	f := &Frame{
		Proto:   proto,
		Closure: closure,
		registers: make([]values.Value, stackSize),
	}
	n := int(proto.NumParams)
	for i := 0; i < n && i < len(args); i++ {
		f.registers[i] = args[i]
	}
	if proto.IsVararg && len(args) > n {
		f.varargs = append([]values.Value(nil), args[n:]...)
	}
	return f
}

// getRegister reads register r; a register past the end of the register file
// reads as nil. Growth happens on write (setRegister/ensureRegisters): the
// compiler's published MaxStack is only a hint (§4.C).
func (f *Frame) getRegister(r int32) values.Value {
	if int(r) >= len(f.registers) {
		return values.Nil
	}
	return f.registers[r]
}

func (f *Frame) setRegister(r int32, v values.Value) {
	f.ensureRegisters(r)
	f.registers[r] = v
}

// ensureRegisters grows the register file to cover r, amortizing repeated
// single-slot growth (a dynamically-sized VARARG/SETLIST tail, say) by
// doubling rather than growing to exactly r+1 each time.
func (f *Frame) ensureRegisters(r int32) {
	if int(r) < len(f.registers) {
		return
	}
	size := values.MaxInt(r+1, int32(len(f.registers))*2)
	grown := make([]values.Value, size)
	copy(grown, f.registers)
	f.registers = grown
}

// rk reads an RK-encoded operand: a register or a constant, per §4.B.
func (f *Frame) rk(encoded int32) values.Value {
	if encoded < 0 {
		return values.Nil
	}
	const rkConstBit = 1 << 8
	if encoded&rkConstBit != 0 {
		idx := encoded &^ rkConstBit
		if int(idx) < len(f.Proto.Constants) {
			return f.Proto.Constants[idx]
		}
		return values.Nil
	}
	return f.getRegister(encoded)
}

// getOrCreateOpenUpvalue returns the (possibly newly created) open upvalue
// cell aliasing register r, idempotent per register per call (§4.D CLOSURE,
// §8 invariant 2): two closures built by the same CLOSURE instruction for
// the same capturing frame share one cell.
func (f *Frame) getOrCreateOpenUpvalue(r int32) *Upvalue {
	if f.openUpvalues == nil {
		f.openUpvalues = make(map[int32]*Upvalue)
	}
	if uv, ok := f.openUpvalues[r]; ok {
		return uv
	}
	uv := newOpenUpvalue(f, r)
	f.openUpvalues[r] = uv
	return uv
}

// closeUpvaluesFrom closes every open upvalue with register >= threshold,
// used by frame exit and by the CLOSE instruction (§4.D).
func (f *Frame) closeUpvaluesFrom(threshold int32) {
	for r, uv := range f.openUpvalues {
		if r >= threshold {
			uv.Close()
			delete(f.openUpvalues, r)
		}
	}
}

// pushTBC registers a local declared `<close>` (§4.G). The value is not
// checked here; close.go checks that it is closable when the scope closes
// and raises "variable '<close>' got a non-closable value" if it is not.
func (f *Frame) pushTBC(register int32, v values.Value) {
	f.tbcList = append(f.tbcList, &tbcEntry{register: register, value: v})
}

// tbcAboveReversed returns the not-yet-closed TBC entries with register >=
// threshold, in reverse declaration order (LIFO, §4.G, §8 invariant 3).
func (f *Frame) tbcAboveReversed(threshold int32) []*tbcEntry {
	var out []*tbcEntry
	for i := len(f.tbcList) - 1; i >= 0; i-- {
		e := f.tbcList[i]
		if e.register >= threshold && !e.closed {
			out = append(out, e)
		}
	}
	return out
}
