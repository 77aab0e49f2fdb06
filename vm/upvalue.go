package vm

import "github.com/wudi/luavm/values"

// Upvalue is a shared, possibly-open reference cell (§3, §9 design notes).
// While open it aliases a still-live Frame's register slot; the transition
// to closed is irreversible and happens when the owning frame exits or a
// covering CLOSE instruction runs (§4.D CLOSE, §8 invariant 2).
type Upvalue struct {
	frame    *Frame // nil once closed
	register int32
	closed   values.Value
	isClosed bool
}

// newOpenUpvalue creates a cell aliasing frame.registers[reg].
func newOpenUpvalue(frame *Frame, reg int32) *Upvalue {
	return &Upvalue{frame: frame, register: reg}
}

// Get reads the current value, whichever storage backs the cell.
func (u *Upvalue) Get() values.Value {
	if u.isClosed {
		return u.closed
	}
	return u.frame.getRegister(u.register)
}

// Set writes through to whichever storage backs the cell.
func (u *Upvalue) Set(v values.Value) {
	if u.isClosed {
		u.closed = v
		return
	}
	u.frame.setRegister(u.register, v)
}

// Close copies the current value out of the frame and severs the link,
// making the cell self-contained. Idempotent: closing an already-closed
// cell is a no-op, matching CLOSE's idempotence requirement (§8 invariant 9)
// when applied transitively via Frame.closeUpvaluesFrom.
func (u *Upvalue) Close() {
	if u.isClosed {
		return
	}
	u.closed = u.frame.getRegister(u.register)
	u.isClosed = true
	u.frame = nil
}
