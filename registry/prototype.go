// Package registry holds the immutable compiled-unit representation
// (Prototype & Chunk, §4.B) produced by an external compiler and consumed
// by the VM, plus the contract a host uses to register native functions.
package registry

import (
	"github.com/wudi/luavm/opcodes"
	"github.com/wudi/luavm/values"
)

// UpvalueDesc describes how a CLOSURE instruction should bind one upvalue
// of a nested Prototype: either from a register of the enclosing frame, or
// from an upvalue of the enclosing closure (§3 Prototype, §4.D CLOSURE).
type UpvalueDesc struct {
	Name      string
	FromStack bool // true: capture parent frame register; false: capture parent upvalue
	Index     int32
}

// Prototype is the immutable compiled representation of one Lua function
// body (§3, §4.B). Prototypes are shared by every closure instantiated from
// them; only their captured upvalue cells differ between closures.
type Prototype struct {
	Source      string // chunk name, for error location annotation
	LineDefined int32

	Instructions []opcodes.Instruction
	Constants    []values.Value
	Protos       []*Prototype // nested function prototypes, indexed by CLOSURE's Bx

	NumParams int32
	IsVararg  bool
	MaxStack  int32

	Upvalues []UpvalueDesc

	// LocalNames, when present, maps a register slot to the source-level
	// variable name it held at a given instruction range; optional debug
	// info used only for tracebacks and debug.getlocal.
	LocalNames map[int32]string
}

// ConstAt returns the i'th constant, panicking on a compiler bug (an
// out-of-range constant index should never reach the VM; the dispatcher
// checks bounds before calling this in hot paths where it matters).
func (p *Prototype) ConstAt(i int32) values.Value {
	return p.Constants[i]
}
