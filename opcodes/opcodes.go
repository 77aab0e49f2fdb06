// Package opcodes defines the Lua 5.x-style register-machine instruction
// set executed by the VM's opcode dispatcher (§4.D) and the RK
// (register-or-constant) operand encoding shared by the compiler front end
// and the VM.
package opcodes

import "fmt"

// Opcode identifies one VM instruction kind.
type Opcode byte

const (
	OP_NOP Opcode = iota

	// Data movement.
	OP_MOVE     // R[A] := R[B]
	OP_LOADK    // R[A] := K[Bx]
	OP_LOADI    // R[A] := sBx (immediate integer)
	OP_LOADBOOL // R[A] := bool(B); if C != 0, skip next instruction
	OP_LOADNIL  // R[A], ..., R[A+B] := nil
	OP_GETUPVAL // R[A] := Upvalue[B]
	OP_SETUPVAL // Upvalue[B] := R[A]
	OP_GETGLOBAL // R[A] := _ENV[K[Bx]] (read directly from the VM's globals table)
	OP_SETGLOBAL // _ENV[K[Bx]] := R[A]

	// Table access.
	OP_NEWTABLE // R[A] := {} (B/C are array/hash size hints)
	OP_GETTABLE // R[A] := R[B][RK(C)]
	OP_SETTABLE // R[A][RK(B)] := RK(C)
	OP_SELF     // R[A+1] := R[B]; R[A] := R[B][RK(C)]
	OP_SETLIST  // R[A][C+i] := R[A+i], 1<=i<=B (B==0 means "up to top")

	// Arithmetic (Lua 5.4 Int/Float promotion, §4.D).
	OP_ADD
	OP_SUB
	OP_MUL
	OP_DIV  // always float
	OP_MOD  // a - floor(a/b)*b
	OP_POW  // always float
	OP_IDIV // floor division
	OP_UNM  // unary minus, preserves subtype

	// Bitwise (64-bit integers; floats permitted iff exact integers).
	OP_BAND
	OP_BOR
	OP_BXOR
	OP_SHL
	OP_SHR
	OP_BNOT

	// String.
	OP_CONCAT // R[A] := R[B] .. ... .. R[C]
	OP_LEN    // R[A] := #R[B]

	// Comparison.
	OP_EQ
	OP_LT
	OP_LE

	// Logical.
	OP_NOT
	OP_TEST    // if not (bool(R[A]) == C) then pc++
	OP_TESTSET // if bool(R[B]) == C then R[A] := R[B] else pc++

	// Control flow.
	OP_JMP

	// Calls.
	OP_CALL     // R[A], ..., R[A+C-2] := R[A](R[A+1], ..., R[A+B-1])
	OP_TAILCALL // return R[A](R[A+1], ..., R[A+B-1])
	OP_RETURN   // return R[A], ..., R[A+B-2]

	// Closures & upvalues.
	OP_CLOSURE // R[A] := closure(KPROTO[Bx])
	OP_CLOSE   // close upvalues >= R[A]; run <close> handlers >= R[A]
	OP_TBC     // mark R[A] as a to-be-closed local (§4.G)

	// Loops.
	OP_FORPREP
	OP_FORLOOP
	OP_TFORCALL
	OP_TFORLOOP

	// Varargs.
	OP_VARARG // R[A], ..., R[A+B-2] := varargs (B==0 means "all")

	// Coroutines (surfaced as opcodes so `coroutine.yield` inside a Lua
	// function can be recognized by the trampoline without a native call
	// frame; see §4.H).
	OP_YIELD
)

var names = [...]string{
	OP_NOP: "NOP", OP_MOVE: "MOVE", OP_LOADK: "LOADK", OP_LOADI: "LOADI",
	OP_LOADBOOL: "LOADBOOL", OP_LOADNIL: "LOADNIL", OP_GETUPVAL: "GETUPVAL",
	OP_SETUPVAL: "SETUPVAL", OP_GETGLOBAL: "GETGLOBAL", OP_SETGLOBAL: "SETGLOBAL",
	OP_NEWTABLE: "NEWTABLE", OP_GETTABLE: "GETTABLE", OP_SETTABLE: "SETTABLE",
	OP_SELF: "SELF", OP_SETLIST: "SETLIST",
	OP_ADD: "ADD", OP_SUB: "SUB", OP_MUL: "MUL", OP_DIV: "DIV", OP_MOD: "MOD",
	OP_POW: "POW", OP_IDIV: "IDIV", OP_UNM: "UNM",
	OP_BAND: "BAND", OP_BOR: "BOR", OP_BXOR: "BXOR", OP_SHL: "SHL", OP_SHR: "SHR", OP_BNOT: "BNOT",
	OP_CONCAT: "CONCAT", OP_LEN: "LEN",
	OP_EQ: "EQ", OP_LT: "LT", OP_LE: "LE",
	OP_NOT: "NOT", OP_TEST: "TEST", OP_TESTSET: "TESTSET",
	OP_JMP: "JMP",
	OP_CALL: "CALL", OP_TAILCALL: "TAILCALL", OP_RETURN: "RETURN",
	OP_CLOSURE: "CLOSURE", OP_CLOSE: "CLOSE", OP_TBC: "TBC",
	OP_FORPREP: "FORPREP", OP_FORLOOP: "FORLOOP", OP_TFORCALL: "TFORCALL", OP_TFORLOOP: "TFORLOOP",
	OP_VARARG: "VARARG", OP_YIELD: "YIELD",
}

func (op Opcode) String() string {
	if int(op) < len(names) && names[op] != "" {
		return names[op]
	}
	return fmt.Sprintf("OP(%d)", op)
}

// Instruction is one decoded bytecode instruction. A, B and C follow the
// conventional register-machine meaning per opcode (see the comments on the
// Opcode constants); Bx is a 32-bit unsigned field used by LOADK/GETGLOBAL/
// SETGLOBAL/CLOSURE for a wide constant/prototype index, and SBx is a
// signed displacement used by JMP/LOADI/FORPREP/FORLOOP.
type Instruction struct {
	Opcode Opcode
	A      int32
	B      int32
	C      int32
	Bx     uint32
	SBx    int32
	Line   int32 // source line for this instruction, for error/hook reporting
}

// RK operand encoding (§4.B, GLOSSARY): bit 8 of an operand distinguishes a
// register index (bit clear) from a constant-pool index (bit set).
const rkConstBit = 1 << 8

// IsConst reports whether an RK-encoded operand denotes a constant.
func IsConst(rk int32) bool { return rk&rkConstBit != 0 }

// ConstIndex extracts the constant-pool index from an RK-encoded operand.
// Callers must first check IsConst.
func ConstIndex(rk int32) int32 { return rk &^ rkConstBit }

// RegIndex extracts the register index from an RK-encoded operand. Callers
// must first check !IsConst.
func RegIndex(rk int32) int32 { return rk }

// EncodeConst builds an RK operand denoting constant index k.
func EncodeConst(k int32) int32 { return k | rkConstBit }

// EncodeReg builds an RK operand denoting register index r.
func EncodeReg(r int32) int32 { return r }
