// Package asm is a minimal Prototype assembler used by tests and by the
// `cmd/lua` demo CLI in place of a full Lua lexer/parser/compiler (which
// spec.md explicitly scopes out of the VM core, §1/§6). It plays the role
// the retrieval pack's developgo-agora/compiler/asm.go assembler plays for
// its own bytecode VM: a direct, line-oriented way to build a Prototype
// without parsing source syntax.
package asm

import (
	"github.com/wudi/luavm/opcodes"
	"github.com/wudi/luavm/registry"
	"github.com/wudi/luavm/values"
)

// Builder incrementally assembles one Prototype.
type Builder struct {
	proto *registry.Prototype
}

// New starts building a Prototype for the given chunk/function source name.
func New(source string) *Builder {
	return &Builder{proto: &registry.Prototype{Source: source}}
}

// Param declares the function accepts n fixed parameters.
func (b *Builder) Param(n int32) *Builder {
	b.proto.NumParams = n
	return b
}

// Vararg marks the function as accepting extra arguments.
func (b *Builder) Vararg() *Builder {
	b.proto.IsVararg = true
	return b
}

// MaxStack sets the published register-count hint (§4.C: registers may
// still grow beyond this at runtime).
func (b *Builder) MaxStack(n int32) *Builder {
	b.proto.MaxStack = n
	return b
}

// Const appends a constant and returns its index, for use with
// opcodes.EncodeConst in a following Emit call.
func (b *Builder) Const(v values.Value) int32 {
	b.proto.Constants = append(b.proto.Constants, v)
	return int32(len(b.proto.Constants) - 1)
}

// Upvalue declares one upvalue capture source.
func (b *Builder) Upvalue(name string, fromStack bool, index int32) int32 {
	b.proto.Upvalues = append(b.proto.Upvalues, registry.UpvalueDesc{
		Name: name, FromStack: fromStack, Index: index,
	})
	return int32(len(b.proto.Upvalues) - 1)
}

// Nested registers a nested Prototype, for use with CLOSURE's Bx operand.
func (b *Builder) Nested(p *registry.Prototype) int32 {
	b.proto.Protos = append(b.proto.Protos, p)
	return int32(len(b.proto.Protos) - 1)
}

// Emit appends one instruction using the A/B/C register-machine fields.
func (b *Builder) Emit(op opcodes.Opcode, a, bb, c int32) *Builder {
	b.proto.Instructions = append(b.proto.Instructions, opcodes.Instruction{Opcode: op, A: a, B: bb, C: c})
	return b
}

// EmitBx appends one instruction using the wide unsigned Bx field
// (LOADK/GETGLOBAL/SETGLOBAL/CLOSURE).
func (b *Builder) EmitBx(op opcodes.Opcode, a int32, bx uint32) *Builder {
	b.proto.Instructions = append(b.proto.Instructions, opcodes.Instruction{Opcode: op, A: a, Bx: bx})
	return b
}

// EmitSBx appends one instruction using the signed displacement field
// (JMP/LOADI/FORPREP/FORLOOP).
func (b *Builder) EmitSBx(op opcodes.Opcode, a, sbx int32) *Builder {
	b.proto.Instructions = append(b.proto.Instructions, opcodes.Instruction{Opcode: op, A: a, SBx: sbx})
	return b
}

// Here returns the index the next Emit* call will occupy, for patching
// forward jumps: `jmp := b.Here(); ...; b.PatchSBx(jmp, b.Here()-jmp-1)`.
func (b *Builder) Here() int32 { return int32(len(b.proto.Instructions)) }

// PatchSBx rewrites the SBx field of a previously emitted instruction.
func (b *Builder) PatchSBx(at, sbx int32) *Builder {
	b.proto.Instructions[at].SBx = sbx
	return b
}

// Build finalizes and returns the assembled Prototype.
func (b *Builder) Build() *registry.Prototype {
	return b.proto
}
