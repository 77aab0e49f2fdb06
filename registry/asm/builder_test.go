package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wudi/luavm/opcodes"
	"github.com/wudi/luavm/values"
)

func TestBuilderAssemblesInstructionsAndConstants(t *testing.T) {
	b := New("test-chunk").Param(1).MaxStack(4)
	k := b.Const(values.String("hello"))
	b.EmitBx(opcodes.OP_LOADK, 1, uint32(k))
	b.Emit(opcodes.OP_RETURN, 1, 2, 0)

	proto := b.Build()
	assert.Equal(t, "test-chunk", proto.Source)
	assert.Equal(t, int32(1), proto.NumParams)
	assert.Equal(t, int32(4), proto.MaxStack)
	assert.Len(t, proto.Instructions, 2)
	assert.Equal(t, opcodes.OP_LOADK, proto.Instructions[0].Opcode)
	assert.Equal(t, values.String("hello"), proto.Constants[k])
}

func TestBuilderPatchSBxRewritesForwardJump(t *testing.T) {
	b := New("jump-test")
	jmp := b.Here()
	b.EmitSBx(opcodes.OP_JMP, 0, 0)
	b.Emit(opcodes.OP_RETURN, 0, 1, 0)
	target := b.Here()
	b.PatchSBx(jmp, target-jmp-1)

	proto := b.Build()
	assert.Equal(t, target-jmp-1, proto.Instructions[jmp].SBx)
}

func TestBuilderUpvalueAndNestedIndices(t *testing.T) {
	outer := New("outer")
	idx := outer.Upvalue("n", true, 0)
	assert.Equal(t, int32(0), idx)

	inner := New("inner").Build()
	nestedIdx := outer.Nested(inner)
	assert.Equal(t, int32(0), nestedIdx)
}
