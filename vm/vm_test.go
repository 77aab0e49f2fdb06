package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/luavm/opcodes"
	"github.com/wudi/luavm/registry/asm"
	"github.com/wudi/luavm/values"
)

func reg(r int32) int32 { return opcodes.EncodeReg(r) }
func kst(k int32) int32 { return opcodes.EncodeConst(k) }

// buildAdder assembles `local function add(a, b) return a + b end` by hand,
// the same register-assembly style cmd/lua's demos use in place of a real
// compiler.
func buildAdder() *Closure {
	b := asm.New("add").Param(2).MaxStack(3)
	b.Emit(opcodes.OP_ADD, 2, reg(0), reg(1))
	b.Emit(opcodes.OP_RETURN, 2, 2, 0)
	return &Closure{Proto: b.Build()}
}

func TestCallAddsTwoIntegers(t *testing.T) {
	v := NewVM()
	results, err := v.Call(values.Function(buildAdder()), []values.Value{values.Int(3), values.Int(4)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, values.Int(7), results[0])
}

func TestCallPromotesIntAndFloat(t *testing.T) {
	v := NewVM()
	results, err := v.Call(values.Function(buildAdder()), []values.Value{values.Int(3), values.Float(0.5)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, values.Float(3.5), results[0])
}

// buildNumericForSum assembles `local s = 0; for i = 1, n do s = s + i end;
// return s`, exercising the FORPREP/FORLOOP two-instruction protocol.
func buildNumericForSum(limit int64) *Closure {
	b := asm.New("forsum").MaxStack(6)
	kZero := b.Const(values.Int(0))
	b.EmitBx(opcodes.OP_LOADK, 0, uint32(kZero)) // R0 = s = 0
	b.EmitSBx(opcodes.OP_LOADI, 1, 1)            // R1 = init = 1
	kLimit := b.Const(values.Int(limit))
	b.EmitBx(opcodes.OP_LOADK, 2, uint32(kLimit)) // R2 = limit
	b.EmitSBx(opcodes.OP_LOADI, 3, 1)             // R3 = step = 1

	prep := b.Here()
	b.EmitSBx(opcodes.OP_FORPREP, 1, 0)
	bodyStart := b.Here()
	b.Emit(opcodes.OP_ADD, 0, reg(0), reg(4)) // s = s + R4 (loop var)
	loop := b.Here()
	b.EmitSBx(opcodes.OP_FORLOOP, 1, 0)
	b.PatchSBx(prep, loop-prep-1)
	b.PatchSBx(loop, bodyStart-loop-1)

	b.Emit(opcodes.OP_RETURN, 0, 2, 0)
	return &Closure{Proto: b.Build()}
}

func TestNumericForLoopSumsRange(t *testing.T) {
	v := NewVM()
	results, err := v.Call(values.Function(buildNumericForSum(5)), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, values.Int(15), results[0])
}

// buildAlwaysError assembles `local function boom() error("boom") end`.
func buildAlwaysError() *Closure {
	b := asm.New("boom").MaxStack(2)
	kErr := b.Const(values.String("error"))
	b.EmitBx(opcodes.OP_GETGLOBAL, 0, uint32(kErr))
	kMsg := b.Const(values.String("boom"))
	b.EmitBx(opcodes.OP_LOADK, 1, uint32(kMsg))
	b.Emit(opcodes.OP_CALL, 0, 2, 1)
	b.Emit(opcodes.OP_RETURN, 0, 1, 0)
	return &Closure{Proto: b.Build()}
}

// buildPcallBoom assembles `return pcall(boom)`, where boom is nested.
func buildPcallBoom() *Closure {
	boom := buildAlwaysError().Proto

	b := asm.New("main").MaxStack(3)
	nestedIdx := b.Nested(boom)
	kPcall := b.Const(values.String("pcall"))
	b.EmitBx(opcodes.OP_GETGLOBAL, 0, uint32(kPcall))
	b.EmitBx(opcodes.OP_CLOSURE, 1, uint32(nestedIdx))
	b.Emit(opcodes.OP_CALL, 0, 2, 3)
	b.Emit(opcodes.OP_RETURN, 0, 3, 0)
	return &Closure{Proto: b.Build()}
}

func TestPcallCatchesError(t *testing.T) {
	v := NewVM()
	results, err := v.Call(values.Function(buildPcallBoom()), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, values.Bool(false), results[0])
	// error()'s default level 1 annotates the message with source:line, so
	// only the raw text is checked here rather than an exact match.
	assert.Contains(t, results[1].AsString(), "boom")
}

func TestEnableProfilingRecordsHotSpots(t *testing.T) {
	v := NewVM()
	v.EnableProfiling(true)
	_, err := v.Call(values.Function(buildAdder()), []values.Value{values.Int(1), values.Int(2)})
	require.NoError(t, err)

	spots := v.HotSpots(0)
	assert.NotEmpty(t, spots)
	assert.NotEqual(t, "(no profiling data)", v.ProfileReport())
}
