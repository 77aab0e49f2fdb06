package vm

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/luavm/opcodes"
	"github.com/wudi/luavm/registry"
	"github.com/wudi/luavm/registry/asm"
	"github.com/wudi/luavm/values"
)

// nativeFn wraps a plain Go closure as a Lua-callable *Native value, the
// same shape a __close metamethod or any other host callback takes.
func nativeFn(name string, impl registry.BuiltinImplementation) values.Value {
	return values.Function(&Native{Fn: &registry.NativeFunction{Name: name, Impl: impl}})
}

// --- S1: coroutine round-trip -----------------------------------------

// buildCoroutineRoundTrip assembles a coroutine body equivalent to
// `local function body() local a = coroutine.yield(7) return a + 13 end`,
// resumed twice: once to reach the yield, once to deliver its result.
func buildCoroutineRoundTrip() *Closure {
	body := asm.New("s1:body").MaxStack(4)
	kCoroutine := body.Const(values.String("coroutine"))
	kYield := body.Const(values.String("yield"))
	body.EmitBx(opcodes.OP_GETGLOBAL, 0, uint32(kCoroutine))
	body.Emit(opcodes.OP_GETTABLE, 1, 0, kst(kYield))
	body.EmitSBx(opcodes.OP_LOADI, 2, 7)
	body.Emit(opcodes.OP_CALL, 1, 2, 2) // R1 := coroutine.yield(7)
	body.EmitSBx(opcodes.OP_LOADI, 2, 13)
	body.Emit(opcodes.OP_ADD, 3, reg(1), reg(2))
	body.Emit(opcodes.OP_RETURN, 3, 2, 0)
	bodyProto := body.Build()

	b := asm.New("s1:main").MaxStack(4)
	idx := b.Nested(bodyProto)
	b.EmitBx(opcodes.OP_CLOSURE, 0, uint32(idx))
	b.Emit(opcodes.OP_RETURN, 0, 2, 0)
	return &Closure{Proto: b.Build()}
}

func TestCoroutineRoundTrip(t *testing.T) {
	v := NewVM()
	results, err := v.Call(values.Function(buildCoroutineRoundTrip()), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	fn := results[0]

	co := v.newCoroutine(fn)
	ok, vals := v.resume(co, v.main, nil)
	require.True(t, ok)
	require.Len(t, vals, 1)
	assert.Equal(t, values.Int(7), vals[0])
	assert.Equal(t, "suspended", co.status.String())

	ok, vals = v.resume(co, v.main, []values.Value{values.Int(20)})
	require.True(t, ok)
	require.Len(t, vals, 1)
	assert.Equal(t, values.Int(33), vals[0])
	assert.Equal(t, "dead", co.status.String())
}

// --- S2/S3/S4: TBC / <close> ---------------------------------------------

// buildTBCOwner builds `local a <close> = h1; local b <close> = h2; <body
// either falls off the end, or raises> end`, where h1/h2 are already-built
// *Native __close handlers installed on distinct table metatables.
func buildTBCOwner(h1, h2 values.Value, raise bool) *Closure {
	mt1 := values.NewTable()
	mt1.Set(values.String("__close"), h1)
	a := values.NewTable()
	a.Metatable = mt1

	mt2 := values.NewTable()
	mt2.Set(values.String("__close"), h2)
	bVal := values.NewTable()
	bVal.Metatable = mt2

	bld := asm.New("owner").MaxStack(4)
	kA := bld.Const(a)
	kB := bld.Const(bVal)
	bld.EmitBx(opcodes.OP_LOADK, 0, uint32(kA))
	bld.Emit(opcodes.OP_TBC, 0, 0, 0)
	bld.EmitBx(opcodes.OP_LOADK, 1, uint32(kB))
	bld.Emit(opcodes.OP_TBC, 1, 0, 0)
	if raise {
		kErr := bld.Const(values.String("error"))
		bld.EmitBx(opcodes.OP_GETGLOBAL, 2, uint32(kErr))
		kMsg := bld.Const(values.String("boom"))
		bld.EmitBx(opcodes.OP_LOADK, 3, uint32(kMsg))
		bld.Emit(opcodes.OP_CALL, 2, 2, 1)
	}
	bld.Emit(opcodes.OP_RETURN, 0, 1, 0)
	return &Closure{Proto: bld.Build()}
}

func buildPcallOwner(owner *Closure) *Closure {
	b := asm.New("s2:main").MaxStack(3)
	nestedIdx := b.Nested(owner.Proto)
	kPcall := b.Const(values.String("pcall"))
	b.EmitBx(opcodes.OP_GETGLOBAL, 0, uint32(kPcall))
	b.EmitBx(opcodes.OP_CLOSURE, 1, uint32(nestedIdx))
	b.Emit(opcodes.OP_CALL, 0, 2, 3)
	b.Emit(opcodes.OP_RETURN, 0, 3, 0)
	return &Closure{Proto: b.Build()}
}

// TestPcallWithTBCClosesInLIFOOrder covers S2: a function that declares two
// <close> locals and returns normally must still run both handlers, LIFO,
// before pcall sees its success result.
func TestPcallWithTBCClosesInLIFOOrder(t *testing.T) {
	var order []string
	h1 := nativeFn("h1", func(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
		order = append(order, "h1")
		return nil, nil
	})
	h2 := nativeFn("h2", func(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
		order = append(order, "h2")
		return nil, nil
	})

	owner := buildTBCOwner(h1, h2, false)
	v := NewVM()
	results, err := v.Call(values.Function(buildPcallOwner(owner)), nil)
	require.NoError(t, err)
	// buildPcallOwner's CALL wants 2 results (ok + one return value); the
	// owner itself returns nothing, so pcall's second slot pads out as nil.
	require.Len(t, results, 2)
	assert.Equal(t, values.Bool(true), results[0])
	assert.True(t, results[1].IsNil())
	assert.Equal(t, []string{"h2", "h1"}, order)
}

// TestCloseErrorChainsThroughNextHandler covers S3: when the owner raises,
// both <close> handlers still run LIFO, and a handler that itself errors
// hands the previous error to the next handler in line as its second
// argument, the way Lua 5.4's to-be-closed error chaining works.
func TestCloseErrorChainsThroughNextHandler(t *testing.T) {
	h1 := nativeFn("h1", func(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
		return nil, nil
	})
	h2 := nativeFn("h2", func(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
		errArg := "nil"
		if len(args) > 1 && !args[1].IsNil() {
			errArg = args[1].AsString()
		}
		return nil, fmt.Errorf("from2:%s", errArg)
	})

	owner := buildTBCOwner(h1, h2, true)
	v := NewVM()
	results, err := v.Call(values.Function(buildPcallOwner(owner)), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, values.Bool(false), results[0])
	assert.Regexp(t, regexp.MustCompile("from2:.*boom"), results[1].AsString())
}

// TestYieldInsideCloseHandler covers S4: a <close> handler implemented as a
// Lua closure that itself calls coroutine.yield suspends the coroutine
// mid-close, and resuming it again drives the rest of the close chain (and
// the coroutine's own return) to completion.
func TestYieldInsideCloseHandler(t *testing.T) {
	// handler: `function(val, err) coroutine.yield("mid"); return end`
	hb := asm.New("yieldingHandler").Param(2).MaxStack(5)
	kCoroutine := hb.Const(values.String("coroutine"))
	kYield := hb.Const(values.String("yield"))
	kMid := hb.Const(values.String("mid"))
	hb.EmitBx(opcodes.OP_GETGLOBAL, 2, uint32(kCoroutine)) // R2 = coroutine
	hb.Emit(opcodes.OP_GETTABLE, 3, 2, kst(kYield))         // R3 = coroutine.yield
	hb.EmitBx(opcodes.OP_LOADK, 4, uint32(kMid))            // R4 = "mid" (func reg + 1)
	hb.Emit(opcodes.OP_CALL, 3, 2, 1)                       // coroutine.yield("mid")
	hb.Emit(opcodes.OP_RETURN, 0, 1, 0)
	handlerProto := hb.Build()

	// The handler closure has no upvalues, so it is built once ahead of time
	// and installed as a constant __close entry, the same way buildTBCOwner
	// installs *Native handlers.
	handlerClosure := &Closure{Proto: handlerProto}
	mt := values.NewTable()
	mt.Set(values.String("__close"), values.Function(handlerClosure))
	guarded := values.NewTable()
	guarded.Metatable = mt

	owner := asm.New("s4:body").MaxStack(2)
	kGuarded := owner.Const(guarded)
	owner.EmitBx(opcodes.OP_LOADK, 0, uint32(kGuarded))
	owner.Emit(opcodes.OP_TBC, 0, 0, 0)
	kDone := owner.Const(values.String("done"))
	owner.EmitBx(opcodes.OP_LOADK, 1, uint32(kDone))
	owner.Emit(opcodes.OP_RETURN, 1, 2, 0)
	ownerClosure := &Closure{Proto: owner.Build()}

	v := NewVM()
	co := v.newCoroutine(values.Function(ownerClosure))

	ok, vals := v.resume(co, v.main, nil)
	require.True(t, ok)
	require.Len(t, vals, 1)
	assert.Equal(t, values.String("mid"), vals[0])
	assert.Equal(t, "suspended", co.status.String())

	ok, vals = v.resume(co, v.main, nil)
	require.True(t, ok)
	require.Len(t, vals, 1)
	assert.Equal(t, values.String("done"), vals[0])
	assert.Equal(t, "dead", co.status.String())
}

// --- S5: tail-call unboundedness ----------------------------------------

// buildTailLoop assembles `local function loop(n, acc) if n == 0 then
// return acc end return loop(n - 1, acc + 1) end`, a strict self tail call.
func buildTailLoop() *Closure {
	b := asm.New("loop").Param(2).MaxStack(7)
	kZero := b.Const(values.Int(0))
	kOne := b.Const(values.Int(1))

	b.Emit(opcodes.OP_EQ, 0, reg(0), kst(kZero)) // skip JMP (fall to RETURN) when n == 0
	jmp := b.Here()
	b.EmitSBx(opcodes.OP_JMP, 0, 0)
	b.Emit(opcodes.OP_RETURN, 1, 2, 0)
	tailTarget := b.Here()
	b.PatchSBx(jmp, tailTarget-jmp-1)

	b.Emit(opcodes.OP_SUB, 2, reg(0), kst(kOne))
	b.Emit(opcodes.OP_ADD, 3, reg(1), kst(kOne))
	// R4 := loop (recursive self-reference via upvalue 0)
	b.Emit(opcodes.OP_GETUPVAL, 4, 0, 0)
	b.Emit(opcodes.OP_MOVE, 5, 2, 0)
	b.Emit(opcodes.OP_MOVE, 6, 3, 0)
	b.Emit(opcodes.OP_TAILCALL, 4, 3, 0)
	b.Emit(opcodes.OP_RETURN, 4, 0, 0)
	b.Upvalue("loop", false, 0)
	return &Closure{Proto: b.Build()}
}

// TestTailCallDoesNotGrowHostStack covers S5: a million-deep self tail call
// must complete without overflowing the Go call stack, proving
// Thread.invokeTail truly reuses the frame instead of recursing.
func TestTailCallDoesNotGrowHostStack(t *testing.T) {
	cl := buildTailLoop()
	// The closure captures itself as upvalue 0, matching how a real
	// compiler would close a recursive local function over itself.
	cl.Upvalues = []*Upvalue{{closed: values.Function(cl), isClosed: true}}

	v := NewVM()
	const n = 1000000
	results, err := v.Call(values.Function(cl), []values.Value{values.Int(n), values.Int(0)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, values.Int(n), results[0])
}

// --- S6: int/float boundary equality -------------------------------------

func TestIntFloatBoundaryEquality(t *testing.T) {
	v := NewVM()

	// (2^53) == (2^53 | 0) exactly, since 2^53 is representable as a float
	// with no rounding.
	const pow53 = int64(1) << 53
	eqClosure := buildEqCheck(values.Int(pow53), values.Float(float64(pow53)))
	results, err := v.Call(values.Function(eqClosure), nil)
	require.NoError(t, err)
	assert.Equal(t, values.Bool(true), results[0])

	// math.maxinteger == (math.maxinteger + 0.0) is false: maxinteger has
	// no exact float representation, so comparing against its float cast
	// must not silently report equal.
	const maxInt = int64(1)<<63 - 1
	neqClosure := buildEqCheck(values.Int(maxInt), values.Float(float64(maxInt)))
	results, err = v.Call(values.Function(neqClosure), nil)
	require.NoError(t, err)
	assert.Equal(t, values.Bool(false), results[0])
}

func buildEqCheck(a, b values.Value) *Closure {
	bld := asm.New("eqcheck").MaxStack(3)
	kA := bld.Const(a)
	kB := bld.Const(b)
	bld.EmitBx(opcodes.OP_LOADK, 0, uint32(kA))
	bld.EmitBx(opcodes.OP_LOADK, 1, uint32(kB))
	bld.Emit(opcodes.OP_EQ, 0, reg(0), reg(1)) // skip JMP (fall to true-branch) when equal
	jmp := bld.Here()
	bld.EmitSBx(opcodes.OP_JMP, 0, 0)
	kTrue := bld.Const(values.Bool(true))
	bld.EmitBx(opcodes.OP_LOADK, 2, uint32(kTrue))
	bld.Emit(opcodes.OP_RETURN, 2, 2, 0)
	falseTarget := bld.Here()
	bld.PatchSBx(jmp, falseTarget-jmp-1)
	kFalse := bld.Const(values.Bool(false))
	bld.EmitBx(opcodes.OP_LOADK, 2, uint32(kFalse))
	bld.Emit(opcodes.OP_RETURN, 2, 2, 0)
	return &Closure{Proto: bld.Build()}
}

// --- Invariant 2: upvalue-cell identity -----------------------------------

// TestSharedUpvalueCellIdentity covers invariant 2: two closures built by
// two CLOSURE instructions in the same capturing-frame call, both capturing
// R0, must share one upvalue cell, so a write through one is visible through
// the other.
func TestSharedUpvalueCellIdentity(t *testing.T) {
	inner := asm.New("inner").MaxStack(2)
	inner.Emit(opcodes.OP_GETUPVAL, 0, 0, 0)
	inner.Emit(opcodes.OP_RETURN, 0, 2, 0)
	inner.Upvalue("x", true, 0)
	innerProto := inner.Build()

	setter := asm.New("setter").Param(1).MaxStack(1)
	setter.Emit(opcodes.OP_SETUPVAL, 0, 0, 0)
	setter.Emit(opcodes.OP_RETURN, 0, 1, 0)
	setter.Upvalue("x", true, 0)
	setterProto := setter.Build()

	outer := asm.New("outer").MaxStack(4)
	kZero := outer.Const(values.Int(0))
	outer.EmitBx(opcodes.OP_LOADK, 0, uint32(kZero)) // R0 = x = 0
	getIdx := outer.Nested(innerProto)
	setIdx := outer.Nested(setterProto)
	outer.EmitBx(opcodes.OP_CLOSURE, 1, uint32(getIdx)) // getter closes over R0
	outer.EmitBx(opcodes.OP_CLOSURE, 2, uint32(setIdx)) // setter closes over same R0
	outer.Emit(opcodes.OP_RETURN, 1, 3, 0)
	outerProto := outer.Build()

	v := NewVM()
	results, err := v.Call(values.Function(&Closure{Proto: outerProto}), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	getter, setter2 := results[0], results[1]

	kNine := values.Int(9)
	_, err = v.Call(setter2, []values.Value{kNine})
	require.NoError(t, err)

	got, err := v.Call(getter, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, values.Int(9), got[0])
}

// --- Invariant 8: __eq identity -------------------------------------------

// TestEqMetamethodRequiresSharedMetatable covers invariant 8: __eq must not
// fire when the two operands merely have equal-but-distinct metatables,
// only when they share the identical metatable reference.
func TestEqMetamethodRequiresSharedMetatable(t *testing.T) {
	called := 0
	always := nativeFn("always_eq", func(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
		called++
		return []values.Value{values.Bool(true)}, nil
	})

	mtA := values.NewTable()
	mtA.Set(values.String("__eq"), always)
	mtB := values.NewTable()
	mtB.Set(values.String("__eq"), always)

	t1 := values.NewTable()
	t1.Metatable = mtA
	t2 := values.NewTable()
	t2.Metatable = mtB

	v := NewVM()
	th := v.main
	eq, err := th.equals(values.Table(t1), values.Table(t2))
	require.NoError(t, err)
	assert.False(t, eq, "different metatable references must not invoke __eq")
	assert.Equal(t, 0, called)

	t3 := values.NewTable()
	t3.Metatable = mtA
	eq, err = th.equals(values.Table(t1), values.Table(t3))
	require.NoError(t, err)
	assert.True(t, eq, "shared metatable reference must invoke __eq")
	assert.Equal(t, 1, called)
}
