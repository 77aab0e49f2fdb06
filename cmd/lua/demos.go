package main

import (
	"github.com/wudi/luavm/opcodes"
	"github.com/wudi/luavm/registry"
	"github.com/wudi/luavm/registry/asm"
	"github.com/wudi/luavm/values"
)

// demo is one runnable sample program assembled by hand through registry/asm
// in place of source text, since lexing/parsing/codegen are out of scope for
// this VM core (see registry/asm's package doc). Each mirrors a short Lua
// snippet, noted in its description, the way the teacher's vm-demo command
// runs a handful of named PHP snippets through its VM.
type demo struct {
	name        string
	description string
	build       func() *registry.Prototype
}

var demos = []demo{
	{"arithmetic", "local a,b = 7,2; print(a+b, a-b, a*b, a/b, a//b, a%b)", buildArithmeticDemo},
	{"forloop", "for i = 1, 5 do print(i) end", buildForLoopDemo},
	{"closures", "a counter closure sharing one upvalue across three calls", buildClosuresDemo},
	{"tables", "a metatable's __index fallback, and a raw write shadowing it", buildTablesDemo},
	{"coroutine", "a coroutine yielding twice before returning", buildCoroutineDemo},
	{"pcall", "pcall catching an error() raised from a callee", buildPcallDemo},
}

func findDemo(name string) (demo, bool) {
	for _, d := range demos {
		if d.name == name {
			return d, true
		}
	}
	return demo{}, false
}

func reg(r int32) int32 { return opcodes.EncodeReg(r) }
func kst(k int32) int32 { return opcodes.EncodeConst(k) }

// buildArithmeticDemo exercises Lua 5.4's Int/Float arithmetic promotion and
// floor div/mod (§4.D ADD/SUB/MUL/DIV/MOD/IDIV in the bytecode VM this
// mirrors).
func buildArithmeticDemo() *registry.Prototype {
	b := asm.New("demo:arithmetic").MaxStack(16)
	kPrint := b.Const(values.String("print"))

	b.EmitSBx(opcodes.OP_LOADI, 0, 7)
	b.EmitSBx(opcodes.OP_LOADI, 1, 2)
	b.Emit(opcodes.OP_ADD, 2, reg(0), reg(1))
	b.Emit(opcodes.OP_SUB, 3, reg(0), reg(1))
	b.Emit(opcodes.OP_MUL, 4, reg(0), reg(1))
	b.Emit(opcodes.OP_DIV, 5, reg(0), reg(1))
	b.Emit(opcodes.OP_IDIV, 6, reg(0), reg(1))
	b.Emit(opcodes.OP_MOD, 7, reg(0), reg(1))

	b.EmitBx(opcodes.OP_GETGLOBAL, 8, uint32(kPrint))
	b.Emit(opcodes.OP_MOVE, 9, 2, 0)
	b.Emit(opcodes.OP_MOVE, 10, 3, 0)
	b.Emit(opcodes.OP_MOVE, 11, 4, 0)
	b.Emit(opcodes.OP_MOVE, 12, 5, 0)
	b.Emit(opcodes.OP_MOVE, 13, 6, 0)
	b.Emit(opcodes.OP_MOVE, 14, 7, 0)
	b.Emit(opcodes.OP_CALL, 8, 7, 1)

	b.Emit(opcodes.OP_RETURN, 0, 1, 0)
	return b.Build()
}

// buildForLoopDemo exercises the numeric FORPREP/FORLOOP pair (§4.D).
func buildForLoopDemo() *registry.Prototype {
	b := asm.New("demo:forloop").MaxStack(8)
	kPrint := b.Const(values.String("print"))

	b.EmitSBx(opcodes.OP_LOADI, 0, 1) // init
	b.EmitSBx(opcodes.OP_LOADI, 1, 5) // limit
	b.EmitSBx(opcodes.OP_LOADI, 2, 1) // step

	prep := b.Here()
	b.EmitSBx(opcodes.OP_FORPREP, 0, 0)

	bodyStart := b.Here()
	b.EmitBx(opcodes.OP_GETGLOBAL, 4, uint32(kPrint))
	b.Emit(opcodes.OP_MOVE, 5, 3, 0)
	b.Emit(opcodes.OP_CALL, 4, 2, 1)

	loop := b.Here()
	b.EmitSBx(opcodes.OP_FORLOOP, 0, 0)

	b.PatchSBx(prep, loop-prep-1)
	b.PatchSBx(loop, bodyStart-loop-1)

	b.Emit(opcodes.OP_RETURN, 0, 1, 0)
	return b.Build()
}

// buildClosuresDemo builds a two-level closure: a maker function whose local
// "n" is captured FromStack by an inner "inc" function, the two calling
// conventions CLOSURE/GETUPVAL/SETUPVAL are meant to exercise together
// (§4.D CLOSURE/§8 invariant 2: repeated calls through the same closure
// value share one upvalue cell).
func buildClosuresDemo() *registry.Prototype {
	inc := asm.New("demo:closures:inc").Param(0).MaxStack(4)
	inc.Upvalue("n", true, 0)
	inc.Emit(opcodes.OP_GETUPVAL, 0, 0, 0)
	inc.EmitSBx(opcodes.OP_LOADI, 1, 1)
	inc.Emit(opcodes.OP_ADD, 2, reg(0), reg(1))
	inc.Emit(opcodes.OP_SETUPVAL, 2, 0, 0)
	inc.Emit(opcodes.OP_RETURN, 2, 2, 0)
	incProto := inc.Build()

	maker := asm.New("demo:closures:make").MaxStack(4)
	incIdx := maker.Nested(incProto)
	maker.EmitSBx(opcodes.OP_LOADI, 0, 0) // n := 0, captured by inc below
	maker.EmitBx(opcodes.OP_CLOSURE, 1, uint32(incIdx))
	maker.Emit(opcodes.OP_RETURN, 1, 2, 0)
	makerProto := maker.Build()

	b := asm.New("demo:closures").MaxStack(16)
	makerIdx := b.Nested(makerProto)
	kPrint := b.Const(values.String("print"))

	b.EmitBx(opcodes.OP_CLOSURE, 0, uint32(makerIdx))
	b.Emit(opcodes.OP_CALL, 0, 1, 2) // counter := maker()

	b.Emit(opcodes.OP_MOVE, 1, 0, 0)
	b.Emit(opcodes.OP_CALL, 1, 1, 2) // R1 := counter()
	b.Emit(opcodes.OP_MOVE, 2, 0, 0)
	b.Emit(opcodes.OP_CALL, 2, 1, 2) // R2 := counter()
	b.Emit(opcodes.OP_MOVE, 3, 0, 0)
	b.Emit(opcodes.OP_CALL, 3, 1, 2) // R3 := counter()

	b.EmitBx(opcodes.OP_GETGLOBAL, 4, uint32(kPrint))
	b.Emit(opcodes.OP_MOVE, 5, 1, 0)
	b.Emit(opcodes.OP_MOVE, 6, 2, 0)
	b.Emit(opcodes.OP_MOVE, 7, 3, 0)
	b.Emit(opcodes.OP_CALL, 4, 4, 1)

	b.Emit(opcodes.OP_RETURN, 0, 1, 0)
	return b.Build()
}

// buildTablesDemo exercises __index chaining to a fallback table and the
// rule that a key already reachable raw (or a metatable with no __newindex)
// writes straight through SETTABLE without consulting a metamethod (§4.F).
func buildTablesDemo() *registry.Prototype {
	b := asm.New("demo:tables").MaxStack(20)
	kx := b.Const(values.String("x"))
	kIndex := b.Const(values.String("__index"))
	kPrint := b.Const(values.String("print"))
	kSetmeta := b.Const(values.String("setmetatable"))

	b.Emit(opcodes.OP_NEWTABLE, 0, 0, 0) // base
	b.EmitSBx(opcodes.OP_LOADI, 1, 10)
	b.Emit(opcodes.OP_SETTABLE, 0, kst(kx), reg(1)) // base.x = 10

	b.Emit(opcodes.OP_NEWTABLE, 2, 0, 0) // derived (pre-metatable)
	b.Emit(opcodes.OP_NEWTABLE, 3, 0, 0) // meta
	b.Emit(opcodes.OP_SETTABLE, 3, kst(kIndex), reg(0))

	b.EmitBx(opcodes.OP_GETGLOBAL, 4, uint32(kSetmeta))
	b.Emit(opcodes.OP_MOVE, 5, 2, 0)
	b.Emit(opcodes.OP_MOVE, 6, 3, 0)
	b.Emit(opcodes.OP_CALL, 4, 3, 2) // derived := setmetatable(derived, meta)

	b.Emit(opcodes.OP_GETTABLE, 7, 4, kst(kx)) // derived.x via __index -> 10
	b.EmitBx(opcodes.OP_GETGLOBAL, 8, uint32(kPrint))
	b.Emit(opcodes.OP_MOVE, 9, 7, 0)
	b.Emit(opcodes.OP_CALL, 8, 2, 1)

	b.EmitSBx(opcodes.OP_LOADI, 10, 99)
	b.Emit(opcodes.OP_SETTABLE, 4, kst(kx), reg(10)) // derived.x = 99, shadows base

	b.Emit(opcodes.OP_GETTABLE, 11, 4, kst(kx)) // derived.x -> 99
	b.Emit(opcodes.OP_GETTABLE, 12, 0, kst(kx)) // base.x -> still 10
	b.EmitBx(opcodes.OP_GETGLOBAL, 13, uint32(kPrint))
	b.Emit(opcodes.OP_MOVE, 14, 11, 0)
	b.Emit(opcodes.OP_MOVE, 15, 12, 0)
	b.Emit(opcodes.OP_CALL, 13, 3, 1)

	b.Emit(opcodes.OP_RETURN, 0, 1, 0)
	return b.Build()
}

// buildCoroutineDemo exercises coroutine.create/resume/yield (§4.H): a
// coroutine body that yields twice before returning, resumed three times
// from the main thread.
func buildCoroutineDemo() *registry.Prototype {
	body := asm.New("demo:coroutine:body").MaxStack(8)
	kCoroutine := body.Const(values.String("coroutine"))
	kYield := body.Const(values.String("yield"))
	kFirst := body.Const(values.String("first"))
	kSecond := body.Const(values.String("second"))
	kDone := body.Const(values.String("done"))

	body.EmitBx(opcodes.OP_GETGLOBAL, 0, uint32(kCoroutine))
	body.Emit(opcodes.OP_GETTABLE, 1, 0, kst(kYield))
	body.EmitBx(opcodes.OP_LOADK, 2, uint32(kFirst))
	body.Emit(opcodes.OP_CALL, 1, 2, 1)

	body.EmitBx(opcodes.OP_GETGLOBAL, 3, uint32(kCoroutine))
	body.Emit(opcodes.OP_GETTABLE, 4, 3, kst(kYield))
	body.EmitBx(opcodes.OP_LOADK, 5, uint32(kSecond))
	body.Emit(opcodes.OP_CALL, 4, 2, 1)

	body.EmitBx(opcodes.OP_LOADK, 6, uint32(kDone))
	body.Emit(opcodes.OP_RETURN, 6, 2, 0)
	bodyProto := body.Build()

	b := asm.New("demo:coroutine").MaxStack(32)
	bodyIdx := b.Nested(bodyProto)
	kCoroutine2 := b.Const(values.String("coroutine"))
	kCreate := b.Const(values.String("create"))
	kResume := b.Const(values.String("resume"))
	kPrint := b.Const(values.String("print"))

	b.EmitBx(opcodes.OP_CLOSURE, 0, uint32(bodyIdx))
	b.EmitBx(opcodes.OP_GETGLOBAL, 1, uint32(kCoroutine2))
	b.Emit(opcodes.OP_GETTABLE, 2, 1, kst(kCreate))
	b.Emit(opcodes.OP_MOVE, 3, 0, 0)
	b.Emit(opcodes.OP_CALL, 2, 2, 2) // R2 := coroutine.create(body)

	for _, base := range []int32{10, 17, 24} {
		b.EmitBx(opcodes.OP_GETGLOBAL, base, uint32(kCoroutine2))
		b.Emit(opcodes.OP_GETTABLE, base+1, base, kst(kResume))
		b.Emit(opcodes.OP_MOVE, base+2, 2, 0)
		b.Emit(opcodes.OP_CALL, base+1, 2, 3) // ok, val := coroutine.resume(co)
		b.EmitBx(opcodes.OP_GETGLOBAL, base+3, uint32(kPrint))
		b.Emit(opcodes.OP_MOVE, base+4, base+1, 0)
		b.Emit(opcodes.OP_MOVE, base+5, base+2, 0)
		b.Emit(opcodes.OP_CALL, base+3, 3, 1)
	}

	b.Emit(opcodes.OP_RETURN, 0, 1, 0)
	return b.Build()
}

// buildPcallDemo exercises pcall catching error() raised from a callee
// (§4.G/§7 unwind through a pcall barrier).
func buildPcallDemo() *registry.Prototype {
	boom := asm.New("demo:pcall:boom").Param(1).MaxStack(6)
	kError := boom.Const(values.String("error"))
	kZero := boom.Const(values.Int(0))
	kNeg := boom.Const(values.String("negative!"))

	boom.Emit(opcodes.OP_LT, 0, reg(0), kst(kZero))
	jmp := boom.Here()
	boom.EmitSBx(opcodes.OP_JMP, 0, 0)

	boom.EmitBx(opcodes.OP_GETGLOBAL, 1, uint32(kError))
	boom.EmitBx(opcodes.OP_LOADK, 2, uint32(kNeg))
	boom.Emit(opcodes.OP_CALL, 1, 2, 1)
	boom.Emit(opcodes.OP_RETURN, 0, 1, 0)

	mulAt := boom.Here()
	boom.EmitSBx(opcodes.OP_LOADI, 1, 2)
	boom.Emit(opcodes.OP_MUL, 2, reg(0), reg(1))
	boom.Emit(opcodes.OP_RETURN, 2, 2, 0)
	boom.PatchSBx(jmp, mulAt-jmp-1)

	boomProto := boom.Build()

	b := asm.New("demo:pcall").MaxStack(16)
	boomIdx := b.Nested(boomProto)
	kPcall := b.Const(values.String("pcall"))
	kPrint := b.Const(values.String("print"))

	b.EmitBx(opcodes.OP_CLOSURE, 0, uint32(boomIdx))

	b.EmitBx(opcodes.OP_GETGLOBAL, 1, uint32(kPcall))
	b.Emit(opcodes.OP_MOVE, 2, 0, 0)
	b.EmitSBx(opcodes.OP_LOADI, 3, 5)
	b.Emit(opcodes.OP_CALL, 1, 3, 3) // ok, a := pcall(boom, 5)
	b.EmitBx(opcodes.OP_GETGLOBAL, 4, uint32(kPrint))
	b.Emit(opcodes.OP_MOVE, 5, 1, 0)
	b.Emit(opcodes.OP_MOVE, 6, 2, 0)
	b.Emit(opcodes.OP_CALL, 4, 3, 1)

	b.EmitBx(opcodes.OP_GETGLOBAL, 8, uint32(kPcall))
	b.Emit(opcodes.OP_MOVE, 9, 0, 0)
	b.EmitSBx(opcodes.OP_LOADI, 10, -1)
	b.Emit(opcodes.OP_CALL, 8, 3, 3) // ok2, msg := pcall(boom, -1)
	b.EmitBx(opcodes.OP_GETGLOBAL, 11, uint32(kPrint))
	b.Emit(opcodes.OP_MOVE, 12, 8, 0)
	b.Emit(opcodes.OP_MOVE, 13, 9, 0)
	b.Emit(opcodes.OP_CALL, 11, 3, 1)

	b.Emit(opcodes.OP_RETURN, 0, 1, 0)
	return b.Build()
}
