package vm

import (
	"math"
	"strings"

	"github.com/wudi/luavm/opcodes"
	"github.com/wudi/luavm/values"
)

// maxMetaChain bounds __index/__newindex chain following and caps the cost
// of a metatable loop a malformed program might construct (§4.F).
const maxMetaChain = 100

// arithMetaName maps an arithmetic/bitwise opcode to its metamethod name
// (§4.D/§4.F).
func arithMetaName(op opcodes.Opcode) string {
	switch op {
	case opcodes.OP_ADD:
		return "__add"
	case opcodes.OP_SUB:
		return "__sub"
	case opcodes.OP_MUL:
		return "__mul"
	case opcodes.OP_DIV:
		return "__div"
	case opcodes.OP_MOD:
		return "__mod"
	case opcodes.OP_POW:
		return "__pow"
	case opcodes.OP_IDIV:
		return "__idiv"
	case opcodes.OP_BAND:
		return "__band"
	case opcodes.OP_BOR:
		return "__bor"
	case opcodes.OP_BXOR:
		return "__bxor"
	case opcodes.OP_SHL:
		return "__shl"
	case opcodes.OP_SHR:
		return "__shr"
	default:
		return ""
	}
}

// arith evaluates one arithmetic/bitwise opcode against a, b per §4.A/§4.D:
// Int op Int stays Int for the bitwise-safe operators, everything else
// promotes to Float the moment either operand is a Float or cannot coerce,
// and a metamethod is tried only once both fast paths fail.
func (t *Thread) arith(frame *Frame, op opcodes.Opcode, a, b values.Value) (values.Value, error) {
	if isBitwise(op) {
		ai, aok := a.ToInt()
		bi, bok := b.ToInt()
		if aok && bok {
			return bitwiseOp(op, ai, bi)
		}
	} else if a.IsNumber() && b.IsNumber() {
		if v, ok := numericArith(op, a, b); ok {
			return v, nil
		}
	}

	if mm, ok := t.resolveBinaryMeta(a, b, arithMetaName(op)); ok {
		return t.callMetamethodSync(mm, a, b)
	}

	offender := a
	if a.IsNumber() || (isBitwise(op) && isIntCoercible(a)) {
		offender = b
	}
	verb := "perform arithmetic on"
	if isBitwise(op) {
		verb = "perform bitwise operation on"
	}
	return values.Nil, newRuntimeError(frame, "attempt to "+verb+" a "+offender.TypeName()+" value")
}

func isIntCoercible(v values.Value) bool {
	_, ok := v.ToInt()
	return ok
}

func isBitwise(op opcodes.Opcode) bool {
	switch op {
	case opcodes.OP_BAND, opcodes.OP_BOR, opcodes.OP_BXOR, opcodes.OP_SHL, opcodes.OP_SHR:
		return true
	default:
		return false
	}
}

func bitwiseOp(op opcodes.Opcode, a, b int64) (values.Value, error) {
	switch op {
	case opcodes.OP_BAND:
		return values.Int(a & b), nil
	case opcodes.OP_BOR:
		return values.Int(a | b), nil
	case opcodes.OP_BXOR:
		return values.Int(a ^ b), nil
	case opcodes.OP_SHL:
		return values.Int(shiftLeft(a, b)), nil
	case opcodes.OP_SHR:
		return values.Int(shiftLeft(a, -b)), nil
	default:
		return values.Nil, nil
	}
}

// shiftLeft implements Lua's shift semantics: a negative count shifts the
// other way, and a count with magnitude >= 64 always yields 0 (§4.D).
func shiftLeft(a, n int64) int64 {
	if n <= -64 || n >= 64 {
		return 0
	}
	if n >= 0 {
		return int64(uint64(a) << uint(n))
	}
	return int64(uint64(a) >> uint(-n))
}

// numericArith handles the non-bitwise operators once both operands are
// confirmed numeric (§4.A): DIV and POW always produce Float; the rest stay
// Int iff both operands are Int.
func numericArith(op opcodes.Opcode, a, b values.Value) (values.Value, bool) {
	bothInt := a.Kind == values.KindInt && b.Kind == values.KindInt
	af, _ := a.ToFloat()
	bf, _ := b.ToFloat()

	switch op {
	case opcodes.OP_ADD:
		if bothInt {
			return values.Int(a.AsInt() + b.AsInt()), true
		}
		return values.Float(af + bf), true
	case opcodes.OP_SUB:
		if bothInt {
			return values.Int(a.AsInt() - b.AsInt()), true
		}
		return values.Float(af - bf), true
	case opcodes.OP_MUL:
		if bothInt {
			return values.Int(a.AsInt() * b.AsInt()), true
		}
		return values.Float(af * bf), true
	case opcodes.OP_DIV:
		return values.Float(af / bf), true
	case opcodes.OP_POW:
		return values.Float(math.Pow(af, bf)), true
	case opcodes.OP_MOD:
		if bothInt {
			bi := b.AsInt()
			if bi == 0 {
				return values.Nil, false
			}
			m := a.AsInt() % bi
			if m != 0 && (m^bi) < 0 {
				m += bi
			}
			return values.Int(m), true
		}
		m := math.Mod(af, bf)
		if m != 0 && (m < 0) != (bf < 0) {
			m += bf
		}
		return values.Float(m), true
	case opcodes.OP_IDIV:
		if bothInt {
			bi := b.AsInt()
			if bi == 0 {
				return values.Nil, false
			}
			q := a.AsInt() / bi
			if (a.AsInt()%bi != 0) && ((a.AsInt() < 0) != (bi < 0)) {
				q--
			}
			return values.Int(q), true
		}
		return values.Float(math.Floor(af / bf)), true
	default:
		return values.Nil, false
	}
}

// unm implements unary minus (§4.D OP_UNM): preserves Int/Float subtype on
// the fast path, falls back to __unm otherwise.
func (t *Thread) unm(frame *Frame, v values.Value) (values.Value, error) {
	switch v.Kind {
	case values.KindInt:
		return values.Int(-v.AsInt()), nil
	case values.KindFloat:
		return values.Float(-v.AsFloat()), nil
	}
	if mm, ok := t.resolveBinaryMeta(v, v, "__unm"); ok {
		return t.callMetamethodSync(mm, v, v)
	}
	return values.Nil, newRuntimeError(frame, "attempt to perform arithmetic on a "+v.TypeName()+" value")
}

func (t *Thread) bnot(frame *Frame, v values.Value) (values.Value, error) {
	if i, ok := v.ToInt(); ok {
		return values.Int(^i), nil
	}
	if mm, ok := t.resolveBinaryMeta(v, v, "__bnot"); ok {
		return t.callMetamethodSync(mm, v, v)
	}
	return values.Nil, newRuntimeError(frame, "attempt to perform bitwise operation on a "+v.TypeName()+" value")
}

// concat implements OP_CONCAT's pairwise ".." fold (§4.D): numbers coerce
// to their display text, strings concatenate byte-wise, anything else tries
// __concat (right-associatively, matching reference Lua's evaluation order).
func (t *Thread) concat(frame *Frame, a, b values.Value) (values.Value, error) {
	if concatable(a) && concatable(b) {
		return values.String(concatText(a) + concatText(b)), nil
	}
	if mm, ok := t.resolveBinaryMeta(a, b, "__concat"); ok {
		return t.callMetamethodSync(mm, a, b)
	}
	offender := a
	if concatable(a) {
		offender = b
	}
	return values.Nil, newRuntimeError(frame, "attempt to concatenate a "+offender.TypeName()+" value")
}

func concatable(v values.Value) bool { return v.Kind == values.KindString || v.IsNumber() }

func concatText(v values.Value) string {
	if v.Kind == values.KindString {
		return v.AsString()
	}
	return values.ToDisplayString(v)
}

// length implements OP_LEN: tables use the border-based raw length unless
// __len overrides it; strings use byte length; anything else needs __len.
func (t *Thread) length(frame *Frame, v values.Value) (values.Value, error) {
	mt := t.vm.metatableOf(v)
	if mt != nil {
		if h := mt.Get(values.String("__len")); !h.IsNil() {
			return t.callMetamethodSync(h, v, values.Nil)
		}
	}
	switch v.Kind {
	case values.KindString:
		return values.Int(int64(len(v.AsString()))), nil
	case values.KindTable:
		tbl := v.Data().(*values.TableValue)
		return values.Int(tbl.Len()), nil
	default:
		return values.Nil, newRuntimeError(frame, "attempt to get length of a "+v.TypeName()+" value")
	}
}

// equals implements OP_EQ (§4.A/§4.D/§4.F, §8 invariant 8): raw equality
// first; __eq is tried only when both operands are tables (or both
// userdata), raw equality failed, and both share the identical metatable
// reference — unlike __add/__lt/__le, __eq never fires from just one side.
func (t *Thread) equals(a, b values.Value) (bool, error) {
	if values.RawEqual(a, b) {
		return true, nil
	}
	if a.Kind != b.Kind || (a.Kind != values.KindTable && a.Kind != values.KindUserdata) {
		return false, nil
	}
	mtA := t.vm.metatableOf(a)
	mtB := t.vm.metatableOf(b)
	if mtA == nil || mtA != mtB {
		return false, nil
	}
	mm := mtA.Get(values.String("__eq"))
	if mm.IsNil() {
		return false, nil
	}
	res, err := t.callMetamethodSync(mm, a, b)
	if err != nil {
		return false, err
	}
	return res.Truthy(), nil
}

// less/lessEqual implement OP_LT/OP_LE (§4.A/§4.F): numeric/string fast
// paths, then __lt/__le.
func (t *Thread) less(frame *Frame, a, b values.Value) (bool, error) {
	if a.IsNumber() && b.IsNumber() {
		return values.NumberLess(a, b), nil
	}
	if a.Kind == values.KindString && b.Kind == values.KindString {
		return strings.Compare(a.AsString(), b.AsString()) < 0, nil
	}
	if mm, ok := t.resolveBinaryMeta(a, b, "__lt"); ok {
		res, err := t.callMetamethodSync(mm, a, b)
		if err != nil {
			return false, err
		}
		return res.Truthy(), nil
	}
	return false, newRuntimeError(frame, "attempt to compare two "+a.TypeName()+" values")
}

func (t *Thread) lessEqual(frame *Frame, a, b values.Value) (bool, error) {
	if a.IsNumber() && b.IsNumber() {
		return !values.NumberLess(b, a), nil
	}
	if a.Kind == values.KindString && b.Kind == values.KindString {
		return strings.Compare(a.AsString(), b.AsString()) <= 0, nil
	}
	if mm, ok := t.resolveBinaryMeta(a, b, "__le"); ok {
		res, err := t.callMetamethodSync(mm, a, b)
		if err != nil {
			return false, err
		}
		return res.Truthy(), nil
	}
	return false, newRuntimeError(frame, "attempt to compare two "+a.TypeName()+" values")
}

// resolveBinaryMeta looks up name on a's metatable, falling back to b's.
func (t *Thread) resolveBinaryMeta(a, b values.Value, name string) (values.Value, bool) {
	if mt := t.vm.metatableOf(a); mt != nil {
		if h := mt.Get(values.String(name)); !h.IsNil() {
			return h, true
		}
	}
	if mt := t.vm.metatableOf(b); mt != nil {
		if h := mt.Get(values.String(name)); !h.IsNil() {
			return h, true
		}
	}
	return values.Nil, false
}

// runNested drives a fresh, isolated trampoline pass to completion: it
// invokes fn on a saved-aside execStack/current so the enclosing opcode
// dispatch (arithmetic, comparison, length, concatenation, __index,
// __newindex) can call into a metamethod without growing the caller's own
// execStack or disturbing its pc, then restores the caller's state before
// returning. A yield reaching here - from coroutine.yield or from an OP_YIELD
// inside the metamethod - has no barrier to suspend into, so it is reported
// as an error rather than propagated (§4.F, §4.H).
func (t *Thread) runNested(fn values.Value, args []values.Value, wanted int32) ([]values.Value, error) {
	saved := t.current
	savedStack := t.execStack
	savedFinal := t.finalResults
	t.execStack = nil
	t.finalResults = nil

	restore := func() {
		t.current = saved
		t.execStack = savedStack
		t.finalResults = savedFinal
	}

	if err := t.invokeCallable(fn, args, 0, wanted); err != nil {
		restore()
		return nil, err
	}
	for t.current != nil {
		frame := t.current
		if int(frame.pc) < 0 || int(frame.pc) >= len(frame.Proto.Instructions) {
			if err := t.handleReturn(nil); err != nil {
				restore()
				return nil, err
			}
			continue
		}
		inst := frame.Proto.Instructions[frame.pc]
		dir, err := t.vm.dispatch(t, frame, inst)
		if err != nil {
			if e2 := t.unwind(err); e2 != nil {
				restore()
				return nil, e2
			}
			continue
		}
		switch dir.kind {
		case dContinue:
			frame.pc++
		case dSkipNext:
			frame.pc += 2
		case dJump:
			frame.pc = dir.jumpPC
		case dReturn:
			if err := t.handleReturn(dir.returnValues); err != nil {
				restore()
				return nil, err
			}
		case dCall, dTailCall:
			err := t.dispatchCall(dir, dir.kind == dTailCall)
			if err != nil {
				if err == errYield {
					restore()
					return nil, newRuntimeError(saved, "attempt to yield from inside a metamethod")
				}
				if e2 := t.unwind(err); e2 != nil {
					restore()
					return nil, e2
				}
			}
		case dYield:
			restore()
			return nil, newRuntimeError(saved, "attempt to yield from inside a metamethod")
		}
	}

	results := t.finalResults
	restore()
	return results, nil
}

// callMetamethodSync runs a two-argument metamethod (every binary op plus
// __unm/__bnot/__len, which pass the same operand twice) to completion and
// returns its first result (§4.F).
func (t *Thread) callMetamethodSync(fn, a, b values.Value) (values.Value, error) {
	results, err := t.runNested(fn, []values.Value{a, b}, 1)
	if err != nil {
		return values.Nil, err
	}
	if len(results) == 0 {
		return values.Nil, nil
	}
	return results[0], nil
}

// index implements GETTABLE's full __index chain (§4.F): a raw table hit
// wins immediately; otherwise __index is followed up to maxMetaChain times,
// calling it as a function or recursing into it as a table.
func (t *Thread) index(frame *Frame, obj, key values.Value) (values.Value, error) {
	cur := obj
	for i := 0; i < maxMetaChain; i++ {
		if cur.Kind == values.KindTable {
			tbl := cur.Data().(*values.TableValue)
			v := tbl.Get(key)
			if !v.IsNil() {
				return v, nil
			}
			if tbl.Metatable == nil {
				return values.Nil, nil
			}
			h := tbl.Metatable.Get(values.String("__index"))
			if h.IsNil() {
				return values.Nil, nil
			}
			if h.Kind == values.KindFunction {
				return t.callMetamethodSync(h, cur, key)
			}
			cur = h
			continue
		}
		mt := t.vm.metatableOf(cur)
		if mt == nil {
			return values.Nil, newRuntimeError(frame, "attempt to index a "+cur.TypeName()+" value")
		}
		h := mt.Get(values.String("__index"))
		if h.IsNil() {
			return values.Nil, newRuntimeError(frame, "attempt to index a "+cur.TypeName()+" value")
		}
		if h.Kind == values.KindFunction {
			return t.callMetamethodSync(h, cur, key)
		}
		cur = h
	}
	return values.Nil, newRuntimeError(frame, "'__index' chain too long; possible loop")
}

// newindex implements SETTABLE's full __newindex chain (§4.F): a raw hit on
// an existing key, or a table with no __newindex handler, writes directly.
func (t *Thread) newindex(frame *Frame, obj, key, val values.Value) error {
	cur := obj
	for i := 0; i < maxMetaChain; i++ {
		if cur.Kind != values.KindTable {
			mt := t.vm.metatableOf(cur)
			if mt == nil {
				return newRuntimeError(frame, "attempt to index a "+cur.TypeName()+" value")
			}
			h := mt.Get(values.String("__newindex"))
			if h.IsNil() {
				return newRuntimeError(frame, "attempt to index a "+cur.TypeName()+" value")
			}
			if h.Kind == values.KindFunction {
				return t.storeNewindexThirdArg(h, cur, key, val)
			}
			cur = h
			continue
		}
		tbl := cur.Data().(*values.TableValue)
		if !tbl.Get(key).IsNil() || tbl.Metatable == nil {
			if key.IsNil() {
				return newRuntimeError(frame, "table index is nil")
			}
			if key.Kind == values.KindFloat && math.IsNaN(key.AsFloat()) {
				return newRuntimeError(frame, "table index is NaN")
			}
			tbl.Set(key, val)
			return nil
		}
		h := tbl.Metatable.Get(values.String("__newindex"))
		if h.IsNil() {
			if key.IsNil() {
				return newRuntimeError(frame, "table index is nil")
			}
			tbl.Set(key, val)
			return nil
		}
		if h.Kind == values.KindFunction {
			return t.storeNewindexThirdArg(h, cur, key, val)
		}
		cur = h
	}
	return newRuntimeError(frame, "'__newindex' chain too long; possible loop")
}

// storeNewindexThirdArg invokes a function-valued __newindex with all three
// arguments Lua passes it (table, key, value); kept separate from
// callMetamethodSync, which only threads two operands, since every other
// metamethod caller needs exactly two.
func (t *Thread) storeNewindexThirdArg(h, obj, key, val values.Value) error {
	_, err := t.runNested(h, []values.Value{obj, key, val}, 0)
	return err
}
