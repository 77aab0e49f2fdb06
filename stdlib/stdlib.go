// Package stdlib implements the handful of Lua standard-library functions
// that are plain compute-and-return builtins (no trampoline access needed):
// the base library's print/type/tostring/raw*/setmetatable family, next/
// pairs/ipairs, a minimal math table, and table.unpack. Everything that
// must reach into the running thread's call stack - pcall, xpcall, error,
// coroutine.* - is an Intrinsic living in the vm package instead (§1, §4.H).
package stdlib

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/wudi/luavm/registry"
	"github.com/wudi/luavm/values"
)

// builtinSpec is a table-driven registration entry, following the shape of
// the teacher's builtinFunctionSpecs loop in runtime/runtime.go.
type builtinSpec struct {
	Name string
	Impl registry.BuiltinImplementation
}

// Install registers every base-library builtin on ctx via register, which
// the caller adapts to its own global table (vm.VM.RegisterNative).
func Install(ctx registry.BuiltinCallContext, register func(name string, impl registry.BuiltinImplementation)) {
	for _, spec := range builtinSpecs {
		register(spec.Name, spec.Impl)
	}

	mathTable := ctx.NewTable()
	for name, v := range mathConstants() {
		mathTable.Set(values.String(name), v)
	}
	for name, impl := range mathFunctions() {
		mathTable.Set(values.String(name), values.Function(wrapNative(name, impl)))
	}
	ctx.SetGlobal("math", values.Table(mathTable))

	tableLib := ctx.NewTable()
	tableLib.Set(values.String("unpack"), values.Function(wrapNative("unpack", tableUnpack)))
	tableLib.Set(values.String("pack"), values.Function(wrapNative("pack", tablePack)))
	tableLib.Set(values.String("insert"), values.Function(wrapNative("insert", tableInsert)))
	tableLib.Set(values.String("remove"), values.Function(wrapNative("remove", tableRemove)))
	tableLib.Set(values.String("concat"), values.Function(wrapNative("concat", tableConcat)))
	ctx.SetGlobal("table", values.Table(tableLib))
}

// wrapNative lets stdlib hand back a values.Function payload without
// importing the vm package (which would create a cycle). Top-level builtins
// go through RegisterNative, which wraps them in a vm.Native; the nested
// math/table entries and the iterators returned by pairs/ipairs store the
// bare *registry.NativeFunction instead, which the vm package's callableFrom
// wraps in a vm.Native when the value is called.
func wrapNative(name string, impl registry.BuiltinImplementation) *registry.NativeFunction {
	return &registry.NativeFunction{Name: name, Impl: impl}
}

var builtinSpecs = []builtinSpec{
	{"print", biPrint},
	{"type", biType},
	{"tostring", biToString},
	{"tonumber", biToNumber},
	{"rawget", biRawGet},
	{"rawset", biRawSet},
	{"rawequal", biRawEqual},
	{"rawlen", biRawLen},
	{"setmetatable", biSetMetatable},
	{"getmetatable", biGetMetatable},
	{"next", biNext},
	{"pairs", biPairs},
	{"ipairs", biIPairs},
	{"select", biSelect},
}

func biPrint(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = displayString(ctx, a)
	}
	fmt.Fprintln(os.Stdout, strings.Join(parts, "\t"))
	return nil, nil
}

func biType(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 to 'type' (value expected)")
	}
	return []values.Value{values.String(args[0].TypeName())}, nil
}

func biToString(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return []values.Value{values.String("nil")}, nil
	}
	return []values.Value{values.String(displayString(ctx, args[0]))}, nil
}

// displayString defers to __tostring when the value's metatable provides
// one, since stdlib cannot reach vm.metatableOf directly; table/function/
// userdata/thread values without __tostring fall back to a Kind:ptr form.
func displayString(ctx registry.BuiltinCallContext, v values.Value) string {
	if v.Kind == values.KindTable {
		if t, ok := v.Data().(*values.TableValue); ok && t.Metatable != nil {
			if h := t.Metatable.Get(values.String("__tostring")); !h.IsNil() {
				if caller, ok := ctx.(interface {
					CallValue(values.Value, []values.Value) ([]values.Value, error)
				}); ok {
					if res, err := caller.CallValue(h, []values.Value{v}); err == nil && len(res) > 0 {
						return res[0].AsString()
					}
				}
			}
		}
	}
	return values.ToDisplayString(v)
}

func biToNumber(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return []values.Value{values.Nil}, nil
	}
	if len(args) >= 2 {
		base, ok := args[1].ToInt()
		if !ok || args[0].Kind != values.KindString {
			return []values.Value{values.Nil}, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(args[0].AsString()), int(base), 64)
		if err != nil {
			return []values.Value{values.Nil}, nil
		}
		return []values.Value{values.Int(n)}, nil
	}
	switch args[0].Kind {
	case values.KindInt, values.KindFloat:
		return []values.Value{args[0]}, nil
	case values.KindString:
		s := strings.TrimSpace(args[0].AsString())
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return []values.Value{values.Int(i)}, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return []values.Value{values.Float(f)}, nil
		}
		return []values.Value{values.Nil}, nil
	default:
		return []values.Value{values.Nil}, nil
	}
}

func biRawGet(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) < 2 {
		return nil, ctx.Raise("bad argument #2 to 'rawget' (value expected)")
	}
	t, ok := args[0].Data().(*values.TableValue)
	if !ok {
		return nil, ctx.Raise("bad argument #1 to 'rawget' (table expected)")
	}
	return []values.Value{t.Get(args[1])}, nil
}

func biRawSet(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) < 3 {
		return nil, ctx.Raise("bad argument #3 to 'rawset' (value expected)")
	}
	t, ok := args[0].Data().(*values.TableValue)
	if !ok {
		return nil, ctx.Raise("bad argument #1 to 'rawset' (table expected)")
	}
	t.Set(args[1], args[2])
	return []values.Value{args[0]}, nil
}

func biRawEqual(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) < 2 {
		return []values.Value{values.Bool(false)}, nil
	}
	return []values.Value{values.Bool(values.RawEqual(args[0], args[1]))}, nil
}

func biRawLen(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 to 'rawlen' (table or string expected)")
	}
	switch args[0].Kind {
	case values.KindTable:
		t := args[0].Data().(*values.TableValue)
		return []values.Value{values.Int(t.Len())}, nil
	case values.KindString:
		return []values.Value{values.Int(int64(len(args[0].AsString())))}, nil
	default:
		return nil, ctx.Raise("table or string expected")
	}
}

func biSetMetatable(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) < 1 {
		return nil, ctx.Raise("bad argument #1 to 'setmetatable' (table expected)")
	}
	t, ok := args[0].Data().(*values.TableValue)
	if !ok {
		return nil, ctx.Raise("bad argument #1 to 'setmetatable' (table expected)")
	}
	if t.Metatable != nil && !t.Metatable.Get(values.String("__metatable")).IsNil() {
		return nil, ctx.Raise("cannot change a protected metatable")
	}
	if len(args) < 2 || args[1].IsNil() {
		t.Metatable = nil
		return []values.Value{args[0]}, nil
	}
	mt, ok := args[1].Data().(*values.TableValue)
	if !ok {
		return nil, ctx.Raise("bad argument #2 to 'setmetatable' (nil or table expected)")
	}
	t.Metatable = mt
	return []values.Value{args[0]}, nil
}

func biGetMetatable(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return []values.Value{values.Nil}, nil
	}
	t, ok := args[0].Data().(*values.TableValue)
	if !ok || t.Metatable == nil {
		return []values.Value{values.Nil}, nil
	}
	if protected := t.Metatable.Get(values.String("__metatable")); !protected.IsNil() {
		return []values.Value{protected}, nil
	}
	return []values.Value{values.Table(t.Metatable)}, nil
}

func biNext(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 to 'next' (table expected)")
	}
	t, ok := args[0].Data().(*values.TableValue)
	if !ok {
		return nil, ctx.Raise("bad argument #1 to 'next' (table expected)")
	}
	var key values.Value
	if len(args) > 1 {
		key = args[1]
	}
	k, v, ok := t.Next(key)
	if !ok {
		return []values.Value{values.Nil}, nil
	}
	return []values.Value{k, v}, nil
}

func biPairs(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 to 'pairs' (table expected)")
	}
	nextFn := wrapNative("next", biNext)
	return []values.Value{values.Function(nextFn), args[0], values.Nil}, nil
}

func biIPairs(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 to 'ipairs' (table expected)")
	}
	iter := wrapNative("inext", func(ctx registry.BuiltinCallContext, a []values.Value) ([]values.Value, error) {
		t, ok := a[0].Data().(*values.TableValue)
		if !ok {
			return nil, ctx.Raise("bad argument #1 to 'inext' (table expected)")
		}
		i, _ := a[1].ToInt()
		i++
		v := t.Get(values.Int(i))
		if v.IsNil() {
			return []values.Value{values.Nil}, nil
		}
		return []values.Value{values.Int(i), v}, nil
	})
	return []values.Value{values.Function(iter), args[0], values.Int(0)}, nil
}

func biSelect(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 to 'select' (number expected)")
	}
	if args[0].Kind == values.KindString && args[0].AsString() == "#" {
		return []values.Value{values.Int(int64(len(args) - 1))}, nil
	}
	n, ok := args[0].ToInt()
	if !ok || n < 1 {
		return nil, ctx.Raise("bad argument #1 to 'select' (index out of range)")
	}
	if int(n) >= len(args) {
		return nil, nil
	}
	return args[n:], nil
}

func mathConstants() map[string]values.Value {
	return map[string]values.Value{
		"huge":    values.Float(math.Inf(1)),
		"pi":      values.Float(math.Pi),
		"maxinteger": values.Int(math.MaxInt64),
		"mininteger": values.Int(math.MinInt64),
	}
}

func mathFunctions() map[string]registry.BuiltinImplementation {
	return map[string]registry.BuiltinImplementation{
		"floor": mathUnary(math.Floor, true),
		"ceil":  mathUnary(math.Ceil, true),
		"abs":   mathAbs,
		"sqrt":  mathUnary(math.Sqrt, false),
		"type":  mathType,
		"tointeger": mathToInteger,
		"max": mathMax,
		"min": mathMin,
	}
}

func mathUnary(f func(float64) float64, toInt bool) registry.BuiltinImplementation {
	return func(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
		if len(args) == 0 {
			return nil, ctx.Raise("bad argument #1 (number expected)")
		}
		v, ok := args[0].ToFloat()
		if !ok {
			return nil, ctx.Raise("bad argument #1 (number expected)")
		}
		r := f(v)
		if toInt {
			if i, exact := values.Float(r).ToInt(); exact {
				return []values.Value{values.Int(i)}, nil
			}
		}
		return []values.Value{values.Float(r)}, nil
	}
}

func mathAbs(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 to 'abs' (number expected)")
	}
	if args[0].Kind == values.KindInt {
		i := args[0].AsInt()
		if i < 0 {
			i = -i
		}
		return []values.Value{values.Int(i)}, nil
	}
	f, ok := args[0].ToFloat()
	if !ok {
		return nil, ctx.Raise("bad argument #1 to 'abs' (number expected)")
	}
	return []values.Value{values.Float(math.Abs(f))}, nil
}

func mathType(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return []values.Value{values.Nil}, nil
	}
	switch args[0].Kind {
	case values.KindInt:
		return []values.Value{values.String("integer")}, nil
	case values.KindFloat:
		return []values.Value{values.String("float")}, nil
	default:
		return []values.Value{values.Nil}, nil
	}
}

func mathToInteger(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return []values.Value{values.Nil}, nil
	}
	if i, ok := args[0].ToInt(); ok && args[0].IsNumber() {
		return []values.Value{values.Int(i)}, nil
	}
	return []values.Value{values.Nil}, nil
}

func mathMax(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	return mathExtreme(ctx, args, values.NumberLess)
}

func mathMin(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	return mathExtreme(ctx, args, func(a, b values.Value) bool { return values.NumberLess(b, a) })
}

func mathExtreme(ctx registry.BuiltinCallContext, args []values.Value, less func(a, b values.Value) bool) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 (number expected)")
	}
	best := args[0]
	for _, v := range args[1:] {
		if less(best, v) {
			best = v
		}
	}
	return []values.Value{best}, nil
}

func tableUnpack(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 to 'unpack' (table expected)")
	}
	t, ok := args[0].Data().(*values.TableValue)
	if !ok {
		return nil, ctx.Raise("bad argument #1 to 'unpack' (table expected)")
	}
	i := int64(1)
	j := t.Len()
	if len(args) > 1 {
		if v, ok := args[1].ToInt(); ok {
			i = v
		}
	}
	if len(args) > 2 {
		if v, ok := args[2].ToInt(); ok {
			j = values.ClampIndex(v, int64(0), t.Len())
		}
	}
	if i > j {
		return nil, nil
	}
	out := make([]values.Value, 0, j-i+1)
	for k := i; k <= j; k++ {
		out = append(out, t.Get(values.Int(k)))
	}
	return out, nil
}

func tablePack(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	t := ctx.NewTable()
	for i, v := range args {
		t.Set(values.Int(int64(i+1)), v)
	}
	t.Set(values.String("n"), values.Int(int64(len(args))))
	return []values.Value{values.Table(t)}, nil
}

func tableInsert(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) < 2 {
		return nil, ctx.Raise("wrong number of arguments to 'insert'")
	}
	t, ok := args[0].Data().(*values.TableValue)
	if !ok {
		return nil, ctx.Raise("bad argument #1 to 'insert' (table expected)")
	}
	n := t.Len()
	if len(args) == 2 {
		t.Set(values.Int(n+1), args[1])
		return nil, nil
	}
	pos, ok := args[1].ToInt()
	if !ok {
		return nil, ctx.Raise("bad argument #2 to 'insert' (number expected)")
	}
	for k := n + 1; k > pos; k-- {
		t.Set(values.Int(k), t.Get(values.Int(k-1)))
	}
	t.Set(values.Int(pos), args[2])
	return nil, nil
}

func tableRemove(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 to 'remove' (table expected)")
	}
	t, ok := args[0].Data().(*values.TableValue)
	if !ok {
		return nil, ctx.Raise("bad argument #1 to 'remove' (table expected)")
	}
	n := t.Len()
	pos := n
	if len(args) > 1 {
		if v, ok := args[1].ToInt(); ok {
			pos = v
		}
	}
	if n == 0 {
		return []values.Value{values.Nil}, nil
	}
	removed := t.Get(values.Int(pos))
	for k := pos; k < n; k++ {
		t.Set(values.Int(k), t.Get(values.Int(k+1)))
	}
	t.Set(values.Int(n), values.Nil)
	return []values.Value{removed}, nil
}

func tableConcat(ctx registry.BuiltinCallContext, args []values.Value) ([]values.Value, error) {
	if len(args) == 0 {
		return nil, ctx.Raise("bad argument #1 to 'concat' (table expected)")
	}
	t, ok := args[0].Data().(*values.TableValue)
	if !ok {
		return nil, ctx.Raise("bad argument #1 to 'concat' (table expected)")
	}
	sep := ""
	if len(args) > 1 && args[1].Kind == values.KindString {
		sep = args[1].AsString()
	}
	i := int64(1)
	j := t.Len()
	if len(args) > 2 {
		if v, ok := args[2].ToInt(); ok {
			i = values.MaxInt(v, int64(1))
		}
	}
	if len(args) > 3 {
		if v, ok := args[3].ToInt(); ok {
			j = values.MinInt(v, t.Len())
		}
	}
	var parts []string
	for k := i; k <= j; k++ {
		parts = append(parts, values.ToDisplayString(t.Get(values.Int(k))))
	}
	return []values.Value{values.String(strings.Join(parts, sep))}, nil
}
