// Package values implements the Lua value model: a tagged union of the
// runtime value kinds, the table aggregate, string interning, and the
// function/upvalue representations shared by the VM and the compiler
// front end.
package values

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Kind identifies which variant of Value is populated.
type Kind byte

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTable
	KindFunction
	KindUserdata
	KindThread
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindInt, KindFloat:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindFunction:
		return "function"
	case KindUserdata:
		return "userdata"
	case KindThread:
		return "thread"
	default:
		return "unknown"
	}
}

// Value is a tagged sum of every Lua runtime value. Int and Float are
// distinct numeric subtypes observable to the user (§3, §4.A); every other
// variant carries a Go pointer to storage shared by reference between every
// copy of the Value.
type Value struct {
	Kind Kind
	b    bool
	i    int64
	f    float64
	s    *StringValue
	data interface{} // *Table, *Function, *Userdata, *Thread (vm package via interface)
}

// Nil is the single shared nil value.
var Nil = Value{Kind: KindNil}

func Bool(b bool) Value { return Value{Kind: KindBool, b: b} }
func Int(i int64) Value { return Value{Kind: KindInt, i: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, f: f} }

func String(s string) Value {
	return Value{Kind: KindString, s: intern(s)}
}

func Table(t *TableValue) Value { return Value{Kind: KindTable, data: t} }

// Function wraps any value implementing the Callable contract (compiled
// closures live in the vm package; this package only needs the interface).
func Function(fn interface{}) Value { return Value{Kind: KindFunction, data: fn} }

func Userdata(u interface{}) Value { return Value{Kind: KindUserdata, data: u} }

func Thread(t interface{}) Value { return Value{Kind: KindThread, data: t} }

func (v Value) IsNil() bool   { return v.Kind == KindNil }
func (v Value) AsBool() bool  { return v.b }
func (v Value) AsInt() int64  { return v.i }
func (v Value) AsFloat() float64 { return v.f }
func (v Value) AsString() string {
	if v.s == nil {
		return ""
	}
	return v.s.str
}
func (v Value) Data() interface{} { return v.data }

// Truthy implements Lua truthiness: only nil and false are falsy (§4.D).
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNil:
		return false
	case KindBool:
		return v.b
	default:
		return true
	}
}

// IsNumber reports whether v is an Int or a Float.
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// ToFloat converts a numeric value to float64, matching Lua's widening
// conversion (exact for any int64 magnitude representable densely; large
// magnitudes lose precision exactly as Lua's own cast does).
func (v Value) ToFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// ToInt attempts the Lua "has no fractional part and round-trips exactly"
// integer coercion used by bitwise operators and table integer keys.
func (v Value) ToInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return floatToIntExact(v.f)
	default:
		return 0, false
	}
}

func floatToIntExact(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f != math.Trunc(f) {
		return 0, false
	}
	// Reject magnitudes that cannot round-trip through int64 (§4.A boundary:
	// i64::MAX as float becomes 2^63, which does not equal i64::MAX).
	if f < -9223372036854775808.0 || f >= 9223372036854775808.0 {
		return 0, false
	}
	i := int64(f)
	if float64(i) != f {
		return 0, false
	}
	return i, true
}

// TypeName returns the Lua-visible type name (used by `type()` and error
// messages such as "attempt to perform arithmetic on a <type> value").
func (v Value) TypeName() string { return v.Kind.String() }

// RawEqual implements raw (metamethod-free) equality per §4.A: Nil==Nil,
// Bool by value, Str by content, numeric cross-type equality with exact
// round-trip, everything else by identity.
func RawEqual(a, b Value) bool {
	if a.Kind == KindNil && b.Kind == KindNil {
		return true
	}
	if a.Kind == KindBool && b.Kind == KindBool {
		return a.b == b.b
	}
	if a.Kind == KindString && b.Kind == KindString {
		return a.s == b.s || a.s.str == b.s.str
	}
	if a.IsNumber() && b.IsNumber() {
		return numericEqual(a, b)
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindTable, KindFunction, KindUserdata, KindThread:
		return a.data == b.data
	}
	return false
}

// numericEqual implements the Int/Float boundary rule from §4.A and §8.7:
// Int==Int by value, Float==Float by bit-equality except NaN != NaN,
// Int==Float iff the float has no fractional part and both conversions are
// exact round-trips.
func numericEqual(a, b Value) bool {
	if a.Kind == KindInt && b.Kind == KindInt {
		return a.i == b.i
	}
	if a.Kind == KindFloat && b.Kind == KindFloat {
		if math.IsNaN(a.f) || math.IsNaN(b.f) {
			return false
		}
		return a.f == b.f
	}
	// Mixed Int/Float.
	var iv int64
	var fv float64
	if a.Kind == KindInt {
		iv, fv = a.i, b.f
	} else {
		iv, fv = b.i, a.f
	}
	if math.IsNaN(fv) || math.IsInf(fv, 0) {
		return false
	}
	asInt, ok := floatToIntExact(fv)
	if !ok {
		return false
	}
	return asInt == iv
}

// NumberLess implements the Int/Float ordering rule of §4.A: direct
// comparison within a subtype, mathematical-value comparison across
// subtypes without naive casting. NaN comparisons always return false.
func NumberLess(a, b Value) bool {
	if a.Kind == KindInt && b.Kind == KindInt {
		return a.i < b.i
	}
	if a.Kind == KindFloat && b.Kind == KindFloat {
		return a.f < b.f
	}
	var i int64
	var f float64
	intIsLeft := a.Kind == KindInt
	if intIsLeft {
		i, f = a.i, b.f
	} else {
		i, f = b.i, a.f
	}
	if math.IsNaN(f) {
		return false
	}
	if math.IsInf(f, 1) {
		return intIsLeft // i < +inf always true; +inf < i always false
	}
	if math.IsInf(f, -1) {
		return !intIsLeft // -inf < i always true; i < -inf always false
	}
	// Within the exact range, compare as float; outside it, compare via
	// big-ish integer reasoning by flooring/ceiling f to bracket it.
	const exactBound = 1 << 53
	if i > -exactBound && i < exactBound {
		fi := float64(i)
		if intIsLeft {
			return fi < f
		}
		return f < fi
	}
	lo := math.Floor(f)
	if lo == f {
		// f is an exact integer outside the float-exact range; compare the
		// integer parts directly where possible.
		if asInt, ok := floatToIntExact(f); ok {
			if intIsLeft {
				return i < asInt
			}
			return asInt < i
		}
	}
	if f >= 9223372036854775808.0 {
		return intIsLeft // every int64 is below 2^63
	}
	// f is fractional (so |f| < 2^53 <= |i|) or below -2^63 (under every
	// int64); in both cases the float comparison gives the mathematical order.
	if intIsLeft {
		return float64(i) < f
	}
	return f < float64(i)
}

// --- String interning -------------------------------------------------

// StringValue is the shared, immutable backing storage for a Lua string.
// Lua strings are byte strings, not Unicode (§3).
type StringValue struct {
	str string
}

var internTable = struct {
	mu sync.RWMutex
	m  map[string]*StringValue
}{m: make(map[string]*StringValue)}

func intern(s string) *StringValue {
	internTable.mu.RLock()
	if sv, ok := internTable.m[s]; ok {
		internTable.mu.RUnlock()
		return sv
	}
	internTable.mu.RUnlock()

	internTable.mu.Lock()
	defer internTable.mu.Unlock()
	if sv, ok := internTable.m[s]; ok {
		return sv
	}
	sv := &StringValue{str: s}
	internTable.m[s] = sv
	return sv
}

// --- Number formatting (§9 note 3) -------------------------------------

// ToDisplayString renders a Value the way Lua's tostring would for the
// variants owned by this package (numbers, strings, booleans, nil). Tables,
// functions, userdata and threads are rendered by the vm package, which
// knows their identity/handle representation.
func ToDisplayString(v Value) string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindString:
		return v.AsString()
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return FormatFloat(v.f)
	default:
		return fmt.Sprintf("%s: %p", v.Kind, v.data)
	}
}

// FormatFloat reproduces reference Lua's "%.14g" float formatting with the
// "no trailing .0 unless the result would otherwise look like an integer"
// rule: a float-typed value whose formatted text has no '.', 'e', 'n' (as in
// inf/nan) marker gets ".0" appended so it stays visibly distinct from an
// integer (§9 note 3).
func FormatFloat(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', 14, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// --- Table --------------------------------------------------------------

// TableValue is the mutable aggregate described by §3: a dense 1-based
// array part, a hash part keyed by any non-nil non-NaN value, an optional
// metatable, and border-based length semantics.
type TableValue struct {
	mu        sync.Mutex
	array     []Value // array[0] == Lua index 1
	hash      map[interface{}]Value
	hashOrder []interface{} // insertion order, for next()/pairs() (supplement #3)
	Metatable *TableValue
}

func NewTable() *TableValue {
	return &TableValue{hash: make(map[interface{}]Value)}
}

// normalizeKey converts a Value into a Go-comparable map key, or nil if the
// value cannot be used as a table key (nil or NaN, per §3's invariants).
func normalizeKey(k Value) (interface{}, bool) {
	switch k.Kind {
	case KindNil:
		return nil, false
	case KindFloat:
		if math.IsNaN(k.f) {
			return nil, false
		}
		if i, ok := floatToIntExact(k.f); ok {
			return i, true
		}
		return k.f, true
	case KindInt:
		return k.i, true
	case KindBool:
		return k.b, true
	case KindString:
		return k.s.str, true
	default:
		return k.data, true
	}
}

// Get implements raw table read: t[nil] always reads as Nil (§3).
func (t *TableValue) Get(k Value) Value {
	key, ok := normalizeKey(k)
	if !ok {
		return Nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx, isInt := key.(int64); isInt && idx >= 1 && int(idx) <= len(t.array) {
		return t.array[idx-1]
	}
	if v, ok := t.hash[key]; ok {
		return v
	}
	return Nil
}

// Set implements raw table write: writing Nil deletes the key (§3). A key
// present in the array part is never duplicated into the hash part.
func (t *TableValue) Set(k, v Value) {
	key, ok := normalizeKey(k)
	if !ok {
		return // nil/NaN keys are silently ignored by raw set's callers,
		// who must have already raised "table index is nil/NaN".
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, isInt := key.(int64); isInt && idx >= 1 {
		if int(idx) <= len(t.array) {
			if v.IsNil() && int(idx) == len(t.array) {
				t.array = t.array[:idx-1]
				t.shrinkArrayLocked()
			} else {
				t.array[idx-1] = v
			}
			return
		}
		if int(idx) == len(t.array)+1 && !v.IsNil() {
			t.array = append(t.array, v)
			t.migrateFromHashLocked()
			return
		}
	}
	if v.IsNil() {
		if _, existed := t.hash[key]; existed {
			delete(t.hash, key)
			t.removeOrderLocked(key)
		}
		return
	}
	if _, existed := t.hash[key]; !existed {
		t.hashOrder = append(t.hashOrder, key)
	}
	t.hash[key] = v
}

func (t *TableValue) shrinkArrayLocked() {
	for len(t.array) > 0 && t.array[len(t.array)-1].IsNil() {
		t.array = t.array[:len(t.array)-1]
	}
}

// migrateFromHashLocked pulls any now-contiguous integer keys out of the
// hash part and into the array part after an append extends the border.
func (t *TableValue) migrateFromHashLocked() {
	for {
		next := int64(len(t.array) + 1)
		v, ok := t.hash[next]
		if !ok {
			return
		}
		t.array = append(t.array, v)
		delete(t.hash, next)
		t.removeOrderLocked(next)
	}
}

func (t *TableValue) removeOrderLocked(key interface{}) {
	for i, k := range t.hashOrder {
		if k == key {
			t.hashOrder = append(t.hashOrder[:i], t.hashOrder[i+1:]...)
			return
		}
	}
}

// Len returns a border of the array part per §3/§4.D LEN semantics: the
// largest n such that t[n] is non-nil and t[n+1] is nil (or n==0).
func (t *TableValue) Len() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.array))
}

// Next implements the `next(t, k)` iteration protocol (supplement #3):
// array part first in index order, then the hash part in insertion order.
func (t *TableValue) Next(k Value) (Value, Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if k.IsNil() {
		if len(t.array) > 0 {
			return Int(1), t.array[0], true
		}
		return t.firstHashLocked()
	}

	key, ok := normalizeKey(k)
	if ok {
		if idx, isInt := key.(int64); isInt && idx >= 1 && int(idx) <= len(t.array) {
			if int(idx) < len(t.array) {
				return Int(idx + 1), t.array[idx], true
			}
			return t.firstHashLocked()
		}
		for i, hk := range t.hashOrder {
			if hk == key {
				if i+1 < len(t.hashOrder) {
					nk := t.hashOrder[i+1]
					return keyToValue(nk), t.hash[nk], true
				}
				return Nil, Nil, false
			}
		}
	}
	return Nil, Nil, false
}

func (t *TableValue) firstHashLocked() (Value, Value, bool) {
	if len(t.hashOrder) == 0 {
		return Nil, Nil, false
	}
	k := t.hashOrder[0]
	return keyToValue(k), t.hash[k], true
}

func keyToValue(k interface{}) Value {
	switch x := k.(type) {
	case int64:
		return Int(x)
	case float64:
		return Float(x)
	case bool:
		return Bool(x)
	case string:
		return String(x)
	default:
		return Value{Kind: KindTable, data: x}
	}
}

// SortedHashKeysForTest exposes deterministic iteration order for tests
// that don't care about `next`'s exact protocol but want reproducibility.
func (t *TableValue) SortedHashKeysForTest() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.hashOrder))
	for _, k := range t.hashOrder {
		out = append(out, fmt.Sprintf("%v", k))
	}
	sort.Strings(out)
	return out
}
