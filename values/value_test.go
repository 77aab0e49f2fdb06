package values

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawEqualCrossNumericType(t *testing.T) {
	assert.True(t, RawEqual(Int(3), Float(3.0)))
	assert.False(t, RawEqual(Int(3), Float(3.5)))
	assert.True(t, RawEqual(String("abc"), String("abc")))
	assert.False(t, RawEqual(Nil, Bool(false)))
}

func TestNumberLessIntFloat(t *testing.T) {
	assert.True(t, NumberLess(Int(1), Float(1.5)))
	assert.False(t, NumberLess(Float(1.5), Int(1)))
	assert.True(t, NumberLess(Int(2), Int(3)))
	assert.False(t, NumberLess(Int(3), Int(3)))
}

func TestNumberLessStep(t *testing.T) {
	// A negative-step numeric for counts down, so NumberLess must order
	// correctly for descending comparisons too (cmd/lua's forloop demo
	// depends on this for its ascending case, and a hypothetical descending
	// loop would depend on it for the other direction).
	assert.True(t, NumberLess(Int(5), Int(6)))
	assert.False(t, NumberLess(Int(6), Int(5)))
}

func TestTableSetGetRoundTrip(t *testing.T) {
	tbl := NewTable()
	tbl.Set(String("x"), Int(10))
	assert.Equal(t, Int(10), tbl.Get(String("x")))
	assert.True(t, tbl.Get(String("missing")).IsNil())
}

func TestTableArrayPartLen(t *testing.T) {
	tbl := NewTable()
	tbl.Set(Int(1), String("a"))
	tbl.Set(Int(2), String("b"))
	tbl.Set(Int(3), String("c"))
	assert.Equal(t, int64(3), tbl.Len())
}

func TestClampIndex(t *testing.T) {
	assert.Equal(t, 1, ClampIndex(0, 1, 10))
	assert.Equal(t, 10, ClampIndex(20, 1, 10))
	assert.Equal(t, 5, ClampIndex(5, 1, 10))
}

func TestMinMaxInt(t *testing.T) {
	assert.Equal(t, 2, MinInt(2, 7))
	assert.Equal(t, 7, MaxInt(2, 7))
}

func TestToDisplayString(t *testing.T) {
	assert.Equal(t, "10", ToDisplayString(Int(10)))
	assert.Equal(t, "true", ToDisplayString(Bool(true)))
	assert.Equal(t, "nil", ToDisplayString(Nil))
}
