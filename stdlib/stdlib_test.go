package stdlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/luavm/registry"
	"github.com/wudi/luavm/values"
)

// fakeContext is the minimal registry.BuiltinCallContext a stdlib function
// needs, grounded on the same seam the vm package implements for real.
type fakeContext struct {
	globals map[string]values.Value
}

func newFakeContext() *fakeContext { return &fakeContext{globals: map[string]values.Value{}} }

func (f *fakeContext) Global(name string) values.Value     { return f.globals[name] }
func (f *fakeContext) SetGlobal(name string, v values.Value) { f.globals[name] = v }
func (f *fakeContext) NewTable() *values.TableValue         { return values.NewTable() }
func (f *fakeContext) Raise(message string) error           { return &luaTestError{message} }

type luaTestError struct{ msg string }

func (e *luaTestError) Error() string { return e.msg }

func installed(t *testing.T) map[string]registry.BuiltinImplementation {
	t.Helper()
	impls := map[string]registry.BuiltinImplementation{}
	Install(newFakeContext(), func(name string, impl registry.BuiltinImplementation) {
		impls[name] = impl
	})
	return impls
}

func TestTypeReportsEachKind(t *testing.T) {
	impls := installed(t)
	typeFn := impls["type"]
	require.NotNil(t, typeFn)

	results, err := typeFn(newFakeContext(), []values.Value{values.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, values.String("number"), results[0])

	results, err = typeFn(newFakeContext(), []values.Value{values.String("x")})
	require.NoError(t, err)
	assert.Equal(t, values.String("string"), results[0])
}

func TestRawEqualBuiltin(t *testing.T) {
	impls := installed(t)
	rawequal := impls["rawequal"]
	require.NotNil(t, rawequal)

	results, err := rawequal(newFakeContext(), []values.Value{values.Int(1), values.Float(1.0)})
	require.NoError(t, err)
	assert.Equal(t, values.Bool(true), results[0])
}

func TestRawSetAndRawGetRoundTrip(t *testing.T) {
	impls := installed(t)
	rawset := impls["rawset"]
	rawget := impls["rawget"]
	require.NotNil(t, rawset)
	require.NotNil(t, rawget)

	tbl := values.NewTable()
	_, err := rawset(newFakeContext(), []values.Value{values.Table(tbl), values.String("k"), values.Int(42)})
	require.NoError(t, err)

	results, err := rawget(newFakeContext(), []values.Value{values.Table(tbl), values.String("k")})
	require.NoError(t, err)
	assert.Equal(t, values.Int(42), results[0])
}

func TestMathFloorAndAbs(t *testing.T) {
	mathFns := mathFunctions()
	floorFn := mathFns["floor"]
	require.NotNil(t, floorFn)
	results, err := floorFn(newFakeContext(), []values.Value{values.Float(3.7)})
	require.NoError(t, err)
	assert.Equal(t, values.Int(3), results[0])

	absFn := mathFns["abs"]
	require.NotNil(t, absFn)
	results, err = absFn(newFakeContext(), []values.Value{values.Int(-5)})
	require.NoError(t, err)
	assert.Equal(t, values.Int(5), results[0])
}

func TestToNumberParsesStrings(t *testing.T) {
	impls := installed(t)
	toNumber := impls["tonumber"]
	require.NotNil(t, toNumber)

	results, err := toNumber(newFakeContext(), []values.Value{values.String("42")})
	require.NoError(t, err)
	assert.Equal(t, values.Int(42), results[0])

	results, err = toNumber(newFakeContext(), []values.Value{values.String("not a number")})
	require.NoError(t, err)
	assert.True(t, results[0].IsNil())
}
