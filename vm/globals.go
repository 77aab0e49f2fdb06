package vm

import (
	"github.com/wudi/luavm/registry"
	"github.com/wudi/luavm/stdlib"
	"github.com/wudi/luavm/values"
)

const versionString = "Lua 5.4"

// installGlobals populates a freshly constructed VM's _G with the handful
// of globals that must be Intrinsics (pcall/xpcall/error/assert and the
// coroutine table), then hands off to stdlib.Install for everything that
// is a plain compute-and-return builtin (§4.H, §6, SPEC_FULL DOMAIN STACK).
func installGlobals(v *VM) {
	v.RegisterGlobal("_VERSION", values.String(versionString))
	v.RegisterGlobal("_G", values.Table(v.globals))

	v.registerIntrinsic("pcall", pcallIntrinsic)
	v.registerIntrinsic("xpcall", xpcallIntrinsic)
	v.registerIntrinsic("error", errorIntrinsic)
	v.registerIntrinsic("assert", assertIntrinsic)

	co := values.NewTable()
	setTableIntrinsic(co, "create", coroutineCreateIntrinsic)
	setTableIntrinsic(co, "resume", coroutineResumeIntrinsic)
	setTableIntrinsic(co, "yield", coroutineYieldIntrinsic)
	setTableIntrinsic(co, "status", coroutineStatusIntrinsic)
	setTableIntrinsic(co, "isyieldable", coroutineIsYieldableIntrinsic)
	setTableIntrinsic(co, "running", coroutineRunningIntrinsic)
	setTableIntrinsic(co, "close", coroutineCloseIntrinsic)
	v.RegisterGlobal("coroutine", values.Table(co))

	installStdlib(v)
}

func (v *VM) registerIntrinsic(name string, fn func(t *Thread, args []values.Value, resultReg, wanted int32) error) {
	v.RegisterGlobal(name, values.Function(&Intrinsic{Name: name, Call: fn}))
}

func setTableIntrinsic(tbl *values.TableValue, name string, fn func(t *Thread, args []values.Value, resultReg, wanted int32) error) {
	tbl.Set(values.String(name), values.Function(&Intrinsic{Name: name, Call: fn}))
}

// registryHost adapts *VM to registry.BuiltinCallContext for stdlib.Install,
// which is handed a registry.BuiltinCallContext rather than *VM directly to
// keep the one-directional import (vm -> stdlib) from needing stdlib to
// import vm back (§1, avoiding an import cycle).
type registryHost struct{ v *VM }

func (r registryHost) Global(name string) values.Value       { return r.v.Global(name) }
func (r registryHost) SetGlobal(name string, val values.Value) { r.v.SetGlobal(name, val) }
func (r registryHost) NewTable() *values.TableValue           { return r.v.NewTable() }
func (r registryHost) Raise(message string) error             { return r.v.Raise(message) }

var _ registry.BuiltinCallContext = registryHost{}

// installStdlib hands the base library, math and table tables off to
// stdlib.Install, which only needs the registry.BuiltinCallContext seam
// (§1, SPEC_FULL DOMAIN STACK).
func installStdlib(v *VM) {
	stdlib.Install(registryHost{v}, v.RegisterNative)
}
