package registry

import "github.com/wudi/luavm/values"

// BuiltinCallContext exposes the minimal VM services a native (Go)
// function needs without creating an import cycle back into the vm
// package, mirroring the teacher's BuiltinCallContext seam between its
// registry and vm packages.
type BuiltinCallContext interface {
	// Global reads/writes a value from the running VM's global table
	// (`_G`), used by builtins such as `print` resolving `_G.tostring`.
	Global(name string) values.Value
	SetGlobal(name string, v values.Value)
	// NewTable allocates a table owned by the running VM instance.
	NewTable() *values.TableValue
	// Raise builds a runtime error value annotated with the calling Lua
	// frame's source/line the same way `error(msg, 1)` would.
	Raise(message string) error
}

// BuiltinImplementation is the signature every native (Go-implemented)
// Lua-callable function must satisfy. args are the raw Lua arguments
// (already evaluated); the return slice is the Lua-visible result list.
type BuiltinImplementation func(ctx BuiltinCallContext, args []values.Value) ([]values.Value, error)

// NativeFunction is the Function variant (§3) for a host callback: a Go
// closure plus a human-readable name used in tracebacks.
type NativeFunction struct {
	Name string
	Impl BuiltinImplementation
}

// Compiler turns Lua source text into an executable Prototype. The VM core
// never lexes or parses Lua source; it only calls this interface (spec.md
// §1/§6: lexing/parsing/codegen are external collaborators).
type Compiler interface {
	Compile(source []byte, chunkName string) (*Prototype, error)
}
