// Package vm implements the Lua 5.4 bytecode execution core: the register
// file, trampoline dispatch loop, metamethod resolution, to-be-closed
// variable handling and the coroutine scheduler. Lexing, parsing and code
// generation are external collaborators reached only through the
// registry.Compiler interface (§1/§6).
package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/luavm/registry"
	"github.com/wudi/luavm/values"
)

// ThreadID uniquely identifies a coroutine for the lifetime of the VM that
// created it (§2.H). It is a UUID rather than a counter so that host-side
// logging/tracing can correlate threads across a long-running process
// without colliding on restart, the same reason the teacher's registry
// package reaches for google/uuid elsewhere in the pack.
type ThreadID string

func newThreadID() ThreadID { return ThreadID(uuid.NewString()) }

// VM is one independent Lua universe: its global table, registered
// metatables-by-kind, the main thread, and host configuration (§6). All
// coroutines created from it share these tables.
type VM struct {
	id ThreadID

	globals *values.TableValue

	// stringMeta is the single metatable shared by every string value,
	// mirroring reference Lua's treatment of the `string` library table as
	// the metatable for the string type (§4.F).
	stringMeta *values.TableValue

	compiler registry.Compiler

	main *Thread

	threads map[ThreadID]*Thread

	profile *profileState

	maxCallDepth int

	// execCtx bounds total wall-clock execution the way the teacher's
	// ExecutionContext uses context.Context for a script time limit (§6
	// SPEC_FULL supplement: host-configurable execution budget).
	execCtx    context.Context
	execCancel context.CancelFunc
}

// NewVM constructs a VM with the standard globals installed and no compiler
// configured; SetCompiler installs one before Execute can run any Lua
// source (§6).
func NewVM() *VM {
	ctx, cancel := context.WithCancel(context.Background())
	v := &VM{
		id:           newThreadID(),
		globals:      values.NewTable(),
		threads:      make(map[ThreadID]*Thread),
		profile:      newProfileState(),
		maxCallDepth: defaultMaxCallDepth,
		execCtx:      ctx,
		execCancel:   cancel,
	}
	v.main = newThread(v)
	v.main.id = v.id
	v.main.status = StatusRunning
	v.threads[v.main.id] = v.main
	installGlobals(v)
	return v
}

// SetCompiler installs the external Lua-source-to-Prototype collaborator
// Load uses (§1/§6).
func (v *VM) SetCompiler(c registry.Compiler) { v.compiler = c }

// SetMaxCallDepth overrides the non-tail-call recursion guard (§4.E).
func (v *VM) SetMaxCallDepth(n int) {
	if n > 0 {
		v.maxCallDepth = n
	}
}

// SetExecutionTimeout bounds total wall-clock time across every thread of
// this VM; zero means unlimited (SPEC_FULL ambient-stack supplement).
func (v *VM) SetExecutionTimeout(d time.Duration) {
	if v.execCancel != nil {
		v.execCancel()
	}
	if d <= 0 {
		v.execCtx, v.execCancel = context.WithCancel(context.Background())
		return
	}
	v.execCtx, v.execCancel = context.WithTimeout(context.Background(), d)
}

// RegisterGlobal installs a host-provided native function or value as a
// global (§6).
func (v *VM) RegisterGlobal(name string, val values.Value) {
	v.globals.Set(values.String(name), val)
}

// RegisterNative is a convenience over RegisterGlobal for a Go callback.
func (v *VM) RegisterNative(name string, impl registry.BuiltinImplementation) {
	v.RegisterGlobal(name, values.Function(&Native{Fn: &registry.NativeFunction{Name: name, Impl: impl}}))
}

// Global reads a global by name (BuiltinCallContext, registry.go).
func (v *VM) Global(name string) values.Value { return v.globals.Get(values.String(name)) }

// SetGlobal writes a global by name (BuiltinCallContext).
func (v *VM) SetGlobal(name string, val values.Value) { v.globals.Set(values.String(name), val) }

// NewTable allocates a fresh table (BuiltinCallContext).
func (v *VM) NewTable() *values.TableValue { return values.NewTable() }

// Raise builds a runtime error value (BuiltinCallContext); it does not know
// which frame is calling, so it carries no source:line annotation - callers
// inside the vm package prefer newRuntimeError, which does.
func (v *VM) Raise(message string) error { return &RuntimeError{Value: values.String(message)} }

// Load compiles source through the configured Compiler and wraps the result
// in a top-level Closure with no upvalues (§4.B, §6).
func (v *VM) Load(source []byte, chunkName string) (*Closure, error) {
	if v.compiler == nil {
		return nil, ErrNoCompilerConfigured
	}
	proto, err := v.compiler.Compile(source, chunkName)
	if err != nil {
		return nil, err
	}
	return &Closure{Proto: proto}, nil
}

// Execute compiles and runs source on the main thread, returning its
// top-level return values (§6).
func (v *VM) Execute(source []byte, chunkName string) ([]values.Value, error) {
	cl, err := v.Load(source, chunkName)
	if err != nil {
		return nil, err
	}
	return v.Call(values.Function(cl), nil)
}

// Call invokes any Lua-callable value on the main thread and runs it to
// completion (§6). Calling from the main thread never yields; a coroutine
// that tries raises ErrYieldAcrossBoundary via the normal unwind path.
func (v *VM) Call(fn values.Value, args []values.Value) ([]values.Value, error) {
	return v.callOnThread(v.main, fn, args)
}

func (v *VM) callOnThread(t *Thread, fn values.Value, args []values.Value) ([]values.Value, error) {
	select {
	case <-v.execCtx.Done():
		return nil, fmt.Errorf("luavm: execution timed out: %w", v.execCtx.Err())
	default:
	}

	callable := callableFrom(fn)
	if callable == nil {
		return nil, &RuntimeError{Value: values.String("attempt to call a " + fn.TypeName() + " value")}
	}

	t.execStack = t.execStack[:0]
	switch c := callable.(type) {
	case *Closure:
		t.current = newFrame(c.Proto, c, args)
	case *Native:
		res, err := c.Fn.Impl(v.nativeContext(t), args)
		return res, err
	case *Intrinsic:
		if err := c.invoke(t, args, 0, -1); err != nil {
			return nil, err
		}
	}

	results, yielded, _, err := t.run()
	if yielded {
		return nil, fmt.Errorf("luavm: attempt to yield from outside a coroutine")
	}
	return results, err
}

// SetHook installs or clears a debug hook on the given thread (§4.J, §6).
func (v *VM) SetHook(t *Thread, mask HookMask, fn Hook, count int32) {
	t.hooks = hookState{mask: mask, fn: fn, count: count}
}

// MainThread returns the VM's main coroutine, the target SetHook needs to
// install the host-config hook defaults a luavm.yaml config.Config carries
// (§6 Environment).
func (v *VM) MainThread() *Thread { return v.main }

// metatableOf returns v's metatable, consulting the shared string metatable
// for strings and each TableValue's own Metatable field otherwise (§3, §4.F).
func (v *VM) metatableOf(val values.Value) *values.TableValue {
	switch val.Kind {
	case values.KindString:
		return v.stringMeta
	case values.KindTable:
		if t, ok := val.Data().(*values.TableValue); ok {
			return t.Metatable
		}
	}
	return nil
}

// nativeContext adapts (v, t) to registry.BuiltinCallContext for a Native
// function invocation; it is a thin value type so builtins pay no
// allocation cost beyond the interface box.
func (v *VM) nativeContext(t *Thread) registry.BuiltinCallContext {
	return hostCallContext{vm: v, thread: t}
}

type hostCallContext struct {
	vm     *VM
	thread *Thread
}

func (h hostCallContext) Global(name string) values.Value     { return h.vm.Global(name) }
func (h hostCallContext) SetGlobal(name string, v values.Value) { h.vm.SetGlobal(name, v) }
func (h hostCallContext) NewTable() *values.TableValue         { return h.vm.NewTable() }
func (h hostCallContext) Raise(message string) error {
	return newRuntimeError(h.thread.current, message)
}
