package vm

import "github.com/wudi/luavm/values"

// dispatchCall resolves one CALL/TAILCALL directive (§4.D/§4.E) to a
// concrete callable, falling back to a __call metamethod for non-function
// values, and either grows execStack by one (CALL) or replaces the current
// frame in place (TAILCALL, the mechanism that gives Lua unbounded proper
// tail recursion, §8 invariant 1).
func (t *Thread) dispatchCall(dir directive, isTailCall bool) error {
	target := dir.callTarget
	args := dir.callArgs

	if callableFrom(target) == nil {
		mm, ok := t.resolveCallMetamethod(target)
		if !ok {
			return t.unwindLocal("attempt to call a " + target.TypeName() + " value")
		}
		args = append([]values.Value{target}, args...)
		target = mm
		if callableFrom(target) == nil {
			return t.unwindLocal("attempt to call a " + target.TypeName() + " value")
		}
	}

	caller := t.current

	// Intrinsics manage their own control flow - an "immediate" one (assert,
	// coroutine.status, ...) writes its results and advances pc itself via
	// completeIntrinsic; pcall/xpcall push their own barrier context instead
	// of an ordinary one; yield never returns normally at all. None of them
	// go through the callerNormal bookkeeping below, tail position or not.
	if _, ok := callableFrom(target).(*Intrinsic); ok {
		t.fireCallHook(currentLine(caller), isTailCall)
		return t.invokeCallable(target, args, dir.callResultReg, dir.callWantedCount)
	}

	if isTailCall {
		caller.closeUpvaluesFrom(0)
		t.fireCallHook(currentLine(caller), true)
		return t.invokeTail(target, args)
	}

	t.execStack = append(t.execStack, &callerContext{
		kind: callerNormal, frame: caller, resultReg: dir.callResultReg, wantedCount: dir.callWantedCount,
	})
	t.fireCallHook(currentLine(caller), isTailCall)
	return t.invokeCallable(target, args, dir.callResultReg, dir.callWantedCount)
}

// invokeTail starts target running in place of the current frame (Closure),
// or delivers its result directly to whatever execStack entry the
// tail-calling frame would itself have returned into (Native), without
// growing execStack - the mechanism behind unbounded proper tail calls.
func (t *Thread) invokeTail(target values.Value, args []values.Value) error {
	switch c := callableFrom(target).(type) {
	case *Closure:
		t.current = newFrame(c.Proto, c, args)
		return nil
	case *Native:
		res, err := c.Fn.Impl(t.vm.nativeContext(t), args)
		if err != nil {
			return err
		}
		return t.deliverReturn(res)
	default:
		return t.unwindLocal("attempt to call a " + target.TypeName() + " value")
	}
}

// resolveCallMetamethod looks up __call on v's metatable (§4.F).
func (t *Thread) resolveCallMetamethod(v values.Value) (values.Value, bool) {
	mt := t.vm.metatableOf(v)
	if mt == nil {
		return values.Nil, false
	}
	h := mt.Get(values.String("__call"))
	if h.IsNil() {
		return values.Nil, false
	}
	return h, true
}

// Intrinsic is the Function variant for builtins that must manipulate the
// trampoline directly - pcall, xpcall, error and the coroutine.* family -
// rather than simply computing a result list (§3, §4.H). It lives entirely
// inside the vm package since it needs Thread/execStack access that the
// registry.BuiltinCallContext seam deliberately does not expose.
type Intrinsic struct {
	Name string
	Call func(t *Thread, args []values.Value, resultReg, wanted int32) error
}

func (in *Intrinsic) invoke(t *Thread, args []values.Value, resultReg, wanted int32) error {
	return in.Call(t, args, resultReg, wanted)
}

func (in *Intrinsic) callableName() string { return "function '" + in.Name + "'" }

// completeIntrinsic delivers an Intrinsic's result list when it completes
// synchronously without pushing any callerContext of its own: if it ran as
// an ordinary call from a Lua frame, the results land in that frame's
// registers and its pc advances past the CALL; if there is no such frame
// (the host invoked the intrinsic directly as a thread's entry point), the
// results become the thread's final results instead.
func (t *Thread) completeIntrinsic(results []values.Value, resultReg, wanted int32) error {
	if t.current == nil {
		return t.deliverReturn(results)
	}
	storeResults(t.current, resultReg, wanted, results)
	t.current.pc++
	return nil
}
