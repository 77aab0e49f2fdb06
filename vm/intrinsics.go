package vm

import (
	"fmt"

	"github.com/wudi/luavm/values"
)

// pcallIntrinsic implements protected calls by pushing a callerPcallBarrier
// context instead of an ordinary callerNormal one (§4.E, §4.G, §8 invariant
// 4): the barrier is what makes propagateError stop unwinding here instead
// of reaching the host.
func pcallIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	if len(args) == 0 {
		return t.unwindLocal("bad argument #1 to 'pcall' (value expected)")
	}
	fn, rest := args[0], args[1:]
	if callableFrom(fn) == nil {
		mm, ok := t.resolveCallMetamethod(fn)
		if !ok {
			return t.completeIntrinsic([]values.Value{values.Bool(false), values.String("attempt to call a " + fn.TypeName() + " value")}, resultReg, wanted)
		}
		rest = append([]values.Value{fn}, rest...)
		fn = mm
	}
	t.execStack = append(t.execStack, &callerContext{
		kind: callerPcallBarrier, frame: t.current, resultReg: resultReg, wantedCount: wanted,
	})
	return t.invokeCallable(fn, rest, resultReg, wanted)
}

// xpcallIntrinsic is pcall plus a message handler, invoked once the error
// reaches the xpcall barrier, after the frames above it (and their <close>
// handlers) have been unwound (§4.E, §4.G).
func xpcallIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	if len(args) < 2 {
		return t.unwindLocal("bad argument #2 to 'xpcall' (value expected)")
	}
	fn, msgh, rest := args[0], args[1], args[2:]
	if callableFrom(msgh) == nil {
		return t.unwindLocal("bad argument #2 to 'xpcall' (function expected)")
	}
	if callableFrom(fn) == nil {
		mm, ok := t.resolveCallMetamethod(fn)
		if !ok {
			return t.completeIntrinsic([]values.Value{values.Bool(false), values.String("attempt to call a " + fn.TypeName() + " value")}, resultReg, wanted)
		}
		rest = append([]values.Value{fn}, rest...)
		fn = mm
	}
	t.execStack = append(t.execStack, &callerContext{
		kind: callerXpcallMsgh, frame: t.current, resultReg: resultReg, wantedCount: wanted, msgh: msgh,
	})
	return t.invokeCallable(fn, rest, resultReg, wanted)
}

// errorIntrinsic implements error(message, level): level 1 (the default)
// annotates message with the caller's source:line the way a runtime fault
// does; level 0 leaves a string message untouched; non-string messages are
// never annotated (§7).
func errorIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	var msg values.Value
	if len(args) > 0 {
		msg = args[0]
	}
	level := int64(1)
	if len(args) > 1 {
		if lv, ok := args[1].ToInt(); ok {
			level = lv
		}
	}
	if msg.Kind == values.KindString && level > 0 {
		frame := callerFrameAtLevel(t, int(level))
		if frame != nil {
			msg = values.String(fmt.Sprintf("%s:%d: %s", frame.Proto.Source, currentLine(frame), msg.AsString()))
		}
	}
	return &RuntimeError{Value: msg, Traceback: captureTraceback(t)}
}

// callerFrameAtLevel walks level-1 entries up execStack from the running
// frame, matching error()'s "level 1 = caller of error" convention.
func callerFrameAtLevel(t *Thread, level int) *Frame {
	if level <= 1 {
		return t.current
	}
	idx := len(t.execStack) - (level - 1)
	if idx < 0 || idx >= len(t.execStack) {
		return nil
	}
	return t.execStack[idx].frame
}

// assertIntrinsic is a plain value-in/value-out builtin (no trampoline
// manipulation) but lives alongside error() since it raises the same way.
func assertIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	if len(args) == 0 || !args[0].Truthy() {
		msg := "assertion failed!"
		if len(args) > 1 && args[1].Kind == values.KindString {
			msg = args[1].AsString()
		} else if len(args) > 1 {
			return &RuntimeError{Value: args[1]}
		}
		return &RuntimeError{Value: values.String(msg)}
	}
	return t.completeIntrinsic(args, resultReg, wanted)
}

// yieldIntrinsic implements coroutine.yield: it cannot express "suspend"
// as a simple return value, so it records the values to yield on the
// thread and signals the trampoline with the errYield sentinel, which
// run()'s dCall/dTailCall handling recognizes and turns into a yielded
// return instead of propagating through unwind (§4.H).
func yieldIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	if t.resumer == nil {
		return t.unwindLocal(ErrYieldAcrossBoundary.Error())
	}
	t.yieldResultReg = resultReg
	t.yieldWanted = wanted
	t.pendingYieldVals = args
	return errYield
}

func coroutineCreateIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	if len(args) == 0 || callableFrom(args[0]) == nil {
		return t.unwindLocal("bad argument #1 to 'create' (function expected)")
	}
	co := t.vm.newCoroutine(args[0])
	return t.completeIntrinsic([]values.Value{values.Thread(co)}, resultReg, wanted)
}

func coroutineResumeIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	if len(args) == 0 {
		return t.unwindLocal("bad argument #1 to 'resume' (coroutine expected)")
	}
	co, ok := args[0].Data().(*Thread)
	if !ok {
		return t.unwindLocal("bad argument #1 to 'resume' (coroutine expected)")
	}
	ok2, results := t.vm.resume(co, t, args[1:])
	out := append([]values.Value{values.Bool(ok2)}, results...)
	return t.completeIntrinsic(out, resultReg, wanted)
}

func coroutineYieldIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	return yieldIntrinsic(t, args, resultReg, wanted)
}

func coroutineStatusIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	if len(args) == 0 {
		return t.unwindLocal("bad argument #1 to 'status' (coroutine expected)")
	}
	co, ok := args[0].Data().(*Thread)
	if !ok {
		return t.unwindLocal("bad argument #1 to 'status' (coroutine expected)")
	}
	return t.completeIntrinsic([]values.Value{values.String(co.status.String())}, resultReg, wanted)
}

func coroutineIsYieldableIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	return t.completeIntrinsic([]values.Value{values.Bool(t.resumer != nil)}, resultReg, wanted)
}

func coroutineRunningIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	return t.completeIntrinsic([]values.Value{values.Thread(t), values.Bool(t == t.vm.main)}, resultReg, wanted)
}

// coroutineCloseIntrinsic runs any pending <close> handlers of a suspended
// coroutine's remaining frames (innermost first) and marks it dead without
// resuming it (§4.G/§4.H close()). A handler error is returned as
// (false, error) rather than propagated to the caller, matching
// coroutine.close's documented contract.
func coroutineCloseIntrinsic(t *Thread, args []values.Value, resultReg, wanted int32) error {
	if len(args) == 0 {
		return t.unwindLocal("bad argument #1 to 'close' (coroutine expected)")
	}
	co, ok := args[0].Data().(*Thread)
	if !ok {
		return t.unwindLocal("bad argument #1 to 'close' (coroutine expected)")
	}
	if co.status == StatusRunning || co.status == StatusNormal {
		return t.unwindLocal("cannot close a running coroutine")
	}
	if err := co.closeAllPending(); err != nil {
		co.status = StatusDead
		return t.completeIntrinsic([]values.Value{values.Bool(false), errorValue(err)}, resultReg, wanted)
	}
	co.status = StatusDead
	return t.completeIntrinsic([]values.Value{values.Bool(true)}, resultReg, wanted)
}
