package vm

import "github.com/wudi/luavm/values"

// handleReturn implements RETURN/falling off a Prototype's end (§4.D, §4.G):
// any pending <close> locals at or above register 0 run, LIFO, before the
// return values are handed to whoever is waiting on execStack.
func (t *Thread) handleReturn(results []values.Value) error {
	frame := t.current
	t.fireReturnHook(currentLine(frame))
	frame.closeUpvaluesFrom(0)

	pending := frame.tbcAboveReversed(0)
	if len(pending) == 0 {
		return t.deliverReturn(results)
	}
	frame.capturedReturns = results
	frame.hasReturned = true
	op := &closeOperation{owner: frame, remaining: pending, afterReturn: true}
	return t.stepCloseOperation(op)
}

// stepCloseOperation invokes the next not-yet-run __close handler in op, or
// finishes the operation (delivering the owner's captured return values, or
// re-raising/chaining its error) once the list is exhausted. Because the
// __close call is pushed through the ordinary execStack via a callerCloseOp
// context, a yield from inside __close suspends this exact state and
// resumption re-enters stepCloseOperation precisely here (§4.G, §4.H, §9).
func (t *Thread) stepCloseOperation(op *closeOperation) error {
	for len(op.remaining) > 0 {
		entry := op.remaining[0]
		op.remaining = op.remaining[1:]
		if entry.closed {
			continue
		}
		entry.closed = true

		handler, ok := t.resolveCloseHandler(entry.value)
		if !ok {
			if entry.value.IsNil() || (entry.value.Kind == values.KindBool && !entry.value.AsBool()) {
				continue // §3: a false/nil <close> slot (early-exit marker) is skipped
			}
			return t.raiseNonClosable(op, entry.value)
		}

		var errArg values.Value
		if op.hasErr {
			errArg = op.errVal
		}

		// A *Native handler runs synchronously and can never yield, so its
		// error is chained into op directly instead of round-tripping
		// through execStack/invokeCallable's generic error return - that
		// generic path is only unwound by run()'s dClose case, not its
		// dReturn case (handleReturn has no pending owner to resume into),
		// so a native handler's error would otherwise leak straight past
		// any pcall barrier instead of reaching the next <close> in line.
		if nat, ok := callableFrom(handler).(*Native); ok {
			res, err := nat.Fn.Impl(t.vm.nativeContext(t), []values.Value{entry.value, errArg})
			if err != nil {
				op.hasErr = true
				op.errVal = errorValue(err)
				continue
			}
			_ = res
			continue
		}

		ctx := &callerContext{kind: callerCloseOp, frame: op.owner, closeOp: op}
		t.execStack = append(t.execStack, ctx)
		return t.invokeCallable(handler, []values.Value{entry.value, errArg}, 0, 0)
	}

	if op.hasErr {
		return t.propagateError(op.errVal)
	}
	if !op.afterReturn {
		t.current = op.owner
		op.owner.pc++
		return nil
	}
	return t.deliverReturn(op.owner.capturedReturns)
}

// execClose runs OP_CLOSE: closes every open upvalue at or above reg and
// runs any <close> handlers declared there, LIFO, before frame resumes past
// the instruction (§4.D CLOSE, §4.G).
func (t *Thread) execClose(frame *Frame, reg int32) error {
	frame.closeUpvaluesFrom(reg)
	pending := frame.tbcAboveReversed(reg)
	if len(pending) == 0 {
		frame.pc++
		return nil
	}
	op := &closeOperation{owner: frame, remaining: pending}
	return t.stepCloseOperation(op)
}

func (t *Thread) raiseNonClosable(op *closeOperation, v values.Value) error {
	msg := newRuntimeError(op.owner, "variable '<close>' got a non-closable value")
	op.hasErr = true
	op.errVal = msg.Value
	return t.stepCloseOperation(op)
}

// resolveCloseHandler finds v's __close metamethod, if any.
func (t *Thread) resolveCloseHandler(v values.Value) (values.Value, bool) {
	mt := t.vm.metatableOf(v)
	if mt == nil {
		return values.Nil, false
	}
	h := mt.Get(values.String("__close"))
	if h.IsNil() {
		return values.Nil, false
	}
	return h, true
}

// invokeCallable starts fn running now, assuming the caller has already
// pushed whatever callerContext should receive its eventual result (an
// ordinary call frame, a pcall/xpcall barrier, or a <close> continuation).
func (t *Thread) invokeCallable(fn values.Value, args []values.Value, resultReg, wanted int32) error {
	switch c := callableFrom(fn).(type) {
	case *Closure:
		t.callDepth++
		if t.callDepth > t.vm.maxCallDepth {
			t.callDepth--
			return t.unwindLocal(ErrCallDepthExceeded.Error())
		}
		t.current = newFrame(c.Proto, c, args)
		t.fireCallHook(currentLine(t.current), false)
		return nil
	case *Native:
		res, err := c.Fn.Impl(t.vm.nativeContext(t), args)
		if err != nil {
			return err
		}
		return t.deliverReturn(res)
	case *Intrinsic:
		return c.invoke(t, args, resultReg, wanted)
	default:
		return t.unwindLocal("attempt to call a " + fn.TypeName() + " value")
	}
}

// unwindLocal is a convenience for raising a plain string runtime error
// against the currently running frame.
func (t *Thread) unwindLocal(message string) error {
	return &RuntimeError{Value: values.String(message)}
}

// defaultMaxCallDepth matches spec's documented default (§4.E, §5);
// VM.SetMaxCallDepth or the YAML config's max_call_depth key overrides it.
const defaultMaxCallDepth = 1000

// deliverReturn hands results to whatever is waiting: the caller of an
// ordinary CALL, a pcall/xpcall success barrier, or the next step of a
// <close> chain. An empty execStack means the thread's entry function has
// finished, so results become the thread's final results (§2.H, §6).
func (t *Thread) deliverReturn(results []values.Value) error {
	if len(t.execStack) == 0 {
		t.current = nil
		t.finalResults = results
		return nil
	}
	n := len(t.execStack) - 1
	ctx := t.execStack[n]
	t.execStack = t.execStack[:n]

	switch ctx.kind {
	case callerNormal:
		storeResults(ctx.frame, ctx.resultReg, ctx.wantedCount, results)
		t.current = ctx.frame
		t.current.pc++
		t.callDepth--
	case callerPcallBarrier, callerXpcallMsgh:
		storeResults(ctx.frame, ctx.resultReg, ctx.wantedCount, append([]values.Value{values.Bool(true)}, results...))
		t.current = ctx.frame
		t.current.pc++
		t.callDepth--
	case callerXpcallFinish:
		msg := values.Nil
		if len(results) > 0 {
			msg = results[0]
		}
		storeResults(ctx.frame, ctx.resultReg, ctx.wantedCount, []values.Value{values.Bool(false), msg})
		t.current = ctx.frame
		t.current.pc++
		t.callDepth--
	case callerCloseOp:
		return t.stepCloseOperation(ctx.closeOp)
	}
	return nil
}

// storeResults writes a call's result list into the caller's registers
// starting at reg, truncating/padding with nil to match wanted (wanted < 0
// means "all results", which also sets frame.top for a following VARARG,
// SETLIST or another call-in-tail-position to observe, §4.C).
func storeResults(frame *Frame, reg, wanted int32, results []values.Value) {
	if wanted < 0 {
		for i, v := range results {
			frame.setRegister(reg+int32(i), v)
		}
		frame.top = reg + int32(len(results))
		return
	}
	for i := int32(0); i < wanted; i++ {
		if int(i) < len(results) {
			frame.setRegister(reg+i, results[i])
		} else {
			frame.setRegister(reg+i, values.Nil)
		}
	}
}

// unwind propagates a Lua error through TBC close handlers and pcall/xpcall
// barriers (§4.G, §7, §8 invariant 3/4). It returns non-nil only when the
// error must reach the host because no barrier caught it.
func (t *Thread) unwind(err error) error {
	errVal := errorValue(err)

	frame := t.current
	if frame != nil {
		pending := frame.tbcAboveReversed(0)
		if len(pending) > 0 {
			op := &closeOperation{owner: frame, remaining: pending, hasErr: true, errVal: errVal}
			return t.stepCloseOperation(op)
		}
	}
	return t.propagateError(errVal)
}

// propagateError pops execStack until it finds a pcall/xpcall barrier (in
// which case the error is caught and execution resumes past the barrier's
// original CALL), or the stack empties (in which case the error reaches the
// host, e.g. VM.Execute/Call, §6).
func (t *Thread) propagateError(errVal values.Value) error {
	for len(t.execStack) > 0 {
		n := len(t.execStack) - 1
		ctx := t.execStack[n]
		t.execStack = t.execStack[:n]

		switch ctx.kind {
		case callerPcallBarrier:
			storeResults(ctx.frame, ctx.resultReg, ctx.wantedCount, []values.Value{values.Bool(false), errVal})
			t.current = ctx.frame
			t.current.pc++
			t.callDepth--
			return nil
		case callerXpcallMsgh:
			finish := &callerContext{kind: callerXpcallFinish, frame: ctx.frame, resultReg: ctx.resultReg, wantedCount: ctx.wantedCount}
			t.execStack = append(t.execStack, finish)
			return t.invokeCallable(ctx.msgh, []values.Value{errVal}, 0, 1)
		case callerCloseOp:
			ctx.closeOp.hasErr = true
			ctx.closeOp.errVal = errVal
			return t.stepCloseOperation(ctx.closeOp)
		case callerNormal:
			if ctx.frame != nil {
				ctx.frame.closeUpvaluesFrom(0)
				if pending := ctx.frame.tbcAboveReversed(0); len(pending) > 0 {
					op := &closeOperation{owner: ctx.frame, remaining: pending, hasErr: true, errVal: errVal}
					return t.stepCloseOperation(op)
				}
			}
			t.callDepth--
		}
	}
	t.current = nil
	return &RuntimeError{Value: errVal}
}

// closeAllPending runs every pending <close> handler across co's suspended
// call chain, innermost frame first, the way coroutine.close (§4.H) must
// before marking a coroutine dead instead of just abandoning it. It reuses
// the same closeOperation/stepCloseOperation engine a live RETURN/CLOSE
// uses, driving co.run() itself when a handler is a Lua closure rather than
// a synchronous *Native; a handler that tries to yield is an error, since
// coroutine.close runs synchronously with no one left to resume it.
func (co *Thread) closeAllPending() error {
	frames := make([]*Frame, 0, len(co.execStack)+1)
	if co.current != nil {
		frames = append(frames, co.current)
	}
	for i := len(co.execStack) - 1; i >= 0; i-- {
		if co.execStack[i].frame != nil {
			frames = append(frames, co.execStack[i].frame)
		}
	}
	co.current = nil
	co.execStack = co.execStack[:0]

	for _, frame := range frames {
		frame.closeUpvaluesFrom(0)
		pending := frame.tbcAboveReversed(0)
		if len(pending) == 0 {
			continue
		}
		op := &closeOperation{owner: frame, remaining: pending, afterReturn: true}
		if err := co.stepCloseOperation(op); err != nil {
			return err
		}
		for co.current != nil {
			_, yielded, _, err := co.run()
			if err != nil {
				return err
			}
			if yielded {
				return newRuntimeError(frame, "attempt to yield from a <close> handler during coroutine.close")
			}
		}
	}
	return nil
}

func errorValue(err error) values.Value {
	if re, ok := err.(*RuntimeError); ok {
		return re.Value
	}
	return values.String(err.Error())
}
