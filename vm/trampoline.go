package vm

import "github.com/wudi/luavm/values"

// directiveKind is what Dispatch returns to tell the trampoline how to
// react to one decoded instruction (§4.D/§4.E).
type directiveKind int

const (
	dContinue directiveKind = iota
	dSkipNext
	dJump
	dReturn
	dCall
	dTailCall
	dYield
	dClose
)

// directive is the DispatchResult of §4.D: opcode handlers never drive the
// dispatch loop themselves (not even for a Lua-to-Lua call), so deep Lua
// recursion never grows the host stack (§1).
type directive struct {
	kind directiveKind

	jumpPC int32

	returnValues []values.Value

	callTarget      values.Value
	callArgs        []values.Value
	callResultReg   int32
	callWantedCount int32 // -1 means "all results" (C==0 in the CALL encoding)

	// closeFrame/closeReg: dClose only (OP_CLOSE). The actual <close> chain
	// runs in execClose, called from run() rather than from dispatch itself,
	// so a handler invocation can change t.current the same way a dCall does
	// without dispatch needing to reach into the trampoline loop (§4.G).
	closeFrame *Frame
	closeReg   int32
}

// callerKind distinguishes what should happen when the frame below the top
// of execStack eventually produces a result or an error.
type callerKind int

const (
	callerNormal callerKind = iota
	callerPcallBarrier
	callerXpcallMsgh
	callerXpcallFinish
	callerCloseOp
)

// callerContext is one saved caller context on the trampoline's explicit
// execution stack (§2.E, §4.E). It generalizes the ResultStorage contract:
// a plain call records where results land; a pcall/xpcall barrier and a
// <close> continuation reuse the same slot shape instead of recursing into
// Go.
type callerContext struct {
	kind callerKind

	frame       *Frame
	resultReg   int32
	wantedCount int32 // -1 = all

	msgh values.Value // callerXpcallMsgh only: the message handler to invoke

	closeOp *closeOperation // callerCloseOp only
}

// closeOperation threads one <close>-handler chain through to completion
// (§4.G). A native handler runs inline; a Lua-closure handler runs through a
// callerCloseOp slot on the same execStack used for ordinary calls, so no
// Go-level recursion is needed to run a Lua __close, which is what lets a coroutine snapshot/restore
// mid-close exactly like any other suspension point (see vm/coroutine.go).
type closeOperation struct {
	owner       *Frame
	remaining   []*tbcEntry
	errVal      values.Value
	hasErr      bool
	afterReturn bool // true: owner is exiting via RETURN; false: owner hit a CLOSE instruction
}

// Thread is one coroutine's trampoline state (§2.H, §3 Coroutine): the
// live frame, the saved caller stack, and scheduling status. The VM's main
// line of execution is itself a Thread in StatusRunning.
type Thread struct {
	id ThreadID

	vm     *VM
	status ThreadStatus

	current   *Frame
	execStack []*callerContext

	callDepth int

	// yieldResultReg/yieldWanted record where coroutine.yield's "return
	// values" (the arguments of the next resume) must land, since yield
	// never pushes a callee frame of its own (§4.H).
	yieldResultReg   int32
	yieldWanted      int32
	pendingYieldVals []values.Value

	// entryFn/entryArgs hold the coroutine body until the first resume.
	entryFn   values.Value
	entryArgs []values.Value
	started   bool

	resumer *Thread

	hooks hookState

	// finalResults holds the entry function's return values once execStack
	// has fully unwound, for run() to hand back after the loop exits.
	finalResults []values.Value
}

func newThread(v *VM) *Thread {
	return &Thread{vm: v, status: StatusSuspended, callDepth: 0}
}

// pushNormalCall installs frame as the running frame and saves the current
// one to resume into resultReg/wantedCount once frame eventually returns.
func (t *Thread) pushNormalCall(frame *Frame, resultReg, wantedCount int32) {
	if t.current != nil {
		t.execStack = append(t.execStack, &callerContext{
			kind: callerNormal, frame: t.current, resultReg: resultReg, wantedCount: wantedCount,
		})
	}
	t.current = frame
	t.callDepth++
}

// replaceTailCall makes frame take the current frame's place without growing
// execStack. The TAILCALL opcode does not go through it: dispatchCall closes
// the caller's upvalues and calls invokeTail (§4.E, §8 invariant 1, S5).
func (t *Thread) replaceTailCall(frame *Frame) {
	if t.current != nil {
		t.current.closeUpvaluesFrom(0)
	}
	t.current = frame
}

// run drives dispatch until the thread returns, yields, or errors out to
// the host. It never recurses into Go for a Lua call (invokeCallable and
// invokeTail both just swap t.current), so the three fields above are
// a complete snapshot of "what this coroutine was doing."
func (t *Thread) run() (results []values.Value, yielded bool, yieldVals []values.Value, err error) {
	for {
		if t.current == nil {
			return t.finalResults, false, nil, nil
		}
		frame := t.current
		if int(frame.pc) < 0 || int(frame.pc) >= len(frame.Proto.Instructions) {
			if e := t.handleReturn(nil); e != nil {
				return nil, false, nil, e
			}
			continue
		}

		inst := frame.Proto.Instructions[frame.pc]
		t.vm.profile.observe(frame.Proto.Source, int(frame.pc), inst.Opcode)
		t.fireLineHook(frame, inst)

		dir, dispErr := t.vm.dispatch(t, frame, inst)
		if dispErr != nil {
			if e := t.unwind(dispErr); e != nil {
				return nil, false, nil, e
			}
			continue
		}

		switch dir.kind {
		case dContinue:
			frame.pc++
		case dSkipNext:
			frame.pc += 2
		case dJump:
			frame.pc = dir.jumpPC
		case dReturn:
			if e := t.handleReturn(dir.returnValues); e != nil {
				return nil, false, nil, e
			}
		case dCall:
			if e := t.dispatchCall(dir, false); e != nil {
				if e == errYield {
					return nil, true, t.pendingYieldVals, nil
				}
				if e2 := t.unwind(e); e2 != nil {
					return nil, false, nil, e2
				}
			}
		case dTailCall:
			if e := t.dispatchCall(dir, true); e != nil {
				if e == errYield {
					return nil, true, t.pendingYieldVals, nil
				}
				if e2 := t.unwind(e); e2 != nil {
					return nil, false, nil, e2
				}
			}
		case dYield:
			t.yieldResultReg = dir.callResultReg
			t.yieldWanted = dir.callWantedCount
			return nil, true, dir.returnValues, nil
		case dClose:
			if e := t.execClose(dir.closeFrame, dir.closeReg); e != nil {
				if e == errYield {
					return nil, true, t.pendingYieldVals, nil
				}
				if e2 := t.unwind(e); e2 != nil {
					return nil, false, nil, e2
				}
			}
		}
	}
}
