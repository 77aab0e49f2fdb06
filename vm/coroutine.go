package vm

import "github.com/wudi/luavm/values"

// ThreadStatus mirrors coroutine.status's four observable states (§2.H,
// GLOSSARY).
type ThreadStatus int

const (
	StatusSuspended ThreadStatus = iota
	StatusRunning
	StatusNormal // resumed another coroutine and is waiting for it
	StatusDead
)

func (s ThreadStatus) String() string {
	switch s {
	case StatusSuspended:
		return "suspended"
	case StatusRunning:
		return "running"
	case StatusNormal:
		return "normal"
	case StatusDead:
		return "dead"
	default:
		return "dead"
	}
}

// newCoroutine creates a suspended thread around a Lua-callable entry point
// (§2.H). The thread owns no Frame until its first resume.
func (v *VM) newCoroutine(fn values.Value) *Thread {
	t := newThread(v)
	t.id = newThreadID()
	t.entryFn = fn
	v.threads[t.id] = t
	return t
}

// resume drives a suspended (or not-yet-started) thread until it yields,
// returns, or errors, implementing coroutine.resume's (ok, ...) contract
// (§2.H, §4.H, §8 invariant 6). resumer is the thread that called resume,
// recorded so status() can report StatusNormal on it while it waits.
func (v *VM) resume(target *Thread, resumer *Thread, args []values.Value) (bool, []values.Value) {
	switch target.status {
	case StatusDead:
		return false, []values.Value{values.String(ErrResumeDeadThread.Error())}
	case StatusRunning, StatusNormal:
		return false, []values.Value{values.String(ErrResumeNonSuspended.Error())}
	}

	target.resumer = resumer
	if resumer != nil {
		resumer.status = StatusNormal
	}
	target.status = StatusRunning

	if !target.started {
		target.started = true
		callable := callableFrom(target.entryFn)
		if callable == nil {
			target.status = StatusDead
			return false, []values.Value{values.String("attempt to resume a coroutine with a non-function body")}
		}
		switch c := callable.(type) {
		case *Closure:
			target.current = newFrame(c.Proto, c, args)
		case *Native:
			res, err := c.Fn.Impl(v.nativeContext(target), args)
			target.status = StatusDead
			if resumer != nil {
				resumer.status = StatusRunning
			}
			if err != nil {
				return false, []values.Value{errorValue(err)}
			}
			return true, res
		case *Intrinsic:
			if err := c.invoke(target, args, 0, -1); err != nil {
				target.status = StatusDead
				if resumer != nil {
					resumer.status = StatusRunning
				}
				return false, []values.Value{errorValue(err)}
			}
		}
	} else {
		// Deliver the resume arguments as coroutine.yield's return values,
		// into the register the original YIELD-driving CALL recorded, then
		// fall through into the same run() loop a fresh start would use -
		// this is the full substance of resuming mid-expression (§4.H).
		if target.current != nil {
			storeResults(target.current, target.yieldResultReg, target.yieldWanted, args)
			target.current.pc++
		}
	}

	results, yielded, yieldVals, err := target.run()
	if resumer != nil {
		resumer.status = StatusRunning
	}
	if err != nil {
		target.status = StatusDead
		return false, []values.Value{errorValue(err)}
	}
	if yielded {
		target.status = StatusSuspended
		return true, yieldVals
	}
	target.status = StatusDead
	return true, results
}

