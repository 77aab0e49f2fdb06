package vm

import (
	"fmt"

	"github.com/wudi/luavm/values"
)

// Sentinel error groups mirroring the teacher's vm/errors.go pattern of
// distinguishing host-configuration mistakes from ordinary Lua runtime
// failures (§7).
var (
	ErrNoCompilerConfigured = fmt.Errorf("luavm: no Compiler configured on this VM")
	ErrCallDepthExceeded    = fmt.Errorf("luavm: call stack overflow")
	ErrYieldAcrossBoundary  = fmt.Errorf("attempt to yield across a C-call boundary")
	ErrResumeDeadThread     = fmt.Errorf("cannot resume dead coroutine")
	ErrResumeNonSuspended   = fmt.Errorf("cannot resume non-suspended coroutine")

	// errYield is a sentinel run() recognizes specially: it never reaches
	// unwind/propagateError, since a yield is not a failure, just the
	// coroutine.yield Intrinsic's only way to signal the trampoline loop
	// from underneath an ordinary dispatchCall/invokeCallable return path.
	errYield = fmt.Errorf("luavm: internal yield signal")
)

// RuntimeError is a Lua runtime error carrying the Lua-visible error value
// (any type, not just a string, per §7) plus an optional traceback captured
// at the point the error was raised/propagated past its first pcall.
type RuntimeError struct {
	Value     values.Value
	Traceback []TraceEntry
}

// TraceEntry is one frame of a captured traceback (§7, supplement #1).
type TraceEntry struct {
	Source string
	Line   int32
	Name   string
}

func (e *RuntimeError) Error() string {
	if e.Value.Kind == values.KindString {
		return e.Value.AsString()
	}
	return values.ToDisplayString(e.Value)
}

// newRuntimeError wraps a message into the structured Lua error value that
// error() produces for uncaught runtime faults (e.g. "attempt to call a nil
// value"), annotating it with the offending frame's source:line the way
// error(msg, 1) would (§7).
func newRuntimeError(frame *Frame, message string) *RuntimeError {
	msg := message
	if frame != nil {
		msg = fmt.Sprintf("%s:%d: %s", frame.Proto.Source, currentLine(frame), message)
	}
	return &RuntimeError{Value: values.String(msg)}
}

func currentLine(f *Frame) int32 {
	if int(f.pc) >= 0 && int(f.pc) < len(f.Proto.Instructions) {
		return f.Proto.Instructions[f.pc].Line
	}
	return f.Proto.LineDefined
}

// captureTraceback walks a thread's execStack (the last entry is the
// innermost caller; entries come out current frame first, then innermost to
// outermost caller) to build a traceback without needing any Go-level call stack
// inspection, since the trampoline never recurses for Lua calls (§4.E, §9).
func captureTraceback(t *Thread) []TraceEntry {
	var out []TraceEntry
	if t.current != nil {
		out = append(out, TraceEntry{Source: t.current.Proto.Source, Line: currentLine(t.current), Name: frameName(t.current)})
	}
	for i := len(t.execStack) - 1; i >= 0; i-- {
		ctx := t.execStack[i]
		if ctx.kind != callerNormal || ctx.frame == nil {
			continue
		}
		out = append(out, TraceEntry{Source: ctx.frame.Proto.Source, Line: currentLine(ctx.frame), Name: frameName(ctx.frame)})
	}
	return out
}

func frameName(f *Frame) string {
	if f.Closure != nil {
		return f.Closure.callableName()
	}
	return "?"
}
