package vm

import "github.com/wudi/luavm/opcodes"

// HookMask selects which hook events SetHook installs (§4.J, §6).
type HookMask uint8

const (
	HookCall HookMask = 1 << iota
	HookReturn
	HookLine
	HookCount
)

// HookEvent identifies which kind of event a firing Hook callback observed.
type HookEvent int

const (
	HookEventCall HookEvent = iota
	HookEventReturn
	HookEventTailCall
	HookEventLine
	HookEventCount
)

// Hook is a host-supplied debug callback (§4.J). It receives the thread so a
// debugging host can inspect registers/upvalues of the frame that triggered
// the event through the same Thread it is about to resume.
type Hook func(t *Thread, event HookEvent, line int32)

// hookState is one thread's debug-hook configuration: the mask selecting
// which events fire, the callback, and the instruction-count cursor used by
// HookCount (§4.J).
type hookState struct {
	mask     HookMask
	fn       Hook
	count    int32 // HookCount: fire every `count` instructions
	counted  int32
	lastLine int32
	haveLine bool
}

func (t *Thread) fireLineHook(frame *Frame, inst opcodes.Instruction) {
	h := &t.hooks
	if h.fn == nil {
		return
	}
	if h.mask&HookCount != 0 && h.count > 0 {
		h.counted++
		if h.counted >= h.count {
			h.counted = 0
			h.fn(t, HookEventCount, inst.Line)
		}
	}
	if h.mask&HookLine != 0 {
		if !h.haveLine || h.lastLine != inst.Line {
			h.lastLine = inst.Line
			h.haveLine = true
			h.fn(t, HookEventLine, inst.Line)
		}
	}
}

func (t *Thread) fireCallHook(line int32, tail bool) {
	h := &t.hooks
	if h.fn == nil || h.mask&HookCall == 0 {
		return
	}
	event := HookEventCall
	if tail {
		event = HookEventTailCall
	}
	h.fn(t, event, line)
}

func (t *Thread) fireReturnHook(line int32) {
	h := &t.hooks
	if h.fn == nil || h.mask&HookReturn == 0 {
		return
	}
	h.fn(t, HookEventReturn, line)
}
