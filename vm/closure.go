package vm

import (
	"fmt"

	"github.com/wudi/luavm/registry"
	"github.com/wudi/luavm/values"
)

// Closure is the Compiled Function variant (§3): a Prototype handle plus
// the upvalue cells captured at CLOSURE time. Multiple closures created
// from the same CLOSURE instruction within one frame share the same cell
// per capture (§8 invariant 2); that sharing is established by
// Frame.getOrCreateOpenUpvalue, not by this type.
type Closure struct {
	Proto    *registry.Prototype
	Upvalues []*Upvalue
}

func (c *Closure) callableName() string {
	if c.Proto.Source != "" {
		return fmt.Sprintf("function <%s:%d>", c.Proto.Source, c.Proto.LineDefined)
	}
	return "function"
}

// Native is the host-callback Function variant (§3): wraps a
// registry.NativeFunction so it can be stored in a values.Value and invoked
// through the same trampoline as compiled closures (§4.E).
type Native struct {
	Fn *registry.NativeFunction
}

func (n *Native) callableName() string {
	if n.Fn.Name != "" {
		return fmt.Sprintf("function '%s'", n.Fn.Name)
	}
	return "function"
}

// callableFrom extracts whichever Function variant is stored in a
// values.Value, or nil if v is not a function at all. A bare
// *registry.NativeFunction (as stored by the stdlib's math/table entries and
// the pairs/ipairs iterators) is wrapped in a *Native.
func callableFrom(v values.Value) interface{} {
	if v.Kind != values.KindFunction {
		return nil
	}
	if nf, ok := v.Data().(*registry.NativeFunction); ok {
		return &Native{Fn: nf}
	}
	return v.Data()
}

func describeCallable(v values.Value) string {
	switch c := callableFrom(v).(type) {
	case *Closure:
		return c.callableName()
	case *Native:
		return c.callableName()
	case *Intrinsic:
		return c.callableName()
	default:
		return "?"
	}
}
