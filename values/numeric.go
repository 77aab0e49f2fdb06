package values

import "golang.org/x/exp/constraints"

// ClampIndex keeps a 1-based Lua index within [lo, hi], used by
// table.unpack's i/j range.
func ClampIndex[T constraints.Integer](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MinInt and MaxInt are tiny generic helpers used by table.concat's i/j
// bounds and the vm package's register-file growth; expressed generically so
// both int and int32/int64 callers share one implementation.
func MinInt[T constraints.Integer](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func MaxInt[T constraints.Integer](a, b T) T {
	if a > b {
		return a
	}
	return b
}
