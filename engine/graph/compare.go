package graph

import (
	"cmp"
	"strings"
)

// Equal reports whether a and b hold the same value. Ints and floats compare
// numerically; every other kind must match exactly.
func Equal(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		if a.kind == KindInt && b.kind == KindInt {
			return a.i == b.i
		}
		x, _ := a.Float64()
		y, _ := b.Float64()
		return x == y
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindString:
		return a.s == b.s
	case KindBool:
		return a.b == b.b
	case KindTime:
		return a.t.Equal(b.t)
	case KindPoint:
		return a.p == b.p
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders a and b. ok is false when the kinds are not mutually
// ordered: numbers order with numbers, strings with strings, times
// chronologically with times, and false before true.
func Compare(a, b Value) (c int, ok bool) {
	if a.IsNumeric() && b.IsNumeric() {
		if a.kind == KindInt && b.kind == KindInt {
			return cmp.Compare(a.i, b.i), true
		}
		x, _ := a.Float64()
		y, _ := b.Float64()
		return cmp.Compare(x, y), true
	}
	if a.kind != b.kind {
		return 0, false
	}
	switch a.kind {
	case KindString:
		return strings.Compare(a.s, b.s), true
	case KindTime:
		return a.t.Compare(b.t), true
	case KindBool:
		switch {
		case a.b == b.b:
			return 0, true
		case !a.b:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

// SortCompare is a total order for sorting mixed values: nulls sort last,
// comparable values by Compare, and the rest by kind then rendering.
func SortCompare(a, b Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return 1
	case b.IsNull():
		return -1
	}
	if c, ok := Compare(a, b); ok {
		return c
	}
	if c := cmp.Compare(a.kind, b.kind); c != 0 {
		return c
	}
	return strings.Compare(a.String(), b.String())
}
