package bytecode

import (
	"math"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindUInt
	KindFloat
	KindBool
	KindString
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUInt:
		return "uint"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// IsNumeric returns true for int, uint and float.
func (k Kind) IsNumeric() bool {
	return k == KindInt || k == KindUInt || k == KindFloat
}

// Value is a runtime scalar: a signed or unsigned 64-bit integer, a 64-bit float,
// a bool or a UTF-8 string. Values are immutable; copying one is a clone.
// The zero Value is invalid and never produced by the engine.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
	b    bool
	s    string
}

// Int returns a signed integer Value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// UInt returns an unsigned integer Value.
func UInt(v uint64) Value { return Value{kind: KindUInt, u: v} }

// Float returns a float Value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Str returns a string Value.
func Str(v string) Value { return Value{kind: KindString, s: v} }

// Kind reports the variant of v.
func (v Value) Kind() Kind { return v.kind }

// AsInt returns the signed integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsUInt returns the unsigned integer held by v.
func (v Value) AsUInt() (uint64, bool) { return v.u, v.kind == KindUInt }

// AsFloat returns the float held by v.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsBool returns the bool held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// String returns the display form of the value.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUInt:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	default:
		return "<invalid>"
	}
}

// GoString renders the value with its kind, for test failures and traces.
func (v Value) GoString() string {
	if v.kind == KindString {
		return "string(" + strconv.Quote(v.s) + ")"
	}
	return v.kind.String() + "(" + v.String() + ")"
}

// Equal reports structural equality. Values of different kinds are never equal.
// Float NaN is not equal to itself.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindUInt:
		return v.u == o.u
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	}
	return true
}

// ============ Arithmetic ============

// Add returns v + o. Both operands must be the same numeric kind.
func (v Value) Add(o Value) (Value, error) {
	if err := sameNumeric("add", v, o); err != nil {
		return Value{}, err
	}
	switch v.kind {
	case KindInt:
		return Int(v.i + o.i), nil
	case KindUInt:
		return UInt(v.u + o.u), nil
	default:
		return Float(v.f + o.f), nil
	}
}

// Sub returns v - o. Both operands must be the same numeric kind.
func (v Value) Sub(o Value) (Value, error) {
	if err := sameNumeric("subtract", v, o); err != nil {
		return Value{}, err
	}
	switch v.kind {
	case KindInt:
		return Int(v.i - o.i), nil
	case KindUInt:
		return UInt(v.u - o.u), nil
	default:
		return Float(v.f - o.f), nil
	}
}

// Mul returns v * o. Both operands must be the same numeric kind.
func (v Value) Mul(o Value) (Value, error) {
	if err := sameNumeric("multiply", v, o); err != nil {
		return Value{}, err
	}
	switch v.kind {
	case KindInt:
		return Int(v.i * o.i), nil
	case KindUInt:
		return UInt(v.u * o.u), nil
	default:
		return Float(v.f * o.f), nil
	}
}

// Div returns v / o. Fails with DivisionByZero when o is the zero of its kind.
func (v Value) Div(o Value) (Value, error) {
	if err := sameNumeric("divide", v, o); err != nil {
		return Value{}, err
	}
	switch v.kind {
	case KindInt:
		if o.i == 0 {
			return Value{}, faultf(DivisionByZero, "%d / 0", v.i)
		}
		return Int(v.i / o.i), nil
	case KindUInt:
		if o.u == 0 {
			return Value{}, faultf(DivisionByZero, "%d / 0", v.u)
		}
		return UInt(v.u / o.u), nil
	default:
		if o.f == 0 {
			return Value{}, faultf(DivisionByZero, "%s / 0.0", v)
		}
		return Float(v.f / o.f), nil
	}
}

// Mod returns v % o for integer kinds. There is no float modulo.
func (v Value) Mod(o Value) (Value, error) {
	if v.kind != o.kind || (v.kind != KindInt && v.kind != KindUInt) {
		return Value{}, faultf(TypeMismatch, "cannot take modulo of %s and %s", v.kind, o.kind)
	}
	if v.kind == KindInt {
		if o.i == 0 {
			return Value{}, faultf(DivisionByZero, "%d %% 0", v.i)
		}
		return Int(v.i % o.i), nil
	}
	if o.u == 0 {
		return Value{}, faultf(DivisionByZero, "%d %% 0", v.u)
	}
	return UInt(v.u % o.u), nil
}

// Exp returns v raised to o. Integer exponents are truncated to 32 bits and the
// result wraps on overflow; floats use math.Pow.
func (v Value) Exp(o Value) (Value, error) {
	if err := sameNumeric("exponentiate", v, o); err != nil {
		return Value{}, err
	}
	switch v.kind {
	case KindInt:
		return Int(int64(ipow(uint64(v.i), uint32(o.i)))), nil
	case KindUInt:
		return UInt(ipow(v.u, uint32(o.u))), nil
	default:
		return Float(math.Pow(v.f, o.f)), nil
	}
}

// ipow computes base**exp by square-and-multiply in wrapping 64-bit arithmetic.
// Two's complement makes this correct for signed bases reinterpreted as uint64.
func ipow(base uint64, exp uint32) uint64 {
	result := uint64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

// ============ Ordering ============

// Greater reports v > o for same-kind numeric operands.
func (v Value) Greater(o Value) (bool, error) {
	return v.order("compare", o, func(c int) bool { return c > 0 })
}

// Less reports v < o for same-kind numeric operands.
func (v Value) Less(o Value) (bool, error) {
	return v.order("compare", o, func(c int) bool { return c < 0 })
}

// GreaterEqual reports v >= o for same-kind numeric operands.
func (v Value) GreaterEqual(o Value) (bool, error) {
	return v.order("compare", o, func(c int) bool { return c >= 0 })
}

// LessEqual reports v <= o for same-kind numeric operands.
func (v Value) LessEqual(o Value) (bool, error) {
	return v.order("compare", o, func(c int) bool { return c <= 0 })
}

// order applies pred to the three-way comparison of v and o.
// Any comparison involving NaN is false.
func (v Value) order(verb string, o Value, pred func(int) bool) (bool, error) {
	if err := sameNumeric(verb, v, o); err != nil {
		return false, err
	}
	switch v.kind {
	case KindInt:
		return pred(cmp3(v.i, o.i)), nil
	case KindUInt:
		return pred(cmp3(v.u, o.u)), nil
	default:
		if math.IsNaN(v.f) || math.IsNaN(o.f) {
			return false, nil
		}
		return pred(cmp3(v.f, o.f)), nil
	}
}

func cmp3[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sameNumeric(verb string, a, b Value) error {
	if a.kind != b.kind || !a.kind.IsNumeric() {
		return faultf(TypeMismatch, "cannot %s %s and %s", verb, a.kind, b.kind)
	}
	return nil
}
