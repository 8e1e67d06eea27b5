package value

import "strconv"

// Number is Cosmo's only numeric type, an IEEE-754 double.
type Number float64

var (
	_ Value   = Number(0)
	_ Ordered = Number(0)
)

func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'g', -1, 64)
}

func (Number) Type() string { return "number" }

// Cmp implements three-way comparison; NaN compares greater than any
// other value including +Inf, and equal only to itself.
func (n Number) Cmp(y Value) (int, error) {
	other, ok := y.(Number)
	if !ok {
		return 0, &TypeError{Where: "compare", Got: y.Type(), Expected: "number"}
	}
	return numberCmp(n, other), nil
}

func numberCmp(x, y Number) int {
	switch {
	case x > y:
		return +1
	case x < y:
		return -1
	case x == y:
		return 0
	}
	// at least one operand is NaN
	if x == x {
		return -1 // y is NaN
	} else if y == y {
		return +1 // x is NaN
	}
	return 0 // both NaN
}
