package value

// NilType is the type of the nil value. It is represented as a byte (not
// struct{}) so that Nil can be a typed constant.
type NilType byte

// Nil is the sole NilType value.
const Nil = NilType(0)

var _ Value = Nil

func (NilType) String() string { return "nil" }
func (NilType) Type() string   { return "nil" }

// Bool is Cosmo's boolean value.
type Bool bool

var (
	_ Value = Bool(false)
)

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (Bool) Type() string { return "boolean" }
