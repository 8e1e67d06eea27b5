package value

import "fmt"

// Chunk is a compiled unit's bytecode: a byte buffer, a parallel
// per-byte line table, and a constant pool indexed by u16.
type Chunk struct {
	Code      []byte
	Lines     []int // one entry per byte in Code
	Constants []Value
}

// AddConstant appends v to the constant pool and returns its index,
// reusing an existing slot if v is already present (keeps string
// constants from growing the pool when the same literal recurs).
func (c *Chunk) AddConstant(v Value) int {
	for i, existing := range c.Constants {
		if existing == v {
			return i
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// Function is a compiled unit: the Chunk, its declared arity, whether it
// is variadic, how many upvalues it captures, and display metadata.
// Functions are immutable once compilation completes.
type Function struct {
	Header
	Chunk      *Chunk
	Arity      int
	Variadic   bool
	NumUpvals  int
	ModuleName string
	Name       string
}

var _ Value = (*Function)(nil)

func (f *Function) String() string {
	name := f.Name
	if name == "" {
		name = "anonymous"
	}
	return fmt.Sprintf("function(%s)", name)
}
func (f *Function) Type() string { return "function" }

// Closure is a Function plus the Upvalue cells it captured at creation
// time (built by the CLOSURE opcode from the hint pairs that follow it).
type Closure struct {
	Header
	Fn       *Function
	Upvalues []*Upvalue
}

var _ Value = (*Closure)(nil)

func (c *Closure) String() string { return fmt.Sprintf("closure(%s)", c.Fn.String()) }
func (c *Closure) Type() string   { return "function" }

func (c *Closure) Mark(visit func(Value)) {
	visit(c.Fn)
	for _, uv := range c.Upvalues {
		visit(uv)
	}
	for _, k := range c.Fn.Chunk.Constants {
		visit(k)
	}
}

func (f *Function) Mark(visit func(Value)) {
	for _, k := range f.Chunk.Constants {
		visit(k)
	}
}

// Upvalue is an indirection cell referenced by a closure: open while it
// still points at a live VM stack slot, closed once the owning scope has
// exited and the value has been copied out.
type Upvalue struct {
	Header
	// stack/slot identify the open location; slot is -1 once closed.
	stack *[]Value
	slot  int
	val   Value
}

var _ Value = (*Upvalue)(nil)

// NewOpenUpvalue returns an Upvalue pointing at stack[slot].
func NewOpenUpvalue(stack *[]Value, slot int) *Upvalue {
	return &Upvalue{stack: stack, slot: slot}
}

func (u *Upvalue) String() string { return "upvalue" }
func (u *Upvalue) Type() string   { return "upvalue" }

// IsOpen reports whether the cell still refers to a live stack slot.
func (u *Upvalue) IsOpen() bool { return u.stack != nil }

// StackSlot returns the slot index this open upvalue refers to; callers
// must check IsOpen first.
func (u *Upvalue) StackSlot() int { return u.slot }

// Get returns the current value, reading through to the stack while
// open.
func (u *Upvalue) Get() Value {
	if u.stack != nil {
		return (*u.stack)[u.slot]
	}
	return u.val
}

// Set writes the current value, writing through to the stack while open.
func (u *Upvalue) Set(v Value) {
	if u.stack != nil {
		(*u.stack)[u.slot] = v
		return
	}
	u.val = v
}

// Close copies the current stack value into the cell and severs the
// stack reference, implementing the CLOSE opcode / scope-exit behavior.
func (u *Upvalue) Close() {
	if u.stack == nil {
		return
	}
	u.val = (*u.stack)[u.slot]
	u.stack = nil
}

func (u *Upvalue) Mark(visit func(Value)) {
	visit(u.Get())
}

// GoFunc is a host-registered callable: a function over a
// caller-provided arg slice returning the values it pushes, the Go
// rendering of the usual `(state, argc, argv) -> pushed-count` C
// extension contract.
type GoFunc struct {
	Header
	Name string
	Fn   func(args []Value) ([]Value, error)
}

var _ Value = (*GoFunc)(nil)

func (f *GoFunc) String() string { return fmt.Sprintf("gofunc(%s)", f.Name) }
func (f *GoFunc) Type() string   { return "function" }
