// Package value implements Cosmo's tagged value and heap-object model:
// nil, booleans and numbers are represented directly as Go values; all
// other data lives behind the Value interface as a heap-allocated
// Object, with optional capabilities (ordering, equality, iteration,
// length) expressed as small mixin interfaces.
package value

import "fmt"

// Value is implemented by every value the VM can push on its stack: Nil,
// Bool, Number, and every heap Object.
type Value interface {
	// String returns a human-readable representation, used by tostring and
	// error messages.
	String() string
	// Type returns the short type name used by type() and type errors.
	Type() string
}

// Ordered is implemented by values that support <, >, <=, >=.
type Ordered interface {
	Value
	// Cmp returns negative, zero, or positive as the receiver is less than,
	// equal to, or greater than y. The caller guarantees y has the same
	// concrete type.
	Cmp(y Value) (int, error)
}

// HasEqual is implemented by values with custom equality (everything
// except primitives and identity-compared objects).
type HasEqual interface {
	Value
	Equal(y Value) (bool, error)
}

// Iterator yields a sequence of values; Done must be called once the
// caller no longer needs it (mirrors the ITER/NEXT opcode contract).
type Iterator interface {
	// Next reports whether a value is available and, if so, stores it in *p
	// and advances. Next must set *p to Nil and return false at the end of
	// the sequence.
	Next(p *Value) bool
	Done()
}

// Iterable is implemented by values that can appear on the right of a
// foreach loop (the ITER opcode).
type Iterable interface {
	Value
	Iterate() Iterator
}

// GC is the minimal interface the value package needs from the garbage
// collector: Track threads a heap object onto the collector's allocation
// list. Strings.Intern calls it for every new string; the other
// constructors leave it to their callers (the compiler and the VM).
type GC interface {
	Track(o Object)
}

// Object is implemented by every heap-allocated, garbage-collected value
// (String, Function, Closure, Table, UserObject, GoFunc, Upvalue cell).
// Per-variant behavior (equal, toString, length, mark) is split across
// this interface plus the optional HasEqual/Lenner/Marker mixins rather
// than one monolithic vtable.
type Object interface {
	Value
	// gcHeader returns the embedded bookkeeping record the collector uses
	// to thread this object into its allocation list and mark it.
	gcHeader() *Header
}

// Marker is implemented by composite objects that hold references to
// other Values; Mark must visit each one via visit.
type Marker interface {
	Mark(visit func(Value))
}

// Lenner is implemented by values that support the # (length) operator.
type Lenner interface {
	Value
	Len() int
}

// TypeError reports an operation applied to a value of the wrong dynamic
// type, e.g. arithmetic on a table.
type TypeError struct {
	Where    string
	Got      string
	Expected string
}

func (e *TypeError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("%s: unexpected type %s", e.Where, e.Got)
	}
	return fmt.Sprintf("%s: expected %s, got %s", e.Where, e.Expected, e.Got)
}

// Truth reports the truthiness of v: only Nil and Bool(false) are falsy.
func Truth(v Value) bool {
	switch v := v.(type) {
	case NilType:
		return false
	case Bool:
		return bool(v)
	default:
		return true
	}
}
