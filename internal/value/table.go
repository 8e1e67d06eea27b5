package value

import (
	"fmt"

	"github.com/dolthub/swiss"
)

// Table is Cosmo's ordered mapping from hashable Value to Value. It backs
// both object/table literals and numeric "array" usage. Iteration order
// is insertion order, which a bare hash map cannot provide, so Table
// pairs a github.com/dolthub/swiss hash index (O(1) Get/Set) with an
// append-only slice of keys recording insertion order.
type Table struct {
	Header
	index *swiss.Map[Value, int] // key -> position in keys/vals
	keys  []Value
	vals  []Value
	proto *UserObject
}

var (
	_ Value    = (*Table)(nil)
	_ Iterable = (*Table)(nil)
	_ Lenner   = (*Table)(nil)
	_ Marker   = (*Table)(nil)
)

// NewTable returns an empty table with initial capacity for size items.
func NewTable(size int) *Table {
	if size < 0 {
		size = 0
	}
	return &Table{index: swiss.NewMap[Value, int](uint32(size))}
}

func (t *Table) String() string { return fmt.Sprintf("table(%p)", t) }
func (t *Table) Type() string   { return "table" }
func (t *Table) Len() int       { return len(t.keys) }

// Get returns the value for key k, or (Nil, false) if absent.
func (t *Table) Get(k Value) (Value, bool) {
	i, ok := t.index.Get(k)
	if !ok {
		return Nil, false
	}
	return t.vals[i], true
}

// Set inserts or updates the value for key k, appending to the
// insertion-order slice only on first insertion.
func (t *Table) Set(k, v Value) {
	if i, ok := t.index.Get(k); ok {
		t.vals[i] = v
		return
	}
	t.index.Put(k, len(t.keys))
	t.keys = append(t.keys, k)
	t.vals = append(t.vals, v)
}

// Delete removes key k, if present, shifting later entries down to
// preserve insertion order of the survivors.
func (t *Table) Delete(k Value) {
	i, ok := t.index.Get(k)
	if !ok {
		return
	}
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
	t.vals = append(t.vals[:i], t.vals[i+1:]...)
	t.index.Delete(k)
	for j := i; j < len(t.keys); j++ {
		t.index.Put(t.keys[j], j)
	}
}

// Keys returns the table's keys in insertion order; callers must not
// modify the result.
func (t *Table) Keys() []Value { return t.keys }

// Proto returns the table's prototype, or nil if it has none. A `{}`
// literal used as an object is a Table like any other; the proto
// pointer lets GETOBJECT/INVOKE field resolution fall back to a proto's
// methods the same way a UserObject's does, without introducing a
// second heap-object variant for "table with methods".
func (t *Table) Proto() *UserObject { return t.proto }

// SetProto installs p as the table's prototype.
func (t *Table) SetProto(p *UserObject) { t.proto = p }

// Iterate returns an insertion-order iterator yielding 2-tuples packaged
// as *Pair, which `for k,v in t` destructures into its loop variables.
func (t *Table) Iterate() Iterator {
	return &tableIterator{t: t}
}

func (t *Table) Mark(visit func(Value)) {
	for i, k := range t.keys {
		visit(k)
		visit(t.vals[i])
	}
	if t.proto != nil {
		visit(t.proto)
	}
}

type tableIterator struct {
	t *Table
	i int
}

func (it *tableIterator) Next(p *Value) bool {
	if it.i >= len(it.t.keys) {
		*p = Nil
		return false
	}
	*p = &Pair{Key: it.t.keys[it.i], Val: it.t.vals[it.i]}
	it.i++
	return true
}

func (it *tableIterator) Done() {}

// Pair is the 2-tuple produced by Table.Iterate; the VM's iterator
// wrapper unpacks it into key and value for NEXT's loop variables.
type Pair struct {
	Key, Val Value
}

func (p *Pair) String() string { return fmt.Sprintf("pair(%s, %s)", p.Key, p.Val) }
func (p *Pair) Type() string   { return "pair" }

var _ Value = (*Pair)(nil)
