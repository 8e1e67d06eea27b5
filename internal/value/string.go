package value

import (
	"github.com/dolthub/swiss"
)

// String is an immutable, interned byte sequence. Equal byte content
// within one VM always yields the same *String pointer, so string
// equality and hashing for use as a Table key reduce to pointer
// identity.
type String struct {
	Header
	s    string
	hash uint64
}

var (
	_ Value   = (*String)(nil)
	_ Lenner  = (*String)(nil)
	_ Ordered = (*String)(nil)
)

func (s *String) String() string { return s.s }
func (s *String) Type() string   { return "string" }
func (s *String) Len() int       { return len(s.s) }
func (s *String) Go() string     { return s.s }

// Cmp implements byte-lexicographic ordering, so `<`/`>` work on strings
// the same way they do on numbers.
func (s *String) Cmp(y Value) (int, error) {
	other, ok := y.(*String)
	if !ok {
		return 0, &TypeError{Where: "compare", Got: y.Type(), Expected: "string"}
	}
	switch {
	case s.s < other.s:
		return -1, nil
	case s.s > other.s:
		return +1, nil
	default:
		return 0, nil
	}
}

// fnv1a64 is used to pre-hash string content for the intern table; it is
// not exposed, callers only ever see the resulting *String identity.
func fnv1a64(s string) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

// Strings is a per-VM string-interning table backed by a
// github.com/dolthub/swiss hash map. It holds weak references: Prune,
// called from the collector's sweep phase, drops entries whose *String
// did not survive the last mark.
type Strings struct {
	m  *swiss.Map[string, *String]
	gc GC
}

// NewStrings returns an empty intern table backed by gc for object
// tracking.
func NewStrings(gc GC) *Strings {
	return &Strings{m: swiss.NewMap[string, *String](64), gc: gc}
}

// Intern returns the canonical *String for s, allocating one if this is
// the first time s has been seen; the caller still owns its input
// afterwards.
func (t *Strings) Intern(s string) *String {
	if v, ok := t.m.Get(s); ok {
		return v
	}
	str := &String{s: s, hash: fnv1a64(s)}
	t.gc.Track(str)
	t.m.Put(s, str)
	return str
}

// Take is like Intern but donates ownership of buf; since Go strings
// are immutable it behaves identically, and exists so call sites can
// record which of the two construction paths they mean.
func (t *Strings) Take(buf string) *String { return t.Intern(buf) }

// Prune removes entries whose *String is no longer reachable. gcAlive
// reports whether an object survived the last mark phase.
func (t *Strings) Prune(gcAlive func(Object) bool) {
	var dead []string
	t.m.Iter(func(k string, v *String) bool {
		if !gcAlive(v) {
			dead = append(dead, k)
		}
		return false // keep iterating
	})
	for _, k := range dead {
		t.m.Delete(k)
	}
}
