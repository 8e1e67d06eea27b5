package value

// Header is the intrusive bookkeeping record embedded in every heap
// Object. The collector (internal/gc) threads every live object into a
// single allocation list through Next, and flips Marked during the mark
// phase. Embedding a common header instead of a central side-table is
// the cheapest way to give every Object type uniform list/mark
// bookkeeping without reflection.
type Header struct {
	next   Object
	marked bool
}

func (h *Header) gcHeader() *Header { return h }

// Next returns the next object in the collector's allocation list.
func (h *Header) Next() Object { return h.next }

// SetNext sets the next object in the collector's allocation list.
func (h *Header) SetNext(o Object) { h.next = o }

// Marked reports whether this object survived the most recent mark
// phase.
func (h *Header) Marked() bool { return h.marked }

// SetMarked sets this object's mark bit.
func (h *Header) SetMarked(m bool) { h.marked = m }

// HeaderOf returns o's embedded Header, giving the collector package
// access to the otherwise-unexported gcHeader accessor.
func HeaderOf(o Object) *Header { return o.gcHeader() }
