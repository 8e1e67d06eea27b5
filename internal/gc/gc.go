// Package gc implements Cosmo's non-moving mark-and-sweep collector.
// Every heap value.Object is threaded onto a single allocation list at
// construction time; Collect walks the root set supplied by the
// compiler and VM, marks everything reachable, then sweeps the
// allocation list, freeing anything left unmarked.
package gc

import "cosmo/internal/value"

// initialThreshold is the live-object count that triggers the first
// automatic collection. After each automatic cycle the threshold is reset
// to twice the surviving object count plus initialThreshold, so a program
// that stays small collects rarely and one that allocates heavily backs
// off proportionally, the usual mark-sweep "collect when you've doubled
// since last time" heuristic.
const initialThreshold = 4096

// Collector owns the allocation list and mark state for one VM instance.
// Each VM owns exactly one Collector; Collectors never share state.
type Collector struct {
	head      value.Object // head of the intrusive allocation linked list
	freeze    int          // >0 suppresses collection (compiler in-progress roots)
	count     int          // live object count, informs when to collect
	threshold int
	onSweep   func(alive func(value.Object) bool)
}

// New returns an empty Collector.
func New() *Collector { return &Collector{threshold: initialThreshold} }

// SetPruner registers a callback run after every sweep with the
// collector's liveness test, letting value.Strings drop interned
// entries whose *String no longer survived (the intern table holds
// weak references).
func (c *Collector) SetPruner(fn func(alive func(value.Object) bool)) {
	c.onSweep = fn
}

// MaybeCollect runs a cycle if the live object count has grown past the
// current threshold (and collection isn't frozen), and is the VM's
// automatic trigger point. The VM calls it on every POP, the opcode that
// ends most statements (it is also emitted inside and/or and after a
// C-style for increment), rather than on every opcode. Returns whether a
// cycle actually ran.
func (c *Collector) MaybeCollect(roots Roots) bool {
	if c.Frozen() || c.count < c.threshold {
		return false
	}
	c.Collect(roots)
	c.threshold = c.count*2 + initialThreshold
	return true
}

// Track threads o onto the allocation list. The value constructors
// (NewTable, NewObject, NewOpenUpvalue, ...) do not call it themselves:
// value.Strings.Intern, the compiler and the VM call it once for each
// object they create.
func (c *Collector) Track(o value.Object) {
	hdr := headerOf(o)
	hdr.SetNext(c.head)
	c.head = o
	c.count++
}

// Freeze suppresses collection; used by the compiler to protect
// intermediate objects that are not yet reachable from any VM root.
// Calls nest; Unfreeze must be
// called once per Freeze, typically via a deferred call so it runs on
// every exit path including compile errors.
func (c *Collector) Freeze() { c.freeze++ }

// Unfreeze reverses one Freeze call.
func (c *Collector) Unfreeze() {
	if c.freeze > 0 {
		c.freeze--
	}
}

// Frozen reports whether collection is currently suppressed.
func (c *Collector) Frozen() bool { return c.freeze > 0 }

// Roots is supplied by the caller (the VM) to enumerate every live root:
// the value stack, open upvalues, call frames' closures, the global
// table and the proto table. The compiler's in-progress objects are not
// enumerated; the compiler protects them with Freeze instead.
type Roots interface {
	// WalkRoots calls visit once for every directly reachable root value.
	WalkRoots(visit func(value.Value))
}

// Collect runs one mark/sweep cycle unless collection is currently
// frozen, in which case it is a silent no-op (the caller should simply
// try again after the matching Unfreeze).
func (c *Collector) Collect(roots Roots) {
	if c.Frozen() {
		return
	}
	c.mark(roots)
	c.sweep()
}

// Alive reports whether o survived the most recent mark phase; used by
// value.Strings.Prune to drop dead interned entries during sweep.
func (c *Collector) Alive(o value.Object) bool {
	return headerOf(o).Marked()
}

// Count returns the number of tracked (not necessarily live) objects;
// exposed for tests and diagnostics.
func (c *Collector) Count() int { return c.count }

func (c *Collector) mark(roots Roots) {
	// Clear mark bits from the previous cycle.
	for o := c.head; o != nil; o = headerOf(o).Next() {
		headerOf(o).SetMarked(false)
	}

	var stack []value.Value
	visit := func(v value.Value) {
		o, ok := v.(value.Object)
		if !ok {
			return // primitive, nothing to mark
		}
		hdr := headerOf(o)
		if hdr.Marked() {
			return
		}
		hdr.SetMarked(true)
		stack = append(stack, v)
	}

	roots.WalkRoots(visit)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if m, ok := v.(value.Marker); ok {
			m.Mark(visit)
		}
	}
}

func (c *Collector) sweep() {
	var (
		newHead value.Object
		tail    value.Object
		live    int
	)
	for o := c.head; o != nil; {
		hdr := headerOf(o)
		next := hdr.Next()
		if hdr.Marked() {
			hdr.SetNext(nil)
			if tail == nil {
				newHead = o
			} else {
				headerOf(tail).SetNext(o)
			}
			tail = o
			live++
		}
		// Unmarked objects are simply unlinked; Go's own GC reclaims the
		// memory once nothing else references them.
		o = next
	}
	c.head = newHead
	c.count = live
	if c.onSweep != nil {
		c.onSweep(c.Alive)
	}
}

func headerOf(o value.Object) *value.Header {
	return value.HeaderOf(o)
}
