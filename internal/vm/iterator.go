package vm

import "cosmo/internal/value"

// makeIterator implements the ITER opcode's contract: it turns
// whatever sits on top of the stack into a stateful,
// zero-argument "advance" callable that NEXT invokes each iteration.
//
//   - A Table yields its value.Iterator wrapped in a GoFunc.
//   - A Closure/GoFunc is already such a callable (a user-written
//     generator), and is used as-is.
//   - A user Object with a "__iter" method has that method called once
//     (receiver bound), and its result becomes the advance callable.
func (vm *VM) makeIterator(recv value.Value, line int) (value.Value, error) {
	switch r := recv.(type) {
	case *value.Table:
		return vm.wrapIterator(r.Iterate()), nil

	case *value.Closure, *value.GoFunc:
		return recv, nil

	case *value.UserObject:
		fn, ok := r.Field("__iter")
		if !ok {
			return nil, newError(KindType, line, "iterate: object has no __iter method")
		}
		results, err := vm.call(fn, []value.Value{recv}, 1, line)
		if err != nil {
			return nil, err
		}
		return results[0], nil

	default:
		return nil, typeError(line, "iterate", "iterable value", recv.Type())
	}
}

// wrapIterator adapts a value.Iterator to the advance-callable contract:
// called with no arguments, it returns either a single value.Nil (the
// sequence is exhausted) or the next item's value(s) — two for a
// *value.Pair (table iteration's key/value), one otherwise. NEXT
// reconciles the result to however many loop variables it declared.
func (vm *VM) wrapIterator(it value.Iterator) *value.GoFunc {
	gf := &value.GoFunc{Name: "<iterator>"}
	gf.Fn = func([]value.Value) ([]value.Value, error) {
		var v value.Value
		if !it.Next(&v) {
			it.Done()
			return []value.Value{value.Nil}, nil
		}
		if p, ok := v.(*value.Pair); ok {
			return []value.Value{p.Key, p.Val}, nil
		}
		return []value.Value{v}, nil
	}
	vm.gc.Track(gf)
	return gf
}
