// Package vm implements Cosmo's stack-based bytecode virtual machine:
// a value stack shared by every active call, a frame stack of
// {closure, ip, base} records, and a single dispatch loop per frame
// that recurses (in Go) into a nested runFrame for every interpreted
// call.
//
// The compiler addresses locals as stack slots relative to a frame
// base, so vm.call's Closure branch appends the callee, its bound
// parameters, and (if variadic) a collected Table directly onto the
// shared value stack rather than allocating a side array, and frame
// teardown truncates the stack back to that base.
package vm

import (
	"context"
	"io"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"cosmo/internal/compiler"
	"cosmo/internal/gc"
	"cosmo/internal/value"
)

// defaultMaxCallDepth bounds Go-level call recursion (one Go stack frame
// per active Cosmo call); exhausting it raises KindStackOverflow.
const defaultMaxCallDepth = 220

// VM is one self-contained Cosmo interpreter instance; there is no
// process-wide state, so multiple VMs coexist without interaction.
type VM struct {
	stack        []value.Value
	frames       []*Frame
	openUpvalues []*value.Upvalue // descending by stack slot

	globalValues []value.Value
	globals      *compiler.Globals
	protos       *value.Protos
	strings      *value.Strings
	gc           *gc.Collector

	Stdout io.Writer
	Stderr io.Writer

	// ctx/cancelled implement cooperative cancellation: a watcher
	// goroutine flips cancelled when ctx is done, and the dispatch loop
	// polls the flag between opcodes (see CallContext). Both are nil
	// outside a CallContext run; the flag is per-run so a watcher
	// outliving its run cannot poison the next one.
	ctx       context.Context
	cancelled *atomic.Bool

	maxCallDepth int
	maxSteps     int // 0 = unlimited
	steps        int
}

var _ gc.Roots = (*VM)(nil)

// New returns a VM sharing the given Globals/Strings/Collector — the
// same triple a REPL passes to successive compiler.Compile calls, so
// globals and interned strings persist across compiles against one VM.
func New(globals *compiler.Globals, strs *value.Strings, gco *gc.Collector) *VM {
	gco.SetPruner(strs.Prune)
	return &VM{
		globals:      globals,
		strings:      strs,
		protos:       &value.Protos{},
		gc:           gco,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		maxCallDepth: defaultMaxCallDepth,
	}
}

// SetMaxSteps bounds total opcode dispatch (0 disables the limit),
// letting an embedding host cap a runaway script up front; for
// on-demand interruption, run through CallContext instead — host code
// cannot stop an in-flight interpretation any other way.
func (vm *VM) SetMaxSteps(n int) { vm.maxSteps = n }

// WalkRoots implements gc.Roots: the value stack up to top, every open
// upvalue, every call frame's closure, the global table, and the
// proto-object table.
func (vm *VM) WalkRoots(visit func(value.Value)) {
	for _, v := range vm.stack {
		visit(v)
	}
	for _, uv := range vm.openUpvalues {
		visit(uv)
	}
	for _, fr := range vm.frames {
		visit(fr.closure)
	}
	for _, v := range vm.globalValues {
		visit(v)
	}
	vm.protos.Walk(func(obj *value.UserObject) { visit(obj) })
}

// --- embedding API ---

// CompileString compiles src as a module and wraps the resulting
// top-level Function in a Closure, ready to pass to Call. ok is false
// if compilation failed, in which case the returned closure is nil and
// errMsg names the first error encountered.
func (vm *VM) CompileString(src, module string) (closure *value.Closure, ok bool, errMsg string) {
	fn, ok, errMsg := compiler.Compile(src, module, vm.globals, vm.strings, vm.gc)
	if !ok {
		return nil, false, errMsg
	}
	cl := &value.Closure{Fn: fn}
	vm.gc.Track(cl)
	return cl, true, ""
}

// Register installs each (name, value) pair as a global, the Go-native
// shape of the usual "pop n (name, value) pairs from the stack"
// extension hook.
func (vm *VM) Register(globals map[string]value.Value) {
	for name, v := range globals {
		vm.SetGlobal(name, v)
	}
}

// SetGlobal installs a single named global. Warning: it overwrites any
// existing global of that name, builtins included, without any check.
func (vm *VM) SetGlobal(name string, v value.Value) {
	vm.setGlobal(int(vm.globals.Slot(name)), v)
}

// RegisterProtoObject installs obj as the proto consulted for field
// access on values of the given built-in tag. Warning: it replaces any
// proto already installed for tag without any check.
func (vm *VM) RegisterProtoObject(tag value.Tag, obj *value.UserObject) {
	vm.protos.Set(tag, obj)
}

// Call invokes fn with args, reconciling its results to exactly
// expected values.
func (vm *VM) Call(fn value.Value, args []value.Value, expected int) ([]value.Value, error) {
	return vm.call(fn, args, expected, 0)
}

// CallContext is Call under a context: when ctx is cancelled, the
// dispatch loop stops at the next opcode boundary with a KindCancelled
// error. Cancellation is cooperative — host callables in flight run to
// completion first — and polled through an atomic flag flipped by a
// watcher goroutine, so the per-opcode cost is one atomic load.
func (vm *VM) CallContext(ctx context.Context, fn value.Value, args []value.Value, expected int) ([]value.Value, error) {
	ctx, cancel := context.WithCancel(ctx)
	flag := new(atomic.Bool)
	vm.ctx, vm.cancelled = ctx, flag
	go func() {
		<-ctx.Done()
		flag.Store(true)
	}()
	defer func() {
		cancel()
		vm.ctx, vm.cancelled = nil, nil
	}()
	return vm.call(fn, args, expected, 0)
}

// PCall is the protected form: it never returns a Go error. On failure
// it unwinds frames and the value stack back to their depth at the
// time of the call, closes any upvalues opened above that point, and
// returns (false, [errorMessageString]).
func (vm *VM) PCall(fn value.Value, args []value.Value, expected int) (ok bool, results []value.Value) {
	savedFrames := len(vm.frames)
	savedStack := len(vm.stack)
	results, err := vm.call(fn, args, expected, 0)
	if err != nil {
		vm.frames = vm.frames[:savedFrames]
		vm.closeUpvalues(savedStack)
		vm.stack = vm.stack[:savedStack]
		return false, []value.Value{vm.strings.Intern(err.Error())}
	}
	return true, results
}

// Errorf raises a user error, returned from a host-registered GoFunc
// to abort the current call, recoverable via pcall.
func (vm *VM) Errorf(format string, args ...any) error {
	return newError(KindUser, vm.currentLine(), format, args...)
}

// TypeError raises a KindType error describing a mismatched operand,
// for host-registered GoFunc implementations.
func (vm *VM) TypeError(where, expected, got string) error {
	return typeError(vm.currentLine(), where, expected, got)
}

func (vm *VM) currentLine() int {
	if len(vm.frames) == 0 {
		return 0
	}
	return vm.frames[len(vm.frames)-1].Line()
}

// --- minimal Push/Pop/ToX surface ---
//
// Go embedding code almost always prefers Call/Register's typed Go
// values; these thin wrappers exist to mirror the usual stack-oriented
// embedding API shape.

func (vm *VM) PushNil()             { vm.push(value.Nil) }
func (vm *VM) PushBool(b bool)      { vm.push(value.Bool(b)) }
func (vm *VM) PushNumber(n float64) { vm.push(value.Number(n)) }
func (vm *VM) PushString(s string)  { vm.push(vm.strings.Intern(s)) }

func (vm *VM) PushGoFunc(name string, fn func(args []value.Value) ([]value.Value, error)) {
	vm.push(vm.NewGoFunc(name, fn))
}

// NewGoFunc wraps fn as a tracked, callable GoFunc value without
// pushing it onto the stack — the shape stdlib registration needs to
// build a map of name->Value for Register.
func (vm *VM) NewGoFunc(name string, fn func(args []value.Value) ([]value.Value, error)) *value.GoFunc {
	gf := &value.GoFunc{Name: name, Fn: fn}
	vm.gc.Track(gf)
	return gf
}

// Pop removes and returns the top-of-stack value.
func (vm *VM) Pop() value.Value { return vm.pop() }

func (vm *VM) ToNumber(v value.Value) (float64, bool) {
	n, ok := v.(value.Number)
	return float64(n), ok
}

func (vm *VM) ToString(v value.Value) (string, bool) {
	s, ok := v.(*value.String)
	if !ok {
		return "", false
	}
	return s.Go(), true
}

func (vm *VM) ToBool(v value.Value) bool { return value.Truth(v) }

// InternString exposes the VM's string table to stdlib code building
// new strings at runtime (string.sub, tostring, concatenation results).
func (vm *VM) InternString(s string) *value.String { return vm.strings.Intern(s) }

// NewTable returns a tracked, empty table with initial capacity for
// size items — the allocation path stdlib builtins use to build
// result tables (e.g. string.split) without reaching into the VM's
// unexported collector.
func (vm *VM) NewTable(size int) *value.Table {
	t := value.NewTable(size)
	vm.gc.Track(t)
	return t
}

// NewUserObject returns a tracked, empty user object, for stdlib
// builtins that construct objects at runtime.
func (vm *VM) NewUserObject() *value.UserObject {
	o := value.NewObject()
	vm.gc.Track(o)
	return o
}

// --- stack primitives ---

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() value.Value {
	n := len(vm.stack) - 1
	v := vm.stack[n]
	vm.stack = vm.stack[:n]
	return v
}

func (vm *VM) popN(n int) []value.Value {
	start := len(vm.stack) - n
	out := append([]value.Value(nil), vm.stack[start:]...)
	vm.stack = vm.stack[:start]
	return out
}

func (vm *VM) peek(offset int) value.Value { return vm.stack[len(vm.stack)-1-offset] }

func (vm *VM) getGlobal(idx int) value.Value {
	if idx < len(vm.globalValues) {
		return vm.globalValues[idx]
	}
	return value.Nil
}

func (vm *VM) setGlobal(idx int, v value.Value) {
	for len(vm.globalValues) <= idx {
		vm.globalValues = append(vm.globalValues, value.Nil)
	}
	vm.globalValues[idx] = v
}

// --- upvalues ---

func (vm *VM) captureUpvalue(slot int) *value.Upvalue {
	for _, uv := range vm.openUpvalues {
		if uv.IsOpen() && uv.StackSlot() == slot {
			return uv
		}
	}
	uv := value.NewOpenUpvalue(&vm.stack, slot)
	vm.gc.Track(uv)
	i := 0
	for i < len(vm.openUpvalues) && vm.openUpvalues[i].StackSlot() > slot {
		i++
	}
	vm.openUpvalues = append(vm.openUpvalues, nil)
	copy(vm.openUpvalues[i+1:], vm.openUpvalues[i:])
	vm.openUpvalues[i] = uv
	return uv
}

// closeUpvalues closes every open upvalue at or above stack index from,
// the shared implementation behind the CLOSE opcode, frame teardown,
// and pcall's unwind.
func (vm *VM) closeUpvalues(from int) {
	kept := vm.openUpvalues[:0]
	for _, uv := range vm.openUpvalues {
		if uv.IsOpen() && uv.StackSlot() >= from {
			uv.Close()
		} else {
			kept = append(kept, uv)
		}
	}
	vm.openUpvalues = kept
}

// --- calling convention ---

func reconcile(results []value.Value, expected int) []value.Value {
	if len(results) == expected {
		return results
	}
	out := make([]value.Value, expected)
	for i := range out {
		if i < len(results) {
			out[i] = results[i]
		} else {
			out[i] = value.Nil
		}
	}
	return out
}

// call dispatches to a GoFunc or a Closure, or raises a type error for
// any other callee, and reconciles the result count against expected.
func (vm *VM) call(fn value.Value, args []value.Value, expected int, line int) ([]value.Value, error) {
	switch f := fn.(type) {
	case *value.GoFunc:
		results, err := f.Fn(args)
		if err != nil {
			return nil, err
		}
		return reconcile(results, expected), nil

	case *value.Closure:
		if len(vm.frames) >= vm.maxCallDepth {
			return nil, newError(KindStackOverflow, line, "call stack exhausted calling %s", f.Fn.Name)
		}
		base := len(vm.stack)
		vm.push(f)
		arity := f.Fn.Arity
		for i := 0; i < arity; i++ {
			if i < len(args) {
				vm.push(args[i])
			} else {
				vm.push(value.Nil)
			}
		}
		if f.Fn.Variadic {
			var extra []value.Value
			if len(args) > arity {
				extra = args[arity:]
			}
			tbl := value.NewTable(len(extra))
			for i, v := range extra {
				tbl.Set(value.Number(i+1), v)
			}
			vm.gc.Track(tbl)
			vm.push(tbl)
		}

		fr := &Frame{closure: f, base: base, expected: expected}
		vm.frames = append(vm.frames, fr)
		results, err := vm.runFrame(fr)
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.closeUpvalues(base)
		vm.stack = vm.stack[:base]
		if err != nil {
			return nil, err
		}
		return reconcile(results, expected), nil

	default:
		return nil, typeError(line, "call", "function", fn.Type())
	}
}

// --- field/index access, shared by GETOBJECT/SETOBJECT/INDEX/NEWINDEX
// and INVOKE's method-resolution step ---

// protoFieldName is the reserved field name routed to the proto pointer
// itself rather than ordinary field storage (`o.__proto = P`).
const protoFieldName = "__proto"

// Magic metamethod names consulted when an ordinary field lookup
// misses: __getter and __setter are tables mapping a field name to a
// per-field accessor callable; __index and __newindex handle any
// remaining miss and may be tables, objects, or callables themselves.
const (
	getterField   = "__getter"
	setterField   = "__setter"
	indexField    = "__index"
	newindexField = "__newindex"
)

func isCallable(v value.Value) bool {
	switch v.(type) {
	case *value.Closure, *value.GoFunc:
		return true
	default:
		return false
	}
}

// magicEntry looks name up inside a __getter/__setter container and
// returns its callable entry, if any.
func (vm *VM) magicEntry(container value.Value, name string) (value.Value, bool) {
	switch c := container.(type) {
	case *value.Table:
		if v, ok := c.Get(vm.strings.Intern(name)); ok && isCallable(v) {
			return v, true
		}
	case *value.UserObject:
		if v, ok := c.Field(name); ok && isCallable(v) {
			return v, true
		}
	}
	return nil, false
}

// getMissFallback runs the metamethod chain for a field read that
// missed ordinary storage: a matching __getter entry is called with
// the receiver; otherwise __index is consulted as a table/object (a
// plain lookup) or as a callable (invoked with receiver and key).
// find resolves a name through the receiver's proto chain.
func (vm *VM) getMissFallback(recv value.Value, find func(string) (value.Value, bool), name string, line int) (value.Value, error) {
	if g, ok := find(getterField); ok {
		if fn, ok := vm.magicEntry(g, name); ok {
			results, err := vm.call(fn, []value.Value{recv}, 1, line)
			if err != nil {
				return nil, err
			}
			return results[0], nil
		}
	}
	if h, ok := find(indexField); ok {
		switch idx := h.(type) {
		case *value.Table:
			if v, ok := idx.Get(vm.strings.Intern(name)); ok {
				return v, nil
			}
		case *value.UserObject:
			if v, ok := idx.Field(name); ok {
				return v, nil
			}
		case *value.Closure, *value.GoFunc:
			results, err := vm.call(h, []value.Value{recv, vm.strings.Intern(name)}, 1, line)
			if err != nil {
				return nil, err
			}
			return results[0], nil
		}
	}
	return value.Nil, nil
}

// setMissFallback is the write-side counterpart: a matching __setter
// entry or a __newindex handler consumes the assignment (handled is
// true); otherwise the caller falls through to ordinary storage.
func (vm *VM) setMissFallback(recv value.Value, find func(string) (value.Value, bool), name string, v value.Value, line int) (handled bool, err error) {
	if s, ok := find(setterField); ok {
		if fn, ok := vm.magicEntry(s, name); ok {
			_, err := vm.call(fn, []value.Value{recv, v}, 0, line)
			return true, err
		}
	}
	if h, ok := find(newindexField); ok {
		switch ni := h.(type) {
		case *value.Table:
			ni.Set(vm.strings.Intern(name), v)
			return true, nil
		case *value.UserObject:
			ni.SetOwn(name, v)
			return true, nil
		case *value.Closure, *value.GoFunc:
			_, err := vm.call(h, []value.Value{recv, vm.strings.Intern(name), v}, 0, line)
			return true, err
		}
	}
	return false, nil
}

func (vm *VM) getField(recv value.Value, name string, line int) (value.Value, error) {
	switch obj := recv.(type) {
	case *value.UserObject:
		if name == protoFieldName {
			if p := obj.Proto(); p != nil {
				return p, nil
			}
			return value.Nil, nil
		}
		if v, ok := obj.Field(name); ok {
			return v, nil
		}
		return vm.getMissFallback(recv, obj.Field, name, line)

	case *value.Table:
		// A `{}` literal used as an object is a Table: GETOBJECT/INVOKE
		// first consult its own string-keyed entries, then fall back to
		// its instance proto chain, mirroring UserObject.Field exactly.
		if name == protoFieldName {
			if p := obj.Proto(); p != nil {
				return p, nil
			}
			return value.Nil, nil
		}
		if v, ok := obj.Get(vm.strings.Intern(name)); ok {
			return v, nil
		}
		if p := obj.Proto(); p != nil {
			if v, ok := p.Field(name); ok {
				return v, nil
			}
			return vm.getMissFallback(recv, p.Field, name, line)
		}
		return value.Nil, nil
	}

	tag, ok := value.TagOf(recv)
	if !ok {
		return nil, typeError(line, "field access", "object", recv.Type())
	}
	proto := vm.protos.Get(tag)
	if proto == nil {
		return value.Nil, nil
	}
	if v, ok := proto.Field(name); ok {
		return v, nil
	}
	return value.Nil, nil
}

func (vm *VM) setField(recv value.Value, name string, v value.Value, line int) error {
	switch obj := recv.(type) {
	case *value.UserObject:
		if name == protoFieldName {
			return setProtoField(v, obj.SetProto, line)
		}
		if _, ok := obj.GetOwn(name); !ok {
			if handled, err := vm.setMissFallback(recv, obj.Field, name, v, line); handled || err != nil {
				return err
			}
		}
		obj.SetOwn(name, v)
		return nil

	case *value.Table:
		if name == protoFieldName {
			return setProtoField(v, obj.SetProto, line)
		}
		key := vm.strings.Intern(name)
		if _, ok := obj.Get(key); !ok {
			if p := obj.Proto(); p != nil {
				if handled, err := vm.setMissFallback(recv, p.Field, name, v, line); handled || err != nil {
					return err
				}
			}
		}
		obj.Set(key, v)
		return nil

	default:
		return typeError(line, "field assignment", "object", recv.Type())
	}
}

// setProtoField implements the shared `__proto` assignment rule for
// both UserObject and Table receivers: nil clears the proto, a
// *UserObject installs it, anything else is a type error.
func setProtoField(v value.Value, set func(*value.UserObject), line int) error {
	if v == value.Nil {
		set(nil)
		return nil
	}
	p, ok := v.(*value.UserObject)
	if !ok {
		return typeError(line, "__proto assignment", "object", v.Type())
	}
	set(p)
	return nil
}

func (vm *VM) index(recv, key value.Value, line int) (value.Value, error) {
	switch r := recv.(type) {
	case *value.Table:
		v, ok := r.Get(key)
		if !ok {
			return value.Nil, nil
		}
		return v, nil
	case *value.UserObject:
		s, ok := key.(*value.String)
		if !ok {
			return nil, typeError(line, "index", "string", key.Type())
		}
		return vm.getField(r, s.Go(), line)
	default:
		return nil, typeError(line, "index", "table or object", recv.Type())
	}
}

func (vm *VM) newIndex(recv, key, v value.Value, line int) error {
	switch r := recv.(type) {
	case *value.Table:
		r.Set(key, v)
		return nil
	case *value.UserObject:
		s, ok := key.(*value.String)
		if !ok {
			return typeError(line, "index assignment", "string", key.Type())
		}
		return vm.setField(r, s.Go(), v, line)
	default:
		return typeError(line, "index assignment", "table or object", recv.Type())
	}
}

// --- arithmetic helpers ---

func asNumber(v value.Value, line int, where string) (value.Number, error) {
	n, ok := v.(value.Number)
	if !ok {
		return 0, typeError(line, where, "number", v.Type())
	}
	return n, nil
}

// --- the dispatch loop ---

// readU16 decodes a little-endian u16 operand.
func readU16(code []byte, ip int) uint16 {
	return uint16(code[ip]) | uint16(code[ip+1])<<8
}

// runFrame executes fr's bytecode until a RETURN (success) or a runtime
// error. Nested interpreted calls recurse through vm.call/vm.runFrame
// rather than flattening every active call into one dispatch loop.
func (vm *VM) runFrame(fr *Frame) ([]value.Value, error) {
	code := fr.closure.Fn.Chunk.Code
	consts := fr.closure.Fn.Chunk.Constants

	for {
		if vm.maxSteps > 0 {
			vm.steps++
			if vm.steps > vm.maxSteps {
				return nil, newError(KindStackOverflow, fr.Line(), "step limit exceeded")
			}
		}
		if vm.cancelled != nil && vm.cancelled.Load() {
			return nil, newError(KindCancelled, fr.Line(), "interpreter cancelled: %s", context.Cause(vm.ctx))
		}

		op := compiler.Opcode(code[fr.ip])
		fr.ip++
		line := fr.Line()

		switch op {
		case compiler.LOADCONST:
			k := readU16(code, fr.ip)
			fr.ip += 2
			vm.push(consts[k])
		case compiler.TRUE:
			vm.push(value.Bool(true))
		case compiler.FALSE:
			vm.push(value.Bool(false))
		case compiler.NIL:
			vm.push(value.Nil)

		case compiler.POP:
			n := int(code[fr.ip])
			fr.ip++
			vm.stack = vm.stack[:len(vm.stack)-n]
			// POP most often marks a statement boundary (exprStatement,
			// endScope's batched pop, multi-assignment alignment), a safe
			// point to run a collection cycle with a fully consistent
			// stack.
			vm.gc.MaybeCollect(vm)

		case compiler.ADD, compiler.SUB, compiler.MULT, compiler.DIV, compiler.MOD:
			b := vm.pop()
			a := vm.pop()
			an, err := asNumber(a, line, op.String())
			if err != nil {
				return nil, err
			}
			bn, err := asNumber(b, line, op.String())
			if err != nil {
				return nil, err
			}
			switch op {
			case compiler.ADD:
				vm.push(an + bn)
			case compiler.SUB:
				vm.push(an - bn)
			case compiler.MULT:
				vm.push(an * bn)
			case compiler.DIV:
				if bn == 0 {
					return nil, newError(KindArithmetic, line, "division by zero")
				}
				vm.push(an / bn)
			case compiler.MOD:
				if bn == 0 {
					return nil, newError(KindArithmetic, line, "division by zero")
				}
				vm.push(value.Number(math.Mod(float64(an), float64(bn))))
			}

		case compiler.NEGATE:
			n, err := asNumber(vm.pop(), line, "negate")
			if err != nil {
				return nil, err
			}
			vm.push(-n)

		case compiler.NOT:
			vm.push(value.Bool(!value.Truth(vm.pop())))

		case compiler.COUNT:
			v := vm.pop()
			l, ok := v.(value.Lenner)
			if !ok {
				return nil, typeError(line, "length", "string or table", v.Type())
			}
			vm.push(value.Number(l.Len()))

		case compiler.CONCAT:
			n := int(code[fr.ip])
			fr.ip++
			args := vm.popN(n)
			var sb strings.Builder
			for _, v := range args {
				switch v.(type) {
				case *value.String, value.Number:
					sb.WriteString(v.String())
				default:
					return nil, typeError(line, "concat", "string or number", v.Type())
				}
			}
			vm.push(vm.strings.Intern(sb.String()))

		case compiler.EQUAL:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(a == b))

		case compiler.GREATER, compiler.LESS, compiler.GREATER_EQUAL, compiler.LESS_EQUAL:
			b := vm.pop()
			a := vm.pop()
			ao, ok := a.(value.Ordered)
			if !ok {
				return nil, typeError(line, "compare", "orderable value", a.Type())
			}
			cmp, err := ao.Cmp(b)
			if err != nil {
				return nil, newError(KindType, line, "%s", err)
			}
			var res bool
			switch op {
			case compiler.GREATER:
				res = cmp > 0
			case compiler.LESS:
				res = cmp < 0
			case compiler.GREATER_EQUAL:
				res = cmp >= 0
			case compiler.LESS_EQUAL:
				res = cmp <= 0
			}
			vm.push(value.Bool(res))

		case compiler.GETLOCAL:
			idx := int(code[fr.ip])
			fr.ip++
			vm.push(vm.stack[fr.base+idx])
		case compiler.SETLOCAL:
			idx := int(code[fr.ip])
			fr.ip++
			vm.stack[fr.base+idx] = vm.peek(0)
		case compiler.INCLOCAL:
			delta := int8(code[fr.ip])
			fr.ip++
			idx := int(code[fr.ip])
			fr.ip++
			cur, err := asNumber(vm.stack[fr.base+idx], line, "increment")
			if err != nil {
				return nil, err
			}
			nv := cur + value.Number(delta)
			vm.stack[fr.base+idx] = nv
			vm.push(nv)

		case compiler.GETUPVAL:
			idx := int(code[fr.ip])
			fr.ip++
			vm.push(fr.closure.Upvalues[idx].Get())
		case compiler.SETUPVAL:
			idx := int(code[fr.ip])
			fr.ip++
			fr.closure.Upvalues[idx].Set(vm.peek(0))
		case compiler.INCUPVAL:
			delta := int8(code[fr.ip])
			fr.ip++
			idx := int(code[fr.ip])
			fr.ip++
			uv := fr.closure.Upvalues[idx]
			cur, err := asNumber(uv.Get(), line, "increment")
			if err != nil {
				return nil, err
			}
			nv := cur + value.Number(delta)
			uv.Set(nv)
			vm.push(nv)

		case compiler.GETGLOBAL:
			idx := readU16(code, fr.ip)
			fr.ip += 2
			vm.push(vm.getGlobal(int(idx)))
		case compiler.SETGLOBAL:
			idx := readU16(code, fr.ip)
			fr.ip += 2
			vm.setGlobal(int(idx), vm.peek(0))
		case compiler.INCGLOBAL:
			delta := int8(code[fr.ip])
			fr.ip++
			idx := readU16(code, fr.ip)
			fr.ip += 2
			cur, err := asNumber(vm.getGlobal(int(idx)), line, "increment")
			if err != nil {
				return nil, err
			}
			nv := cur + value.Number(delta)
			vm.setGlobal(int(idx), nv)
			vm.push(nv)

		case compiler.CLOSE:
			vm.closeUpvalues(len(vm.stack) - 1)
			vm.stack = vm.stack[:len(vm.stack)-1]

		case compiler.JMP:
			off := readU16(code, fr.ip)
			fr.ip += 2
			fr.ip += int(off)
		case compiler.JMPBACK:
			off := readU16(code, fr.ip)
			fr.ip += 2
			fr.ip -= int(off)
		case compiler.PEJMP:
			off := readU16(code, fr.ip)
			fr.ip += 2
			if !value.Truth(vm.pop()) {
				fr.ip += int(off)
			}
		case compiler.EJMP:
			off := readU16(code, fr.ip)
			fr.ip += 2
			if !value.Truth(vm.peek(0)) {
				fr.ip += int(off)
			}

		case compiler.CALL:
			argc := int(code[fr.ip])
			fr.ip++
			expected := int(code[fr.ip])
			fr.ip++
			args := vm.popN(argc)
			callee := vm.pop()
			results, err := vm.call(callee, args, expected, line)
			if err != nil {
				return nil, err
			}
			vm.stack = append(vm.stack, results...)

		case compiler.INVOKE:
			key := readU16(code, fr.ip)
			fr.ip += 2
			argc := int(code[fr.ip])
			fr.ip++
			expected := int(code[fr.ip])
			fr.ip++
			args := vm.popN(argc)
			recv := vm.pop()
			keyStr := consts[key].(*value.String)
			fn, err := vm.getField(recv, keyStr.Go(), line)
			if err != nil {
				return nil, err
			}
			callArgs := make([]value.Value, 0, len(args)+1)
			callArgs = append(callArgs, recv)
			callArgs = append(callArgs, args...)
			results, err := vm.call(fn, callArgs, expected, line)
			if err != nil {
				return nil, err
			}
			vm.stack = append(vm.stack, results...)

		case compiler.RETURN:
			n := int(code[fr.ip])
			fr.ip++
			return vm.popN(n), nil

		case compiler.CLOSURE:
			k := readU16(code, fr.ip)
			fr.ip += 2
			fnVal := consts[k].(*value.Function)
			upvals := make([]*value.Upvalue, fnVal.NumUpvals)
			for i := 0; i < fnVal.NumUpvals; i++ {
				isLocal := code[fr.ip]
				fr.ip++
				idx := code[fr.ip]
				fr.ip++
				if isLocal == 1 {
					upvals[i] = vm.captureUpvalue(fr.base + int(idx))
				} else {
					upvals[i] = fr.closure.Upvalues[idx]
				}
			}
			cl := &value.Closure{Fn: fnVal, Upvalues: upvals}
			vm.gc.Track(cl)
			vm.push(cl)

		case compiler.NEWDICT:
			n := int(readU16(code, fr.ip))
			fr.ip += 2
			pairs := vm.popN(2 * n)
			tbl := value.NewTable(n)
			for i := 0; i < n; i++ {
				tbl.Set(pairs[2*i], pairs[2*i+1])
			}
			vm.gc.Track(tbl)
			vm.push(tbl)

		case compiler.NEWOBJECT:
			n := int(readU16(code, fr.ip))
			fr.ip += 2
			pairs := vm.popN(2 * n)
			obj := value.NewObject()
			for i := 0; i < n; i++ {
				keyStr, ok := pairs[2*i].(*value.String)
				if !ok {
					return nil, typeError(line, "object literal key", "string", pairs[2*i].Type())
				}
				obj.SetOwn(keyStr.Go(), pairs[2*i+1])
			}
			vm.gc.Track(obj)
			vm.push(obj)

		case compiler.GETOBJECT:
			key := readU16(code, fr.ip)
			fr.ip += 2
			recv := vm.pop()
			keyStr := consts[key].(*value.String)
			v, err := vm.getField(recv, keyStr.Go(), line)
			if err != nil {
				return nil, err
			}
			vm.push(v)

		case compiler.SETOBJECT:
			key := readU16(code, fr.ip)
			fr.ip += 2
			val := vm.pop()
			recv := vm.pop()
			keyStr := consts[key].(*value.String)
			if err := vm.setField(recv, keyStr.Go(), val, line); err != nil {
				return nil, err
			}
			vm.push(val)

		case compiler.INDEX:
			key := vm.pop()
			recv := vm.pop()
			v, err := vm.index(recv, key, line)
			if err != nil {
				return nil, err
			}
			vm.push(v)

		case compiler.NEWINDEX:
			val := vm.pop()
			key := vm.pop()
			recv := vm.pop()
			if err := vm.newIndex(recv, key, val, line); err != nil {
				return nil, err
			}
			vm.push(val)

		case compiler.INCOBJECT:
			delta := int8(code[fr.ip])
			fr.ip++
			key := readU16(code, fr.ip)
			fr.ip += 2
			recv := vm.pop()
			keyStr := consts[key].(*value.String)
			cur, err := vm.getField(recv, keyStr.Go(), line)
			if err != nil {
				return nil, err
			}
			curN, err := asNumber(cur, line, "increment")
			if err != nil {
				return nil, err
			}
			nv := curN + value.Number(delta)
			if err := vm.setField(recv, keyStr.Go(), nv, line); err != nil {
				return nil, err
			}
			vm.push(nv)

		case compiler.INCINDEX:
			delta := int8(code[fr.ip])
			fr.ip++
			key := vm.pop()
			recv := vm.pop()
			cur, err := vm.index(recv, key, line)
			if err != nil {
				return nil, err
			}
			curN, err := asNumber(cur, line, "increment")
			if err != nil {
				return nil, err
			}
			nv := curN + value.Number(delta)
			if err := vm.newIndex(recv, key, nv, line); err != nil {
				return nil, err
			}
			vm.push(nv)

		case compiler.ITER:
			recv := vm.pop()
			adv, err := vm.makeIterator(recv, line)
			if err != nil {
				return nil, err
			}
			vm.push(adv)

		case compiler.NEXT:
			n := int(code[fr.ip])
			fr.ip++
			off := readU16(code, fr.ip)
			fr.ip += 2
			iterIdx := len(vm.stack) - n - 1
			iterVal := vm.stack[iterIdx]
			results, err := vm.call(iterVal, nil, n, line)
			if err != nil {
				return nil, err
			}
			if len(results) == 0 || results[0] == value.Nil {
				vm.stack = vm.stack[:iterIdx]
				fr.ip += int(off)
			} else {
				for i := 0; i < n; i++ {
					vm.stack[iterIdx+1+i] = results[i]
				}
			}

		default:
			return nil, newError(KindType, line, "illegal opcode %s", op)
		}
	}
}
