package vm_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cosmo/internal/compiler"
	"cosmo/internal/gc"
	"cosmo/internal/stdlib"
	"cosmo/internal/value"
	"cosmo/internal/vm"
)

// newVM wires a fresh VM with the base library installed and stdout
// captured, the fixture every end-to-end test in this file shares.
func newVM(t *testing.T) (*vm.VM, *bytes.Buffer) {
	t.Helper()
	globals := compiler.NewGlobals()
	collector := gc.New()
	strs := value.NewStrings(collector)
	v := vm.New(globals, strs, collector)
	var out bytes.Buffer
	v.Stdout = &out
	stdlib.Install(v)
	return v, &out
}

func run(t *testing.T, v *vm.VM, src string) {
	t.Helper()
	cl, ok, errMsg := v.CompileString(src, "test")
	require.True(t, ok, "compile error: %s", errMsg)
	_, err := v.Call(cl, nil, 0)
	require.NoError(t, err)
}

// A C-style for loop summing 0..4 prints 10.
func TestForLoopSum(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `var x = 0; for(var i=0; i<5; i=i+1) do x = x + i end; print(x)`)
	require.Equal(t, "10\n", out.String())
}

// A closure over a mutable upvalue increments across calls.
func TestClosureUpvalueCounter(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `function mk() var c = 0; return function() c = c + 1; return c end end var f = mk(); print(f(), f(), f())`)
	require.Equal(t, "1 2 3\n", out.String())
}

// foreach over a table literal yields pairs in insertion order.
func TestForEachInsertionOrder(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `var t = {1:"a",2:"b"}; for k,v in t do print(k,v) end`)
	require.Equal(t, "1 a\n2 b\n", out.String())
}

// pcall recovers from a raised error and reports failure.
func TestPCallRecoversError(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `var ok, msg = pcall(function() error("boom") end); print(ok)`)
	require.Equal(t, "false\n", out.String())
}

// __proto assignment wires method dispatch through INVOKE.
func TestProtoMethodDispatch(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `proto P function greet(self) return "hi" end end var o = {}; o.__proto = P; print(o:greet())`)
	require.Equal(t, "hi\n", out.String())
}

// string.sub uses 0-based start plus character-count length.
func TestStringSubProtoDispatch(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `var s = "hello"; print(string.sub(s, 1, 3))`)
	require.Equal(t, "ell\n", out.String())
}

// Interned strings: equal literals share one object identity,
// observable via EQUAL's pointer-identity comparison.
func TestInternedStringIdentity(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `print("abc" == "abc")`)
	require.Equal(t, "true\n", out.String())
}

// Round-trip law: tostring(tonumber(s)) == s for a canonical rendering.
func TestTonumberTostringRoundTrip(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `print(tostring(tonumber("3.5")))`)
	require.Equal(t, "3.5\n", out.String())
}

func TestAssertNoopAndRaise(t *testing.T) {
	v, _ := newVM(t)
	run(t, v, `assert(true)`)

	v2, out2 := newVM(t)
	run(t, v2, `var ok, msg = pcall(function() assert(false) end); print(ok)`)
	require.Equal(t, "false\n", out2.String())
}

func TestDivisionByZeroIsArithmeticError(t *testing.T) {
	v, _ := newVM(t)
	cl, ok, errMsg := v.CompileString(`var x = 1/0`, "test")
	require.True(t, ok, "compile error: %s", errMsg)
	_, err := v.Call(cl, nil, 0)
	require.Error(t, err)
}

// break from a scope nested inside the loop body (an `if` block
// declaring its own local) must unwind every local pushed since the
// loop started, not just the ones the innermost block owns — otherwise
// a leftover stack slot corrupts the frame-relative addressing of
// every local declared after the loop returns.
func TestBreakUnwindsNestedScopeLocals(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `
function f()
	local acc = 0
	for(var i = 0; i < 10; i = i + 1) do
		if i == 3 do
			local y = 999
			break
		end
		acc = acc + 1
	end
	local after = 42
	return acc, after
end
var a, b = f()
print(a, b)`)
	require.Equal(t, "3 42\n", out.String())
}

// continue must likewise pop locals declared inside the loop body
// before jumping back to the loop's increment clause.
func TestContinueUnwindsNestedScopeLocals(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `
function f()
	local acc = 0
	for(var i = 0; i < 5; i = i + 1) do
		if i == 2 do
			local skip = 1
			continue
		end
		acc = acc + 1
	end
	local after = 7
	return acc, after
end
var a, b = f()
print(a, b)`)
	require.Equal(t, "4 7\n", out.String())
}

// Prefix `++`/`--`.
func TestPrefixIncrement(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `var x = 5; ++x; print(x)`)
	require.Equal(t, "6\n", out.String())
}

// A function body that falls off the end returns nil (the compiler's
// NIL; RETURN 1 trailing sentinel).
func TestImplicitReturnIsNil(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `function f() end print(f())`)
	require.Equal(t, "nil\n", out.String())
}

// Extra arguments beyond the declared parameters arrive collected in a
// table bound to the name after `...`.
func TestVariadicCollectsExtraArgs(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `function f(a, ...rest) return a + #rest end print(f(1, 2, 3, 4))`)
	require.Equal(t, "4\n", out.String())
}

// and/or short-circuit without evaluating the right operand, leaving
// the deciding value on the stack (the EJMP peek-don't-pop contract).
func TestShortCircuitAndOr(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `print(false and error("never")); print(nil or "y"); print(1 and 2)`)
	require.Equal(t, "false\ny\n2\n", out.String())
}

// A multi-name declaration spreads a trailing call's results across the
// names, padding any shortfall with nil.
func TestMultiReturnSpread(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `function two() return 1, 2 end var a, b = two(); print(a, b)`)
	require.Equal(t, "1 2\n", out.String())

	v2, out2 := newVM(t)
	run(t, v2, `function one() return 7 end var a, b = one(); print(a, b)`)
	require.Equal(t, "7 nil\n", out2.String())
}

// Postfix increment and decrement on locals, object fields, and indexed
// slots (the INC* opcode family).
func TestIncrementFamily(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `
var o = {}
o.n = 10
o.n--
var t = {1: 5}
t[1]++
var x = 0
x++
print(o.n, t[1], x)`)
	require.Equal(t, "9 6 1\n", out.String())
}

// A do block with a captured local: the closure must observe the
// last assigned value even after the block's scope died.
func TestClosedUpvalueObservesLastWrite(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `
function capture()
	local f = nil
	do
		local x = 1
		f = function() return x end
		x = 99
	end
	return f()
end
print(capture())`)
	require.Equal(t, "99\n", out.String())
}

// A cancelled context stops the dispatch loop at an opcode boundary,
// so even a non-terminating script returns control to the host.
func TestCallContextCancellation(t *testing.T) {
	v, _ := newVM(t)
	cl, ok, errMsg := v.CompileString(`while true do end`, "test")
	require.True(t, ok, "compile error: %s", errMsg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.CallContext(ctx, cl, nil, 0)
	require.Error(t, err)
	var rerr *vm.RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, vm.KindCancelled, rerr.Kind)

	// The VM stays usable for an ordinary Call afterwards.
	cl2, ok, errMsg := v.CompileString(`print(1)`, "test")
	require.True(t, ok, "compile error: %s", errMsg)
	_, err = v.Call(cl2, nil, 0)
	require.NoError(t, err)
}

// Recursion deep enough to exhaust the frame stack surfaces the stack
// overflow error kind instead of crashing the host.
func TestStackOverflowIsError(t *testing.T) {
	v, _ := newVM(t)
	cl, ok, errMsg := v.CompileString(`function f() return f() end f()`, "test")
	require.True(t, ok, "compile error: %s", errMsg)
	_, err := v.Call(cl, nil, 0)
	require.Error(t, err)
	var rerr *vm.RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, vm.KindStackOverflow, rerr.Kind)
}

// __index as a callable: consulted on field miss with (receiver, key).
func TestIndexMetamethodCallable(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `
proto Meta function __index(self, key) return key .. "!" end end
var o = {}
o.__proto = Meta
print(o.missing)`)
	require.Equal(t, "missing!\n", out.String())
}

// __getter: a table of per-field accessor callables, called with the
// receiver when the named field misses ordinary storage.
func TestGetterMetamethod(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `
proto P function helper(self) return 1 end end
P.__getter = {n: function(self) return 42 end}
var o = {}
o.__proto = P
print(o.n)`)
	require.Equal(t, "42\n", out.String())
}

// __setter routes a field write through its accessor; writes the
// accessor itself performs land as ordinary own fields.
func TestSetterMetamethod(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `
proto P function helper(self) return 1 end end
P.__setter = {y: function(self, val) self.hidden = val end}
var o = {}
o.__proto = P
o.y = 9
print(o.hidden, o.y)`)
	require.Equal(t, "9 nil\n", out.String())
}

// __newindex as a callable intercepts writes to absent fields; reads
// of the receiver stay empty.
func TestNewindexMetamethodCallable(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `
var store = {}
proto P function helper(self) return 1 end end
P.__newindex = function(self, key, val) store[key] = val end
var o = {}
o.__proto = P
o.x = 5
print(store.x, o.x)`)
	require.Equal(t, "5 nil\n", out.String())
}

func TestCompileErrorSurfacesMessage(t *testing.T) {
	v, _ := newVM(t)
	_, ok, errMsg := v.CompileString(`var x = `, "test")
	require.False(t, ok)
	require.NotEmpty(t, errMsg)
}
