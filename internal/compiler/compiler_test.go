package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cosmo/internal/compiler"
	"cosmo/internal/gc"
	"cosmo/internal/value"
)

func compileSrc(t *testing.T, src string) (*value.Function, bool, string) {
	t.Helper()
	collector := gc.New()
	strs := value.NewStrings(collector)
	return compiler.Compile(src, "test", compiler.NewGlobals(), strs, collector)
}

func mustCompile(t *testing.T, src string) *value.Function {
	t.Helper()
	fn, ok, errMsg := compileSrc(t, src)
	require.True(t, ok, "compile error: %s", errMsg)
	require.NotNil(t, fn)
	return fn
}

func readU16(code []byte, ip int) uint16 {
	return uint16(code[ip]) | uint16(code[ip+1])<<8
}

// walkChunk decodes every instruction in ch, calling fn with the opcode
// and the offset of its first operand byte, and fails the test if the
// byte stream does not decode cleanly end to end (a mis-sized operand
// desynchronizes the walk and trips the final length check).
func walkChunk(t *testing.T, ch *value.Chunk, fn func(op compiler.Opcode, operandAt int)) {
	t.Helper()
	code := ch.Code
	ip := 0
	for ip < len(code) {
		op := compiler.Opcode(code[ip])
		operandAt := ip + 1
		width := 0
		switch op {
		case compiler.TRUE, compiler.FALSE, compiler.NIL,
			compiler.ADD, compiler.SUB, compiler.MULT, compiler.DIV, compiler.MOD,
			compiler.NEGATE, compiler.NOT, compiler.COUNT,
			compiler.EQUAL, compiler.GREATER, compiler.LESS,
			compiler.GREATER_EQUAL, compiler.LESS_EQUAL,
			compiler.CLOSE, compiler.INDEX, compiler.NEWINDEX, compiler.ITER:
			width = 0
		case compiler.POP, compiler.CONCAT, compiler.RETURN,
			compiler.GETLOCAL, compiler.SETLOCAL,
			compiler.GETUPVAL, compiler.SETUPVAL,
			compiler.INCINDEX:
			width = 1
		case compiler.LOADCONST, compiler.INCLOCAL, compiler.INCUPVAL,
			compiler.GETGLOBAL, compiler.SETGLOBAL,
			compiler.JMP, compiler.JMPBACK, compiler.PEJMP, compiler.EJMP,
			compiler.CALL, compiler.NEWDICT, compiler.NEWOBJECT,
			compiler.GETOBJECT, compiler.SETOBJECT:
			width = 2
		case compiler.INCGLOBAL, compiler.INCOBJECT, compiler.NEXT:
			width = 3
		case compiler.INVOKE:
			width = 4
		case compiler.CLOSURE:
			k := readU16(code, operandAt)
			inner, ok := ch.Constants[k].(*value.Function)
			require.True(t, ok, "CLOSURE operand must index a Function constant")
			width = 2 + 2*inner.NumUpvals
		default:
			t.Fatalf("unknown opcode %d at offset %d", byte(op), ip)
		}
		require.LessOrEqual(t, operandAt+width, len(code), "operands of %s run past end of chunk", op)
		fn(op, operandAt)
		ip = operandAt + width
	}
	require.Equal(t, len(code), ip, "instruction stream must decode to exactly the chunk length")
}

// eachFunction visits fn and, recursively, every nested Function in its
// constant pool.
func eachFunction(fn *value.Function, visit func(*value.Function)) {
	visit(fn)
	for _, k := range fn.Chunk.Constants {
		if inner, ok := k.(*value.Function); ok {
			eachFunction(inner, visit)
		}
	}
}

const controlFlowSrc = `
var limit = 10
function classify(n)
	if n < 3 do
		return "small"
	elseif n < 7 do
		return "mid"
	else
		return "big"
	end
end
var acc = 0
for(var i = 0; i < limit; i = i + 1) do
	if i % 2 == 0 and i != 4 or i == 9 do
		acc = acc + 1
	else
		continue
	end
end
while acc > 0 do
	acc = acc - 1
	if acc == 1 do break end
end
var t = {1:"a", 2:"b"}
for k, v in t do
	acc = acc + #v
end
`

// Every emitted jump offset must be patched before the enclosing
// function completes: no 0xFFFF placeholder may survive, and every
// target must land inside the chunk.
func TestJumpOffsetsPatchedAndInRange(t *testing.T) {
	top := mustCompile(t, controlFlowSrc)
	eachFunction(top, func(fn *value.Function) {
		code := fn.Chunk.Code
		walkChunk(t, fn.Chunk, func(op compiler.Opcode, operandAt int) {
			switch op {
			case compiler.JMP, compiler.PEJMP, compiler.EJMP:
				off := readU16(code, operandAt)
				require.NotEqual(t, uint16(0xFFFF), off, "unpatched %s placeholder", op)
				require.LessOrEqual(t, operandAt+2+int(off), len(code), "%s jumps past end of chunk", op)
			case compiler.JMPBACK:
				off := readU16(code, operandAt)
				require.GreaterOrEqual(t, operandAt+2-int(off), 0, "JMPBACK jumps before start of chunk")
			case compiler.NEXT:
				off := readU16(code, operandAt+1)
				require.NotEqual(t, uint16(0xFFFF), off, "unpatched NEXT placeholder")
				require.LessOrEqual(t, operandAt+3+int(off), len(code), "NEXT exit jumps past end of chunk")
			}
		})
	})
}

// The line table is parallel to the code buffer, one entry per byte.
func TestLineTableParallelsCode(t *testing.T) {
	top := mustCompile(t, controlFlowSrc)
	eachFunction(top, func(fn *value.Function) {
		require.Equal(t, len(fn.Chunk.Code), len(fn.Chunk.Lines))
	})
}

// For every emitted CLOSURE, exactly upvalue-count (is-local, index)
// pairs follow it in the byte stream, each is-local byte being 0 or 1.
func TestClosureUpvalueHintPairs(t *testing.T) {
	top := mustCompile(t, `
function mk()
	var c = 0
	return function()
		c = c + 1
		return c
	end
end
`)
	var sawCapture bool
	eachFunction(top, func(fn *value.Function) {
		code := fn.Chunk.Code
		walkChunk(t, fn.Chunk, func(op compiler.Opcode, operandAt int) {
			if op != compiler.CLOSURE {
				return
			}
			k := readU16(code, operandAt)
			inner := fn.Chunk.Constants[k].(*value.Function)
			for i := 0; i < inner.NumUpvals; i++ {
				isLocal := code[operandAt+2+2*i]
				require.Contains(t, []byte{0, 1}, isLocal, "is-local hint byte must be 0 or 1")
			}
			if inner.NumUpvals > 0 {
				sawCapture = true
			}
		})
	})
	require.True(t, sawCapture, "the inner closure must capture c as an upvalue")
}

func TestBreakOutsideLoopIsCompileError(t *testing.T) {
	_, ok, errMsg := compileSrc(t, `break`)
	require.False(t, ok)
	require.Contains(t, errMsg, "break")
}

func TestContinueOutsideLoopIsCompileError(t *testing.T) {
	_, ok, errMsg := compileSrc(t, `continue`)
	require.False(t, ok)
	require.Contains(t, errMsg, "continue")
}

func TestInvalidAssignmentTarget(t *testing.T) {
	_, ok, _ := compileSrc(t, `1 = 2`)
	require.False(t, ok)
}

// Panic-mode recovery: a statement with an error must not cascade into
// a report for every following token, and compilation still fails once.
func TestErrorRecoveryReportsFirstError(t *testing.T) {
	_, ok, errMsg := compileSrc(t, `var = 1; var y = 2`)
	require.False(t, ok)
	require.NotEmpty(t, errMsg)
}

// Global slots are stable: the same name always resolves to the same
// u16 index within one Globals table, including across separate
// Compile calls (the REPL case).
func TestGlobalSlotsStable(t *testing.T) {
	g := compiler.NewGlobals()
	a := g.Slot("a")
	b := g.Slot("b")
	require.Equal(t, uint16(0), a)
	require.Equal(t, uint16(1), b)
	require.Equal(t, a, g.Slot("a"))

	collector := gc.New()
	strs := value.NewStrings(collector)
	_, ok, errMsg := compiler.Compile(`var shared = 1`, "first", g, strs, collector)
	require.True(t, ok, "compile error: %s", errMsg)
	slotBefore := g.Slot("shared")
	_, ok, errMsg = compiler.Compile(`shared = shared + 1`, "second", g, strs, collector)
	require.True(t, ok, "compile error: %s", errMsg)
	require.Equal(t, slotBefore, g.Slot("shared"))
}

// Constant-pool operands are little-endian: `var x = 1` at top level
// loads constant 0 and stores global slot "x", so the first LOADCONST's
// operand bytes are (0, 0) and a second constant's index appears in the
// low byte.
func TestOperandsLittleEndian(t *testing.T) {
	fn := mustCompile(t, `var x = 1 + 2`)
	code := fn.Chunk.Code
	require.Equal(t, compiler.LOADCONST, compiler.Opcode(code[0]))
	require.Equal(t, uint16(0), readU16(code, 1))
	require.Equal(t, compiler.LOADCONST, compiler.Opcode(code[3]))
	require.Equal(t, byte(1), code[4], "second constant index in the low byte")
	require.Equal(t, byte(0), code[5])
}

// Functions report their declared arity and variadic flag.
func TestFunctionArityAndVariadic(t *testing.T) {
	top := mustCompile(t, `
function f(a, b, ...rest)
	return a
end
`)
	var found *value.Function
	eachFunction(top, func(fn *value.Function) {
		if fn.Name == "f" {
			found = fn
		}
	})
	require.NotNil(t, found)
	require.Equal(t, 2, found.Arity)
	require.True(t, found.Variadic)
}
