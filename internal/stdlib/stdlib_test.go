package stdlib_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"cosmo/internal/compiler"
	"cosmo/internal/gc"
	"cosmo/internal/stdlib"
	"cosmo/internal/value"
	"cosmo/internal/vm"
)

func newVM(t *testing.T) (*vm.VM, *bytes.Buffer) {
	t.Helper()
	collector := gc.New()
	v := vm.New(compiler.NewGlobals(), value.NewStrings(collector), collector)
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

func TestStringSubZeroBasedStartPlusLength(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `print(string.sub("hello", 1, 3))`)
	require.Equal(t, "ell\n", out.String())
}

func TestStringSubWholeTail(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `print(string.sub("hello", 2))`)
	require.Equal(t, "llo\n", out.String())
}

func TestStringSubOutOfRangeErrors(t *testing.T) {
	v, _ := newVM(t)
	cl, ok, errMsg := v.CompileString(`string.sub("hi", 0, 10)`, "test")
	require.True(t, ok, "compile error: %s", errMsg)
	_, err := v.Call(cl, nil, 0)
	require.Error(t, err)
}

func TestStringMethodDispatch(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `var s = "hello"; print(s:sub(1, 3))`)
	require.Equal(t, "ell\n", out.String())
}

func TestStringFindSplitCharAt(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `print(string.find("hello", "ll"))`)
	require.Equal(t, "2\n", out.String())

	v2, out2 := newVM(t)
	run(t, v2, `var parts = string.split("a,b,c", ","); print(parts[1], parts[2], parts[3])`)
	require.Equal(t, "a b c\n", out2.String())

	v3, out3 := newVM(t)
	run(t, v3, `print(string.charAt("hello", 0))`)
	require.Equal(t, "h\n", out3.String())
}

func TestStringUpperLower(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `print(string.upper("Hi"), string.lower("Hi"))`)
	require.Equal(t, "HI hi\n", out.String())
}

func TestTypeBuiltin(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `print(type(1), type("a"), type(nil), type(true))`)
	require.Equal(t, "number string nil boolean\n", out.String())
}

func TestPcallLawSuccessAndFailure(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `var ok, v = pcall(function() return 41 end); print(ok, v)`)
	require.Equal(t, "true 41\n", out.String())

	v2, out2 := newVM(t)
	run(t, v2, `var ok, msg = pcall(function() error("boom") end); print(ok, msg)`)
	require.Contains(t, out2.String(), "false ")
	require.Contains(t, out2.String(), "boom")
}

func TestLoadstringCompilesAndRuns(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `var f = loadstring("return 1 + 2"); print(f())`)
	require.Equal(t, "3\n", out.String())
}

func TestLoadstringReportsCompileError(t *testing.T) {
	v, out := newVM(t)
	run(t, v, `var f, err = loadstring("var ="); print(f == nil)`)
	require.Equal(t, "true\n", out.String())
}
