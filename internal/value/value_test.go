package value_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cosmo/internal/value"
)

type fakeGC struct{ tracked []value.Object }

func (g *fakeGC) Track(o value.Object) { g.tracked = append(g.tracked, o) }

func TestTruth(t *testing.T) {
	require.False(t, value.Truth(value.Nil))
	require.False(t, value.Truth(value.Bool(false)))
	require.True(t, value.Truth(value.Bool(true)))
	require.True(t, value.Truth(value.Number(0)))
	require.True(t, value.Truth(value.NewTable(0)))
}

func TestStringInterning(t *testing.T) {
	gc := &fakeGC{}
	strs := value.NewStrings(gc)
	a := strs.Intern("hello")
	b := strs.Intern("hello")
	require.True(t, a == b, "equal byte content must intern to the same identity")

	c := strs.Intern("world")
	require.False(t, a == c)
}

func TestTableInsertionOrder(t *testing.T) {
	tab := value.NewTable(0)
	gc := &fakeGC{}
	strs := value.NewStrings(gc)
	k1, k2, k3 := strs.Intern("a"), strs.Intern("b"), strs.Intern("c")
	tab.Set(k2, value.Number(2))
	tab.Set(k1, value.Number(1))
	tab.Set(k3, value.Number(3))

	var order []string
	it := tab.Iterate()
	var v value.Value
	for it.Next(&v) {
		pair := v.(*value.Pair)
		order = append(order, pair.Key.(*value.String).Go())
	}
	require.Equal(t, []string{"b", "a", "c"}, order)
}

func TestTableOverwritePreservesPosition(t *testing.T) {
	tab := value.NewTable(0)
	gc := &fakeGC{}
	strs := value.NewStrings(gc)
	k1, k2 := strs.Intern("a"), strs.Intern("b")
	tab.Set(k1, value.Number(1))
	tab.Set(k2, value.Number(2))
	tab.Set(k1, value.Number(100))
	require.Equal(t, 2, tab.Len())
	v, ok := tab.Get(k1)
	require.True(t, ok)
	require.Equal(t, value.Number(100), v)
}

func TestObjectProtoChain(t *testing.T) {
	base := value.NewObject()
	base.SetOwn("greet", value.Number(1))
	child := value.NewObject()
	child.SetProto(base)

	v, ok := child.Field("greet")
	require.True(t, ok)
	require.Equal(t, value.Number(1), v)

	_, ok = child.Field("missing")
	require.False(t, ok)
}

func TestUpvalueOpenClose(t *testing.T) {
	stack := []value.Value{value.Number(1), value.Number(2)}
	uv := value.NewOpenUpvalue(&stack, 1)
	require.True(t, uv.IsOpen())
	require.Equal(t, value.Number(2), uv.Get())

	stack[1] = value.Number(42)
	require.Equal(t, value.Number(42), uv.Get(), "open upvalue reads through to the stack")

	uv.Close()
	require.False(t, uv.IsOpen())
	stack[1] = value.Number(0)
	require.Equal(t, value.Number(42), uv.Get(), "closed upvalue keeps the last observed value")
}

func TestNumberCompareNaN(t *testing.T) {
	nan := value.Number(0)
	nan = nan / nan // NaN without importing math
	c, err := nan.Cmp(value.Number(1))
	require.NoError(t, err)
	require.Equal(t, 1, c, "NaN compares greater than any ordinary number")
}
