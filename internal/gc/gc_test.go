package gc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cosmo/internal/gc"
	"cosmo/internal/value"
)

type rootList struct{ roots []value.Value }

func (r *rootList) WalkRoots(visit func(value.Value)) {
	for _, v := range r.roots {
		visit(v)
	}
}

func TestCollectFreesUnreachable(t *testing.T) {
	c := gc.New()
	strs := value.NewStrings(c)

	kept := strs.Intern("kept")
	strs.Intern("garbage")
	require.Equal(t, 2, c.Count())

	roots := &rootList{roots: []value.Value{kept}}
	c.Collect(roots)

	require.Equal(t, 1, c.Count())
	require.True(t, c.Alive(kept))
}

func TestFreezeSuppressesCollection(t *testing.T) {
	c := gc.New()
	strs := value.NewStrings(c)
	strs.Intern("unrooted")

	c.Freeze()
	c.Collect(&rootList{})
	require.Equal(t, 1, c.Count(), "frozen collector must not sweep")

	c.Unfreeze()
	c.Collect(&rootList{})
	require.Equal(t, 0, c.Count())
}

func TestMarkTraversesTableValues(t *testing.T) {
	c := gc.New()
	strs := value.NewStrings(c)
	tab := value.NewTable(0)
	c.Track(tab)

	k := strs.Intern("k")
	v := strs.Intern("v")
	tab.Set(k, v)

	c.Collect(&rootList{roots: []value.Value{tab}})
	require.True(t, c.Alive(tab))
	require.True(t, c.Alive(k))
	require.True(t, c.Alive(v))
}

func TestInternPruneAfterSweep(t *testing.T) {
	c := gc.New()
	strs := value.NewStrings(c)
	kept := strs.Intern("kept")
	strs.Intern("gone")

	c.Collect(&rootList{roots: []value.Value{kept}})
	strs.Prune(c.Alive)

	// Re-interning "gone" must allocate a fresh String, proving the old
	// entry was pruned from the weak intern table.
	again := strs.Intern("gone")
	require.NotNil(t, again)
	require.Equal(t, 2, c.Count(), "a fresh String for \"gone\" is tracked beside \"kept\"")
}
