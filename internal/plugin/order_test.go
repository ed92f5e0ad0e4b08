package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/gamekernel/internal/apperr"
)

func manifests(deps map[string][]string) []Manifest {
	out := make([]Manifest, 0, len(deps))
	for name, d := range deps {
		out = append(out, Manifest{Name: name, Version: "1.0.0", Dependencies: d})
	}
	return out
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	order, err := TopoOrder(manifests(map[string][]string{
		"economy":      nil,
		"leaderboards": nil,
		"achievements": {"economy"},
	}))
	require.NoError(t, err)

	positions := make(map[string]int, len(order))
	for i, name := range order {
		positions[name] = i
	}
	assert.Less(t, positions["economy"], positions["achievements"])
	assert.Len(t, order, 3)
}

func TestTopoOrderDeterministic(t *testing.T) {
	in := manifests(map[string][]string{"c": nil, "a": nil, "b": nil})
	first, err := TopoOrder(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, first)
}

func TestTopoOrderCycle(t *testing.T) {
	_, err := TopoOrder(manifests(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}))
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestTopoOrderMissingDependency(t *testing.T) {
	_, err := TopoOrder(manifests(map[string][]string{
		"a": {"ghost"},
	}))
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}
