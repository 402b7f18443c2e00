package graph

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/graph/topo"
)

// Components returns the strongly connected components of g with at least
// minSize nodes. Members are sorted by node ID and components by their first member.
func (g *Graph) Components(minSize int) [][]int64 {
	var comps [][]int64
	for _, c := range topo.TarjanSCC(g) {
		if len(c) < minSize {
			continue
		}
		ids := make([]int64, len(c))
		for i, n := range c {
			ids[i] = n.ID()
		}
		slices.Sort(ids)
		comps = append(comps, ids)
	}
	slices.SortFunc(comps, func(a, b []int64) int {
		return cmp.Compare(a[0], b[0])
	})
	return comps
}
