// Package detect implements the structural laundering detectors: circular
// fund flows, smurfing bursts and shell chains.
package detect

import (
	"strings"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/graph"
)

// CycleResult holds the cycles found by Cycles.
type CycleResult struct {
	Cycles []domain.Cycle

	// Truncated is set when enumeration stopped at MaxResults with more
	// cycles still unexplored. The result is then a lower bound.
	Truncated bool
}

type cycleFrame struct {
	node int64
	next int
}

// Cycles enumerates simple directed cycles whose length lies within
// [cfg.MinLength, cfg.MaxLength]. Search is confined to strongly connected
// components large enough to hold a cycle. Each cycle is reported once, in
// canonical rotation.
func Cycles(g *graph.Graph, cfg domain.CycleConfig) CycleResult {
	var res CycleResult
	if g.Len() == 0 || cfg.MaxResults <= 0 {
		return res
	}

	comp := make([]int, g.Len())
	for i := range comp {
		comp[i] = -1
	}
	comps := g.Components(cfg.MinLength)
	for ci, members := range comps {
		for _, id := range members {
			comp[id] = ci
		}
	}

	seen := make(map[string]struct{})
	onPath := make([]bool, g.Len())

	for ci, members := range comps {
		for _, start := range members {
			// Only nodes numbered after start are visited, so every cycle is
			// found exactly once, from its lowest-numbered member.
			path := []int64{start}
			stack := []cycleFrame{{node: start}}
			onPath[start] = true

			for len(stack) > 0 {
				top := &stack[len(stack)-1]
				succ := g.SuccessorIDs(top.node)
				if top.next >= len(succ) {
					onPath[top.node] = false
					stack = stack[:len(stack)-1]
					path = path[:len(path)-1]
					continue
				}
				n := succ[top.next]
				top.next++

				if n == start {
					if len(path) < cfg.MinLength {
						continue
					}
					cyc := canonicalIDs(g, path)
					key := cycleKey(cyc)
					if _, dup := seen[key]; dup {
						continue
					}
					if len(res.Cycles) == cfg.MaxResults {
						res.Truncated = true
						clear(onPath)
						return res
					}
					seen[key] = struct{}{}
					res.Cycles = append(res.Cycles, domain.Cycle{
						Members: cyc,
						Pattern: domain.CyclePattern(len(cyc)),
					})
					continue
				}

				if n < start || comp[n] != ci || onPath[n] || len(path) >= cfg.MaxLength {
					continue
				}
				onPath[n] = true
				path = append(path, n)
				stack = append(stack, cycleFrame{node: n})
			}
		}
	}
	return res
}

func canonicalIDs(g *graph.Graph, path []int64) []domain.AccountID {
	members := make([]domain.AccountID, len(path))
	for i, id := range path {
		members[i] = g.Account(id)
	}
	return Canonicalize(members)
}

// Canonicalize rotates a cycle so that its smallest account comes first.
// The input is not modified.
func Canonicalize(members []domain.AccountID) []domain.AccountID {
	if len(members) == 0 {
		return nil
	}
	lo := 0
	for i := 1; i < len(members); i++ {
		if members[i].Less(members[lo]) {
			lo = i
		}
	}
	out := make([]domain.AccountID, 0, len(members))
	out = append(out, members[lo:]...)
	return append(out, members[:lo]...)
}

func cycleKey(members []domain.AccountID) string {
	var b strings.Builder
	for i, m := range members {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(string(m))
	}
	return b.String()
}

// CycleMembers returns the set of accounts that belong to any cycle.
func CycleMembers(cycles []domain.Cycle) map[domain.AccountID]struct{} {
	set := make(map[domain.AccountID]struct{})
	for _, c := range cycles {
		for _, m := range c.Members {
			set[m] = struct{}{}
		}
	}
	return set
}
