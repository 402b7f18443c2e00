package detect

import (
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/graph"
)

type chainFrame struct {
	node int64
	next int
}

// ShellChains finds simple directed paths of at least cfg.MinLength accounts
// and at most cfg.MaxDepth hops whose interior accounts are low-degree and
// take part in no cycle. Source and sink are unrestricted unless
// cfg.RestrictEndpoints is set. Every qualifying path is reported, including
// prefixes of longer chains.
func ShellChains(g *graph.Graph, cycles []domain.Cycle, cfg domain.ShellConfig) []domain.ShellChain {
	if g.Len() == 0 || cfg.MaxDepth <= 0 {
		return nil
	}

	inCycle := CycleMembers(cycles)
	qualifies := make([]bool, g.Len())
	for id := range qualifies {
		_, member := inCycle[g.Account(int64(id))]
		qualifies[id] = !member && g.DegreeOf(int64(id)) <= cfg.MaxInteriorDegree
	}

	var chains []domain.ShellChain
	seen := make(map[string]struct{})
	onPath := make([]bool, g.Len())

	for s := 0; s < g.Len(); s++ {
		start := int64(s)
		if cfg.RestrictEndpoints && !qualifies[start] {
			continue
		}

		path := []int64{start}
		stack := []chainFrame{{node: start}}
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
			if onPath[n] {
				continue
			}

			length := len(path) + 1
			if length >= cfg.MinLength && (!cfg.RestrictEndpoints || qualifies[n]) {
				members := make([]domain.AccountID, 0, length)
				for _, id := range path {
					members = append(members, g.Account(id))
				}
				members = append(members, g.Account(n))

				key := cycleKey(members)
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					chains = append(chains, domain.ShellChain{
						Path:    members,
						Pattern: domain.PatternShellChain,
					})
				}
			}

			// n becomes interior once the walk continues past it.
			if length-1 < cfg.MaxDepth && qualifies[n] {
				onPath[n] = true
				path = append(path, n)
				stack = append(stack, chainFrame{node: n})
			}
		}
	}
	return chains
}
