// Package graph builds the account-level transfer graph used by the detectors.
//
// Nodes are accounts, numbered in first-appearance order. Parallel transfers
// between the same ordered pair are all retained as edges; the adjacency
// lists and Degree see each distinct neighbour once.
package graph

import (
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/shopspring/decimal"
	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/simple"
)

type edgeKey struct {
	from, to int64
}

// Graph is a directed multigraph of transfers. It is read-only once built.
type Graph struct {
	ids      map[domain.AccountID]int64
	accounts []domain.AccountID

	out [][]int64 // distinct successors, first-insertion order
	in  [][]int64 // distinct predecessors, first-insertion order

	edges   map[edgeKey][]int // transfer indices per ordered pair
	txCount []int

	transfers []domain.Transfer
}

var _ gonum.Directed = (*Graph)(nil)

// Build inserts both endpoints of every transfer and one edge per transfer.
func Build(transfers []domain.Transfer) *Graph {
	g := &Graph{
		ids:       make(map[domain.AccountID]int64),
		edges:     make(map[edgeKey][]int, len(transfers)),
		transfers: transfers,
	}
	for i, t := range transfers {
		u := g.addNode(t.Sender)
		v := g.addNode(t.Receiver)

		k := edgeKey{u, v}
		if _, ok := g.edges[k]; !ok {
			g.out[u] = append(g.out[u], v)
			g.in[v] = append(g.in[v], u)
		}
		g.edges[k] = append(g.edges[k], i)

		g.txCount[u]++
		g.txCount[v]++
	}
	return g
}

func (g *Graph) addNode(a domain.AccountID) int64 {
	if id, ok := g.ids[a]; ok {
		return id
	}
	id := int64(len(g.accounts))
	g.ids[a] = id
	g.accounts = append(g.accounts, a)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	g.txCount = append(g.txCount, 0)
	return id
}

// Len returns the number of accounts.
func (g *Graph) Len() int { return len(g.accounts) }

// EdgeCount returns the number of transfers (parallel edges included).
func (g *Graph) EdgeCount() int { return len(g.transfers) }

// Accounts returns all accounts in first-appearance order.
func (g *Graph) Accounts() []domain.AccountID {
	out := make([]domain.AccountID, len(g.accounts))
	copy(out, g.accounts)
	return out
}

// ID returns the node number of an account.
func (g *Graph) ID(a domain.AccountID) (int64, bool) {
	id, ok := g.ids[a]
	return id, ok
}

// Account returns the account for a node number.
func (g *Graph) Account(id int64) domain.AccountID { return g.accounts[id] }

// SuccessorIDs returns the distinct successors of node id. The slice must not be modified.
func (g *Graph) SuccessorIDs(id int64) []int64 { return g.out[id] }

// Successors returns the distinct accounts a sends to, in first-transfer order.
func (g *Graph) Successors(a domain.AccountID) []domain.AccountID {
	id, ok := g.ids[a]
	if !ok {
		return nil
	}
	return g.toAccounts(g.out[id])
}

func (g *Graph) toAccounts(ids []int64) []domain.AccountID {
	out := make([]domain.AccountID, len(ids))
	for i, id := range ids {
		out[i] = g.accounts[id]
	}
	return out
}

// DegreeOf returns distinct in-neighbours plus distinct out-neighbours of node id.
// A self-transfer counts on both sides.
func (g *Graph) DegreeOf(id int64) int { return len(g.in[id]) + len(g.out[id]) }

// Degree returns the account-level degree of a, or 0 for unknown accounts.
func (g *Graph) Degree(a domain.AccountID) int {
	id, ok := g.ids[a]
	if !ok {
		return 0
	}
	return g.DegreeOf(id)
}

// TransactionCount returns how many transfers a sent or received.
func (g *Graph) TransactionCount(a domain.AccountID) int {
	id, ok := g.ids[a]
	if !ok {
		return 0
	}
	return g.txCount[id]
}

// TransactionCounts returns TransactionCount for every account.
func (g *Graph) TransactionCounts() map[domain.AccountID]int {
	counts := make(map[domain.AccountID]int, len(g.accounts))
	for id, a := range g.accounts {
		counts[a] = g.txCount[id]
	}
	return counts
}

// HasEdge reports whether at least one transfer goes from a to b.
func (g *Graph) HasEdge(a, b domain.AccountID) bool {
	u, ok := g.ids[a]
	if !ok {
		return false
	}
	v, ok := g.ids[b]
	if !ok {
		return false
	}
	return g.HasEdgeFromTo(u, v)
}

// EdgesBetween returns every transfer from a to b in input order.
func (g *Graph) EdgesBetween(a, b domain.AccountID) []domain.Transfer {
	u, ok := g.ids[a]
	if !ok {
		return nil
	}
	v, ok := g.ids[b]
	if !ok {
		return nil
	}
	idx := g.edges[edgeKey{u, v}]
	out := make([]domain.Transfer, len(idx))
	for i, j := range idx {
		out[i] = g.transfers[j]
	}
	return out
}

// Pair aggregates every transfer from one account to another.
type Pair struct {
	From  domain.AccountID
	To    domain.AccountID
	Count int
	Total decimal.Decimal
}

// Pairs returns one entry per ordered account pair with at least one
// transfer, ordered by sender then first transfer.
func (g *Graph) Pairs() []Pair {
	pairs := make([]Pair, 0, len(g.edges))
	for u, succ := range g.out {
		for _, v := range succ {
			idx := g.edges[edgeKey{int64(u), v}]
			p := Pair{
				From:  g.accounts[u],
				To:    g.accounts[v],
				Count: len(idx),
			}
			for _, j := range idx {
				p.Total = p.Total.Add(g.transfers[j].Amount)
			}
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// gonum graph.Directed

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id int64) gonum.Node {
	if id < 0 || id >= int64(len(g.accounts)) {
		return nil
	}
	return simple.Node(id)
}

// Nodes returns all nodes in ID order.
func (g *Graph) Nodes() gonum.Nodes {
	if len(g.accounts) == 0 {
		return gonum.Empty
	}
	nodes := make([]gonum.Node, len(g.accounts))
	for i := range nodes {
		nodes[i] = simple.Node(int64(i))
	}
	return iterator.NewOrderedNodes(nodes)
}

// From returns the distinct successors of node id.
func (g *Graph) From(id int64) gonum.Nodes {
	if g.Node(id) == nil {
		return gonum.Empty
	}
	return orderedNodes(g.out[id])
}

// To returns the distinct predecessors of node id.
func (g *Graph) To(id int64) gonum.Nodes {
	if g.Node(id) == nil {
		return gonum.Empty
	}
	return orderedNodes(g.in[id])
}

// HasEdgeBetween reports whether an edge exists in either direction.
func (g *Graph) HasEdgeBetween(xid, yid int64) bool {
	return g.HasEdgeFromTo(xid, yid) || g.HasEdgeFromTo(yid, xid)
}

// HasEdgeFromTo reports whether an edge goes from uid to vid.
func (g *Graph) HasEdgeFromTo(uid, vid int64) bool {
	_, ok := g.edges[edgeKey{uid, vid}]
	return ok
}

// Edge returns the edge from uid to vid, or nil.
func (g *Graph) Edge(uid, vid int64) gonum.Edge {
	if !g.HasEdgeFromTo(uid, vid) {
		return nil
	}
	return simple.Edge{F: simple.Node(uid), T: simple.Node(vid)}
}

func orderedNodes(ids []int64) gonum.Nodes {
	if len(ids) == 0 {
		return gonum.Empty
	}
	nodes := make([]gonum.Node, len(ids))
	for i, id := range ids {
		nodes[i] = simple.Node(id)
	}
	return iterator.NewOrderedNodes(nodes)
}
