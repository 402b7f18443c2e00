package graph

import (
	"testing"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/shopspring/decimal"
)

func transfer(from, to string) domain.Transfer {
	return domain.Transfer{
		Sender:    domain.AccountID(from),
		Receiver:  domain.AccountID(to),
		Amount:    decimal.NewFromInt(100),
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuild(t *testing.T) {
	g := Build([]domain.Transfer{
		transfer("A", "B"),
		transfer("A", "B"),
		transfer("B", "C"),
		transfer("C", "A"),
		transfer("D", "D"),
	})

	t.Run("Nodes", func(t *testing.T) {
		if g.Len() != 4 {
			t.Errorf("expected 4 accounts, got %d", g.Len())
		}
		got := g.Accounts()
		want := []domain.AccountID{"A", "B", "C", "D"}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("expected account %s at %d, got %s", want[i], i, got[i])
			}
		}
	})

	t.Run("ParallelEdgesPreserved", func(t *testing.T) {
		if g.EdgeCount() != 5 {
			t.Errorf("expected 5 edges, got %d", g.EdgeCount())
		}
		if n := len(g.EdgesBetween("A", "B")); n != 2 {
			t.Errorf("expected 2 transfers A->B, got %d", n)
		}
		if succ := g.Successors("A"); len(succ) != 1 || succ[0] != "B" {
			t.Errorf("expected successors [B], got %v", succ)
		}
	})

	t.Run("Degree", func(t *testing.T) {
		if d := g.Degree("A"); d != 2 {
			t.Errorf("expected degree 2 for A, got %d", d)
		}
		if d := g.Degree("D"); d != 2 {
			t.Errorf("expected self-loop degree 2 for D, got %d", d)
		}
		if d := g.Degree("missing"); d != 0 {
			t.Errorf("expected degree 0 for unknown account, got %d", d)
		}
	})

	t.Run("TransactionCount", func(t *testing.T) {
		if c := g.TransactionCount("A"); c != 3 {
			t.Errorf("expected 3 transactions for A, got %d", c)
		}
		if c := g.TransactionCounts()["B"]; c != 3 {
			t.Errorf("expected 3 transactions for B, got %d", c)
		}
	})

	t.Run("HasEdge", func(t *testing.T) {
		if !g.HasEdge("C", "A") {
			t.Error("expected edge C->A")
		}
		if g.HasEdge("A", "C") {
			t.Error("unexpected edge A->C")
		}
	})
}

func TestComponents(t *testing.T) {
	g := Build([]domain.Transfer{
		transfer("A", "B"),
		transfer("B", "C"),
		transfer("C", "A"),
		transfer("C", "X"),
		transfer("X", "Y"),
		transfer("P", "Q"),
		transfer("Q", "P"),
	})

	comps := g.Components(3)
	if len(comps) != 1 {
		t.Fatalf("expected 1 component of size >= 3, got %d", len(comps))
	}
	if len(comps[0]) != 3 {
		t.Errorf("expected component of 3 nodes, got %d", len(comps[0]))
	}
	for i, id := range comps[0] {
		if id != int64(i) {
			t.Errorf("expected sorted member %d, got %d", i, id)
		}
	}

	if n := len(g.Components(2)); n != 2 {
		t.Errorf("expected 2 components of size >= 2, got %d", n)
	}
}

func TestEmptyGraph(t *testing.T) {
	g := Build(nil)
	if g.Len() != 0 {
		t.Errorf("expected empty graph, got %d nodes", g.Len())
	}
	if comps := g.Components(1); len(comps) != 0 {
		t.Errorf("expected no components, got %d", len(comps))
	}
	if g.Nodes().Len() != 0 {
		t.Error("expected no gonum nodes")
	}
}

func TestPairs(t *testing.T) {
	g := Build([]domain.Transfer{
		transfer("A", "B"),
		transfer("B", "C"),
		transfer("A", "B"),
		transfer("A", "C"),
	})

	pairs := g.Pairs()
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}

	first := pairs[0]
	if first.From != "A" || first.To != "B" {
		t.Errorf("expected A->B first, got %s->%s", first.From, first.To)
	}
	if first.Count != 2 {
		t.Errorf("expected 2 transfers A->B, got %d", first.Count)
	}
	if !first.Total.Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected total 200, got %s", first.Total)
	}
	if pairs[1].To != "C" || pairs[2].From != "B" {
		t.Errorf("unexpected pair order %+v", pairs)
	}
}
