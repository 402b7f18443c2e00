package detect

import (
	"testing"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/graph"
)

var defaultCycles = domain.DefaultDetectionConfig().Cycle

func TestCycles(t *testing.T) {
	t.Run("Triangle", func(t *testing.T) {
		g := graph.Build(loop("B", "C", "A"))
		res := Cycles(g, defaultCycles)

		if len(res.Cycles) != 1 {
			t.Fatalf("expected 1 cycle, got %d", len(res.Cycles))
		}
		c := res.Cycles[0]
		if ids(c.Members) != "[A B C]" {
			t.Errorf("expected canonical [A B C], got %v", c.Members)
		}
		if c.Pattern != "cycle_length_3" {
			t.Errorf("expected cycle_length_3, got %s", c.Pattern)
		}
		if res.Truncated {
			t.Error("expected untruncated result")
		}
	})

	t.Run("LengthBounds", func(t *testing.T) {
		var transfers []domain.Transfer
		transfers = append(transfers, loop("a1", "a2")...)
		transfers = append(transfers, loop("b1", "b2", "b3", "b4")...)
		transfers = append(transfers, loop("c1", "c2", "c3", "c4", "c5")...)
		transfers = append(transfers, loop("d1", "d2", "d3", "d4", "d5", "d6")...)

		res := Cycles(graph.Build(transfers), defaultCycles)
		if len(res.Cycles) != 2 {
			t.Fatalf("expected 2 cycles, got %d: %v", len(res.Cycles), res.Cycles)
		}
		if res.Cycles[0].Pattern != "cycle_length_4" || res.Cycles[1].Pattern != "cycle_length_5" {
			t.Errorf("unexpected patterns %s, %s", res.Cycles[0].Pattern, res.Cycles[1].Pattern)
		}
	})

	t.Run("NumericOrdering", func(t *testing.T) {
		res := Cycles(graph.Build(loop("10", "9", "2")), defaultCycles)
		if len(res.Cycles) != 1 {
			t.Fatalf("expected 1 cycle, got %d", len(res.Cycles))
		}
		if got := ids(res.Cycles[0].Members); got != "[2 10 9]" {
			t.Errorf("expected [2 10 9], got %s", got)
		}
	})

	t.Run("CompleteGraphNoDuplicates", func(t *testing.T) {
		nodes := []string{"A", "B", "C", "D"}
		var transfers []domain.Transfer
		for _, u := range nodes {
			for _, v := range nodes {
				if u != v {
					transfers = append(transfers, tx(u, v, 0))
				}
			}
		}
		g := graph.Build(transfers)
		res := Cycles(g, defaultCycles)

		// 8 triangles and 6 four-cycles in the complete digraph on 4 nodes.
		if len(res.Cycles) != 14 {
			t.Fatalf("expected 14 cycles, got %d", len(res.Cycles))
		}

		seen := make(map[string]bool)
		for _, c := range res.Cycles {
			key := ids(c.Members)
			if seen[key] {
				t.Errorf("duplicate cycle %s", key)
			}
			seen[key] = true

			if ids(Canonicalize(c.Members)) != key {
				t.Errorf("cycle %s is not canonical", key)
			}
			for i, m := range c.Members {
				next := c.Members[(i+1)%len(c.Members)]
				if !g.HasEdge(m, next) {
					t.Errorf("cycle %s uses missing edge %s->%s", key, m, next)
				}
			}
		}
	})

	t.Run("Cap", func(t *testing.T) {
		nodes := []string{"A", "B", "C", "D"}
		var transfers []domain.Transfer
		for _, u := range nodes {
			for _, v := range nodes {
				if u != v {
					transfers = append(transfers, tx(u, v, 0))
				}
			}
		}
		cfg := defaultCycles
		cfg.MaxResults = 5

		res := Cycles(graph.Build(transfers), cfg)
		if len(res.Cycles) != 5 {
			t.Errorf("expected 5 cycles, got %d", len(res.Cycles))
		}
		if !res.Truncated {
			t.Error("expected truncated result")
		}
	})

	t.Run("ExactCapNotTruncated", func(t *testing.T) {
		cfg := defaultCycles
		cfg.MaxResults = 1

		res := Cycles(graph.Build(loop("A", "B", "C")), cfg)
		if len(res.Cycles) != 1 || res.Truncated {
			t.Errorf("expected 1 untruncated cycle, got %d truncated=%v", len(res.Cycles), res.Truncated)
		}
	})

	t.Run("Acyclic", func(t *testing.T) {
		res := Cycles(graph.Build(chain("A", "B", "C", "D")), defaultCycles)
		if len(res.Cycles) != 0 {
			t.Errorf("expected no cycles, got %d", len(res.Cycles))
		}
	})

	t.Run("Empty", func(t *testing.T) {
		res := Cycles(graph.Build(nil), defaultCycles)
		if len(res.Cycles) != 0 {
			t.Errorf("expected no cycles, got %d", len(res.Cycles))
		}
	})
}

func TestCanonicalize(t *testing.T) {
	cycle := []domain.AccountID{"C", "A", "B"}
	want := "[A B C]"

	for i := range cycle {
		rotated := append(append([]domain.AccountID{}, cycle[i:]...), cycle[:i]...)
		if got := ids(Canonicalize(rotated)); got != want {
			t.Errorf("rotation %d: expected %s, got %s", i, want, got)
		}
	}

	once := Canonicalize(cycle)
	if ids(Canonicalize(once)) != ids(once) {
		t.Error("expected canonicalization to be idempotent")
	}
	if ids(cycle) != "[C A B]" {
		t.Error("expected input to be left unchanged")
	}

	mixed := []struct {
		name  string
		cycle []domain.AccountID
		want  string
	}{
		{"IntegersBeforeText", []domain.AccountID{"9", "10", "1a"}, "[9 10 1a]"},
		{"LeadingZeros", []domain.AccountID{"7", "007", "8"}, "[007 8 7]"},
	}
	for _, tt := range mixed {
		t.Run(tt.name, func(t *testing.T) {
			for i := range tt.cycle {
				rotated := append(append([]domain.AccountID{}, tt.cycle[i:]...), tt.cycle[:i]...)
				got := Canonicalize(rotated)
				if ids(got) != tt.want {
					t.Errorf("rotation %d: expected %s, got %s", i, tt.want, ids(got))
				}
				if ids(Canonicalize(got)) != ids(got) {
					t.Errorf("rotation %d: expected canonicalization to be idempotent", i)
				}
			}
		})
	}
}

func TestCyclesCanonicalAcrossInsertionOrder(t *testing.T) {
	for _, order := range [][]string{{"9", "10", "1a"}, {"1a", "9", "10"}, {"10", "1a", "9"}} {
		res := Cycles(graph.Build(loop(order...)), defaultCycles)
		if len(res.Cycles) != 1 {
			t.Fatalf("order %v: expected 1 cycle, got %d", order, len(res.Cycles))
		}
		if got := ids(res.Cycles[0].Members); got != "[9 10 1a]" {
			t.Errorf("order %v: expected [9 10 1a], got %s", order, got)
		}
	}
}
