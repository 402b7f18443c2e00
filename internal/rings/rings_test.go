package rings

import (
	"fmt"
	"testing"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

func accounts(ids ...string) []domain.AccountID {
	out := make([]domain.AccountID, len(ids))
	for i, id := range ids {
		out[i] = domain.AccountID(id)
	}
	return out
}

func scored(ids ...string) []domain.AccountScore {
	out := make([]domain.AccountScore, len(ids))
	for i, id := range ids {
		out[i] = domain.AccountScore{AccountID: domain.AccountID(id), Score: 50}
	}
	return out
}

func TestBuild(t *testing.T) {
	t.Run("Triangle", func(t *testing.T) {
		d := &domain.Detections{Cycles: []domain.Cycle{{Members: accounts("A", "B", "C")}}}
		scores, rings := NewBuilder(domain.DefaultRingConfig()).Build(d, scored("A", "B", "C"))

		if len(rings) != 1 {
			t.Fatalf("expected 1 ring, got %d", len(rings))
		}
		r := rings[0]
		if r.RingID != "RING_001" {
			t.Errorf("expected RING_001, got %s", r.RingID)
		}
		if r.PatternType != domain.RingCycle || r.RiskScore != 95.0 {
			t.Errorf("expected cycle/95.0, got %s/%.1f", r.PatternType, r.RiskScore)
		}
		if fmt.Sprint(r.Members) != "[A B C]" {
			t.Errorf("expected members [A B C], got %v", r.Members)
		}
		for _, s := range scores {
			if s.RingID != "RING_001" {
				t.Errorf("expected %s in RING_001, got %s", s.AccountID, s.RingID)
			}
		}
	})

	t.Run("OrderAndRisk", func(t *testing.T) {
		d := &domain.Detections{
			ShellChains: []domain.ShellChain{{Path: accounts("s1", "s2", "s3", "s4")}},
			FanOut:      []domain.FanCluster{{Hub: "O", Counterparties: accounts("o1")}},
			FanIn:       []domain.FanCluster{{Hub: "I", Counterparties: accounts("i1", "i2")}},
			Cycles:      []domain.Cycle{{Members: accounts("c1", "c2", "c3")}},
		}
		_, rings := NewBuilder(domain.DefaultRingConfig()).Build(d, nil)

		want := []struct {
			id      string
			pattern string
			risk    float64
		}{
			{"RING_001", domain.RingCycle, 95},
			{"RING_002", domain.RingFanIn, 85},
			{"RING_003", domain.RingFanOut, 85},
			{"RING_004", domain.RingShellChain, 75},
		}
		if len(rings) != len(want) {
			t.Fatalf("expected %d rings, got %d", len(want), len(rings))
		}
		for i, w := range want {
			if rings[i].RingID != w.id || rings[i].PatternType != w.pattern || rings[i].RiskScore != w.risk {
				t.Errorf("ring %d: expected %s/%s/%.0f, got %+v", i, w.id, w.pattern, w.risk, rings[i])
			}
		}
		if fmt.Sprint(rings[1].Members) != "[I i1 i2]" {
			t.Errorf("expected hub first in fan ring, got %v", rings[1].Members)
		}
	})

	t.Run("LastWriterWins", func(t *testing.T) {
		d := &domain.Detections{
			Cycles:      []domain.Cycle{{Members: accounts("A", "B", "C")}},
			ShellChains: []domain.ShellChain{{Path: accounts("C", "x", "y", "z")}},
		}
		scores, _ := NewBuilder(domain.DefaultRingConfig()).Build(d, scored("C"))
		if scores[0].RingID != "RING_002" {
			t.Errorf("expected RING_002, got %s", scores[0].RingID)
		}
	})

	t.Run("HighestRisk", func(t *testing.T) {
		cfg := domain.DefaultRingConfig()
		cfg.OverlapPolicy = domain.OverlapHighestRisk
		d := &domain.Detections{
			Cycles:      []domain.Cycle{{Members: accounts("A", "B", "C")}},
			ShellChains: []domain.ShellChain{{Path: accounts("C", "x", "y", "z")}},
		}
		scores, _ := NewBuilder(cfg).Build(d, scored("C", "x"))
		if scores[0].RingID != "RING_001" {
			t.Errorf("expected C to keep cycle ring RING_001, got %s", scores[0].RingID)
		}
		if scores[1].RingID != "RING_002" {
			t.Errorf("expected x in RING_002, got %s", scores[1].RingID)
		}
	})

	t.Run("IsolatedAccounts", func(t *testing.T) {
		d := &domain.Detections{Cycles: []domain.Cycle{{Members: accounts("A", "B", "C")}}}
		scores, rings := NewBuilder(domain.DefaultRingConfig()).Build(d, scored("A", "lone1", "lone2"))

		if len(rings) != 3 {
			t.Fatalf("expected 3 rings, got %d", len(rings))
		}
		for i, id := range []string{"lone1", "lone2"} {
			r := rings[i+1]
			if r.PatternType != domain.RingIsolated || r.RiskScore != 40.0 {
				t.Errorf("expected isolated_account/40.0, got %s/%.1f", r.PatternType, r.RiskScore)
			}
			if len(r.Members) != 1 || r.Members[0] != domain.AccountID(id) {
				t.Errorf("expected singleton [%s], got %v", id, r.Members)
			}
			if scores[i+1].RingID != r.RingID {
				t.Errorf("expected %s in %s, got %s", id, r.RingID, scores[i+1].RingID)
			}
		}
		for _, s := range scores {
			if s.RingID == "" {
				t.Errorf("account %s has no ring", s.AccountID)
			}
		}
	})

	t.Run("InputNotMutated", func(t *testing.T) {
		in := scored("A")
		NewBuilder(domain.DefaultRingConfig()).Build(nil, in)
		if in[0].RingID != "" {
			t.Error("expected input scores to be left unchanged")
		}
	})

	t.Run("IndependentBuilders", func(t *testing.T) {
		d := &domain.Detections{Cycles: []domain.Cycle{{Members: accounts("A", "B", "C")}}}
		_, first := NewBuilder(domain.DefaultRingConfig()).Build(d, nil)
		_, second := NewBuilder(domain.DefaultRingConfig()).Build(d, nil)
		if first[0].RingID != second[0].RingID {
			t.Errorf("expected both runs to start at RING_001, got %s and %s", first[0].RingID, second[0].RingID)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		scores, rings := NewBuilder(domain.DefaultRingConfig()).Build(&domain.Detections{}, nil)
		if len(scores) != 0 || len(rings) != 0 {
			t.Errorf("expected nothing, got %d scores and %d rings", len(scores), len(rings))
		}
	})
}
