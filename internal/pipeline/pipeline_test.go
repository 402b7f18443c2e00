package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/shopspring/decimal"
)

var start = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func tx(from, to string, offset time.Duration) domain.Transfer {
	return domain.Transfer{
		ID:        fmt.Sprintf("%s>%s@%s", from, to, offset),
		Sender:    domain.AccountID(from),
		Receiver:  domain.AccountID(to),
		Amount:    decimal.RequireFromString("1250.00"),
		Timestamp: start.Add(offset),
	}
}

func TestRun(t *testing.T) {
	analyzer := New(DefaultConfig())
	ctx := context.Background()

	t.Run("TriangleEndToEnd", func(t *testing.T) {
		res := analyzer.Run(ctx, []domain.Transfer{
			tx("A", "B", 0),
			tx("B", "C", 20*time.Minute),
			tx("C", "A", 40*time.Minute),
		})

		if res.Accounts != 3 {
			t.Errorf("expected 3 accounts, got %d", res.Accounts)
		}
		if len(res.Detections.Cycles) != 1 {
			t.Fatalf("expected 1 cycle, got %d", len(res.Detections.Cycles))
		}
		if len(res.Scores) != 3 {
			t.Fatalf("expected 3 scores, got %d", len(res.Scores))
		}
		for _, s := range res.Scores {
			if s.Score != 85.0 {
				t.Errorf("expected 85.0 for %s, got %.2f", s.AccountID, s.Score)
			}
			if s.RingID != "RING_001" {
				t.Errorf("expected RING_001 for %s, got %s", s.AccountID, s.RingID)
			}
		}
		if len(res.Rings) != 1 {
			t.Fatalf("expected 1 ring, got %d", len(res.Rings))
		}
		r := res.Rings[0]
		if r.PatternType != domain.RingCycle || r.RiskScore != 95.0 {
			t.Errorf("expected cycle ring with risk 95.0, got %s/%.1f", r.PatternType, r.RiskScore)
		}
		if fmt.Sprint(r.Members) != "[A B C]" {
			t.Errorf("expected members [A B C], got %v", r.Members)
		}
	})

	t.Run("ScoredAccountsAppearInDetections", func(t *testing.T) {
		var transfers []domain.Transfer
		for i := 0; i < 12; i++ {
			transfers = append(transfers, tx(fmt.Sprintf("mule%02d", i), "COLLECT", time.Duration(i)*time.Hour))
		}
		transfers = append(transfers,
			tx("COLLECT", "S1", 13*time.Hour),
			tx("S1", "S2", 14*time.Hour),
			tx("S2", "S3", 15*time.Hour),
			tx("S3", "OUT", 16*time.Hour),
		)
		res := analyzer.Run(ctx, transfers)

		detected := make(map[domain.AccountID]bool)
		for _, c := range res.Detections.FanIn {
			for _, m := range c.Members() {
				detected[m] = true
			}
		}
		for _, c := range res.Detections.ShellChains {
			for _, m := range c.Path {
				detected[m] = true
			}
		}
		if len(res.Detections.FanIn) != 1 {
			t.Errorf("expected 1 fan-in cluster, got %d", len(res.Detections.FanIn))
		}
		if len(res.Detections.ShellChains) == 0 {
			t.Error("expected shell chains")
		}
		for _, s := range res.Scores {
			if !detected[s.AccountID] {
				t.Errorf("scored account %s missing from detections", s.AccountID)
			}
			if s.RingID == "" {
				t.Errorf("account %s has no ring", s.AccountID)
			}
		}
	})

	t.Run("EmptyLedger", func(t *testing.T) {
		res := analyzer.Run(ctx, nil)
		if res.Accounts != 0 || len(res.Scores) != 0 || len(res.Rings) != 0 {
			t.Errorf("expected empty result, got %+v", res)
		}
		if !res.Detections.Empty() {
			t.Error("expected no detections")
		}
	})

	t.Run("SingleTransfer", func(t *testing.T) {
		res := analyzer.Run(ctx, []domain.Transfer{tx("A", "B", 0)})
		if len(res.Scores) != 0 {
			t.Errorf("expected no scores, got %d", len(res.Scores))
		}
	})
}

func TestFingerprint(t *testing.T) {
	a := New(DefaultConfig())
	b := New(DefaultConfig())
	if a.Fingerprint() == "" || a.Fingerprint() != b.Fingerprint() {
		t.Errorf("expected equal settings to share a fingerprint, got %q and %q", a.Fingerprint(), b.Fingerprint())
	}

	cfg := DefaultConfig()
	cfg.Detection.Smurf.Threshold = 5
	if New(cfg).Fingerprint() == a.Fingerprint() {
		t.Error("expected fingerprint to change with detection settings")
	}

	res := a.Run(context.Background(), nil)
	if res.Fingerprint != a.Fingerprint() {
		t.Errorf("expected result fingerprint %q, got %q", a.Fingerprint(), res.Fingerprint)
	}
}
