// Package rings groups scored accounts into labelled fraud rings.
package rings

import (
	"fmt"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// Builder assigns ring IDs for one analysis run. It owns its counter, so a
// fresh Builder must be used per run.
type Builder struct {
	cfg     domain.RingConfig
	counter int

	rings  []domain.FraudRing
	member map[domain.AccountID]int // account -> index into rings
}

// NewBuilder creates a ring builder.
func NewBuilder(cfg domain.RingConfig) *Builder {
	if cfg.Prefix == "" {
		cfg.Prefix = "RING_"
	}
	return &Builder{
		cfg:    cfg,
		member: make(map[domain.AccountID]int),
	}
}

func (b *Builder) nextID() string {
	b.counter++
	return fmt.Sprintf("%s%03d", b.cfg.Prefix, b.counter)
}

func (b *Builder) add(members []domain.AccountID, patternType string, risk float64) {
	idx := len(b.rings)
	members = domain.UniqueAccounts(members)
	b.rings = append(b.rings, domain.FraudRing{
		RingID:      b.nextID(),
		Members:     members,
		PatternType: patternType,
		RiskScore:   risk,
	})

	for _, m := range members {
		prev, ok := b.member[m]
		if ok && b.cfg.OverlapPolicy == domain.OverlapHighestRisk && b.rings[prev].RiskScore >= risk {
			continue
		}
		b.member[m] = idx
	}
}

// Build creates one ring per cluster in the order cycles, fan-in, fan-out,
// shell chains, then a singleton isolated ring for every scored account left
// without one. It returns a copy of scores with RingID filled in and the
// rings in creation order.
func (b *Builder) Build(d *domain.Detections, scores []domain.AccountScore) ([]domain.AccountScore, []domain.FraudRing) {
	if d != nil {
		for _, c := range d.Cycles {
			b.add(c.Members, domain.RingCycle, b.cfg.CycleRisk)
		}
		for _, f := range d.FanIn {
			b.add(f.Members(), domain.RingFanIn, b.cfg.FanRisk)
		}
		for _, f := range d.FanOut {
			b.add(f.Members(), domain.RingFanOut, b.cfg.FanRisk)
		}
		for _, s := range d.ShellChains {
			b.add(s.Path, domain.RingShellChain, b.cfg.ShellRisk)
		}
	}

	out := make([]domain.AccountScore, len(scores))
	copy(out, scores)
	for i := range out {
		idx, ok := b.member[out[i].AccountID]
		if !ok {
			b.add([]domain.AccountID{out[i].AccountID}, domain.RingIsolated, b.cfg.IsolatedRisk)
			idx = len(b.rings) - 1
		}
		out[i].RingID = b.rings[idx].RingID
	}
	return out, b.rings
}
