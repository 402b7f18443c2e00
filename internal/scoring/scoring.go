// Package scoring turns detector output into per-account suspicion scores.
package scoring

import (
	"math"
	"sort"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// Engine computes suspicion scores.
type Engine struct {
	cfg domain.ScoringConfig
}

// NewEngine creates a scoring engine.
func NewEngine(cfg domain.ScoringConfig) *Engine {
	return &Engine{cfg: cfg}
}

type tally struct {
	score    float64
	patterns []string
	seen     map[string]struct{}
}

type accumulator struct {
	order  []domain.AccountID
	totals map[domain.AccountID]*tally
}

func (a *accumulator) add(acc domain.AccountID, points float64, pattern string) {
	t, ok := a.totals[acc]
	if !ok {
		t = &tally{seen: make(map[string]struct{})}
		a.totals[acc] = t
		a.order = append(a.order, acc)
	}
	t.score += points
	if _, dup := t.seen[pattern]; !dup {
		t.seen[pattern] = struct{}{}
		t.patterns = append(t.patterns, pattern)
	}
}

// Score returns one AccountScore per account named in any detection, sorted
// by descending score. Ties keep first-detection order. txCounts holds the
// total transfers each account sent or received.
func (e *Engine) Score(d *domain.Detections, txCounts map[domain.AccountID]int) []domain.AccountScore {
	if d == nil {
		return nil
	}
	acc := &accumulator{totals: make(map[domain.AccountID]*tally)}

	for _, c := range d.Cycles {
		pattern := c.Pattern
		if pattern == "" {
			pattern = domain.CyclePattern(c.Length())
		}
		base := e.cfg.CycleBase(c.Length())
		for _, m := range domain.UniqueAccounts(c.Members) {
			acc.add(m, base, pattern)
		}
	}
	for _, f := range d.FanIn {
		for _, m := range f.Members() {
			acc.add(m, e.cfg.FanBase, domain.PatternFanIn)
		}
	}
	for _, f := range d.FanOut {
		for _, m := range f.Members() {
			acc.add(m, e.cfg.FanBase, domain.PatternFanOut)
		}
	}
	for _, s := range d.ShellChains {
		for _, m := range domain.UniqueAccounts(s.Path) {
			acc.add(m, e.cfg.ShellBase, domain.PatternShellChain)
		}
	}

	scores := make([]domain.AccountScore, 0, len(acc.order))
	for _, id := range acc.order {
		t := acc.totals[id]
		s := domain.AccountScore{AccountID: id, Patterns: t.patterns}
		s.Score = e.finalize(t.score, &s, txCounts[id])
		scores = append(scores, s)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	return scores
}

// finalize applies the multi-pattern bonus, the clamp and volume dampening,
// rounding to two decimals after each step.
func (e *Engine) finalize(raw float64, s *domain.AccountScore, txCount int) float64 {
	score := raw
	if extra := len(s.Patterns) - 1; extra > 0 {
		score += float64(extra) * e.cfg.MultiPatternBonus
	}
	score = round2(math.Max(0, math.Min(score, e.cfg.MaxScore)))

	if txCount > e.cfg.DampeningMinTx && !s.HasCyclePattern() {
		score = round2(score * e.cfg.DampeningFactor)
	}
	return score
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
