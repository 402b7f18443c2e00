package rules

import "github.com/opensource-finance/ringwatch/internal/domain"

func limit(v float64) *float64 { return &v }

// flagBands maps a boolean rule to .pass (false) or the given outcome (true).
func flagBands(outcome, reason string) []domain.RuleBand {
	return []domain.RuleBand{
		{UpperLimit: limit(1), SubRuleRef: domain.RuleOutcomePass, Reason: "not triggered"},
		{LowerLimit: limit(1), SubRuleRef: outcome, Reason: reason},
	}
}

// DefaultRules returns the triage rules seeded into an empty rule store.
// Operators replace or extend them through POST /rules.
func DefaultRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "triage-critical-score",
			Name:        "Critical suspicion score",
			Description: "Account scored at or above 90",
			Version:     "1.0.0",
			Expression:  "score >= 90.0",
			Bands:       flagBands(domain.RuleOutcomeFail, "suspicion score at or above 90"),
			Enabled:     true,
		},
		{
			ID:          "triage-multi-pattern",
			Name:        "Multiple structural patterns",
			Description: "Account matched two or more distinct pattern families",
			Version:     "1.0.0",
			Expression:  "size(patterns) >= 2",
			Bands:       flagBands(domain.RuleOutcomeReview, "account matched several patterns"),
			Enabled:     true,
		},
		{
			ID:          "triage-short-cycle",
			Name:        "Short cycle ring",
			Description: "Member of a three-account cycle ring",
			Version:     "1.0.0",
			Expression:  `pattern_type == "cycle" && ring_size == 3`,
			Bands:       flagBands(domain.RuleOutcomeReview, "member of a three-account cycle"),
			Enabled:     true,
		},
	}
}

// GlobalTenantID owns rules that apply to every tenant.
const GlobalTenantID = "*"
