package domain

// RuleConfig defines a triage rule evaluated against every scored account.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Outcome bands for score-to-decision mapping
	Bands []RuleBand `json:"bands"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleBand maps a score range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lower_limit,omitempty"`
	UpperLimit *float64 `json:"upper_limit,omitempty"`
	SubRuleRef string   `json:"sub_rule_ref"` // e.g., ".pass", ".fail", ".review"
	Reason     string   `json:"reason"`
}

// RuleResult is the output of one rule against one account.
type RuleResult struct {
	RuleID     string    `json:"rule_id"`
	AccountID  AccountID `json:"account_id"`
	SubRuleRef string    `json:"sub_rule_ref"` // ".pass", ".review", ".fail", ".err"
	Score      float64   `json:"score"`
	Reason     string    `json:"reason"`
	ProcessMs  int64     `json:"process_ms"`
}

// Flagged reports whether the result should be surfaced to an analyst.
func (r RuleResult) Flagged() bool {
	return r.SubRuleRef == RuleOutcomeReview || r.SubRuleRef == RuleOutcomeFail
}

// Predefined rule outcomes
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)
