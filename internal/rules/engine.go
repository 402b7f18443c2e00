// Package rules provides the CEL-Go based triage engine that runs analyst
// rules over every scored account.
package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/ringwatch/internal/domain"
)

// ErrRuleRequired is returned when a nil rule is validated.
var ErrRuleRequired = errors.New("rule config is required")

// Engine is the CEL-based triage engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new triage engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Variables describe one scored account and the ring it was labelled with.
	env, err := cel.NewEnv(
		cel.Variable("account_id", cel.StringType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("patterns", cel.ListType(cel.StringType)),
		cel.Variable("tx_count", cel.IntType),
		cel.Variable("ring_id", cel.StringType),
		cel.Variable("pattern_type", cel.StringType),
		cel.Variable("ring_risk", cel.DoubleType),
		cel.Variable("ring_size", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return ErrRuleRequired
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// AccountInput is everything a triage rule can see about one account.
type AccountInput struct {
	Score   domain.AccountScore
	TxCount int
	Ring    *domain.FraudRing
}

func (in AccountInput) activation() map[string]any {
	act := map[string]any{
		"account_id":   string(in.Score.AccountID),
		"score":        in.Score.Score,
		"patterns":     append([]string{}, in.Score.Patterns...),
		"tx_count":     int64(in.TxCount),
		"ring_id":      in.Score.RingID,
		"pattern_type": "",
		"ring_risk":    0.0,
		"ring_size":    int64(0),
	}
	if in.Ring != nil {
		act["pattern_type"] = in.Ring.PatternType
		act["ring_risk"] = in.Ring.RiskScore
		act["ring_size"] = int64(len(in.Ring.Members))
	}
	return act
}

// Evaluate runs every loaded rule against one account, ordered by rule ID.
func (e *Engine) Evaluate(ctx context.Context, in AccountInput) []domain.RuleResult {
	rules := e.snapshot()
	if len(rules) == 0 {
		return nil
	}

	activation := in.activation()
	results := make([]domain.RuleResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, e.evaluateRule(rule, activation, in.Score.AccountID))
	}
	return results
}

// Triage evaluates the loaded rules for every scored account and returns a
// copy of scores with TriageFlags set to the IDs of rules that ended in
// .review or .fail. The second return value counts rule evaluations.
func (e *Engine) Triage(ctx context.Context, scores []domain.AccountScore, rings []domain.FraudRing, txCounts map[domain.AccountID]int) ([]domain.AccountScore, int, error) {
	out := make([]domain.AccountScore, len(scores))
	copy(out, scores)

	rules := e.snapshot()
	if len(rules) == 0 || len(out) == 0 {
		return out, 0, nil
	}

	ringByID := make(map[string]*domain.FraudRing, len(rings))
	for i := range rings {
		ringByID[rings[i].RingID] = &rings[i]
	}

	// Bounded worker pool over accounts; each account runs the rules in order.
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i := range out {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, 0, fmt.Errorf("triage cancelled: %w", err)
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			in := AccountInput{
				Score:   out[idx],
				TxCount: txCounts[out[idx].AccountID],
				Ring:    ringByID[out[idx].RingID],
			}
			activation := in.activation()

			var flags []string
			for _, rule := range rules {
				res := e.evaluateRule(rule, activation, in.Score.AccountID)
				if res.Flagged() {
					flags = append(flags, res.RuleID)
				}
			}
			out[idx].TriageFlags = flags
		}(i)
	}

	wg.Wait()

	return out, len(out) * len(rules), nil
}

// snapshot returns the loaded rules sorted by ID.
func (e *Engine) snapshot() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })
	return rules
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any, account domain.AccountID) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:    rule.Config.ID,
		AccountID: account,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.SubRuleRef = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	score := toScore(out)
	result.Score = score

	result.SubRuleRef, result.Reason = matchBand(score, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the first band containing score. Lower limits are
// inclusive, upper limits exclusive, and a nil limit is unbounded.
func matchBand(score float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		if band.LowerLimit != nil && score < *band.LowerLimit {
			continue
		}
		if band.UpperLimit != nil && score >= *band.UpperLimit {
			continue
		}
		return band.SubRuleRef, band.Reason
	}

	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules replaces the loaded rules atomically. Nothing changes if any
// enabled rule fails to compile.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	rules := e.snapshot()
	configs := make([]*domain.RuleConfig, 0, len(rules))
	for _, compiled := range rules {
		configs = append(configs, compiled.Config)
	}
	return configs
}

// Fingerprint returns a short hash of the loaded rules. It changes whenever
// a rule is added, removed or edited.
func (e *Engine) Fingerprint() string {
	h := sha256.New()
	for _, rule := range e.snapshot() {
		cfg := rule.Config
		data, err := json.Marshal(struct {
			ID         string            `json:"id"`
			Version    string            `json:"version"`
			Expression string            `json:"expression"`
			Bands      []domain.RuleBand `json:"bands"`
		}{cfg.ID, cfg.Version, cfg.Expression, cfg.Bands})
		if err != nil {
			continue
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
