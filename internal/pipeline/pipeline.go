// Package pipeline runs the detection and scoring stages over one ledger.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/ringwatch/internal/detect"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/graph"
	"github.com/opensource-finance/ringwatch/internal/rings"
	"github.com/opensource-finance/ringwatch/internal/scoring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ringwatch-pipeline")

// Config selects the tunables for every stage.
type Config struct {
	Detection domain.DetectionConfig
	Scoring   domain.ScoringConfig
	Rings     domain.RingConfig
}

// ConfigFrom extracts the pipeline settings from the service configuration.
func ConfigFrom(cfg *domain.Config) Config {
	return Config{
		Detection: cfg.Detection,
		Scoring:   cfg.Scoring,
		Rings:     cfg.Rings,
	}
}

// DefaultConfig returns the standard pipeline settings.
func DefaultConfig() Config {
	return Config{
		Detection: domain.DefaultDetectionConfig(),
		Scoring:   domain.DefaultScoringConfig(),
		Rings:     domain.DefaultRingConfig(),
	}
}

// Result is the output of one run.
type Result struct {
	Graph *graph.Graph

	Accounts  int
	Transfers int
	TxCounts  map[domain.AccountID]int

	Detections domain.Detections
	Scores     []domain.AccountScore
	Rings      []domain.FraudRing

	DetectDuration  time.Duration
	ScoringDuration time.Duration

	// Fingerprint of the analyzer settings that produced the result.
	Fingerprint string
}

// Analyzer runs the pipeline. It holds no per-run state and may be shared.
type Analyzer struct {
	cfg         Config
	scorer      *scoring.Engine
	fingerprint string
}

// New creates an analyzer.
func New(cfg Config) *Analyzer {
	return &Analyzer{
		cfg:         cfg,
		scorer:      scoring.NewEngine(cfg.Scoring),
		fingerprint: fingerprint(cfg),
	}
}

// Fingerprint returns a short hash of the analyzer settings. Two analyzers
// with equal settings share a fingerprint.
func (a *Analyzer) Fingerprint() string { return a.fingerprint }

func fingerprint(cfg Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// Run builds the transfer graph, runs every detector, scores the flagged
// accounts and groups them into rings. Stages run one after another; the
// context only carries tracing.
func (a *Analyzer) Run(ctx context.Context, transfers []domain.Transfer) *Result {
	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.Int("transfers", len(transfers))),
	)
	defer span.End()

	res := &Result{Transfers: len(transfers), Fingerprint: a.fingerprint}
	detectStart := time.Now()

	g := stage(ctx, "graph.build", func(span trace.Span) *graph.Graph {
		g := graph.Build(transfers)
		span.SetAttributes(attribute.Int("accounts", g.Len()))
		return g
	})
	res.Graph = g
	res.Accounts = g.Len()
	res.TxCounts = g.TransactionCounts()

	cycles := stage(ctx, "detect.cycles", func(span trace.Span) detect.CycleResult {
		c := detect.Cycles(g, a.cfg.Detection.Cycle)
		span.SetAttributes(
			attribute.Int("cycles", len(c.Cycles)),
			attribute.Bool("truncated", c.Truncated),
		)
		return c
	})
	if cycles.Truncated {
		slog.Warn("cycle enumeration capped",
			"max_results", a.cfg.Detection.Cycle.MaxResults,
			"accounts", g.Len(),
		)
	}

	smurf := stage(ctx, "detect.smurf", func(span trace.Span) detect.SmurfResult {
		s := detect.Smurfing(transfers, a.cfg.Detection.Smurf)
		span.SetAttributes(
			attribute.Int("fan_in", len(s.FanIn)),
			attribute.Int("fan_out", len(s.FanOut)),
		)
		return s
	})

	chains := stage(ctx, "detect.shell_chains", func(span trace.Span) []domain.ShellChain {
		c := detect.ShellChains(g, cycles.Cycles, a.cfg.Detection.Shell)
		span.SetAttributes(attribute.Int("shell_chains", len(c)))
		return c
	})

	res.Detections = domain.Detections{
		Cycles:          cycles.Cycles,
		FanIn:           smurf.FanIn,
		FanOut:          smurf.FanOut,
		ShellChains:     chains,
		CyclesTruncated: cycles.Truncated,
	}
	res.DetectDuration = time.Since(detectStart)

	scoringStart := time.Now()
	scores := stage(ctx, "scoring", func(span trace.Span) []domain.AccountScore {
		s := a.scorer.Score(&res.Detections, res.TxCounts)
		span.SetAttributes(attribute.Int("scored", len(s)))
		return s
	})

	stage(ctx, "rings", func(span trace.Span) struct{} {
		res.Scores, res.Rings = rings.NewBuilder(a.cfg.Rings).Build(&res.Detections, scores)
		span.SetAttributes(attribute.Int("rings", len(res.Rings)))
		return struct{}{}
	})
	res.ScoringDuration = time.Since(scoringStart)

	slog.Debug("pipeline complete",
		"accounts", res.Accounts,
		"transfers", res.Transfers,
		"cycles", len(res.Detections.Cycles),
		"fan_in", len(res.Detections.FanIn),
		"fan_out", len(res.Detections.FanOut),
		"shell_chains", len(res.Detections.ShellChains),
		"flagged", len(res.Scores),
		"rings", len(res.Rings),
	)
	return res
}

func stage[T any](ctx context.Context, name string, fn func(trace.Span) T) T {
	_, span := tracer.Start(ctx, name)
	defer span.End()
	return fn(span)
}
