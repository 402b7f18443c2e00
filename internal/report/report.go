// Package report assembles pipeline output into the persisted and
// downloadable analysis report.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/pipeline"
	"github.com/opensource-finance/ringwatch/internal/rules"
	"github.com/shopspring/decimal"
)

// DefaultEngineVersion is stamped on reports when none is configured.
const DefaultEngineVersion = "ringwatch-1.0"

// Assembler turns a pipeline result into a report, running triage rules
// when an engine is attached.
type Assembler struct {
	EngineVersion string

	// IncludeGraph attaches the node/edge view used by the frontend.
	IncludeGraph bool

	rules *rules.Engine
}

// NewAssembler creates an assembler. engine may be nil.
func NewAssembler(engine *rules.Engine, version string) *Assembler {
	if version == "" {
		version = DefaultEngineVersion
	}
	return &Assembler{
		EngineVersion: version,
		IncludeGraph:  true,
		rules:         engine,
	}
}

// Fingerprint combines an analyzer fingerprint with that of the loaded
// triage rules.
func (a *Assembler) Fingerprint(analysis string) string {
	if a.rules == nil {
		return analysis
	}
	return analysis + "-" + a.rules.Fingerprint()
}

// Input contains everything needed to assemble one report.
type Input struct {
	ReportID string
	TenantID string
	TraceID  string

	Ledger *domain.Ledger
	Result *pipeline.Result

	// StartTime is when the upload was received.
	StartTime      time.Time
	IngestDuration time.Duration
}

// Assemble builds a completed report.
func (a *Assembler) Assemble(ctx context.Context, in *Input) (*domain.Report, error) {
	if in.Ledger == nil || in.Result == nil {
		return nil, fmt.Errorf("report input requires a ledger and a pipeline result")
	}
	res := in.Result
	fingerprint := a.Fingerprint(res.Fingerprint)

	scores := res.Scores
	evaluated := 0
	if a.rules != nil {
		var err error
		scores, evaluated, err = a.rules.Triage(ctx, res.Scores, res.Rings, res.TxCounts)
		if err != nil {
			return nil, err
		}
	}

	id := in.ReportID
	if id == "" {
		id = uuid.New().String()
	}

	detections := res.Detections
	report := &domain.Report{
		ID:                 id,
		TenantID:           in.TenantID,
		Digest:             in.Ledger.Digest,
		Status:             domain.ReportCompleted,
		CreatedAt:          time.Now().UTC(),
		SuspiciousAccounts: nonNil(scores),
		FraudRings:         nonNil(res.Rings),
		Detections:         &detections,
	}
	if a.IncludeGraph && res.Graph != nil {
		report.Graph = GraphView(res, scores)
	}

	elapsed := time.Since(in.StartTime)
	report.Summary = domain.Summary{
		TotalAccountsAnalyzed:     res.Accounts,
		SuspiciousAccountsFlagged: len(scores),
		FraudRingsDetected:        len(res.Rings),
		ProcessingTimeSeconds:     math.Round(elapsed.Seconds()*100) / 100,
		TotalTransactions:         res.Transfers,
		TotalVolume:               TotalVolume(in.Ledger.Transfers),
		CyclesTruncated:           res.Detections.CyclesTruncated,
	}

	report.Metadata = domain.ReportMetadata{
		TraceID:        in.TraceID,
		IngestMs:       in.IngestDuration.Milliseconds(),
		DetectMs:       res.DetectDuration.Milliseconds(),
		ScoringMs:      res.ScoringDuration.Milliseconds(),
		TotalMs:        elapsed.Milliseconds(),
		RowsDropped:    in.Ledger.Dropped,
		RulesEvaluated: evaluated,
		EngineVersion:  a.EngineVersion,
		Fingerprint:    fingerprint,
	}

	return report, nil
}

// Pending returns the placeholder stored while an async analysis runs.
func Pending(reportID, tenantID, digest string) *domain.Report {
	return &domain.Report{
		ID:                 reportID,
		TenantID:           tenantID,
		Digest:             digest,
		Status:             domain.ReportPending,
		CreatedAt:          time.Now().UTC(),
		SuspiciousAccounts: []domain.AccountScore{},
		FraudRings:         []domain.FraudRing{},
	}
}

// Failed marks a report as failed with the cause.
func Failed(r *domain.Report, cause error) *domain.Report {
	r.Status = domain.ReportFailed
	r.Error = cause.Error()
	return r
}

// TotalVolume sums the transfer amounts.
func TotalVolume(transfers []domain.Transfer) decimal.Decimal {
	total := decimal.Zero
	for _, t := range transfers {
		total = total.Add(t.Amount)
	}
	return total
}

// GraphView renders every account and aggregated edge of the run.
func GraphView(res *pipeline.Result, scores []domain.AccountScore) *domain.GraphView {
	byAccount := make(map[domain.AccountID]*domain.AccountScore, len(scores))
	for i := range scores {
		byAccount[scores[i].AccountID] = &scores[i]
	}

	accounts := res.Graph.Accounts()
	view := &domain.GraphView{
		Nodes: make([]domain.GraphNode, 0, len(accounts)),
	}
	for _, a := range accounts {
		node := domain.GraphNode{ID: a, TxCount: res.TxCounts[a]}
		if s, ok := byAccount[a]; ok {
			node.Score = s.Score
			node.RingID = s.RingID
			node.Patterns = s.Patterns
			node.Suspicious = true
		}
		view.Nodes = append(view.Nodes, node)
	}

	pairs := res.Graph.Pairs()
	view.Edges = make([]domain.GraphEdge, 0, len(pairs))
	for _, p := range pairs {
		view.Edges = append(view.Edges, domain.GraphEdge{
			Source:      p.From,
			Target:      p.To,
			Count:       p.Count,
			TotalAmount: p.Total,
		})
	}
	return view
}

// RingAlerts returns one alert per structural ring. Isolated accounts are
// not alerted on.
func RingAlerts(r *domain.Report) []domain.RingAlert {
	var alerts []domain.RingAlert
	now := time.Now().UTC()
	for _, ring := range r.FraudRings {
		if ring.PatternType == domain.RingIsolated {
			continue
		}
		alerts = append(alerts, domain.RingAlert{
			ReportID: r.ID,
			TenantID: r.TenantID,
			Ring:     ring,
			RaisedAt: now,
		})
	}
	return alerts
}

// WriteResult writes the downloadable result file as indented JSON.
func WriteResult(w io.Writer, r *domain.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.ResultFile())
}

// SaveResult writes the result file to path, creating parent directories.
func SaveResult(path string, r *domain.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create result file: %w", err)
	}
	if err := WriteResult(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write result file: %w", err)
	}
	return f.Close()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
