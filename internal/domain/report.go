package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountScore is the suspicion verdict for one flagged account.
type AccountScore struct {
	AccountID AccountID `json:"account_id"`
	Score     float64   `json:"suspicion_score"`
	Patterns  []string  `json:"detected_patterns"`
	RingID    string    `json:"ring_id"`

	// TriageFlags lists the triage rules that returned .review or .fail.
	TriageFlags []string `json:"triage_flags,omitempty"`
}

// HasCyclePattern reports whether any matched pattern is a cycle.
func (s *AccountScore) HasCyclePattern() bool {
	for _, p := range s.Patterns {
		if IsCyclePattern(p) {
			return true
		}
	}
	return false
}

// FraudRing is a labelled cluster of accounts sharing one detected pattern.
type FraudRing struct {
	RingID      string      `json:"ring_id"`
	Members     []AccountID `json:"member_accounts"`
	PatternType string      `json:"pattern_type"`
	RiskScore   float64     `json:"risk_score"`
}

// Summary is the presentational header of a report.
type Summary struct {
	TotalAccountsAnalyzed     int             `json:"total_accounts_analyzed"`
	SuspiciousAccountsFlagged int             `json:"suspicious_accounts_flagged"`
	FraudRingsDetected        int             `json:"fraud_rings_detected"`
	ProcessingTimeSeconds     float64         `json:"processing_time_seconds"`
	TotalTransactions         int             `json:"total_transactions"`
	TotalVolume               decimal.Decimal `json:"total_volume"`
	CyclesTruncated           bool            `json:"cycles_truncated"`
}

// Report is the complete result of analyzing one ledger.
type Report struct {
	ID        string    `json:"report_id"`
	TenantID  string    `json:"tenant_id"`
	Digest    string    `json:"digest,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	SuspiciousAccounts []AccountScore `json:"suspicious_accounts"`
	FraudRings         []FraudRing    `json:"fraud_rings"`
	Summary            Summary        `json:"summary"`

	// Raw detector output, kept for audit display.
	Detections *Detections `json:"detections,omitempty"`

	// Graph is the account graph rendered by the frontend.
	Graph *GraphView `json:"graph,omitempty"`

	Metadata ReportMetadata `json:"metadata"`
}

// ResultFile is the downloadable subset of a report.
type ResultFile struct {
	SuspiciousAccounts []AccountScore `json:"suspicious_accounts"`
	FraudRings         []FraudRing    `json:"fraud_rings"`
	Summary            Summary        `json:"summary"`
}

// ResultFile returns the downloadable subset of r.
func (r *Report) ResultFile() ResultFile {
	return ResultFile{
		SuspiciousAccounts: r.SuspiciousAccounts,
		FraudRings:         r.FraudRings,
		Summary:            r.Summary,
	}
}

// GraphNode is one account in the graph view.
type GraphNode struct {
	ID         AccountID `json:"id"`
	Score      float64   `json:"suspicion_score"`
	RingID     string    `json:"ring_id,omitempty"`
	Patterns   []string  `json:"detected_patterns,omitempty"`
	Suspicious bool      `json:"suspicious"`
	TxCount    int       `json:"tx_count"`
}

// GraphEdge aggregates the transfers from Source to Target.
type GraphEdge struct {
	Source      AccountID       `json:"source"`
	Target      AccountID       `json:"target"`
	Count       int             `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// GraphView is the node/edge export for visualisation.
type GraphView struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ReportMetadata contains processing information.
type ReportMetadata struct {
	TraceID        string `json:"trace_id,omitempty"`
	IngestMs       int64  `json:"ingest_ms"`
	DetectMs       int64  `json:"detect_ms"`
	ScoringMs      int64  `json:"scoring_ms"`
	TotalMs        int64  `json:"total_ms"`
	RowsDropped    int    `json:"rows_dropped"`
	RulesEvaluated int    `json:"rules_evaluated"`
	EngineVersion  string `json:"engine_version"`

	// Fingerprint identifies the detection settings and triage rules the
	// report was produced with. Cached reports with another fingerprint
	// are recomputed.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ReportInfo is the listing view of a stored report.
type ReportInfo struct {
	ID        string    `json:"report_id"`
	Digest    string    `json:"digest"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Summary   Summary   `json:"summary"`
}

// Report status values.
const (
	ReportPending   = "PENDING"
	ReportCompleted = "COMPLETED"
	ReportFailed    = "FAILED"
)

// RingAlert is published for every structural ring found in a report.
type RingAlert struct {
	ReportID string    `json:"report_id"`
	TenantID string    `json:"tenant_id"`
	Ring     FraudRing `json:"ring"`
	RaisedAt time.Time `json:"raised_at"`
}
