// Package worker analyzes ledgers submitted over the event bus.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/ringwatch/internal/bus"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/pipeline"
	"github.com/opensource-finance/ringwatch/internal/report"
)

// ErrEmptySubmission is returned for submissions without a report ID or transfers.
var ErrEmptySubmission = errors.New("submission has no report ID or transfers")

// Worker runs the analysis pipeline for ledgers published on
// domain.TopicLedgerSubmitted.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	cache     domain.Cache
	analyzer  *pipeline.Analyzer
	assembler *report.Assembler
	reportTTL time.Duration

	processed atomic.Int64
	failed    atomic.Int64

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all tenants)
	TenantIDs []string

	// ReportTTL is how long completed reports stay in the digest cache.
	ReportTTL time.Duration
}

// NewWorker creates a new async worker. repo and cache may be nil.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, cache domain.Cache, analyzer *pipeline.Analyzer, assembler *report.Assembler) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		repo:      repo,
		cache:     cache,
		analyzer:  analyzer,
		assembler: assembler,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing submissions for the given tenants.
func (w *Worker) Start(cfg Config) error {
	w.reportTTL = cfg.ReportTTL

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicLedgerSubmitted, w.handleMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe for tenant %s: %w", tenantID, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("workers started",
		"tenants", tenants,
		"topic", domain.TopicLedgerSubmitted,
	)

	return nil
}

// handleMessage decodes a submission and analyzes it.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	var sub domain.LedgerSubmission
	if err := bus.Decode(msg, &sub); err != nil {
		w.failed.Add(1)
		w.reject(ctx, msg.TenantID, &sub, err)
		return err
	}

	_, err := w.Process(ctx, msg.TenantID, &sub)
	return err
}

// Process analyzes one submission, stores the report and publishes the
// completion and ring alerts. A failed analysis is stored as FAILED.
func (w *Worker) Process(ctx context.Context, tenantID string, sub *domain.LedgerSubmission) (*domain.Report, error) {
	start := time.Now()

	if sub.ReportID == "" || len(sub.Ledger.Transfers) == 0 {
		w.failed.Add(1)
		w.reject(ctx, tenantID, sub, ErrEmptySubmission)
		return nil, ErrEmptySubmission
	}

	log := slog.With(
		"report_id", sub.ReportID,
		"tenant_id", tenantID,
		"digest", sub.Ledger.Digest,
	)
	log.Debug("processing ledger", "transfers", len(sub.Ledger.Transfers))

	result := w.analyzer.Run(ctx, sub.Ledger.Transfers)

	rep, err := w.assembler.Assemble(ctx, &report.Input{
		ReportID:  sub.ReportID,
		TenantID:  tenantID,
		TraceID:   sub.ReportID,
		Ledger:    &sub.Ledger,
		Result:    result,
		StartTime: start,
	})
	if err != nil {
		w.failed.Add(1)
		log.Error("report assembly failed", "error", err)

		failed := report.Failed(report.Pending(sub.ReportID, tenantID, sub.Ledger.Digest), err)
		w.save(ctx, tenantID, failed)
		return nil, err
	}

	w.save(ctx, tenantID, rep)

	if w.cache != nil && rep.Digest != "" {
		if err := w.cache.SetReport(ctx, tenantID, rep.Digest, rep, w.reportTTL); err != nil {
			log.Warn("failed to cache report", "error", err)
		}
	}

	if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicReportCompleted, infoOf(rep)); err != nil {
		log.Error("failed to publish report completion", "error", err)
	}
	for _, alert := range report.RingAlerts(rep) {
		if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicRingDetected, alert); err != nil {
			log.Error("failed to publish ring alert",
				"ring_id", alert.Ring.RingID,
				"error", err,
			)
		}
	}

	w.processed.Add(1)
	log.Info("ledger analyzed",
		"accounts", rep.Summary.TotalAccountsAnalyzed,
		"flagged", rep.Summary.SuspiciousAccountsFlagged,
		"rings", rep.Summary.FraudRingsDetected,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return rep, nil
}

// reject stores a FAILED report for a submission that cannot be analyzed,
// so its pending placeholder does not linger.
func (w *Worker) reject(ctx context.Context, tenantID string, sub *domain.LedgerSubmission, cause error) {
	if sub.ReportID == "" || tenantID == "" {
		slog.Warn("dropping unidentifiable submission", "tenant_id", tenantID, "error", cause)
		return
	}
	w.save(ctx, tenantID, report.Failed(report.Pending(sub.ReportID, tenantID, sub.Ledger.Digest), cause))
}

func (w *Worker) save(ctx context.Context, tenantID string, rep *domain.Report) {
	if w.repo == nil {
		return
	}
	if err := w.repo.SaveReport(ctx, tenantID, rep); err != nil {
		slog.Error("failed to save report",
			"report_id", rep.ID,
			"status", rep.Status,
			"error", err,
		)
	}
}

func infoOf(r *domain.Report) domain.ReportInfo {
	return domain.ReportInfo{
		ID:        r.ID,
		Digest:    r.Digest,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		Summary:   r.Summary,
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
