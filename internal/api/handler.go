package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/ringwatch/internal/bus"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/ingest"
	"github.com/opensource-finance/ringwatch/internal/pipeline"
	"github.com/opensource-finance/ringwatch/internal/report"
	"github.com/opensource-finance/ringwatch/internal/repository"
	"github.com/opensource-finance/ringwatch/internal/rules"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Dependencies are the components the handlers work with. Repository,
// Cache and Bus may be nil.
type Dependencies struct {
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Rules      *rules.Engine
	Analyzer   *pipeline.Analyzer
	Assembler  *report.Assembler
	ReportTTL  time.Duration
	Version    string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	analyzer  *pipeline.Analyzer
	assembler *report.Assembler
	parser    *ingest.Parser

	reportTTL  time.Duration
	maxUpload  int64
	outputPath string
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(cfg domain.ServerConfig, deps Dependencies) *Handler {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 64 << 20
	}
	return &Handler{
		repo:       deps.Repository,
		cache:      deps.Cache,
		bus:        deps.Bus,
		engine:     deps.Rules,
		analyzer:   deps.Analyzer,
		assembler:  deps.Assembler,
		parser:     ingest.NewParser(),
		reportTTL:  deps.ReportTTL,
		maxUpload:  maxUpload,
		outputPath: cfg.OutputPath,
		version:    deps.Version,
	}
}

// AnalyzeAccepted is the response for asynchronous POST /analyze.
type AnalyzeAccepted struct {
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
	Digest   string `json:"digest"`
	Rows     int    `json:"rows"`
	Location string `json:"location"`
}

// Analyze handles POST /analyze: a multipart upload with the ledger CSV in
// the "file" field. The report is returned directly unless async=true.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		case r.MultipartForm != nil && len(r.MultipartForm.Value["file"]) > 0:
			// A part named "file" without a filename is parsed as a plain value.
			writeError(w, http.StatusBadRequest, "Empty filename")
		default:
			writeError(w, http.StatusBadRequest, "No CSV uploaded")
		}
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "Empty filename")
		return
	}

	ledger, stats, err := h.parser.Parse(file)
	if err != nil {
		slog.Warn("ledger rejected",
			"tenant_id", tenantID,
			"filename", header.Filename,
			"error", err,
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ledger.Source = header.Filename
	ingestDuration := time.Since(start)

	slog.Debug("ledger parsed",
		"tenant_id", tenantID,
		"digest", ledger.Digest,
		"rows", stats.Rows,
		"accepted", stats.Accepted,
		"dropped", stats.Dropped(),
	)

	if r.URL.Query().Get("refresh") != "true" {
		if cached := h.lookupDigest(r, tenantID, ledger.Digest); cached != nil {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	if r.URL.Query().Get("async") == "true" {
		h.submit(w, r, ledger, stats)
		return
	}

	result := h.analyzer.Run(ctx, ledger.Transfers)
	rep, err := h.assembler.Assemble(ctx, &report.Input{
		ReportID:       uuid.New().String(),
		TenantID:       tenantID,
		TraceID:        traceID,
		Ledger:         ledger,
		Result:         result,
		StartTime:      start,
		IngestDuration: ingestDuration,
	})
	if err != nil {
		slog.Error("report assembly failed", "error", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	h.persist(r, rep)

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, rep)
}

// lookupDigest returns a completed report for the same upload, if any,
// produced with the current detection settings and triage rules.
func (h *Handler) lookupDigest(r *http.Request, tenantID, digest string) *domain.Report {
	ctx := r.Context()
	current := h.assembler.Fingerprint(h.analyzer.Fingerprint())

	if h.cache != nil {
		cached, err := h.cache.GetReport(ctx, tenantID, digest)
		if err != nil {
			slog.Warn("report cache lookup failed", "digest", digest, "error", err)
		}
		if cached != nil && cached.Metadata.Fingerprint == current {
			return cached
		}
	}

	if h.repo == nil {
		return nil
	}
	stored, err := h.repo.GetReportByDigest(ctx, tenantID, digest)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("report digest lookup failed", "digest", digest, "error", err)
		}
		return nil
	}
	if stored.Metadata.Fingerprint != current {
		slog.Debug("stored report is stale",
			"report_id", stored.ID,
			"fingerprint", stored.Metadata.Fingerprint,
			"current", current,
		)
		return nil
	}
	if h.cache != nil {
		if err := h.cache.SetReport(ctx, tenantID, digest, stored, h.reportTTL); err != nil {
			slog.Warn("failed to warm report cache", "digest", digest, "error", err)
		}
	}
	return stored
}

// submit queues the ledger for a background worker.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request, ledger *domain.Ledger, stats ingest.Stats) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	reportID := uuid.New().String()
	pending := report.Pending(reportID, tenantID, ledger.Digest)
	if h.repo != nil {
		if err := h.repo.SaveReport(ctx, tenantID, pending); err != nil {
			slog.Error("failed to save pending report", "report_id", reportID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to queue analysis")
			return
		}
	}

	err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicLedgerSubmitted, domain.LedgerSubmission{
		ReportID: reportID,
		Ledger:   *ledger,
	})
	if err != nil {
		slog.Error("failed to submit ledger", "report_id", reportID, "error", err)
		if h.repo != nil {
			// No worker will pick the report up.
			if serr := h.repo.SaveReport(ctx, tenantID, report.Failed(pending, err)); serr != nil {
				slog.Error("failed to mark report failed", "report_id", reportID, "error", serr)
			}
		}
		if errors.Is(err, bus.ErrBackpressure) {
			writeError(w, http.StatusServiceUnavailable, "analysis queue is full, retry later")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to queue analysis")
		return
	}

	slog.Info("ledger submitted",
		"report_id", reportID,
		"tenant_id", tenantID,
		"transfers", len(ledger.Transfers),
	)
	writeJSON(w, http.StatusAccepted, AnalyzeAccepted{
		ReportID: reportID,
		Status:   domain.ReportPending,
		Digest:   ledger.Digest,
		Rows:     stats.Rows,
		Location: "/reports/" + reportID,
	})
}

// persist stores, caches, exports and announces a completed report. Each
// step is best effort; the caller already has the report.
func (h *Handler) persist(r *http.Request, rep *domain.Report) {
	ctx := r.Context()
	tenantID := rep.TenantID

	if h.repo != nil {
		if err := h.repo.SaveReport(ctx, tenantID, rep); err != nil {
			slog.Error("failed to save report", "report_id", rep.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetReport(ctx, tenantID, rep.Digest, rep, h.reportTTL); err != nil {
			slog.Warn("failed to cache report", "report_id", rep.ID, "error", err)
		}
	}
	if h.outputPath != "" {
		if err := report.SaveResult(h.outputPath, rep); err != nil {
			slog.Error("failed to write result file", "path", h.outputPath, "error", err)
		}
	}
	if h.bus != nil {
		for _, alert := range report.RingAlerts(rep) {
			if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicRingDetected, alert); err != nil {
				slog.Warn("failed to publish ring alert", "ring_id", alert.Ring.RingID, "error", err)
			}
		}
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListReports returns the latest reports of the tenant, newest first.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	infos, err := h.repo.ListReports(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list reports", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if infos == nil {
		infos = []*domain.ReportInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reports": infos,
		"count":   len(infos),
	})
}

// GetReport retrieves a report by ID.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.loadReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// DownloadReport serves the result file of a completed report as an attachment.
func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.loadCompleted(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="result.json"`)
	w.WriteHeader(http.StatusOK)
	if err := report.WriteResult(w, rep); err != nil {
		slog.Error("failed to write result download", "report_id", rep.ID, "error", err)
	}
}

// GetReportGraph returns the node/edge view of a completed report.
func (h *Handler) GetReportGraph(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.loadCompleted(w, r)
	if !ok {
		return
	}
	if rep.Graph == nil {
		writeError(w, http.StatusNotFound, "graph not available for this report")
		return
	}
	writeJSON(w, http.StatusOK, rep.Graph)
}

func (h *Handler) loadReport(w http.ResponseWriter, r *http.Request) (*domain.Report, bool) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	reportID := chi.URLParam(r, "id")

	if reportID == "" {
		writeError(w, http.StatusBadRequest, "report id is required")
		return nil, false
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return nil, false
	}

	rep, err := h.repo.GetReport(ctx, tenantID, reportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return nil, false
		}
		slog.Error("failed to get report", "id", reportID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return nil, false
	}
	return rep, true
}

func (h *Handler) loadCompleted(w http.ResponseWriter, r *http.Request) (*domain.Report, bool) {
	rep, ok := h.loadReport(w, r)
	if !ok {
		return nil, false
	}
	switch rep.Status {
	case domain.ReportCompleted:
		return rep, true
	case domain.ReportFailed:
		writeError(w, http.StatusUnprocessableEntity, "analysis failed: "+rep.Error)
	default:
		writeError(w, http.StatusConflict, "report is not ready")
	}
	return nil, false
}

// ListRules returns all loaded rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeError(w, http.StatusBadRequest, "rule id is required")
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule validates a triage rule and saves it to the database.
// Rules are saved globally so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}

	version := req.Version
	if version == "" {
		version = "1.0.0"
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    rules.GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(ruleConfig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	if err := h.repo.SaveRuleConfig(ctx, rules.GlobalTenantID, ruleConfig); err != nil {
		slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, rules.GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
