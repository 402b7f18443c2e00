// Ringscan analyzes a transfer ledger CSV offline and writes result.json.
//
// Usage:
//
//	go run ./cmd/ringscan -csv ledger.csv -out outputs/result.json
//
// This tool:
//  1. Parses and validates the ledger
//  2. Runs cycle, smurfing and shell-chain detection
//  3. Scores accounts and groups them into rings
//  4. Prints the downloadable result and writes it to -out
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-finance/ringwatch/internal/config"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/ingest"
	"github.com/opensource-finance/ringwatch/internal/pipeline"
	"github.com/opensource-finance/ringwatch/internal/report"
	"github.com/opensource-finance/ringwatch/internal/rules"
)

func main() {
	csvPath := flag.String("csv", "", "Path to ledger CSV (required)")
	outPath := flag.String("out", "outputs/result.json", "Where to write result.json (empty to skip)")
	configPath := flag.String("config", "", "Optional YAML configuration file")
	tenantID := flag.String("tenant", "local", "Tenant recorded on the report")
	triage := flag.Bool("triage", false, "Run the built-in triage rules")
	quiet := flag.Bool("quiet", false, "Do not print the result to stdout")
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: ringscan -csv <ledger.csv> [-out result.json] [-config ringwatch.yaml]")
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := run(*csvPath, *outPath, *configPath, *tenantID, *triage, *quiet); err != nil {
		fmt.Fprintf(os.Stderr, "ringscan: %v\n", err)
		os.Exit(1)
	}
}

func run(csvPath, outPath, configPath, tenantID string, triage, quiet bool) error {
	cfg := domain.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	start := time.Now()

	ledger, stats, err := ingest.NewParser().Parse(f)
	if err != nil {
		return err
	}
	ingestDuration := time.Since(start)

	var engine *rules.Engine
	if triage {
		engine, err = rules.NewEngine(cfg.Triage.MaxWorkers)
		if err != nil {
			return err
		}
		defer engine.Close()
		if err := engine.LoadRules(rules.DefaultRules()); err != nil {
			return err
		}
	}

	result := pipeline.New(pipeline.ConfigFrom(cfg)).Run(ctx, ledger.Transfers)

	assembler := report.NewAssembler(engine, "")
	assembler.IncludeGraph = false
	rep, err := assembler.Assemble(ctx, &report.Input{
		TenantID:       tenantID,
		Ledger:         ledger,
		Result:         result,
		StartTime:      start,
		IngestDuration: ingestDuration,
	})
	if err != nil {
		return err
	}

	if !quiet {
		if err := report.WriteResult(os.Stdout, rep); err != nil {
			return err
		}
	}

	if outPath != "" {
		if err := report.SaveResult(outPath, rep); err != nil {
			return err
		}
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "  Rows:        %d (%d dropped)\n", stats.Rows, stats.Dropped())
	fmt.Fprintf(os.Stderr, "  Accounts:    %d\n", rep.Summary.TotalAccountsAnalyzed)
	fmt.Fprintf(os.Stderr, "  Suspicious:  %d\n", rep.Summary.SuspiciousAccountsFlagged)
	fmt.Fprintf(os.Stderr, "  Rings:       %d\n", rep.Summary.FraudRingsDetected)
	if rep.Summary.CyclesTruncated {
		fmt.Fprintln(os.Stderr, "  Cycles:      truncated at cap")
	}
	fmt.Fprintf(os.Stderr, "  Time:        %.2fs\n", rep.Summary.ProcessingTimeSeconds)
	if outPath != "" {
		fmt.Fprintf(os.Stderr, "  Written to:  %s\n", outPath)
	}
	return nil
}
