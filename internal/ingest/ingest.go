// Package ingest parses and validates transfer ledgers uploaded as CSV.
package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrEmptyLedger   = errors.New("ledger contains no usable transactions")
)

// RequiredColumns lists the header fields every ledger must carry.
var RequiredColumns = []string{
	"transaction_id",
	"sender_id",
	"receiver_id",
	"amount",
	"timestamp",
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// Record is one raw CSV row.
type Record struct {
	TransactionID string `validate:"required"`
	SenderID      string `validate:"required"`
	ReceiverID    string `validate:"required"`
	Amount        string `validate:"required,number"`
	Timestamp     string `validate:"required"`
}

// Stats reports what happened to the rows of one upload.
type Stats struct {
	Rows         int `json:"rows"`
	Accepted     int `json:"accepted"`
	MissingParty int `json:"missing_party"`
	BadTimestamp int `json:"bad_timestamp"`
	Invalid      int `json:"invalid"`
	Duplicates   int `json:"duplicates"`
}

// Dropped returns the number of rows that did not become transfers.
func (s Stats) Dropped() int { return s.Rows - s.Accepted }

// Parser turns CSV uploads into ledgers.
type Parser struct {
	validate *validator.Validate
}

// NewParser creates a CSV parser.
func NewParser() *Parser {
	return &Parser{validate: validator.New()}
}

// Parse reads a CSV ledger. Rows without a sender or receiver, with an
// unparseable timestamp or amount, or that repeat an earlier row verbatim
// are dropped and counted in Stats.
func (p *Parser) Parse(r io.Reader) (*domain.Ledger, Stats, error) {
	var stats Stats

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read ledger: %w", err)
	}
	sum := sha256.Sum256(raw)

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, stats, ErrEmptyLedger
	}
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range RequiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, stats, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}

	field := func(row []string, name string) string {
		i := cols[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	ledger := &domain.Ledger{Digest: hex.EncodeToString(sum[:])}
	seen := make(map[string]struct{})

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("failed to read row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		rec := Record{
			TransactionID: field(row, "transaction_id"),
			SenderID:      field(row, "sender_id"),
			ReceiverID:    field(row, "receiver_id"),
			Amount:        field(row, "amount"),
			Timestamp:     field(row, "timestamp"),
		}

		if rec.SenderID == "" || rec.ReceiverID == "" {
			stats.MissingParty++
			continue
		}

		ts, ok := parseTimestamp(rec.Timestamp)
		if !ok {
			stats.BadTimestamp++
			continue
		}

		if err := p.validate.Struct(rec); err != nil {
			stats.Invalid++
			continue
		}
		amount, err := decimal.NewFromString(rec.Amount)
		if err != nil {
			stats.Invalid++
			continue
		}

		key := strings.Join(row, "\x1f")
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		ledger.Transfers = append(ledger.Transfers, domain.Transfer{
			ID:        rec.TransactionID,
			Sender:    domain.AccountID(rec.SenderID),
			Receiver:  domain.AccountID(rec.ReceiverID),
			Amount:    amount,
			Timestamp: ts,
		})
		stats.Accepted++
	}

	if stats.BadTimestamp > 0 {
		slog.Warn("dropped rows with unparseable timestamps", "rows", stats.BadTimestamp)
	}
	ledger.Dropped = stats.Dropped()

	if len(ledger.Transfers) == 0 {
		return nil, stats, ErrEmptyLedger
	}
	return ledger, stats, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
