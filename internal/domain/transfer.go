package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// AccountID identifies a ledger account. Integer identifiers order before
// all others and compare numerically; the rest compare lexicographically.
type AccountID string

// Less reports whether a orders before b. It is a strict total order:
// integer identifiers with equal values (e.g. "7" and "007") fall back to
// comparing the raw strings.
func (a AccountID) Less(b AccountID) bool {
	x, errX := strconv.ParseInt(string(a), 10, 64)
	y, errY := strconv.ParseInt(string(b), 10, 64)
	switch {
	case errX == nil && errY == nil:
		if x != y {
			return x < y
		}
		return a < b
	case errX == nil:
		return true
	case errY == nil:
		return false
	}
	return a < b
}

// Transfer is a single directed money movement between two accounts.
type Transfer struct {
	ID        string          `json:"transaction_id"`
	Sender    AccountID       `json:"sender_id"`
	Receiver  AccountID       `json:"receiver_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Ledger is a validated batch of transfers submitted for analysis.
type Ledger struct {
	// Digest is the hex SHA-256 of the raw upload, used for result caching.
	Digest    string     `json:"digest"`
	Source    string     `json:"source,omitempty"`
	Transfers []Transfer `json:"transfers"`
	Dropped   int        `json:"dropped"`
}
