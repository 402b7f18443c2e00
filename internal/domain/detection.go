package domain

import (
	"fmt"
	"strings"
	"time"
)

// Pattern tags attached to detections and scored accounts.
const (
	PatternFanIn      = "fan_in"
	PatternFanOut     = "fan_out"
	PatternShellChain = "shell_chain"

	cyclePrefix = "cycle"
)

// Ring pattern types.
const (
	RingCycle      = "cycle"
	RingFanIn      = "fan_in"
	RingFanOut     = "fan_out"
	RingShellChain = "shell_chain"
	RingIsolated   = "isolated_account"
)

// CyclePattern returns the pattern tag for a cycle of n accounts.
func CyclePattern(n int) string {
	return fmt.Sprintf("cycle_length_%d", n)
}

// IsCyclePattern reports whether tag was produced by the cycle detector.
func IsCyclePattern(tag string) bool {
	return strings.HasPrefix(tag, cyclePrefix)
}

// Cycle is a simple directed cycle in canonical rotation.
type Cycle struct {
	Members []AccountID `json:"members"`
	Pattern string      `json:"pattern"`
}

// Length returns the number of accounts in the cycle.
func (c Cycle) Length() int { return len(c.Members) }

// FanDirection distinguishes fan-in from fan-out clusters.
type FanDirection string

const (
	FanIn  FanDirection = "in"
	FanOut FanDirection = "out"
)

// FanCluster is a burst of transfers into (fan-in) or out of (fan-out) a hub
// account inside one time window.
type FanCluster struct {
	Hub            AccountID    `json:"hub"`
	Counterparties []AccountID  `json:"counterparties"`
	Direction      FanDirection `json:"direction"`
	Pattern        string       `json:"pattern"`
	WindowStart    time.Time    `json:"window_start"`
	WindowEnd      time.Time    `json:"window_end"`
}

// Members returns the hub followed by its counterparties, without repeats.
func (f FanCluster) Members() []AccountID {
	return UniqueAccounts(append([]AccountID{f.Hub}, f.Counterparties...))
}

// ShellChain is a pass-through path from source to sink.
type ShellChain struct {
	Path    []AccountID `json:"path"`
	Pattern string      `json:"pattern"`
}

// Detections bundles the raw output of all detectors for one run.
type Detections struct {
	Cycles          []Cycle      `json:"cycles"`
	FanIn           []FanCluster `json:"fan_in"`
	FanOut          []FanCluster `json:"fan_out"`
	ShellChains     []ShellChain `json:"shell_chains"`
	CyclesTruncated bool         `json:"cycles_truncated"`
}

// Empty reports whether no detector produced anything.
func (d *Detections) Empty() bool {
	return len(d.Cycles) == 0 && len(d.FanIn) == 0 && len(d.FanOut) == 0 && len(d.ShellChains) == 0
}

// UniqueAccounts drops repeated accounts, keeping first occurrences in order.
func UniqueAccounts(ids []AccountID) []AccountID {
	seen := make(map[AccountID]struct{}, len(ids))
	out := make([]AccountID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
