package detect

import (
	"sort"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// SmurfResult holds fan-in and fan-out clusters.
type SmurfResult struct {
	FanIn  []domain.FanCluster
	FanOut []domain.FanCluster
}

type leg struct {
	counterparty domain.AccountID
	at           time.Time
}

// Smurfing looks for hubs that receive from (fan-in) or send to (fan-out) at
// least cfg.Threshold distinct counterparties within any cfg.Window span.
// Only the first qualifying window per hub is reported.
func Smurfing(transfers []domain.Transfer, cfg domain.SmurfConfig) SmurfResult {
	var res SmurfResult
	if cfg.Threshold <= 0 {
		return res
	}

	inOrder, incoming := groupLegs(transfers, func(t domain.Transfer) (domain.AccountID, domain.AccountID) {
		return t.Receiver, t.Sender
	})
	outOrder, outgoing := groupLegs(transfers, func(t domain.Transfer) (domain.AccountID, domain.AccountID) {
		return t.Sender, t.Receiver
	})

	for _, hub := range inOrder {
		if c, ok := scanWindow(hub, incoming[hub], cfg, domain.FanIn); ok {
			res.FanIn = append(res.FanIn, c)
		}
	}
	for _, hub := range outOrder {
		if c, ok := scanWindow(hub, outgoing[hub], cfg, domain.FanOut); ok {
			res.FanOut = append(res.FanOut, c)
		}
	}
	return res
}

func groupLegs(transfers []domain.Transfer, split func(domain.Transfer) (hub, other domain.AccountID)) ([]domain.AccountID, map[domain.AccountID][]leg) {
	var order []domain.AccountID
	legs := make(map[domain.AccountID][]leg)
	for _, t := range transfers {
		hub, other := split(t)
		if _, ok := legs[hub]; !ok {
			order = append(order, hub)
		}
		legs[hub] = append(legs[hub], leg{counterparty: other, at: t.Timestamp})
	}
	return order, legs
}

func scanWindow(hub domain.AccountID, legs []leg, cfg domain.SmurfConfig, dir domain.FanDirection) (domain.FanCluster, bool) {
	if len(legs) < cfg.Threshold {
		return domain.FanCluster{}, false
	}
	sort.SliceStable(legs, func(i, j int) bool {
		return legs[i].at.Before(legs[j].at)
	})

	counts := make(map[domain.AccountID]int)
	left := 0
	for right := range legs {
		counts[legs[right].counterparty]++
		for legs[right].at.Sub(legs[left].at) > cfg.Window {
			cp := legs[left].counterparty
			if counts[cp]--; counts[cp] == 0 {
				delete(counts, cp)
			}
			left++
		}

		if right-left+1 < cfg.Threshold || len(counts) < cfg.Threshold {
			continue
		}

		window := legs[left : right+1]
		parties := make([]domain.AccountID, 0, len(counts))
		for _, l := range window {
			parties = append(parties, l.counterparty)
		}

		pattern := domain.PatternFanIn
		if dir == domain.FanOut {
			pattern = domain.PatternFanOut
		}
		return domain.FanCluster{
			Hub:            hub,
			Counterparties: domain.UniqueAccounts(parties),
			Direction:      dir,
			Pattern:        pattern,
			WindowStart:    window[0].at,
			WindowEnd:      window[len(window)-1].at,
		}, true
	}
	return domain.FanCluster{}, false
}
