package detect

import (
	"fmt"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/shopspring/decimal"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func tx(from, to string, at time.Duration) domain.Transfer {
	return domain.Transfer{
		ID:        fmt.Sprintf("%s-%s-%d", from, to, at),
		Sender:    domain.AccountID(from),
		Receiver:  domain.AccountID(to),
		Amount:    decimal.NewFromInt(500),
		Timestamp: base.Add(at),
	}
}

func chain(ids ...string) []domain.Transfer {
	var out []domain.Transfer
	for i := 0; i+1 < len(ids); i++ {
		out = append(out, tx(ids[i], ids[i+1], time.Duration(i)*time.Minute))
	}
	return out
}

func loop(ids ...string) []domain.Transfer {
	return chain(append(ids, ids[0])...)
}

func ids(members []domain.AccountID) string {
	return fmt.Sprint(members)
}
