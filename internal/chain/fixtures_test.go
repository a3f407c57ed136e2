package chain

import (
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func oi(n int64) *int64 {
	return &n
}

func row(strike string) StrikeRow {
	return StrikeRow{Strike: dec(strike)}
}

func snapshotAt(price string, rows ...StrikeRow) *ChainSnapshot {
	s := &ChainSnapshot{
		Symbol:     "SPX",
		Expiration: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
		Strikes:    rows,
	}
	if price != "" {
		s.UnderlyingPrice = nd(price)
	}
	return s
}

func strikesOf(ranked []RankedStrike) []string {
	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Strike.String())
	}
	return out
}

func hotStrikesOf(entries []HotStrikeEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Strike.String())
	}
	return out
}
