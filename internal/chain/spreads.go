package chain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SpreadOptions configures the credit spread scan.
type SpreadOptions struct {
	// MinCredit and MaxCredit bound the mark credit, inclusive.
	MinCredit decimal.Decimal `json:"min_credit"`
	MaxCredit decimal.Decimal `json:"max_credit"`
	// Width is the strike distance between legs. Zero pairs adjacent strikes.
	Width decimal.Decimal `json:"width"`
	// OTMOnly keeps call shorts at or above spot and put shorts at or below.
	OTMOnly bool `json:"otm_only"`
}

func DefaultSpreadOptions() SpreadOptions {
	return SpreadOptions{
		MinCredit: decimal.RequireFromString("0.25"),
		MaxCredit: decimal.RequireFromString("0.50"),
		OTMOnly:   true,
	}
}

// CreditSpreadCandidate is a vertical credit spread: sell Short, buy Long.
type CreditSpreadCandidate struct {
	Side        Side                `json:"side"`
	ShortStrike decimal.Decimal     `json:"short_strike"`
	LongStrike  decimal.Decimal     `json:"long_strike"`
	MarkCredit  decimal.Decimal     `json:"mark_credit"`
	BidCredit   decimal.Decimal     `json:"bid_credit"`
	AskCredit   decimal.Decimal     `json:"ask_credit"`
	Distance    decimal.NullDecimal `json:"distance_from_underlying"`
	POPPct      decimal.NullDecimal `json:"pop_pct"`
}

// SpreadScan holds the candidates of both sides. Calls are ordered by
// ascending short strike, puts by descending short strike, so both read
// outward from spot.
type SpreadScan struct {
	Calls []CreditSpreadCandidate `json:"calls"`
	Puts  []CreditSpreadCandidate `json:"puts"`
}

// ScanSpreads finds call and put credit spreads whose mark credit lies in
// [MinCredit, MaxCredit]. Pairs with any missing bid or ask are skipped.
func ScanSpreads(snap *ChainSnapshot, opts SpreadOptions) SpreadScan {
	out := SpreadScan{Calls: []CreditSpreadCandidate{}, Puts: []CreditSpreadCandidate{}}
	if snap == nil || len(snap.Strikes) < 2 {
		return out
	}

	index := make(map[string]int, len(snap.Strikes))
	for i, r := range snap.Strikes {
		index[strikeKey(r.Strike)] = i
	}

	inBand := func(c CreditSpreadCandidate) bool {
		return !c.MarkCredit.LessThan(opts.MinCredit) && !c.MarkCredit.GreaterThan(opts.MaxCredit)
	}
	for i := range snap.Strikes {
		for _, side := range []Side{Call, Put} {
			j, ok := longLeg(snap.Strikes, index, i, side, opts.Width)
			if !ok || (opts.OTMOnly && !outOfTheMoney(snap, side, snap.Strikes[i])) {
				continue
			}
			c, quoted := buildSpread(snap, side, snap.Strikes[i], snap.Strikes[j])
			if !quoted || !inBand(c) {
				continue
			}
			if side == Call {
				out.Calls = append(out.Calls, c)
			} else {
				out.Puts = append(out.Puts, c)
			}
		}
	}

	sortOutward(out.Puts)
	return out
}

// LadderRung is one step of a spread ladder. When Quoted is false a leg lacks
// a bid or ask and only the strikes, distance and POP are set.
type LadderRung struct {
	CreditSpreadCandidate
	Quoted bool
}

// Ladder lists every out-of-the-money spread of one side ordered from spot
// outward, with no credit band applied. Unquoted pairs stay in the ladder so
// the strikes remain contiguous.
func Ladder(snap *ChainSnapshot, side Side, width decimal.Decimal) []LadderRung {
	out := []LadderRung{}
	if snap == nil || len(snap.Strikes) < 2 {
		return out
	}
	index := make(map[string]int, len(snap.Strikes))
	for i, r := range snap.Strikes {
		index[strikeKey(r.Strike)] = i
	}
	for i := range snap.Strikes {
		j, ok := longLeg(snap.Strikes, index, i, side, width)
		if !ok || !outOfTheMoney(snap, side, snap.Strikes[i]) {
			continue
		}
		c, quoted := buildSpread(snap, side, snap.Strikes[i], snap.Strikes[j])
		out = append(out, LadderRung{CreditSpreadCandidate: c, Quoted: quoted})
	}
	if side == Put {
		sort.SliceStable(out, func(a, b int) bool {
			return out[a].ShortStrike.GreaterThan(out[b].ShortStrike)
		})
	}
	return out
}

// sortOutward orders put spreads by descending short strike.
func sortOutward(puts []CreditSpreadCandidate) {
	sort.SliceStable(puts, func(a, b int) bool {
		return puts[a].ShortStrike.GreaterThan(puts[b].ShortStrike)
	})
}

// longLeg finds the protective leg for a short at strikes[i]: higher for
// calls, lower for puts.
func longLeg(strikes []StrikeRow, index map[string]int, i int, side Side, width decimal.Decimal) (int, bool) {
	if width.IsPositive() {
		target := strikes[i].Strike.Add(width)
		if side == Put {
			target = strikes[i].Strike.Sub(width)
		}
		j, ok := index[strikeKey(target)]
		return j, ok
	}
	if side == Call {
		return i + 1, i+1 < len(strikes)
	}
	return i - 1, i > 0
}

// outOfTheMoney reports whether a short strike sits at or beyond spot. It is
// true when the underlying price is unknown.
func outOfTheMoney(snap *ChainSnapshot, side Side, short StrikeRow) bool {
	price := snap.UnderlyingPrice
	if !price.Valid {
		return true
	}
	if side == Call {
		return !short.Strike.LessThan(price.Decimal)
	}
	return !short.Strike.GreaterThan(price.Decimal)
}

// buildSpread prices short against long. quoted is false when any leg lacks a
// bid or ask; the credits are then zero.
func buildSpread(snap *ChainSnapshot, side Side, short, long StrikeRow) (c CreditSpreadCandidate, quoted bool) {
	price := snap.UnderlyingPrice
	c = CreditSpreadCandidate{
		Side:        side,
		ShortStrike: short.Strike,
		LongStrike:  long.Strike,
	}
	if price.Valid {
		c.Distance = decimal.NewNullDecimal(short.Strike.Sub(price.Decimal).Abs())
	}
	if d := short.Delta(side); d.Valid {
		c.POPPct = decimal.NewNullDecimal(ProbabilityOfProfit(d.Decimal))
	}

	shortBid, shortAsk := short.Quote(side)
	longBid, longAsk := long.Quote(side)
	if !shortBid.Valid || !shortAsk.Valid || !longBid.Valid || !longAsk.Valid {
		return c, false
	}

	shortMid := shortBid.Decimal.Add(shortAsk.Decimal).Mul(half)
	longMid := longBid.Decimal.Add(longAsk.Decimal).Mul(half)
	c.MarkCredit = shortMid.Sub(longMid)
	c.BidCredit = shortBid.Decimal.Sub(longAsk.Decimal)
	c.AskCredit = shortAsk.Decimal.Sub(longBid.Decimal)
	return c, true
}

// ProbabilityOfProfit approximates the chance, in percent, that the short leg
// expires worthless: (1 - |delta|) * 100, rounded to two places.
func ProbabilityOfProfit(shortDelta decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(shortDelta.Abs()).Mul(hundred).Round(2)
}
