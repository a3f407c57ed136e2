package chain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Selector picks the ranked quantity from a strike row.
type Selector int

const (
	CallVolume Selector = iota
	PutVolume
	CallOpenInterest
	PutOpenInterest
)

func (s Selector) String() string {
	switch s {
	case CallVolume:
		return "call_vol"
	case PutVolume:
		return "put_vol"
	case CallOpenInterest:
		return "call_oi"
	case PutOpenInterest:
		return "put_oi"
	default:
		return "unknown"
	}
}

// value returns the selected quantity; ok is false when open interest is unknown.
func (s Selector) value(r StrikeRow) (int64, bool) {
	switch s {
	case CallVolume:
		return r.CallVol, true
	case PutVolume:
		return r.PutVol, true
	case CallOpenInterest:
		if r.CallOI == nil {
			return 0, false
		}
		return *r.CallOI, true
	case PutOpenInterest:
		if r.PutOI == nil {
			return 0, false
		}
		return *r.PutOI, true
	default:
		return 0, false
	}
}

// RankOptions sizes the two highlight tiers.
type RankOptions struct {
	High int `json:"high"`
	Mid  int `json:"mid"`
}

func DefaultRankOptions() RankOptions {
	return RankOptions{High: 5, Mid: 5}
}

// RankedStrike is a strike and the value it was ranked by.
type RankedStrike struct {
	Strike decimal.Decimal `json:"strike"`
	Value  int64           `json:"value"`
}

// RankTiers holds the top High strikes and the Mid strikes that follow them.
// Both are ordered by value descending, ties broken by ascending strike.
type RankTiers struct {
	High []RankedStrike `json:"high"`
	Mid  []RankedStrike `json:"mid"`
}

// TierOf reports "high", "mid" or "" for a strike.
func (t RankTiers) TierOf(strike decimal.Decimal) string {
	for _, r := range t.High {
		if r.Strike.Equal(strike) {
			return "high"
		}
	}
	for _, r := range t.Mid {
		if r.Strike.Equal(strike) {
			return "mid"
		}
	}
	return ""
}

// Rank orders strikes by the selected value and splits the result into tiers.
// Strikes with no value for the selector are left out.
func Rank(strikes []StrikeRow, sel Selector, opts RankOptions) RankTiers {
	ranked := make([]RankedStrike, 0, len(strikes))
	for _, r := range strikes {
		v, ok := sel.value(r)
		if !ok {
			continue
		}
		ranked = append(ranked, RankedStrike{Strike: r.Strike, Value: v})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value > ranked[j].Value
		}
		return ranked[i].Strike.LessThan(ranked[j].Strike)
	})

	high := clamp(opts.High, 0, len(ranked))
	mid := clamp(opts.Mid, 0, len(ranked)-high)

	return RankTiers{
		High: append([]RankedStrike{}, ranked[:high]...),
		Mid:  append([]RankedStrike{}, ranked[high:high+mid]...),
	}
}

// RankSet is the four tier pairs the dashboard highlights.
type RankSet struct {
	CallVolume       RankTiers `json:"call_vol"`
	PutVolume        RankTiers `json:"put_vol"`
	CallOpenInterest RankTiers `json:"call_oi"`
	PutOpenInterest  RankTiers `json:"put_oi"`
}

func RankAll(strikes []StrikeRow, opts RankOptions) RankSet {
	return RankSet{
		CallVolume:       Rank(strikes, CallVolume, opts),
		PutVolume:        Rank(strikes, PutVolume, opts),
		CallOpenInterest: Rank(strikes, CallOpenInterest, opts),
		PutOpenInterest:  Rank(strikes, PutOpenInterest, opts),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
