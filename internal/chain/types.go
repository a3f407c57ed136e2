// Package chain turns raw options-chain snapshots into the derived view the
// dashboard renders: ATM strike, ranked volume and open-interest tiers,
// hot strikes, credit spreads and the expected move.
package chain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for expiration dates.
const DateLayout = "2006-01-02"

// Side selects the call or put half of a strike row.
type Side string

const (
	Call Side = "call"
	Put  Side = "put"
)

var half = decimal.NewFromFloat(0.5)

// StrikeRow is one strike of one expiration.
type StrikeRow struct {
	Strike decimal.Decimal `json:"strike"`

	CallVol int64  `json:"call_vol"`
	PutVol  int64  `json:"put_vol"`
	CallOI  *int64 `json:"call_oi"`
	PutOI   *int64 `json:"put_oi"`

	CallBid decimal.NullDecimal `json:"call_bid"`
	CallAsk decimal.NullDecimal `json:"call_ask"`
	PutBid  decimal.NullDecimal `json:"put_bid"`
	PutAsk  decimal.NullDecimal `json:"put_ask"`

	DeltaCall decimal.NullDecimal `json:"delta_call"`
	DeltaPut  decimal.NullDecimal `json:"delta_put"`
}

// Volume returns the session volume of one side.
func (r StrikeRow) Volume(side Side) int64 {
	if side == Put {
		return r.PutVol
	}
	return r.CallVol
}

// OpenInterest returns the open interest of one side, nil when unknown.
func (r StrikeRow) OpenInterest(side Side) *int64 {
	if side == Put {
		return r.PutOI
	}
	return r.CallOI
}

// Quote returns the bid and ask of one side.
func (r StrikeRow) Quote(side Side) (bid, ask decimal.NullDecimal) {
	if side == Put {
		return r.PutBid, r.PutAsk
	}
	return r.CallBid, r.CallAsk
}

// Delta returns the option delta of one side.
func (r StrikeRow) Delta(side Side) decimal.NullDecimal {
	if side == Put {
		return r.DeltaPut
	}
	return r.DeltaCall
}

// Mid returns (bid+ask)/2 for one side. ok is false if either quote is missing.
func (r StrikeRow) Mid(side Side) (mid decimal.Decimal, ok bool) {
	bid, ask := r.Quote(side)
	if !bid.Valid || !ask.Valid {
		return decimal.Zero, false
	}
	return bid.Decimal.Add(ask.Decimal).Mul(half), true
}

// ChainSnapshot is a normalized options chain for one symbol and expiration.
// Strikes are unique and sorted ascending.
type ChainSnapshot struct {
	Symbol          string
	UnderlyingPrice decimal.NullDecimal
	Expiration      time.Time
	QuoteTimestamp  time.Time
	ChainTimestamp  time.Time
	Strikes         []StrikeRow
	Expirations     map[string]time.Time
}

// StrikeIndex returns the position of strike in s.Strikes, or -1.
func (s *ChainSnapshot) StrikeIndex(strike decimal.Decimal) int {
	for i := range s.Strikes {
		if s.Strikes[i].Strike.Equal(strike) {
			return i
		}
	}
	return -1
}

type snapshotJSON struct {
	Symbol          string              `json:"symbol"`
	UnderlyingPrice decimal.NullDecimal `json:"underlying_price"`
	Expiration      string              `json:"expiration"`
	QuoteTimestamp  *time.Time          `json:"quote_timestamp,omitempty"`
	ChainTimestamp  *time.Time          `json:"chain_timestamp,omitempty"`
	Strikes         []StrikeRow         `json:"strikes"`
	Expirations     map[string]string   `json:"expirations,omitempty"`
}

// MarshalJSON renders dates as YYYY-MM-DD and omits unknown timestamps.
func (s *ChainSnapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		Symbol:          s.Symbol,
		UnderlyingPrice: s.UnderlyingPrice,
		Expiration:      s.Expiration.Format(DateLayout),
		Strikes:         s.Strikes,
	}
	if out.Strikes == nil {
		out.Strikes = []StrikeRow{}
	}
	if !s.QuoteTimestamp.IsZero() {
		ts := s.QuoteTimestamp
		out.QuoteTimestamp = &ts
	}
	if !s.ChainTimestamp.IsZero() {
		ts := s.ChainTimestamp
		out.ChainTimestamp = &ts
	}
	if len(s.Expirations) > 0 {
		out.Expirations = make(map[string]string, len(s.Expirations))
		for k, v := range s.Expirations {
			out.Expirations[k] = v.Format(DateLayout)
		}
	}
	return json.Marshal(out)
}

// strikeKey is the canonical map key for a strike ("6000", "6002.5").
func strikeKey(d decimal.Decimal) string {
	return d.String()
}
