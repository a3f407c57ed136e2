// Package mock provides a synthetic option-chain source for demos and tests
package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"chainwatch/internal/chain"
	apperrors "chainwatch/pkg/errors"

	"github.com/shopspring/decimal"
)

// underlying is the simulated state of one symbol.
type underlying struct {
	price     float64
	increment float64
	volumes   map[string][2]int64 // strike key -> call, put
}

// MockChainSource implements core.IChainSource with a seeded random walk.
// Every fetch moves the price a little and adds volume, concentrated near the
// money, so hot strikes and rankings change between polls.
type MockChainSource struct {
	mu          sync.Mutex
	rng         *rand.Rand
	now         func() time.Time
	strikes     int // strikes each side of spot
	underlyings map[string]*underlying

	// Overrides
	payloads map[string]map[string]interface{}
	failWith error
	fetches  int
}

func NewMockChainSource(seed int64) *MockChainSource {
	return &MockChainSource{
		rng:         rand.New(rand.NewSource(seed)),
		now:         time.Now,
		strikes:     40,
		underlyings: make(map[string]*underlying),
		payloads:    make(map[string]map[string]interface{}),
	}
}

// SetClock replaces the wall clock used for timestamps and expirations.
func (m *MockChainSource) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetPrice starts symbol at price.
func (m *MockChainSource) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.underlyingLocked(strings.ToUpper(symbol)).price = price
}

// SetPayload makes every fetch of symbol and horizon return payload as is.
func (m *MockChainSource) SetPayload(symbol, horizon string, payload map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[strings.ToUpper(symbol)+":"+horizon] = payload
}

// SetError makes every fetch fail with err until cleared with nil.
func (m *MockChainSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Fetches returns the number of FetchSnapshotPayload calls.
func (m *MockChainSource) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

func (m *MockChainSource) underlyingLocked(symbol string) *underlying {
	u, ok := m.underlyings[symbol]
	if !ok {
		price := defaultPrice(symbol)
		u = &underlying{
			price:     price,
			increment: strikeIncrement(price),
			volumes:   make(map[string][2]int64),
		}
		m.underlyings[symbol] = u
	}
	return u
}

func (m *MockChainSource) FetchSnapshotPayload(ctx context.Context, symbol, horizon, instrumentType string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, apperrors.ErrInvalidSymbol
	}
	if !chain.IsHorizon(horizon) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownHorizon, horizon)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++

	if m.failWith != nil {
		return nil, m.failWith
	}
	if p, ok := m.payloads[symbol+":"+horizon]; ok {
		return p, nil
	}

	now := m.now().UTC()
	resolved := chain.ResolveHorizons(weekdaysFrom(now, 10), now)
	payload := m.generateLocked(symbol, now, resolved[horizon])

	exps := make(map[string]interface{}, len(resolved))
	for h, d := range resolved {
		exps[h] = d.Format(chain.DateLayout)
	}
	payload["expirations"] = exps
	return payload, nil
}

// FetchChainPayload simulates the chain of one explicit expiration.
func (m *MockChainSource) FetchChainPayload(ctx context.Context, symbol, instrumentType string, expiration time.Time) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, apperrors.ErrInvalidSymbol
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++

	if m.failWith != nil {
		return nil, m.failWith
	}
	now := m.now().UTC()
	if truncate(expiration).Before(truncate(now)) {
		return nil, fmt.Errorf("%w: %s expired", apperrors.ErrNoExpirations, expiration.Format(chain.DateLayout))
	}
	return m.generateLocked(symbol, now, truncate(expiration)), nil
}

// generateLocked advances the random walk of symbol and renders its chain.
func (m *MockChainSource) generateLocked(symbol string, now, expiration time.Time) map[string]interface{} {
	dte := expiration.Sub(truncate(now)).Hours()/24 + 0.25

	u := m.underlyingLocked(symbol)
	u.price *= 1 + m.rng.NormFloat64()*0.0005
	u.price = math.Round(u.price*100) / 100

	// annualized vol of 15% scaled to the time left
	sigma := u.price * 0.15 * math.Sqrt(dte/365)
	center := math.Round(u.price/u.increment) * u.increment

	strikes := make([]interface{}, 0, 2*m.strikes+1)
	for i := -m.strikes; i <= m.strikes; i++ {
		k := center + float64(i)*u.increment
		if k <= 0 {
			continue
		}
		key := decimal.NewFromFloat(k).String()
		vols := u.volumes[key]
		weight := math.Exp(-math.Pow((k-u.price)/(2*sigma), 2))
		vols[0] += int64(float64(m.rng.Intn(400)) * weight)
		vols[1] += int64(float64(m.rng.Intn(400)) * weight)
		u.volumes[key] = vols

		callMid, putMid, delta := price(u.price, k, sigma)
		row := map[string]interface{}{
			"strike":     decimal.NewFromFloat(k),
			"call_vol":   vols[0],
			"put_vol":    vols[1],
			"call_oi":    int64(5000 * weight),
			"put_oi":     int64(6000 * weight),
			"delta_call": round(delta, 4),
			"delta_put":  round(delta-1, 4),
		}
		addQuote(row, "call", callMid)
		addQuote(row, "put", putMid)
		strikes = append(strikes, row)
	}

	return map[string]interface{}{
		"symbol":           symbol,
		"underlying_price": decimal.NewFromFloat(u.price),
		"expiration":       expiration.Format(chain.DateLayout),
		"quote_timestamp":  now,
		"chain_timestamp":  now,
		"strikes":          strikes,
	}
}

func price(spot, strike, sigma float64) (callMid, putMid, delta float64) {
	d := (spot - strike) / sigma
	delta = 0.5 * (1 + math.Erf(d/math.Sqrt2))
	pdf := math.Exp(-d*d/2) / math.Sqrt(2*math.Pi)
	callMid = (spot-strike)*delta + sigma*pdf
	putMid = callMid - (spot - strike)
	return math.Max(callMid, 0.05), math.Max(putMid, 0.05), delta
}

// addQuote writes a bid/ask pair around mid on the 0.05 tick.
func addQuote(row map[string]interface{}, side string, mid float64) {
	half := math.Max(0.05, math.Round(mid*0.02*20)/20)
	bid := math.Max(0, math.Round((mid-half)*20)/20)
	ask := math.Round((mid+half)*20) / 20
	row[side+"_bid"] = decimal.NewFromFloat(bid)
	row[side+"_ask"] = decimal.NewFromFloat(ask)
}

func round(v float64, places int32) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(places)
}

func defaultPrice(symbol string) float64 {
	switch symbol {
	case "SPX", "SPXW":
		return 6000
	case "NDX":
		return 21000
	case "RUT":
		return 2300
	case "QQQ":
		return 510
	default:
		return 100
	}
}

func strikeIncrement(price float64) float64 {
	switch {
	case price >= 1000:
		return 5
	case price >= 100:
		return 1
	default:
		return 0.5
	}
}

func truncate(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// weekdaysFrom lists the next n weekday expirations starting today.
func weekdaysFrom(now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := truncate(now); len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			out = append(out, d)
		}
	}
	return out
}
