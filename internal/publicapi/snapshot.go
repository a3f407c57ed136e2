package publicapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"chainwatch/internal/chain"
	apperrors "chainwatch/pkg/errors"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const dateLayout = chain.DateLayout

// MarketZone is where "today" is decided for horizon resolution.
var MarketZone = loadMarketZone()

func loadMarketZone() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

type contract struct {
	osi   string
	quote Quote
}

type mergedStrike struct {
	strike decimal.Decimal
	call   *contract
	put    *contract
}

// FetchSnapshotPayload fetches the chain for the expiration the horizon
// resolves to and returns it in the raw payload shape of chain.Normalize.
func (c *Client) FetchSnapshotPayload(ctx context.Context, symbol, horizon, instrumentType string) (map[string]interface{}, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, apperrors.ErrInvalidSymbol
	}
	if !chain.IsHorizon(horizon) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownHorizon, horizon)
	}

	var (
		price       decimal.NullDecimal
		expirations []time.Time
		quotedAt    time.Time
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := c.LastPrice(gctx, symbol, instrumentType)
		if err != nil {
			return err
		}
		price = p
		quotedAt = c.now().UTC()
		return nil
	})
	g.Go(func() error {
		e, err := c.Expirations(gctx, symbol, instrumentType)
		if err != nil {
			return err
		}
		expirations = e
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved := chain.ResolveHorizons(expirations, c.now().In(MarketZone))
	expiration, ok := resolved[horizon]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s expiration", apperrors.ErrNoExpirations, symbol, horizon)
	}

	exps := make(map[string]interface{}, len(resolved))
	for k, d := range resolved {
		exps[k] = d.Format(dateLayout)
	}

	payload, err := c.chainPayload(ctx, symbol, instrumentType, expiration, price, quotedAt)
	if err != nil {
		return nil, err
	}
	payload["expirations"] = exps
	return payload, nil
}

// FetchChainPayload fetches the chain of one explicit expiration. The payload
// carries no horizon map.
func (c *Client) FetchChainPayload(ctx context.Context, symbol, instrumentType string, expiration time.Time) (map[string]interface{}, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, apperrors.ErrInvalidSymbol
	}
	price, err := c.LastPrice(ctx, symbol, instrumentType)
	if err != nil {
		return nil, err
	}
	return c.chainPayload(ctx, symbol, instrumentType, expiration, price, c.now().UTC())
}

func (c *Client) chainPayload(ctx context.Context, symbol, instrumentType string, expiration time.Time, price decimal.NullDecimal, quotedAt time.Time) (map[string]interface{}, error) {
	oc, err := c.OptionChain(ctx, symbol, instrumentType, expiration)
	if err != nil {
		return nil, err
	}
	chainAt := c.now().UTC()

	rows := mergeByStrike(oc, expiration)

	var greeks map[string]Greeks
	if c.withGreeks {
		greeks, err = c.Greeks(ctx, contractSymbols(rows))
		if err != nil {
			// Greeks only feed spread probabilities; the chain is still useful.
			c.logger.Warn("Greeks unavailable", "symbol", symbol, "error", err)
			greeks = nil
		}
	}

	strikes := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		strikes = append(strikes, rowPayload(r, greeks))
	}

	payload := map[string]interface{}{
		"symbol":          symbol,
		"expiration":      expiration.Format(dateLayout),
		"quote_timestamp": quotedAt,
		"chain_timestamp": chainAt,
		"strikes":         strikes,
	}
	if price.Valid {
		payload["underlying_price"] = price.Decimal
	} else {
		payload["underlying_price"] = nil
	}
	return payload, nil
}

// mergeByStrike pairs calls and puts of the expiration by strike. Contracts
// whose symbol does not parse or belongs to another expiration are skipped.
// When two roots list the same strike (SPX and SPXW) the more active contract
// wins.
func mergeByStrike(oc *OptionChain, expiration time.Time) []*mergedStrike {
	byKey := make(map[string]*mergedStrike)
	add := func(quotes []Quote, side chain.Side) {
		for _, q := range quotes {
			osi, err := ParseOSI(q.Instrument.Symbol)
			if err != nil || !osi.Expiration.Equal(expiration) {
				continue
			}
			key := osi.Strike.String()
			m, ok := byKey[key]
			if !ok {
				m = &mergedStrike{strike: osi.Strike}
				byKey[key] = m
			}
			slot := &m.call
			if side == chain.Put {
				slot = &m.put
			}
			if *slot == nil || q.Volume.Value > (*slot).quote.Volume.Value {
				*slot = &contract{osi: q.Instrument.Symbol, quote: q}
			}
		}
	}
	add(oc.Calls, chain.Call)
	add(oc.Puts, chain.Put)

	rows := make([]*mergedStrike, 0, len(byKey))
	for _, m := range byKey {
		rows = append(rows, m)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].strike.LessThan(rows[j].strike) })
	return rows
}

func contractSymbols(rows []*mergedStrike) []string {
	out := make([]string, 0, 2*len(rows))
	for _, r := range rows {
		if r.call != nil {
			out = append(out, r.call.osi)
		}
		if r.put != nil {
			out = append(out, r.put.osi)
		}
	}
	return out
}

func rowPayload(r *mergedStrike, greeks map[string]Greeks) map[string]interface{} {
	row := map[string]interface{}{"strike": r.strike}
	side := func(prefix string, ct *contract) {
		if ct == nil {
			return
		}
		q := ct.quote
		if q.Volume.Valid {
			row[prefix+"_vol"] = q.Volume.Value
		}
		if q.OpenInterest.Valid {
			row[prefix+"_oi"] = q.OpenInterest.Value
		}
		if q.Bid.Valid {
			row[prefix+"_bid"] = q.Bid.Decimal
		}
		if q.Ask.Valid {
			row[prefix+"_ask"] = q.Ask.Decimal
		}
		if g, ok := greeks[ct.osi]; ok && g.Delta.Valid {
			row["delta_"+prefix] = g.Delta.Decimal
		}
	}
	side("call", r.call)
	side("put", r.put)
	return row
}
