package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"chainwatch/internal/chain"
	"chainwatch/internal/publicapi"
	"chainwatch/pkg/cli"

	"github.com/shopspring/decimal"
)

// leader is one contract of the table.
type leader struct {
	Strike decimal.Decimal
	Side   chain.Side
	Volume int64
	Bid    decimal.NullDecimal
	Ask    decimal.NullDecimal
}

// volumeLeaders ranks every contract by session volume.
func volumeLeaders(snap *chain.ChainSnapshot, top int) []leader {
	out := make([]leader, 0, 2*len(snap.Strikes))
	for _, r := range snap.Strikes {
		for _, side := range []chain.Side{chain.Call, chain.Put} {
			bid, ask := r.Quote(side)
			out = append(out, leader{Strike: r.Strike, Side: side, Volume: r.Volume(side), Bid: bid, Ask: ask})
		}
	}
	return topN(out, top)
}

// deltaLeaders ranks contracts by the volume traded over the lookback.
// Shrinking volume, seen when a feed resets, counts as zero.
func deltaLeaders(snap *chain.ChainSnapshot, hot chain.HotStrikes, top int) []leader {
	out := make([]leader, 0, len(hot.Calls)+len(hot.Puts))
	add := func(entries []chain.HotStrikeEntry, side chain.Side) {
		for _, e := range entries {
			l := leader{Strike: e.Strike, Side: side, Volume: e.Delta}
			if l.Volume < 0 {
				l.Volume = 0
			}
			if i := snap.StrikeIndex(e.Strike); i >= 0 {
				l.Bid, l.Ask = snap.Strikes[i].Quote(side)
			}
			out = append(out, l)
		}
	}
	add(hot.Calls, chain.Call)
	add(hot.Puts, chain.Put)
	return topN(out, top)
}

func topN(ls []leader, n int) []leader {
	sort.SliceStable(ls, func(i, j int) bool {
		if ls[i].Volume != ls[j].Volume {
			return ls[i].Volume > ls[j].Volume
		}
		if !ls[i].Strike.Equal(ls[j].Strike) {
			return ls[i].Strike.LessThan(ls[j].Strike)
		}
		return ls[i].Side == chain.Call && ls[j].Side == chain.Put
	})
	if n >= 0 && len(ls) > n {
		ls = ls[:n]
	}
	return ls
}

// app runs one invocation of the tool.
type app struct {
	src     cli.ChainSource
	out     io.Writer
	palette cli.Palette
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

type options struct {
	req     cli.Request
	top     int
	lastMin int
}

func (a *app) run(ctx context.Context, opts options) error {
	first, err := cli.FetchSnapshot(ctx, a.src, opts.req)
	if err != nil {
		return err
	}
	if len(first.Strikes) == 0 {
		fmt.Fprintln(a.out, "No option data in chain.")
		return nil
	}

	if opts.lastMin <= 0 {
		a.note(first)
		a.print(first, "top volume now", "Volume", volumeLeaders(first, opts.top))
		return nil
	}

	lookback := time.Duration(opts.lastMin) * time.Minute
	history := chain.NewHistoryBuffer(chain.HistoryOptions{Retention: 2*lookback + time.Minute, MaxSamples: 4})
	tracker := chain.NewTracker(history, opts.lastMin)
	history.Record(chain.SampleFromSnapshot(first, a.now()))

	// Later fetches must hit the same expiration even across midnight.
	req := opts.req
	req.Expiration = first.Expiration

	fmt.Fprintf(a.out, "Waiting %d minute(s)...\n", opts.lastMin)
	if err := a.sleep(ctx, lookback); err != nil {
		return err
	}

	second, err := cli.FetchSnapshot(ctx, a.src, req)
	if err != nil {
		return err
	}
	hot, err := tracker.Evaluate(a.now(), second, opts.lastMin)
	if err != nil {
		return err
	}
	a.note(second)
	a.print(second, fmt.Sprintf("top volume in last %d minutes", opts.lastMin), "Delta", deltaLeaders(second, hot, opts.top))
	return nil
}

func (a *app) note(snap *chain.ChainSnapshot) {
	today := a.now().In(publicapi.MarketZone).Format(chain.DateLayout)
	if exp := snap.Expiration.Format(chain.DateLayout); exp != today {
		fmt.Fprintf(a.out, "Note: Using nearest expiration (not same-day): %s\n\n", exp)
	}
}

func (a *app) print(snap *chain.ChainSnapshot, title, column string, leaders []leader) {
	const width = 70
	fmt.Fprintln(a.out, cli.Rule("=", width))
	fmt.Fprintf(a.out, "%s volume leaders (expiration: %s) - %s\n", snap.Symbol, snap.Expiration.Format(chain.DateLayout), title)
	fmt.Fprintln(a.out, cli.Rule("=", width))
	fmt.Fprintf(a.out, "  %-6s %-18s %10s   %10s   %10s\n", "Rank", "Strike side", column, "Bid", "Ask")
	fmt.Fprintf(a.out, "  %s %s %s   %s   %s\n", cli.Rule("-", 6), cli.Rule("-", 18), cli.Rule("-", 10), cli.Rule("-", 10), cli.Rule("-", 10))
	for i, l := range leaders {
		strikeSide := cli.PadRight(l.Strike.String()+" "+a.palette.Side(l.Side), 18)
		fmt.Fprintf(a.out, "  %-6d %s %10s   %10s   %10s\n", i+1, strikeSide, cli.Thousands(l.Volume), cli.NullMoney(l.Bid), cli.NullMoney(l.Ask))
	}
	fmt.Fprintln(a.out, cli.Rule("=", width))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
