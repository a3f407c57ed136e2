package main

import (
	"fmt"
	"io"

	"chainwatch/internal/chain"
	"chainwatch/pkg/cli"

	"github.com/shopspring/decimal"
)

// untilBelow keeps the leading rungs of a ladder up to the first quoted
// spread whose mark is below threshold. Unquoted rungs never stop the walk.
func untilBelow(ladder []chain.LadderRung, threshold decimal.Decimal) []chain.LadderRung {
	for i, c := range ladder {
		if c.Quoted && c.MarkCredit.LessThan(threshold) {
			return ladder[:i]
		}
	}
	return ladder
}

type report struct {
	out       io.Writer
	threshold decimal.Decimal
	width     decimal.Decimal
}

func (r report) write(snap *chain.ChainSnapshot) {
	const rule = 60
	fmt.Fprintln(r.out, cli.Rule("=", rule))
	fmt.Fprintf(r.out, "%s credit spreads - until mark < %s (expiration: %s)\n",
		snap.Symbol, cli.Money(r.threshold), snap.Expiration.Format(chain.DateLayout))
	fmt.Fprintf(r.out, "%s now: %s\n", snap.Symbol, cli.NullMoney(snap.UnderlyingPrice))
	if r.width.IsPositive() {
		fmt.Fprintf(r.out, "Width: %s points\n", r.width.String())
	}
	fmt.Fprintln(r.out, cli.Rule("=", rule))

	r.side(snap, chain.Call, "CALL credit spreads (short/low strike, long/high strike)")
	r.side(snap, chain.Put, "PUT credit spreads (short/high strike, long/low strike)")

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, cli.Rule("=", rule))
}

func (r report) side(snap *chain.ChainSnapshot, side chain.Side, title string) {
	fmt.Fprintln(r.out)
	spreads := untilBelow(chain.Ladder(snap, side, r.width), r.threshold)
	if len(spreads) == 0 {
		fmt.Fprintf(r.out, "%s: none with mark >= %s\n", title, cli.Money(r.threshold))
		return
	}

	fmt.Fprintln(r.out, title)
	fmt.Fprintf(r.out, "  %-14s %10s   %-22s %8s\n", "Spread", "Mark", "Range", "POP")
	fmt.Fprintf(r.out, "  %s %s   %s %s\n", cli.Rule("-", 14), cli.Rule("-", 10), cli.Rule("-", 22), cli.Rule("-", 8))
	for _, c := range spreads {
		label := c.ShortStrike.String() + "/" + c.LongStrike.String()
		mark, rng := "--", "--"
		if c.Quoted {
			mark = cli.Money(c.MarkCredit)
			rng = cli.Money(c.BidCredit) + " - " + cli.Money(c.AskCredit)
		}
		pop := "--"
		if c.POPPct.Valid {
			pop = c.POPPct.Decimal.StringFixed(1) + "%"
		}
		fmt.Fprintf(r.out, "  %-14s %10s   %-22s %8s\n", label, mark, rng, pop)
	}
}
