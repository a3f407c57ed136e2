package main

import (
	"bytes"
	"strings"
	"testing"

	"chainwatch/internal/chain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Call mids fall 3.00, 1.20, 0.40, 0.15, 0.05 above 6002; put mids mirror
// them below.
const ladderChain = `{
	"symbol": "SPX",
	"underlying_price": 6002,
	"expiration": "2026-10-16",
	"strikes": [
		{"strike": 5980, "put_bid": 0.00, "put_ask": 0.10},
		{"strike": 5985, "put_bid": 0.10, "put_ask": 0.20},
		{"strike": 5990, "put_bid": 0.35, "put_ask": 0.45, "delta_put": -0.08},
		{"strike": 5995, "put_bid": 1.10, "put_ask": 1.30, "delta_put": -0.22},
		{"strike": 6000, "put_bid": 2.90, "put_ask": 3.10, "delta_put": -0.45},
		{"strike": 6005, "call_bid": 2.90, "call_ask": 3.10, "delta_call": 0.41},
		{"strike": 6010, "call_bid": 1.10, "call_ask": 1.30},
		{"strike": 6015, "call_bid": 0.35, "call_ask": 0.45},
		{"strike": 6020, "call_bid": 0.10, "call_ask": 0.20},
		{"strike": 6025, "call_bid": 0.00, "call_ask": 0.10}
	]
}`

func ladderSnapshot(t *testing.T) *chain.ChainSnapshot {
	snap, err := chain.NormalizeJSON([]byte(ladderChain))
	require.NoError(t, err)
	return snap
}

func TestUntilBelow(t *testing.T) {
	snap := ladderSnapshot(t)
	calls := chain.Ladder(snap, chain.Call, decimal.Zero)
	require.Len(t, calls, 4)

	kept := untilBelow(calls, decimal.RequireFromString("0.20"))
	require.Len(t, kept, 3)
	assert.Equal(t, "6005", kept[0].ShortStrike.String())
	assert.Equal(t, "1.8", kept[0].MarkCredit.String())
	assert.Equal(t, "0.8", kept[1].MarkCredit.String())
	assert.Equal(t, "0.25", kept[2].MarkCredit.String())

	assert.Len(t, untilBelow(calls, decimal.RequireFromString("0.90")), 1)
	assert.Empty(t, untilBelow(calls, decimal.RequireFromString("5")))
}

func TestReport(t *testing.T) {
	var out bytes.Buffer
	report{out: &out, threshold: decimal.RequireFromString("0.20")}.write(ladderSnapshot(t))
	text := out.String()

	assert.Contains(t, text, "SPX credit spreads - until mark < $0.20 (expiration: 2026-10-16)")
	assert.Contains(t, text, "SPX now: $6,002.00")

	callSection := text[strings.Index(text, "CALL credit spreads"):strings.Index(text, "PUT credit spreads")]
	assert.Contains(t, callSection, "6005/6010")
	assert.Contains(t, callSection, "$1.60 - $2.00")
	assert.Contains(t, callSection, "59.0%")
	assert.Contains(t, callSection, "6015/6020")
	assert.NotContains(t, callSection, "6020/6025")

	putSection := text[strings.Index(text, "PUT credit spreads"):]
	assert.Contains(t, putSection, "6000/5995")
	assert.Contains(t, putSection, "55.0%")
	assert.Contains(t, putSection, "5990/5985")
	assert.NotContains(t, putSection, "5985/5980")
}

func TestReport_FixedWidth(t *testing.T) {
	var out bytes.Buffer
	report{out: &out, threshold: decimal.RequireFromString("0.20"), width: decimal.NewFromInt(10)}.write(ladderSnapshot(t))
	text := out.String()

	assert.Contains(t, text, "Width: 10 points")
	assert.Contains(t, text, "6005/6015")
	assert.Contains(t, text, "6000/5990")
}

func TestReport_NothingAboveThreshold(t *testing.T) {
	var out bytes.Buffer
	report{out: &out, threshold: decimal.NewFromInt(50)}.write(ladderSnapshot(t))
	assert.Contains(t, out.String(), "CALL credit spreads (short/low strike, long/high strike): none with mark >= $50.00")
}

func TestReport_UnquotedRungKeepsWalking(t *testing.T) {
	snap := ladderSnapshot(t)
	// 6015 loses its quote: 6010/6015 and 6015/6020 cannot be priced
	for i := range snap.Strikes {
		if snap.Strikes[i].Strike.Equal(decimal.NewFromInt(6015)) {
			snap.Strikes[i].CallBid = decimal.NullDecimal{}
		}
	}

	rungs := untilBelow(chain.Ladder(snap, chain.Call, decimal.Zero), decimal.RequireFromString("0.20"))
	// the walk passes both gaps and stops at 6020/6025 (mark 0.10)
	require.Len(t, rungs, 3)
	assert.True(t, rungs[0].Quoted)
	assert.False(t, rungs[1].Quoted)
	assert.False(t, rungs[2].Quoted)
	assert.Equal(t, "6015", rungs[2].ShortStrike.String())

	var out bytes.Buffer
	report{out: &out, threshold: decimal.RequireFromString("0.20")}.write(snap)
	callSection := out.String()[strings.Index(out.String(), "CALL credit spreads"):strings.Index(out.String(), "PUT credit spreads")]
	assert.Regexp(t, `6010/6015\s+--\s+--`, callSection)
	assert.Contains(t, callSection, "6015/6020")
	assert.NotContains(t, callSection, "6020/6025")
}
