package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"chainwatch/internal/chain"
	"chainwatch/pkg/cli"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueSource returns its payloads in order, whatever is asked.
type queueSource struct {
	payloads []map[string]interface{}
	byDate   []time.Time
}

func (q *queueSource) next() map[string]interface{} {
	p := q.payloads[0]
	q.payloads = q.payloads[1:]
	return p
}

func (q *queueSource) FetchSnapshotPayload(ctx context.Context, symbol, horizon, instrumentType string) (map[string]interface{}, error) {
	return q.next(), nil
}

func (q *queueSource) FetchChainPayload(ctx context.Context, symbol, instrumentType string, expiration time.Time) (map[string]interface{}, error) {
	q.byDate = append(q.byDate, expiration)
	return q.next(), nil
}

// 11:00 New York on Friday 2026-10-16
var friday = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

func chainWith(expiration string, callVols, putVols []int64) map[string]interface{} {
	strikes := make([]interface{}, 0, len(callVols))
	for i := range callVols {
		strikes = append(strikes, map[string]interface{}{
			"strike":   int64(5990 + 5*i),
			"call_vol": callVols[i],
			"put_vol":  putVols[i],
			"call_bid": "1.10",
			"call_ask": "1.30",
		})
	}
	return map[string]interface{}{
		"symbol":           "SPX",
		"underlying_price": "6000",
		"expiration":       expiration,
		"strikes":          strikes,
	}
}

func newApp(src cli.ChainSource, out *bytes.Buffer) *app {
	clock := friday
	return &app{
		src:     src,
		out:     out,
		palette: cli.Palette{},
		now:     func() time.Time { return clock },
		sleep: func(ctx context.Context, d time.Duration) error {
			clock = clock.Add(d)
			return nil
		},
	}
}

func TestVolumeLeaders(t *testing.T) {
	snap, err := chain.Normalize(chainWith("2026-10-16", []int64{10, 500, 70}, []int64{300, 20, 500}))
	require.NoError(t, err)

	got := volumeLeaders(snap, 4)
	require.Len(t, got, 4)
	// Ties break on the lower strike, then call before put
	assert.Equal(t, "5995", got[0].Strike.String())
	assert.Equal(t, chain.Call, got[0].Side)
	assert.Equal(t, "6000", got[1].Strike.String())
	assert.Equal(t, chain.Put, got[1].Side)
	assert.Equal(t, int64(300), got[2].Volume)
	assert.Equal(t, int64(70), got[3].Volume)
	assert.Equal(t, "1.1", got[0].Bid.Decimal.String())
}

func TestRun_TopVolumeNow(t *testing.T) {
	src := &queueSource{payloads: []map[string]interface{}{
		chainWith("2026-10-16", []int64{10, 1500, 70}, []int64{300, 20, 5}),
	}}
	var out bytes.Buffer

	err := newApp(src, &out).run(context.Background(), options{req: cli.Request{Symbol: "SPX", Horizon: chain.HorizonDTE0}, top: 2})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "SPX volume leaders (expiration: 2026-10-16) - top volume now")
	assert.NotContains(t, text, "Note:")
	lines := strings.Split(text, "\n")
	var rows []string
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "1 ") || strings.HasPrefix(strings.TrimSpace(l), "2 ") {
			rows = append(rows, l)
		}
	}
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0], "5995 call")
	assert.Contains(t, rows[0], "1,500")
	assert.Contains(t, rows[0], "$1.10")
	assert.Contains(t, rows[1], "5990 put")
	assert.Contains(t, rows[1], "--")
}

func TestRun_NearestExpirationNote(t *testing.T) {
	src := &queueSource{payloads: []map[string]interface{}{
		chainWith("2026-10-19", []int64{1}, []int64{1}),
	}}
	var out bytes.Buffer

	require.NoError(t, newApp(src, &out).run(context.Background(), options{req: cli.Request{Symbol: "SPX", Horizon: chain.HorizonDTE0}, top: 5}))
	assert.Contains(t, out.String(), "Note: Using nearest expiration (not same-day): 2026-10-19")
}

func TestRun_LastMinutes(t *testing.T) {
	src := &queueSource{payloads: []map[string]interface{}{
		chainWith("2026-10-16", []int64{100, 200, 300}, []int64{50, 50, 50}),
		chainWith("2026-10-16", []int64{110, 900, 300}, []int64{50, 450, 40}),
	}}
	var out bytes.Buffer

	err := newApp(src, &out).run(context.Background(), options{req: cli.Request{Symbol: "SPX", Horizon: chain.HorizonDTE0}, top: 3, lastMin: 5})
	require.NoError(t, err)

	// The second fetch pins the expiration of the first
	require.Len(t, src.byDate, 1)
	assert.Equal(t, "2026-10-16", src.byDate[0].Format(chain.DateLayout))

	text := out.String()
	assert.Contains(t, text, "Waiting 5 minute(s)...")
	assert.Contains(t, text, "top volume in last 5 minutes")
	first := text[strings.Index(text, "  1 "):]
	assert.Contains(t, first[:strings.Index(first, "\n")], "5995 call")
	assert.Contains(t, first[:strings.Index(first, "\n")], "700")
}

func TestDeltaLeaders_ClampsShrinkingVolume(t *testing.T) {
	snap, err := chain.Normalize(chainWith("2026-10-16", []int64{10}, []int64{10}))
	require.NoError(t, err)

	hot := chain.HotStrikes{
		LookbackMinutes: 5,
		Calls:           []chain.HotStrikeEntry{{Strike: snap.Strikes[0].Strike, CurrentVol: 10, VolNMinutesAgo: 40, Delta: -30}},
	}
	got := deltaLeaders(snap, hot, 10)
	require.Len(t, got, 1)
	assert.Equal(t, int64(0), got[0].Volume)
}

func TestRun_EmptyChain(t *testing.T) {
	src := &queueSource{payloads: []map[string]interface{}{
		{"symbol": "SPX", "expiration": "2026-10-16", "strikes": []interface{}{}},
	}}
	var out bytes.Buffer
	require.NoError(t, newApp(src, &out).run(context.Background(), options{req: cli.Request{Symbol: "SPX", Horizon: chain.HorizonDTE0}, top: 5}))
	assert.Equal(t, "No option data in chain.\n", out.String())
}
