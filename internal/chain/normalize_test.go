package chain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "chainwatch/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() map[string]interface{} {
	return map[string]interface{}{
		"symbol":           "spx",
		"underlying_price": 6002.0,
		"expiration":       "2026-10-16",
		"quote_timestamp":  "2026-10-16T14:30:00Z",
		"chain_timestamp":  "2026-10-16T14:30:01Z",
		"strikes": []interface{}{
			map[string]interface{}{"strike": 6010.0, "call_vol": 300, "put_vol": 20, "call_bid": 3.1, "call_ask": 3.3},
			map[string]interface{}{"strike": 5990, "call_vol": 100.0, "put_oi": 12, "delta_put": -35},
			map[string]interface{}{"strike": "6000", "call_vol": json.Number("500"), "call_oi": 1500, "extra": "ignored"},
		},
	}
}

func TestNormalize_Valid(t *testing.T) {
	snap, err := Normalize(validPayload())
	require.NoError(t, err)

	assert.Equal(t, "SPX", snap.Symbol)
	assert.True(t, snap.UnderlyingPrice.Valid)
	assert.True(t, snap.UnderlyingPrice.Decimal.Equal(dec("6002")))
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), snap.Expiration)
	assert.Equal(t, time.Date(2026, 10, 16, 14, 30, 0, 0, time.UTC), snap.QuoteTimestamp)
	assert.Equal(t, time.Date(2026, 10, 16, 14, 30, 1, 0, time.UTC), snap.ChainTimestamp)

	require.Len(t, snap.Strikes, 3)
	assert.Equal(t, "5990", snap.Strikes[0].Strike.String())
	assert.Equal(t, "6000", snap.Strikes[1].Strike.String())
	assert.Equal(t, "6010", snap.Strikes[2].Strike.String())

	// missing volume defaults to zero, missing OI stays unknown
	assert.Equal(t, int64(0), snap.Strikes[0].PutVol)
	assert.Nil(t, snap.Strikes[0].CallOI)
	require.NotNil(t, snap.Strikes[0].PutOI)
	assert.Equal(t, int64(12), *snap.Strikes[0].PutOI)
	assert.Equal(t, int64(500), snap.Strikes[1].CallVol)

	// percent-scaled deltas are rescaled
	assert.True(t, snap.Strikes[0].DeltaPut.Decimal.Equal(dec("-0.35")))

	assert.True(t, snap.Strikes[2].CallBid.Decimal.Equal(dec("3.1")))
	assert.False(t, snap.Strikes[2].PutBid.Valid)
}

func TestNormalize_DeltaScaleIsPerSnapshot(t *testing.T) {
	payload := func(deltas ...interface{}) map[string]interface{} {
		strikes := make([]interface{}, 0, len(deltas))
		for i, d := range deltas {
			strikes = append(strikes, map[string]interface{}{"strike": 6000 + 10*i, "delta_call": d})
		}
		return map[string]interface{}{"symbol": "SPX", "expiration": "2026-10-16", "strikes": strikes}
	}

	// one delta above 1 puts the whole chain on the percent scale
	snap, err := Normalize(payload(45, 0.8, 0.5))
	require.NoError(t, err)
	require.Len(t, snap.Strikes, 3)
	assert.Equal(t, "0.45", snap.Strikes[0].DeltaCall.Decimal.String())
	assert.Equal(t, "0.008", snap.Strikes[1].DeltaCall.Decimal.String())
	assert.Equal(t, "0.005", snap.Strikes[2].DeltaCall.Decimal.String())
	assert.Equal(t, "99.2", ProbabilityOfProfit(snap.Strikes[1].DeltaCall.Decimal).String())

	snap, err = Normalize(payload(0.45, 0.08, -1))
	require.NoError(t, err)
	assert.Equal(t, "0.45", snap.Strikes[0].DeltaCall.Decimal.String())
	assert.Equal(t, "0.08", snap.Strikes[1].DeltaCall.Decimal.String())
	assert.Equal(t, "-1", snap.Strikes[2].DeltaCall.Decimal.String())
}

func TestNormalize_Aliases(t *testing.T) {
	raw := map[string]interface{}{
		"symbol":     "SPX",
		"spx_price":  "6001.25",
		"expiration": "2026-10-16",
		"timestamp":  "2026-10-16T14:30:00",
		"strikes":    []interface{}{},
		"expirations": map[string]interface{}{
			"dte0":   "2026-10-16",
			"friday": "2026-10-16",
		},
	}
	snap, err := Normalize(raw)
	require.NoError(t, err)
	assert.True(t, snap.UnderlyingPrice.Decimal.Equal(dec("6001.25")))
	assert.Equal(t, 14, snap.ChainTimestamp.Hour())
	assert.Empty(t, snap.Strikes)
	assert.Len(t, snap.Expirations, 2)
}

func TestNormalize_NullUnderlying(t *testing.T) {
	raw := validPayload()
	raw["underlying_price"] = nil
	snap, err := Normalize(raw)
	require.NoError(t, err)
	assert.False(t, snap.UnderlyingPrice.Valid)
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
		field  string
	}{
		{"missing symbol", func(m map[string]interface{}) { delete(m, "symbol") }, "symbol"},
		{"symbol wrong type", func(m map[string]interface{}) { m["symbol"] = 42 }, "symbol"},
		{"missing expiration", func(m map[string]interface{}) { delete(m, "expiration") }, "expiration"},
		{"bad expiration", func(m map[string]interface{}) { m["expiration"] = "16/10/2026" }, "expiration"},
		{"missing strikes", func(m map[string]interface{}) { delete(m, "strikes") }, "strikes"},
		{"strikes not a list", func(m map[string]interface{}) { m["strikes"] = "nope" }, "strikes"},
		{"negative price", func(m map[string]interface{}) { m["underlying_price"] = -1.0 }, "underlying_price"},
		{"bad timestamp", func(m map[string]interface{}) { m["chain_timestamp"] = "yesterday" }, "chain_timestamp"},
		{"row not object", func(m map[string]interface{}) {
			m["strikes"] = []interface{}{"6000"}
		}, "strikes[0]"},
		{"row missing strike", func(m map[string]interface{}) {
			m["strikes"] = []interface{}{map[string]interface{}{"call_vol": 1}}
		}, "strikes[0].strike"},
		{"negative volume", func(m map[string]interface{}) {
			m["strikes"] = []interface{}{map[string]interface{}{"strike": 6000, "put_vol": -3}}
		}, "strikes[0].put_vol"},
		{"fractional volume", func(m map[string]interface{}) {
			m["strikes"] = []interface{}{map[string]interface{}{"strike": 6000, "call_vol": 1.5}}
		}, "strikes[0].call_vol"},
		{"non-numeric bid", func(m map[string]interface{}) {
			m["strikes"] = []interface{}{map[string]interface{}{"strike": 6000, "call_bid": "abc"}}
		}, "strikes[0].call_bid"},
		{"negative ask", func(m map[string]interface{}) {
			m["strikes"] = []interface{}{map[string]interface{}{"strike": 6000, "put_ask": -0.1}}
		}, "strikes[0].put_ask"},
		{"delta out of range", func(m map[string]interface{}) {
			m["strikes"] = []interface{}{map[string]interface{}{"strike": 6000, "delta_call": 140}}
		}, "strikes[0].delta_call"},
		{"duplicate strike", func(m map[string]interface{}) {
			m["strikes"] = []interface{}{
				map[string]interface{}{"strike": 6000},
				map[string]interface{}{"strike": "6000.0"},
			}
		}, "strikes[1].strike"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validPayload()
			tt.mutate(raw)

			snap, err := Normalize(raw)
			require.Error(t, err)
			assert.Nil(t, snap)
			assert.True(t, errors.Is(err, apperrors.ErrMalformedSnapshot))

			var me *MalformedSnapshotError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tt.field, me.Field)
		})
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	raw := validPayload()
	before, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = Normalize(raw)
	require.NoError(t, err)

	after, err := json.Marshal(raw)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestNormalizeJSON_ExactDecimals(t *testing.T) {
	doc := []byte(`{
		"symbol": "SPX",
		"underlying_price": 6000.10,
		"expiration": "2026-10-16",
		"strikes": [{"strike": 6000, "call_bid": 0.30, "call_ask": 0.05}]
	}`)
	snap, err := NormalizeJSON(doc)
	require.NoError(t, err)
	require.Len(t, snap.Strikes, 1)
	assert.Equal(t, "0.25", snap.Strikes[0].CallBid.Decimal.Sub(snap.Strikes[0].CallAsk.Decimal).String())

	_, err = NormalizeJSON([]byte(`{not json`))
	assert.ErrorIs(t, err, apperrors.ErrMalformedSnapshot)
}

func TestChainSnapshot_MarshalJSON(t *testing.T) {
	snap, err := Normalize(validPayload())
	require.NoError(t, err)

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "2026-10-16", out["expiration"])
	assert.Equal(t, "SPX", out["symbol"])
	strikes := out["strikes"].([]interface{})
	assert.Len(t, strikes, 3)
	first := strikes[0].(map[string]interface{})
	assert.Nil(t, first["call_oi"])
	assert.Nil(t, first["call_bid"])

	// a normalized snapshot survives a round trip through its own JSON
	again, err := NormalizeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, len(snap.Strikes), len(again.Strikes))
}
