package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "chainwatch/pkg/errors"

	"github.com/shopspring/decimal"
)

// MalformedSnapshotError reports the first field of a raw payload that could
// not be normalized.
type MalformedSnapshotError struct {
	Field  string
	Reason string
}

func (e *MalformedSnapshotError) Error() string {
	return fmt.Sprintf("malformed snapshot: %s: %s", e.Field, e.Reason)
}

func (e *MalformedSnapshotError) Unwrap() error {
	return apperrors.ErrMalformedSnapshot
}

func malformed(field, format string, args ...interface{}) error {
	return &MalformedSnapshotError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Normalize validates a raw chain payload and converts it into a typed
// snapshot. Unknown keys are ignored. The input map is not modified.
func Normalize(raw map[string]interface{}) (*ChainSnapshot, error) {
	if raw == nil {
		return nil, malformed("snapshot", "payload is empty")
	}

	snap := &ChainSnapshot{}

	symbol, ok := raw["symbol"]
	if !ok || symbol == nil {
		return nil, malformed("symbol", "required")
	}
	s, ok := symbol.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, malformed("symbol", "must be a non-empty string")
	}
	snap.Symbol = strings.ToUpper(strings.TrimSpace(s))

	exp, ok := raw["expiration"]
	if !ok || exp == nil {
		return nil, malformed("expiration", "required")
	}
	expiration, err := parseDate(exp)
	if err != nil {
		return nil, malformed("expiration", "%v", err)
	}
	snap.Expiration = expiration

	priceKey, price := firstPresent(raw, "underlying_price", "spx_price")
	snap.UnderlyingPrice, err = optionalDecimal(price)
	if err != nil {
		return nil, malformed(priceKey, "%v", err)
	}
	if snap.UnderlyingPrice.Valid && !snap.UnderlyingPrice.Decimal.IsPositive() {
		return nil, malformed(priceKey, "must be positive")
	}

	if v, ok := raw["quote_timestamp"]; ok && v != nil {
		if snap.QuoteTimestamp, err = parseTimestamp(v); err != nil {
			return nil, malformed("quote_timestamp", "%v", err)
		}
	}
	tsKey, ts := firstPresent(raw, "chain_timestamp", "timestamp")
	if ts != nil {
		if snap.ChainTimestamp, err = parseTimestamp(ts); err != nil {
			return nil, malformed(tsKey, "%v", err)
		}
	}

	if v, ok := raw["expirations"]; ok && v != nil {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, malformed("expirations", "must be an object of horizon to date")
		}
		snap.Expirations = make(map[string]time.Time, len(m))
		for horizon, d := range m {
			date, err := parseDate(d)
			if err != nil {
				return nil, malformed("expirations."+horizon, "%v", err)
			}
			snap.Expirations[horizon] = date
		}
	}

	rawStrikes, ok := raw["strikes"]
	if !ok || rawStrikes == nil {
		return nil, malformed("strikes", "required")
	}
	list, ok := rawStrikes.([]interface{})
	if !ok {
		return nil, malformed("strikes", "must be a list")
	}

	seen := make(map[string]struct{}, len(list))
	snap.Strikes = make([]StrikeRow, 0, len(list))
	for i, item := range list {
		path := fmt.Sprintf("strikes[%d]", i)
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, malformed(path, "must be an object")
		}
		row, err := normalizeRow(path, obj)
		if err != nil {
			return nil, err
		}
		key := strikeKey(row.Strike)
		if _, dup := seen[key]; dup {
			return nil, malformed(path+".strike", "duplicate strike %s", key)
		}
		seen[key] = struct{}{}
		snap.Strikes = append(snap.Strikes, row)
	}

	rescaleDeltas(snap.Strikes)

	sort.SliceStable(snap.Strikes, func(i, j int) bool {
		return snap.Strikes[i].Strike.LessThan(snap.Strikes[j].Strike)
	})

	return snap, nil
}

// NormalizeJSON decodes a JSON document and normalizes it. Numbers are kept as
// json.Number so prices convert to decimals without float rounding.
func NormalizeJSON(data []byte) (*ChainSnapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, malformed("snapshot", "invalid JSON: %v", err)
	}
	return Normalize(raw)
}

func normalizeRow(path string, obj map[string]interface{}) (StrikeRow, error) {
	var row StrikeRow

	v, ok := obj["strike"]
	if !ok || v == nil {
		return row, malformed(path+".strike", "required")
	}
	strike, err := toDecimal(v)
	if err != nil {
		return row, malformed(path+".strike", "%v", err)
	}
	if !strike.IsPositive() {
		return row, malformed(path+".strike", "must be positive")
	}
	row.Strike = strike

	if row.CallVol, err = volumeField(path, obj, "call_vol"); err != nil {
		return row, err
	}
	if row.PutVol, err = volumeField(path, obj, "put_vol"); err != nil {
		return row, err
	}
	if row.CallOI, err = openInterestField(path, obj, "call_oi"); err != nil {
		return row, err
	}
	if row.PutOI, err = openInterestField(path, obj, "put_oi"); err != nil {
		return row, err
	}

	quotes := []struct {
		key string
		dst *decimal.NullDecimal
	}{
		{"call_bid", &row.CallBid},
		{"call_ask", &row.CallAsk},
		{"put_bid", &row.PutBid},
		{"put_ask", &row.PutAsk},
	}
	for _, q := range quotes {
		nd, err := optionalDecimal(obj[q.key])
		if err != nil {
			return row, malformed(path+"."+q.key, "%v", err)
		}
		if nd.Valid && nd.Decimal.IsNegative() {
			return row, malformed(path+"."+q.key, "must not be negative")
		}
		*q.dst = nd
	}

	if row.DeltaCall, err = deltaField(path, obj, "delta_call"); err != nil {
		return row, err
	}
	if row.DeltaPut, err = deltaField(path, obj, "delta_put"); err != nil {
		return row, err
	}

	return row, nil
}

func volumeField(path string, obj map[string]interface{}, key string) (int64, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return 0, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, malformed(path+"."+key, "%v", err)
	}
	if n < 0 {
		return 0, malformed(path+"."+key, "must not be negative")
	}
	return n, nil
}

func openInterestField(path string, obj map[string]interface{}, key string) (*int64, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, malformed(path+"."+key, "%v", err)
	}
	if n < 0 {
		return nil, malformed(path+"."+key, "must not be negative")
	}
	return &n, nil
}

var (
	unitDelta = decimal.NewFromInt(1)
	hundred   = decimal.NewFromInt(100)
)

// deltaField accepts deltas in [-100,100]. The scale is settled per snapshot
// by rescaleDeltas.
func deltaField(path string, obj map[string]interface{}, key string) (decimal.NullDecimal, error) {
	nd, err := optionalDecimal(obj[key])
	if err != nil {
		return nd, malformed(path+"."+key, "%v", err)
	}
	if nd.Valid && nd.Decimal.Abs().GreaterThan(hundred) {
		return nd, malformed(path+"."+key, "out of range: %s", nd.Decimal)
	}
	return nd, nil
}

// rescaleDeltas treats the whole chain as percent scaled when any delta lies
// outside [-1,1]. Far OTM deltas such as 0.8 then read as 0.008, not 0.8.
func rescaleDeltas(rows []StrikeRow) {
	percent := false
	for _, r := range rows {
		for _, d := range []decimal.NullDecimal{r.DeltaCall, r.DeltaPut} {
			if d.Valid && d.Decimal.Abs().GreaterThan(unitDelta) {
				percent = true
			}
		}
	}
	if !percent {
		return
	}
	for i := range rows {
		for _, d := range []*decimal.NullDecimal{&rows[i].DeltaCall, &rows[i].DeltaPut} {
			if d.Valid {
				d.Decimal = d.Decimal.Div(hundred)
			}
		}
	}
}

func firstPresent(raw map[string]interface{}, keys ...string) (string, interface{}) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return k, v
		}
	}
	return keys[0], nil
}

func optionalDecimal(v interface{}) (decimal.NullDecimal, error) {
	if v == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, fmt.Errorf("not a finite number")
		}
		return decimal.NewFromFloat(x), nil
	case float32:
		return toDecimal(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %q", x)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("expected a number, got %T", v)
	}
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("expected an integer, got %s", d)
	}
	return d.IntPart(), nil
}

func parseDate(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		y, m, d := x.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case string:
		s := strings.TrimSpace(x)
		if len(s) > len(DateLayout) {
			s = s[:len(DateLayout)]
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", x)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("expected a date string, got %T", v)
	}
}

func parseTimestamp(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(n), nil
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", x)
	default:
		d, err := toDecimal(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("expected a timestamp, got %T", v)
		}
		return fromEpoch(d.InexactFloat64()), nil
	}
}

// fromEpoch accepts seconds or milliseconds since the epoch.
func fromEpoch(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
