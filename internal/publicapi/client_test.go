package publicapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chainwatch/internal/chain"
	"chainwatch/internal/config"
	apperrors "chainwatch/pkg/errors"
	"chainwatch/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway serves a small SPX chain for 2026-10-16.
type fakeGateway struct {
	t           *testing.T
	tokens      int32
	rejectFirst int32 // reject this many data calls with 401
	greeksCalls int32
}

func (f *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		if req.Secret != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := atomic.AddInt32(&f.tokens, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": "tok-" + string(rune('0'+n))})
	})
	data := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-") {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if atomic.AddInt32(&f.rejectFirst, -1) >= 0 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc(accountsPath, data(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accounts":[{"accountId":"ACC123","accountType":"BROKERAGE"}]}`))
	}))
	mux.HandleFunc("/userapigateway/marketdata/ACC123/quotes", data(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quotes":[{"instrument":{"symbol":"SPX","type":"INDEX"},"outcome":"SUCCESS","last":"6002.10"}]}`))
	}))
	mux.HandleFunc("/userapigateway/marketdata/ACC123/option-expirations", data(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"baseSymbol":"SPX","expirations":["2026-10-16","2026-10-19","2026-10-23"]}`))
	}))
	mux.HandleFunc("/userapigateway/marketdata/ACC123/option-chain", data(func(w http.ResponseWriter, r *http.Request) {
		var req chainRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(f.t, "2026-10-16", req.ExpirationDate)
		_, _ = w.Write([]byte(`{"baseSymbol":"SPX",
			"calls":[
				{"instrument":{"symbol":"SPXW261016C05990000","type":"OPTION"},"bid":"13.10","ask":"13.50","volume":1200,"openInterest":"800"},
				{"instrument":{"symbol":"SPXW261016C06000000","type":"OPTION"},"bid":"7.80","ask":"8.20","volume":3400,"openInterest":2100},
				{"instrument":{"symbol":"SPX   261016C06000000","type":"OPTION"},"bid":"7.70","ask":"8.30","volume":12},
				{"instrument":{"symbol":"SPXW261019C06000000","type":"OPTION"},"bid":"20","ask":"21","volume":99},
				{"instrument":{"symbol":"garbage","type":"OPTION"},"volume":1}
			],
			"puts":[
				{"instrument":{"symbol":"SPXW261016P05990000","type":"OPTION"},"bid":"5.90","ask":"6.30","volume":2500,"openInterest":null},
				{"instrument":{"symbol":"SPXW261016P06000000","type":"OPTION"},"bid":"7.60","ask":"8.00","volume":"4100"}
			]}`))
	}))
	mux.HandleFunc("/userapigateway/option-details/ACC123/greeks", data(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.greeksCalls, 1)
		syms := strings.Split(r.URL.Query().Get("osiSymbols"), ",")
		out := greeksResponse{}
		for _, s := range syms {
			delta := "0.50"
			if strings.Contains(s, "P0") {
				delta = "-0.45"
			}
			var g Greeks
			require.NoError(f.t, json.Unmarshal([]byte(`{"delta":"`+delta+`"}`), &g))
			out.Greeks = append(out.Greeks, greeksEntry{Symbol: s, Greeks: g})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	return mux
}

func newTestClient(t *testing.T, gw *fakeGateway, withGreeks bool) *Client {
	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(config.PublicConfig{
		Secret:               "s3cret",
		BaseURL:              srv.URL,
		TokenValidityMinutes: 30,
		RequestTimeoutSecs:   5,
		WithGreeks:           withGreeks,
	}, logging.NopLogger{})
	require.NoError(t, err)

	// 15:00 New York on an expiration day
	c.now = func() time.Time { return time.Date(2026, 10, 16, 19, 0, 0, 0, time.UTC) }
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(config.PublicConfig{BaseURL: "https://api.public.com"}, logging.NopLogger{})
	assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)

	_, err = NewClient(config.PublicConfig{Secret: "x", BaseURL: "http://example.com"}, logging.NopLogger{})
	assert.Error(t, err)
}

func TestClient_TokenIsCached(t *testing.T) {
	gw := &fakeGateway{t: t}
	c := newTestClient(t, gw, false)

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	_, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.tokens))

	// Within the refresh skew a new token is exchanged
	base := c.now()
	c.now = func() time.Time { return base.Add(29*time.Minute + 30*time.Second) }
	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestClient_BadSecret(t *testing.T) {
	gw := &fakeGateway{t: t}
	c := newTestClient(t, gw, false)
	c.secret = "wrong"

	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
}

func TestClient_AccountDiscovery(t *testing.T) {
	gw := &fakeGateway{t: t}
	c := newTestClient(t, gw, false)

	id, err := c.AccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ACC123", id)
}

func TestClient_RefreshesRejectedToken(t *testing.T) {
	gw := &fakeGateway{t: t, rejectFirst: 1}
	c := newTestClient(t, gw, false)

	price, err := c.LastPrice(context.Background(), "SPX", "INDEX")
	require.NoError(t, err)
	assert.True(t, price.Valid)
	assert.Equal(t, "6002.1", price.Decimal.String())
	assert.Equal(t, int32(2), atomic.LoadInt32(&gw.tokens))
}

func TestClient_FetchSnapshotPayload(t *testing.T) {
	gw := &fakeGateway{t: t}
	c := newTestClient(t, gw, true)

	payload, err := c.FetchSnapshotPayload(context.Background(), "spx", chain.HorizonDTE0, "INDEX")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.greeksCalls))

	snap, err := chain.Normalize(payload)
	require.NoError(t, err)

	assert.Equal(t, "SPX", snap.Symbol)
	assert.Equal(t, "2026-10-16", snap.Expiration.Format(chain.DateLayout))
	assert.Equal(t, "6002.1", snap.UnderlyingPrice.Decimal.String())
	assert.Equal(t, "2026-10-19", snap.Expirations[chain.HorizonDTE1].Format(chain.DateLayout))
	assert.Equal(t, "2026-10-16", snap.Expirations[chain.HorizonFriday].Format(chain.DateLayout))
	require.Len(t, snap.Strikes, 2)

	low, high := snap.Strikes[0], snap.Strikes[1]
	assert.Equal(t, "5990", low.Strike.String())
	assert.Equal(t, int64(1200), low.CallVol)
	require.NotNil(t, low.CallOI)
	assert.Equal(t, int64(800), *low.CallOI)
	assert.Nil(t, low.PutOI)
	assert.Equal(t, "-0.45", low.DeltaPut.Decimal.String())

	// SPXW wins over the thinly traded SPX root at the same strike
	assert.Equal(t, int64(3400), high.CallVol)
	assert.Equal(t, "7.8", high.CallBid.Decimal.String())
	assert.Equal(t, int64(4100), high.PutVol)
	assert.Equal(t, "0.5", high.DeltaCall.Decimal.String())
}

func TestClient_FetchSnapshotPayload_Errors(t *testing.T) {
	gw := &fakeGateway{t: t}
	c := newTestClient(t, gw, false)

	_, err := c.FetchSnapshotPayload(context.Background(), " ", chain.HorizonDTE0, "INDEX")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSymbol)

	_, err = c.FetchSnapshotPayload(context.Background(), "SPX", "weekly", "INDEX")
	assert.ErrorIs(t, err, apperrors.ErrUnknownHorizon)

	// After the last listed expiration nothing resolves
	c.now = func() time.Time { return time.Date(2026, 11, 2, 15, 0, 0, 0, time.UTC) }
	_, err = c.FetchSnapshotPayload(context.Background(), "SPX", chain.HorizonDTE0, "INDEX")
	assert.ErrorIs(t, err, apperrors.ErrNoExpirations)
}

func TestOptionalInt(t *testing.T) {
	var v struct {
		A OptionalInt `json:"a"`
		B OptionalInt `json:"b"`
		C OptionalInt `json:"c"`
		D OptionalInt `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":12,"b":"34","c":null}`), &v))
	assert.Equal(t, OptionalInt{Value: 12, Valid: true}, v.A)
	assert.Equal(t, OptionalInt{Value: 34, Valid: true}, v.B)
	assert.False(t, v.C.Valid)
	assert.False(t, v.D.Valid)

	assert.Error(t, json.Unmarshal([]byte(`{"a":"many"}`), &v))
}

func TestClient_FetchChainPayload(t *testing.T) {
	gw := &fakeGateway{t: t}
	c := newTestClient(t, gw, false)

	payload, err := c.FetchChainPayload(context.Background(), "SPX", "INDEX", time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.NotContains(t, payload, "expirations")

	snap, err := chain.Normalize(payload)
	require.NoError(t, err)
	assert.Len(t, snap.Strikes, 2)
	assert.False(t, snap.Strikes[0].DeltaCall.Valid)
}
