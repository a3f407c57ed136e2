package publicapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Instrument identifies a tradable symbol.
type Instrument struct {
	Symbol string `json:"symbol"`
	Type   string `json:"type"`
}

type tokenRequest struct {
	ValidityInMinutes int    `json:"validityInMinutes"`
	Secret            string `json:"secret"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	Token       string `json:"token"`
}

// Account is one brokerage account of the authenticated user.
type Account struct {
	AccountID   string `json:"accountId"`
	AccountType string `json:"accountType"`
}

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
}

type quotesRequest struct {
	Instruments []Instrument `json:"instruments"`
}

// Quote is a market data quote. Prices arrive as decimal strings.
type Quote struct {
	Instrument   Instrument          `json:"instrument"`
	Outcome      string              `json:"outcome"`
	Last         decimal.NullDecimal `json:"last"`
	Bid          decimal.NullDecimal `json:"bid"`
	Ask          decimal.NullDecimal `json:"ask"`
	Volume       OptionalInt         `json:"volume"`
	OpenInterest OptionalInt         `json:"openInterest"`
}

type quotesResponse struct {
	Quotes []Quote `json:"quotes"`
}

type expirationsRequest struct {
	Instrument Instrument `json:"instrument"`
}

type expirationsResponse struct {
	BaseSymbol  string   `json:"baseSymbol"`
	Expirations []string `json:"expirations"`
}

type chainRequest struct {
	Instrument     Instrument `json:"instrument"`
	ExpirationDate string     `json:"expirationDate"`
}

// OptionChain holds the call and put quotes of one expiration.
type OptionChain struct {
	BaseSymbol string  `json:"baseSymbol"`
	Calls      []Quote `json:"calls"`
	Puts       []Quote `json:"puts"`
}

// Greeks of one option contract.
type Greeks struct {
	Delta             decimal.NullDecimal `json:"delta"`
	Gamma             decimal.NullDecimal `json:"gamma"`
	Theta             decimal.NullDecimal `json:"theta"`
	Vega              decimal.NullDecimal `json:"vega"`
	Rho               decimal.NullDecimal `json:"rho"`
	ImpliedVolatility decimal.NullDecimal `json:"impliedVolatility"`
}

type greeksEntry struct {
	Symbol string `json:"symbol"`
	Greeks Greeks `json:"greeks"`
}

type greeksResponse struct {
	Greeks []greeksEntry `json:"greeks"`
}

// OptionalInt decodes integers sent either as JSON numbers or as strings.
type OptionalInt struct {
	Value int64
	Valid bool
}

func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = OptionalInt{}
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	if s == "" {
		*o = OptionalInt{}
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*o = OptionalInt{Value: n, Valid: true}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("expected an integer, got %s", data)
	}
	*o = OptionalInt{Value: d.IntPart(), Valid: true}
	return nil
}

func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}
