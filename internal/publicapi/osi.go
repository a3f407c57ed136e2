package publicapi

import (
	"fmt"
	"strings"
	"time"

	"chainwatch/internal/chain"

	"github.com/shopspring/decimal"
)

// OSI is a decoded OCC option symbol such as "SPXW261016C06000000".
type OSI struct {
	Root       string
	Expiration time.Time
	Side       chain.Side
	Strike     decimal.Decimal
}

// osiTail is yymmdd + C/P + strike*1000 zero-padded to eight digits.
const osiTail = 6 + 1 + 8

var strikeScale = decimal.NewFromInt(1000)

// ParseOSI decodes an OCC symbol. The root may be space padded to six
// characters as in the OCC standard.
func ParseOSI(symbol string) (OSI, error) {
	s := strings.TrimSpace(symbol)
	if len(s) <= osiTail {
		return OSI{}, fmt.Errorf("osi symbol %q too short", symbol)
	}
	tail := s[len(s)-osiTail:]
	root := strings.TrimSpace(s[:len(s)-osiTail])
	if root == "" {
		return OSI{}, fmt.Errorf("osi symbol %q has no root", symbol)
	}

	exp, err := time.Parse("060102", tail[:6])
	if err != nil {
		return OSI{}, fmt.Errorf("osi symbol %q: bad expiration: %w", symbol, err)
	}

	var side chain.Side
	switch tail[6] {
	case 'C', 'c':
		side = chain.Call
	case 'P', 'p':
		side = chain.Put
	default:
		return OSI{}, fmt.Errorf("osi symbol %q: expected C or P, got %q", symbol, tail[6])
	}

	digits := tail[7:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return OSI{}, fmt.Errorf("osi symbol %q: bad strike %q", symbol, digits)
		}
	}
	raw, err := decimal.NewFromString(digits)
	if err != nil {
		return OSI{}, fmt.Errorf("osi symbol %q: bad strike %q", symbol, digits)
	}

	return OSI{
		Root:       strings.ToUpper(root),
		Expiration: exp,
		Side:       side,
		Strike:     raw.Div(strikeScale),
	}, nil
}

// String renders the compact form without root padding.
func (o OSI) String() string {
	c := "C"
	if o.Side == chain.Put {
		c = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", o.Root, o.Expiration.Format("060102"), c, o.Strike.Mul(strikeScale).IntPart())
}
