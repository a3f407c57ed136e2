package chain

import "github.com/shopspring/decimal"

// LocateATM returns the strike closest to price. Strikes must be sorted
// ascending; on a tie the lower strike wins. ok is false when price is
// unknown or there are no strikes.
func LocateATM(price decimal.NullDecimal, strikes []StrikeRow) (atm decimal.Decimal, ok bool) {
	i := atmIndex(price, strikes)
	if i < 0 {
		return decimal.Zero, false
	}
	return strikes[i].Strike, true
}

// ATM is LocateATM over the snapshot's own price and strikes.
func (s *ChainSnapshot) ATM() (decimal.Decimal, bool) {
	return LocateATM(s.UnderlyingPrice, s.Strikes)
}

func atmIndex(price decimal.NullDecimal, strikes []StrikeRow) int {
	if !price.Valid || len(strikes) == 0 {
		return -1
	}
	best := 0
	bestDist := strikes[0].Strike.Sub(price.Decimal).Abs()
	for i := 1; i < len(strikes); i++ {
		d := strikes[i].Strike.Sub(price.Decimal).Abs()
		if d.LessThan(bestDist) {
			best, bestDist = i, d
		}
	}
	return best
}
