package chain

import "github.com/shopspring/decimal"

// ExpectedMove is the ATM straddle price and the range it implies.
type ExpectedMove struct {
	Available bool                `json:"available"`
	ATMStrike decimal.NullDecimal `json:"atm_strike"`
	CallMid   decimal.NullDecimal `json:"call_mid"`
	PutMid    decimal.NullDecimal `json:"put_mid"`
	Move      decimal.NullDecimal `json:"move"`
	Low       decimal.NullDecimal `json:"low"`
	High      decimal.NullDecimal `json:"high"`
}

// ExpectedMoveAt prices the straddle at the given ATM strike. The result is
// unavailable when the strike, either mid, or the underlying price is missing.
func ExpectedMoveAt(snap *ChainSnapshot, atm decimal.Decimal) ExpectedMove {
	em := ExpectedMove{ATMStrike: decimal.NewNullDecimal(atm)}
	if snap == nil {
		return em
	}
	i := snap.StrikeIndex(atm)
	if i < 0 {
		return em
	}
	row := snap.Strikes[i]
	callMid, okCall := row.Mid(Call)
	putMid, okPut := row.Mid(Put)
	if okCall {
		em.CallMid = decimal.NewNullDecimal(callMid)
	}
	if okPut {
		em.PutMid = decimal.NewNullDecimal(putMid)
	}
	if !okCall || !okPut || !snap.UnderlyingPrice.Valid {
		return em
	}

	move := callMid.Add(putMid)
	p := snap.UnderlyingPrice.Decimal
	em.Available = true
	em.Move = decimal.NewNullDecimal(move)
	em.Low = decimal.NewNullDecimal(p.Sub(move))
	em.High = decimal.NewNullDecimal(p.Add(move))
	return em
}

// CalculateExpectedMove locates the ATM strike and prices its straddle.
func CalculateExpectedMove(snap *ChainSnapshot) ExpectedMove {
	atm, ok := snap.ATM()
	if !ok {
		return ExpectedMove{}
	}
	return ExpectedMoveAt(snap, atm)
}
