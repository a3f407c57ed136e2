package chain

// DefaultStrikeWindow is the number of strikes kept on each side of ATM.
const DefaultStrikeWindow = 15

// WindowAroundATM returns a copy of the snapshot holding at most n strikes on
// either side of the ATM strike. The snapshot is returned unchanged when n is
// not positive or the ATM strike cannot be located.
func WindowAroundATM(snap *ChainSnapshot, n int) *ChainSnapshot {
	if snap == nil || n <= 0 {
		return snap
	}
	i := atmIndex(snap.UnderlyingPrice, snap.Strikes)
	if i < 0 {
		return snap
	}
	lo := i - n
	if lo < 0 {
		lo = 0
	}
	hi := i + n + 1
	if hi > len(snap.Strikes) {
		hi = len(snap.Strikes)
	}

	out := *snap
	out.Strikes = append([]StrikeRow(nil), snap.Strikes[lo:hi]...)
	return &out
}
