package chain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Options carries every tunable of one aggregation pass.
type Options struct {
	Rank            RankOptions   `json:"rank"`
	LookbackMinutes int           `json:"lookback_minutes"`
	Spreads         SpreadOptions `json:"spreads"`
}

func DefaultOptions() Options {
	return Options{
		Rank:            DefaultRankOptions(),
		LookbackMinutes: 5,
		Spreads:         DefaultSpreadOptions(),
	}
}

// ViewModel is everything the dashboard renders for one snapshot.
type ViewModel struct {
	Snapshot     *ChainSnapshot      `json:"snapshot"`
	ATMStrike    decimal.NullDecimal `json:"atm_strike"`
	Rankings     RankSet             `json:"rankings"`
	HotStrikes   HotStrikes          `json:"hot_strikes"`
	Spreads      SpreadScan          `json:"spreads"`
	ExpectedMove ExpectedMove        `json:"expected_move"`
	Options      Options             `json:"options"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

// Aggregate runs every derivation over one snapshot. tracker may be nil, in
// which case hot strikes are empty. A nil snapshot renders as an empty
// chain. The only error is an invalid lookback. Aggregate never records into
// the tracker's history.
func Aggregate(snap *ChainSnapshot, tracker *Tracker, now time.Time, opts Options) (*ViewModel, error) {
	if snap == nil {
		snap = &ChainSnapshot{}
	}
	vm := &ViewModel{
		Snapshot:     snap,
		Rankings:     RankAll(snap.Strikes, opts.Rank),
		Spreads:      ScanSpreads(snap, opts.Spreads),
		Options:      opts,
		GeneratedAt:  now,
		ExpectedMove: ExpectedMove{},
		HotStrikes: HotStrikes{
			LookbackMinutes: opts.LookbackMinutes,
			Calls:           []HotStrikeEntry{},
			Puts:            []HotStrikeEntry{},
		},
	}

	if atm, ok := snap.ATM(); ok {
		vm.ATMStrike = decimal.NewNullDecimal(atm)
		vm.ExpectedMove = ExpectedMoveAt(snap, atm)
	}

	if tracker != nil {
		hot, err := tracker.Evaluate(now, snap, opts.LookbackMinutes)
		if err != nil {
			return nil, err
		}
		vm.HotStrikes = hot
	}

	return vm, nil
}
