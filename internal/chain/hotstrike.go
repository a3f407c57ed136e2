package chain

import (
	"fmt"
	"sort"
	"time"

	apperrors "chainwatch/pkg/errors"

	"github.com/shopspring/decimal"
)

// DefaultLookbacks are the selectable hot-strike windows, in minutes.
var DefaultLookbacks = []int{0, 1, 5, 10, 15}

// HotStrikeEntry is the volume traded at one strike over the lookback window.
type HotStrikeEntry struct {
	Strike         decimal.Decimal `json:"strike"`
	CurrentVol     int64           `json:"current_vol"`
	VolNMinutesAgo int64           `json:"vol_n_minutes_ago"`
	Delta          int64           `json:"delta"`
}

// HotStrikes is the output of one tracker evaluation.
type HotStrikes struct {
	LookbackMinutes int              `json:"lookback_minutes"`
	Calls           []HotStrikeEntry `json:"calls"`
	Puts            []HotStrikeEntry `json:"puts"`
}

// Tracker computes volume deltas against an injected history buffer.
type Tracker struct {
	history   *HistoryBuffer
	lookbacks []int
}

// NewTracker builds a tracker over history. With no lookbacks given,
// DefaultLookbacks are allowed.
func NewTracker(history *HistoryBuffer, lookbacks ...int) *Tracker {
	if len(lookbacks) == 0 {
		lookbacks = DefaultLookbacks
	}
	ls := append([]int(nil), lookbacks...)
	sort.Ints(ls)
	return &Tracker{history: history, lookbacks: ls}
}

func (t *Tracker) History() *HistoryBuffer {
	return t.history
}

func (t *Tracker) Lookbacks() []int {
	return append([]int(nil), t.lookbacks...)
}

func (t *Tracker) ValidLookback(minutes int) bool {
	for _, l := range t.lookbacks {
		if l == minutes {
			return true
		}
	}
	return false
}

// Evaluate compares the snapshot's volumes with the most recent sample taken
// at least lookbackMinutes before now. Strikes with no such sample are
// skipped. A zero lookback yields empty results. The buffer is not modified.
func (t *Tracker) Evaluate(now time.Time, snap *ChainSnapshot, lookbackMinutes int) (HotStrikes, error) {
	out := HotStrikes{
		LookbackMinutes: lookbackMinutes,
		Calls:           []HotStrikeEntry{},
		Puts:            []HotStrikeEntry{},
	}
	if !t.ValidLookback(lookbackMinutes) {
		return out, fmt.Errorf("%w: %d minutes (allowed %v)", apperrors.ErrInvalidLookback, lookbackMinutes, t.lookbacks)
	}
	if lookbackMinutes == 0 || snap == nil {
		return out, nil
	}

	past := t.history.notAfter(now.Add(-time.Duration(lookbackMinutes) * time.Minute))
	if len(past) == 0 {
		return out, nil
	}

	out.Calls = deltas(snap.Strikes, past, Call)
	out.Puts = deltas(snap.Strikes, past, Put)
	return out, nil
}

func deltas(strikes []StrikeRow, past []VolumeSample, side Side) []HotStrikeEntry {
	entries := make([]HotStrikeEntry, 0, len(strikes))
	for _, r := range strikes {
		key := strikeKey(r.Strike)
		for i := len(past) - 1; i >= 0; i-- {
			then, ok := past[i].volume(side, key)
			if !ok {
				continue
			}
			now := r.Volume(side)
			entries = append(entries, HotStrikeEntry{
				Strike:         r.Strike,
				CurrentVol:     now,
				VolNMinutesAgo: then,
				Delta:          now - then,
			})
			break
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		ai, aj := abs64(entries[i].Delta), abs64(entries[j].Delta)
		if ai != aj {
			return ai > aj
		}
		return entries[i].Strike.LessThan(entries[j].Strike)
	})
	return entries
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
