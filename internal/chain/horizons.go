package chain

import (
	"sort"
	"time"
)

// Horizon keys understood by ResolveHorizons.
const (
	HorizonDTE0   = "dte0"
	HorizonDTE1   = "dte1"
	HorizonFriday = "friday"
)

// Horizons lists the supported horizon keys in display order.
var Horizons = []string{HorizonDTE0, HorizonDTE1, HorizonFriday}

// ResolveHorizons maps horizon keys to listed expirations. dte0 is today when
// listed, otherwise the nearest later expiration; dte1 is the expiration after
// dte0; friday is the first Friday expiration on or after today. Keys with no
// matching expiration are omitted. Past expirations are ignored.
func ResolveHorizons(expirations []time.Time, today time.Time) map[string]time.Time {
	day := truncateDay(today)

	upcoming := make([]time.Time, 0, len(expirations))
	for _, e := range expirations {
		d := truncateDay(e)
		if !d.Before(day) {
			upcoming = append(upcoming, d)
		}
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Before(upcoming[j]) })
	upcoming = dedupeDays(upcoming)

	out := make(map[string]time.Time, len(Horizons))
	if len(upcoming) == 0 {
		return out
	}
	out[HorizonDTE0] = upcoming[0]
	if len(upcoming) > 1 {
		out[HorizonDTE1] = upcoming[1]
	}
	for _, d := range upcoming {
		if d.Weekday() == time.Friday {
			out[HorizonFriday] = d
			break
		}
	}
	return out
}

// IsHorizon reports whether key is a known horizon.
func IsHorizon(key string) bool {
	for _, h := range Horizons {
		if h == key {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dedupeDays(sorted []time.Time) []time.Time {
	out := make([]time.Time, 0, len(sorted))
	for _, d := range sorted {
		if n := len(out); n > 0 && d.Equal(out[n-1]) {
			continue
		}
		out = append(out, d)
	}
	return out
}
