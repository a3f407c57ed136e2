package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestResolveHorizons(t *testing.T) {
	tests := []struct {
		name  string
		exps  []string
		today string
		want  map[string]string
	}{
		{
			name:  "today listed",
			exps:  []string{"2026-10-19", "2026-10-14", "2026-10-16", "2026-10-15"},
			today: "2026-10-14",
			want:  map[string]string{"dte0": "2026-10-14", "dte1": "2026-10-15", "friday": "2026-10-16"},
		},
		{
			name:  "today not listed",
			exps:  []string{"2026-10-12", "2026-10-14", "2026-10-16"},
			today: "2026-10-13",
			want:  map[string]string{"dte0": "2026-10-14", "dte1": "2026-10-16", "friday": "2026-10-16"},
		},
		{
			name:  "friday is today",
			exps:  []string{"2026-10-16", "2026-10-16", "2026-10-23"},
			today: "2026-10-16",
			want:  map[string]string{"dte0": "2026-10-16", "dte1": "2026-10-23", "friday": "2026-10-16"},
		},
		{
			name:  "single expiration",
			exps:  []string{"2026-10-20"},
			today: "2026-10-16",
			want:  map[string]string{"dte0": "2026-10-20"},
		},
		{
			name:  "all expired",
			exps:  []string{"2026-10-01"},
			today: "2026-10-16",
			want:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exps := make([]time.Time, 0, len(tt.exps))
			for _, e := range tt.exps {
				exps = append(exps, day(e))
			}
			got := ResolveHorizons(exps, day(tt.today).Add(15*time.Hour))

			gotStr := make(map[string]string, len(got))
			for k, v := range got {
				gotStr[k] = v.Format(DateLayout)
			}
			assert.Equal(t, tt.want, gotStr)
		})
	}
}

func TestIsHorizon(t *testing.T) {
	assert.True(t, IsHorizon("dte0"))
	assert.True(t, IsHorizon("friday"))
	assert.False(t, IsHorizon("monthly"))
}
