package cli

import (
	"testing"
	"time"

	apperrors "chainwatch/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid input", input: "SPX", wantErr: false},
		{name: "malicious command injection", input: "ls; rm -rf /", wantErr: true},
		{name: "path traversal attempt", input: "../../../etc/passwd", wantErr: true},
		{name: "sql injection attempt", input: "'; DROP TABLE users; --", wantErr: true},
		{name: "empty input", input: "", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInput(tt.input)
			if tt.wantErr {
				assert.EqualError(t, err, "potentially malicious input detected")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSymbol(t *testing.T) {
	for in, want := range map[string]string{"spx": "SPX", " QQQ ": "QQQ", "brk.b": "BRK.B"} {
		got, err := ValidateSymbol(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "1SPX", "SPX;ls", "WAYTOOLONGSYMBOL"} {
		_, err := ValidateSymbol(in)
		assert.Error(t, err, in)
	}
	_, err := ValidateSymbol("S P X")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSymbol)
}

func TestParseExpiration(t *testing.T) {
	d, err := ParseExpiration("2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseExpiration("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = ParseExpiration("10/16/2026")
	assert.Error(t, err)
}

func TestValidateHorizon(t *testing.T) {
	assert.NoError(t, ValidateHorizon("friday"))
	assert.ErrorIs(t, ValidateHorizon("weekly"), apperrors.ErrUnknownHorizon)
}
