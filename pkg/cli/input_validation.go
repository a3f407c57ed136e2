// Package cli holds the helpers shared by the terminal tools: flag
// validation, source bootstrap and table output.
package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"chainwatch/internal/chain"
	apperrors "chainwatch/pkg/errors"
)

var (
	symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,9}$`)
	sqlPattern    = regexp.MustCompile(`['"]\s*;\s*|\b(DROP|DELETE|UPDATE|INSERT)\b`)
)

// ValidateInput checks for potentially malicious input patterns
func ValidateInput(input string) error {
	// Check for command injection patterns
	if strings.Contains(input, ";") || strings.Contains(input, "&&") || strings.Contains(input, "||") {
		return errors.New("potentially malicious input detected")
	}

	// Check for path traversal
	if strings.Contains(input, "../") || strings.Contains(input, "..\\") {
		return errors.New("potentially malicious input detected")
	}

	if sqlPattern.MatchString(strings.ToUpper(input)) {
		return errors.New("potentially malicious input detected")
	}

	return nil
}

// ValidateSymbol upper-cases an underlying symbol and checks it looks like a
// ticker (SPX, BRK.B).
func ValidateSymbol(symbol string) (string, error) {
	if err := ValidateInput(symbol); err != nil {
		return "", err
	}
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// ParseExpiration parses a YYYY-MM-DD flag value. Empty means "resolve from
// the horizon" and returns the zero time.
func ParseExpiration(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(chain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expiration must be YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

// ValidateHorizon checks a horizon flag value.
func ValidateHorizon(h string) error {
	if !chain.IsHorizon(h) {
		return fmt.Errorf("%w: %q (use one of %s)", apperrors.ErrUnknownHorizon, h, strings.Join(chain.Horizons, ", "))
	}
	return nil
}
