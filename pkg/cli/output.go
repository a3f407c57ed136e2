package cli

import (
	"io"
	"os"
	"strconv"
	"strings"

	"chainwatch/internal/chain"

	"github.com/mattn/go-isatty"
	"github.com/shopspring/decimal"
)

const (
	colorCall  = "\033[32m"
	colorPut   = "\033[31m"
	colorReset = "\033[0m"
)

// Palette colors call labels green and put labels red when writing to a
// terminal.
type Palette struct {
	enabled bool
}

// NewPalette enables colors when w is a terminal and NO_COLOR is unset.
func NewPalette(w io.Writer) Palette {
	if os.Getenv("NO_COLOR") != "" {
		return Palette{}
	}
	f, ok := w.(*os.File)
	if !ok {
		return Palette{}
	}
	return Palette{enabled: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())}
}

// Side renders the side label, colored when enabled.
func (p Palette) Side(side chain.Side) string {
	label := string(side)
	if !p.enabled {
		return label
	}
	if side == chain.Put {
		return colorPut + label + colorReset
	}
	return colorCall + label + colorReset
}

// PadRight pads s to width visible characters. ANSI sequences do not count.
func PadRight(s string, width int) string {
	n := visibleLen(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\033':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			n++
		}
	}
	return n
}

// Money formats d as $1,234.56.
func Money(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	s := d.StringFixed(2)
	whole, frac := s[:len(s)-3], s[len(s)-3:]
	n, _ := strconv.ParseInt(whole, 10, 64)
	return sign + "$" + Thousands(n) + frac
}

// NullMoney formats a missing value as "--".
func NullMoney(d decimal.NullDecimal) string {
	if !d.Valid {
		return "--"
	}
	return Money(d.Decimal)
}

// Thousands formats n with comma separators.
func Thousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Rule returns a horizontal line of n characters.
func Rule(ch string, n int) string {
	return strings.Repeat(ch, n)
}
