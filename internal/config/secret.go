package config

import (
	"net/url"
	"strings"
)

const redactedText = "[REDACTED]"

// Secret holds a credential such as the Public.com API secret or a Redis URL
// with a password. Every printing and marshaling path redacts it; only Reveal
// returns the value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redactedText
}

// GoString keeps %#v redacted as well
func (s Secret) GoString() string {
	return `"` + s.String() + `"`
}

// Reveal returns the plain value for use in outgoing requests
func (s Secret) Reveal() string {
	return string(s)
}

// Masked shows the ends of the value, enough to tell two secrets apart.
func (s Secret) Masked() string {
	return MaskString(string(s))
}

// Location returns a URL secret without its user info, for logs. Values
// that are not URLs come back redacted.
func (s Secret) Location() string {
	u, err := url.Parse(string(s))
	if err != nil || u.Host == "" {
		return s.String()
	}
	return u.Scheme + "://" + u.Host + u.Path
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedText + `"`), nil
}

// MaskString keeps the first and last four characters of long values.
func MaskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
