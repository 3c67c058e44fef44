package utils

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ParseDuration safely parses duration string like "5m", falling back to def
func ParseDuration(d string, def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	duration, err := time.ParseDuration(d)
	if err != nil {
		return def
	}
	return duration
}

// ParseInt parses a trimmed integer. Float-formatted integers ("12.0") are accepted.
func ParseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, &strconv.NumError{Func: "ParseInt", Num: s, Err: strconv.ErrSyntax}
	}
	return int64(f), nil
}

// ParseFloat parses a trimmed float
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// NormalizeName turns a header like "Incident Zip" into "incident_zip"
func NormalizeName(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// NormalizePostalCode best-effort normalizes a US ZIP code to 5 characters:
// ZIP+4 suffixes and a trailing ".0" are dropped and short numeric codes are
// left-padded with zeros. Anything else is returned trimmed.
func NormalizePostalCode(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '-'); i > 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, ".0")
	if s == "" || !isDigits(s) {
		return s
	}
	if len(s) < 5 {
		s = strings.Repeat("0", 5-len(s)) + s
	}
	return s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
