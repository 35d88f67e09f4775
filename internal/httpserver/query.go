package httpserver

import (
	"strconv"
	"strings"
)

// ParseQuery implements spec §4.F's parse_query helper: split on '&' and
// '=', turn '+' into a space, then percent-decode values only (never
// keys). Last occurrence wins on duplicate keys.
func ParseQuery(q string) map[string]string {
	out := make(map[string]string)
	if q == "" {
		return out
	}

	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		out[key] = percentDecode(strings.ReplaceAll(value, "+", " "))
	}
	return out
}

// percentDecode decodes "%XX" hex escapes, leaving malformed escapes as
// literal text rather than failing the whole query.
func percentDecode(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
