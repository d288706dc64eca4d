package genpass

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Count bounds accepted by generate_data.
const (
	MinCount = 1
	MaxCount = math.MaxUint32

	// DefaultCount replaces input without a leading integer.
	DefaultCount = 10
)

// ClampCountValue clamps n to [MinCount, MaxCount].
func ClampCountValue(n int64) uint32 {
	switch {
	case n < MinCount:
		return MinCount
	case n > MaxCount:
		return MaxCount
	default:
		return uint32(n)
	}
}

// ClampCount reads the leading base-10 integer of raw, after optional
// whitespace and sign, and clamps it. Trailing characters are ignored, so
// "12abc" and "2.5" give 12 and 2. Input without leading digits yields def,
// itself clamped. Integers too large for int64 clamp to the nearest bound.
func ClampCount(raw string, def int64) uint32 {
	digits := leadingInteger(raw)
	if digits == "" {
		return ClampCountValue(def)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err == nil {
		return ClampCountValue(n)
	}
	if errors.Is(err, strconv.ErrRange) && strings.HasPrefix(digits, "-") {
		return MinCount
	}
	return MaxCount
}

// leadingInteger returns the optional sign and digit run at the start of raw,
// or "" when no digit follows.
func leadingInteger(raw string) string {
	raw = strings.TrimLeftFunc(raw, unicode.IsSpace)
	end := 0
	if end < len(raw) && (raw[end] == '+' || raw[end] == '-') {
		end++
	}
	start := end
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	if end == start {
		return ""
	}
	return raw[:end]
}
