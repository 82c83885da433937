package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var countPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([kKmMwW万亿]?)`)

var countMultipliers = map[string]float64{
	"":  1,
	"k": 1e3,
	"K": 1e3,
	"w": 1e4,
	"W": 1e4,
	"万": 1e4,
	"m": 1e6,
	"M": 1e6,
	"亿": 1e8,
}

// ParseCount interprets counter text such as "1,234", "1.2k", "3.5万" or
// "2亿". Thousands separators and surrounding whitespace are ignored.
func ParseCount(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(",", "", "，", "", " ", "", " ", "").Replace(s)
	m := countPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(f * countMultipliers[m[2]])), true
}
