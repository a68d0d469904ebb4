package tidy

import (
	"math"
	"strconv"
	"strings"

	"KSHPull/internal/domain/models"
)

var spaceReplacer = strings.NewReplacer("\u00a0", " ", "\u202f", " ", "\u2009", " ")

// ParseValue converts a Hungarian-formatted cell into a Value.
// "1.234" and "1 234" are read as 1234, "12,5" as 12.5. Missing tokens
// and anything else that is not a number become Missing.
func ParseValue(cell string, missingTokens []string) models.Value {
	s := strings.TrimSpace(spaceReplacer.Replace(cell))
	for _, tok := range missingTokens {
		if s == tok {
			return models.Missing
		}
	}
	s = stripGroupSeparators(s)
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return models.Missing
	}
	return models.Number(f)
}

// stripGroupSeparators drops every '.' or ' ' that is followed by exactly
// three digits and then no further digit.
func stripGroupSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c == '.' || c == ' ') && isThousandsGroup(s, i+1) {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isThousandsGroup(s string, start int) bool {
	if start+3 > len(s) {
		return false
	}
	for j := start; j < start+3; j++ {
		if !isDigit(s[j]) {
			return false
		}
	}
	return start+3 == len(s) || !isDigit(s[start+3])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
