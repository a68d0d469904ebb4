package tidy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"KSHPull/internal/domain/models"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want models.Value
	}{
		{"1.234", models.Number(1234)},
		{"1 300", models.Number(1300)},
		{"1 300", models.Number(1300)},
		{"1.234.567", models.Number(1234567)},
		{"12,5", models.Number(12.5)},
		{"1.234,5", models.Number(1234.5)},
		{"1 234,75", models.Number(1234.75)},
		{"1.2345", models.Number(1.2345)},
		{"0,8", models.Number(0.8)},
		{" 900 ", models.Number(900)},
		{"-3,2", models.Number(-3.2)},
		{"..", models.Missing},
		{"", models.Missing},
		{"–", models.Missing},
		{"x", models.Missing},
		{"n.a.", models.Missing},
		{"NaN", models.Missing},
		{"1 234*", models.Missing},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseValue(tt.in, DefaultMissingTokens))
		})
	}
}

func TestStripGroupSeparators(t *testing.T) {
	assert.Equal(t, "1234", stripGroupSeparators("1.234"))
	assert.Equal(t, "1.2345", stripGroupSeparators("1.2345"))
	assert.Equal(t, "12.34", stripGroupSeparators("12.34"))
	assert.Equal(t, "1234,5", stripGroupSeparators("1 234,5"))
}
