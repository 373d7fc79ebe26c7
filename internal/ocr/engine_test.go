package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMathHeavy(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"prose", "Which choice completes the text with the most logical transition?", false},
		{"equation", "f(x)=2x^2+3", true},
		{"latex", `\frac{a}{b}=\sqrt{c}`, true},
		{"empty", "", false},
		// 10个字符中2个符号，恰好20%不算
		{"exactly at threshold", "abcdefgh=+", false},
		{"just over threshold", "abcdefg=+-", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMathHeavy(tt.text, DefaultMathRatio))
		})
	}
}

func TestMathSymbolRatio(t *testing.T) {
	assert.InDelta(t, 0.5, MathSymbolRatio("a+b="), 1e-9)
	assert.Zero(t, MathSymbolRatio(""))
	assert.InDelta(t, 1.0, MathSymbolRatio(`\|<>`), 1e-9)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	assert.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)

	m, err = ParseMode(" Math ")
	assert.NoError(t, err)
	assert.Equal(t, ModeMath, m)

	_, err = ParseMode("vision")
	assert.Error(t, err)
}
