package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdaptiveDecayCalculator_Calculate(t *testing.T) {
	var calc AdaptiveDecayCalculator

	tests := []struct {
		name          string
		varianceRatio float64
		want          float64
	}{
		{"calm regime at low threshold", 0.7, 0.99},
		{"calm regime below threshold", 0.3, 0.99},
		{"zero ratio", 0.0, 0.99},
		{"negative ratio treated as calm", -1.0, 0.99},
		{"volatile regime at high threshold", 1.5, 0.95},
		{"volatile regime above threshold", 3.0, 0.95},
		{"midpoint interpolation", 1.1, 0.97},
		{"quarter interpolation", 0.9, 0.98},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Calculate(tt.varianceRatio)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestAdaptiveDecayCalculator_Bounds(t *testing.T) {
	var calc AdaptiveDecayCalculator

	for ratio := -2.0; ratio <= 5.0; ratio += 0.05 {
		decay := calc.Calculate(ratio)
		assert.GreaterOrEqual(t, decay, DecayLow)
		assert.LessOrEqual(t, decay, DecayHigh)
	}
}

func TestAdaptiveDecayCalculator_MonotoneNonIncreasing(t *testing.T) {
	var calc AdaptiveDecayCalculator

	prev := calc.Calculate(0.0)
	for ratio := 0.01; ratio <= 3.0; ratio += 0.01 {
		curr := calc.Calculate(ratio)
		assert.LessOrEqual(t, curr, prev, "decay must not increase with volatility")
		prev = curr
	}
}
