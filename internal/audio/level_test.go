package audio

import (
	"math"
	"testing"
)

func TestToDecibels(t *testing.T) {
	tests := []struct {
		name   string
		linear float64
		want   float64
	}{
		{"full scale", 1, 0},
		{"half scale", 0.5, -6.0206},
		{"tenth", 0.1, -20},
		{"hundredth", 0.01, -40},
		{"zero", 0, SilenceDB},
		{"negative", -0.5, SilenceDB},
		{"nan", math.NaN(), SilenceDB},
		{"denormal clamps to floor", math.SmallestNonzeroFloat64, MinSignalDB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToDecibels(tt.linear)
			if math.Abs(got-tt.want) > 1e-3 {
				t.Errorf("ToDecibels(%v) = %v, want %v", tt.linear, got, tt.want)
			}
		})
	}
}

func TestToDecibelsMonotonic(t *testing.T) {
	inputs := []float64{
		0,
		math.SmallestNonzeroFloat64,
		1e-300,
		1e-50,
		float64(math.SmallestNonzeroFloat32),
		1e-6,
		1.0 / MaxSampleValue,
		0.001,
		0.5,
		1,
		2,
	}

	for i := 1; i < len(inputs); i++ {
		lo, hi := ToDecibels(inputs[i-1]), ToDecibels(inputs[i])
		if lo > hi {
			t.Errorf("ToDecibels(%g) = %v > ToDecibels(%g) = %v", inputs[i-1], lo, inputs[i], hi)
		}
	}
}

func TestSilenceSentinelBelowAnySignal(t *testing.T) {
	for _, eps := range []float64{math.SmallestNonzeroFloat64, 1e-200, 1e-9, 1.0 / MaxSampleValue} {
		if ToDecibels(0) >= ToDecibels(eps) {
			t.Errorf("ToDecibels(0) = %v, not below ToDecibels(%g) = %v", ToDecibels(0), eps, ToDecibels(eps))
		}
	}
	if math.IsInf(ToDecibels(0), 0) {
		t.Error("ToDecibels(0) is infinite")
	}
}
