package autotrade

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenBias(t *testing.T) {
	testCases := []struct {
		name     string
		draws    []float64
		mode     Mode
		raw      float64
		vol      float64
		expected float64
	}{
		// Up move: (0.5×0.2×0.5 + 0.2×0.5) × 0.8 = 0.12
		{"normal up", []float64{0.1, 0.5}, ModeNormal, 1.0, 0.2, 1.12},
		// Down move of 0.12 is floored at 99% of raw.
		{"normal down floored", []float64{0.95, 0.5}, ModeNormal, 1.0, 0.2, 0.99},
		// Tiny down move stays above the floor: (0×0.01×0.5 + 0.01×0.5) × 1 = 0.005
		{"degen small down", []float64{0.99, 0}, ModeDegen, 2.0, 0.01, 1.99},
		{"zero volatility", []float64{0.1, 0.3}, ModeSafe, 3.0, 0, 3.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rnd := &scriptedRand{values: tc.draws}
			got := OpenBias(rnd, tc.raw, tc.vol, tc.mode)
			assert.InDelta(t, tc.expected, got, 1e-9)
		})
	}
}

func TestTickBias(t *testing.T) {
	testCases := []struct {
		name     string
		draw     float64
		mode     Mode
		current  float64
		buy      float64
		vol      float64
		expected float64
	}{
		{"safe always rises", 0, ModeSafe, 1.0, 1.0, 0.5, 1.01},
		{"normal", 0.5, ModeNormal, 1.0, 1.0, 1.0, 1.06},
		{"degen drop", 0, ModeDegen, 1.0, 1.0, 1.0, 0.97},
		{"degen drop floored at 95% of buy", 0, ModeDegen, 0.96, 1.0, 1.0, 0.95},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rnd := &scriptedRand{values: []float64{tc.draw}}
			got := TickBias(rnd, tc.current, tc.buy, tc.vol, tc.mode)
			assert.InDelta(t, tc.expected, got, 1e-9)
		})
	}
}

func TestBiasFloors(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for _, mode := range Modes() {
		for i := 0; i < 2000; i++ {
			raw := 0.0001 + rnd.Float64()
			vol := rnd.Float64()
			assert.GreaterOrEqual(t, OpenBias(rnd, raw, vol, mode), raw*0.99)

			buy := raw
			current := buy * (0.9 + rnd.Float64()*0.3)
			assert.GreaterOrEqual(t, TickBias(rnd, current, buy, vol, mode), buy*0.95)
		}
	}
}
