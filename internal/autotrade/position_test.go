package autotrade

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettleProfit(t *testing.T) {
	safe := ModeSafe.Config()
	degen := ModeDegen.Config()

	testCases := []struct {
		name     string
		reason   CloseReason
		profit   float64
		cfg      ModeConfig
		expected float64
	}{
		{"profit above minimum gets bonus", ReasonProfit, 4, safe, 4.6},
		{"profit lifted to minimum", ReasonProfit, 0.1, safe, 5 * 0.20 * 1.15},
		{"degen minimum", ReasonProfit, 0, degen, 5 * 0.40 * 1.15},
		{"loss clamped at ten percent", ReasonLoss, -2, safe, -0.5},
		{"small loss kept", ReasonLoss, -0.2, safe, -0.2},
		{"cut loss clamped", ReasonCutLoss, -1, degen, -0.5},
		{"session end is raw", ReasonSessionEnd, -3, safe, -3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, settleProfit(tc.reason, tc.profit, 5, tc.cfg), 1e-9)
		})
	}
}

func TestPosition_MarkAndShift(t *testing.T) {
	p := &Position{BuyPrice: 2, CurrentPrice: 2, Size: 5}

	p.mark(2.5)
	assert.InDelta(t, 1.25, p.Profit, 1e-9)
	assert.InDelta(t, 25, p.PnLPercent, 1e-9)

	p.shiftProfit(0.75)
	assert.InDelta(t, 2.0, p.Profit, 1e-9)
	assert.InDelta(t, 40, p.PnLPercent, 1e-9)
	assert.InDelta(t, 2.8, p.CurrentPrice, 1e-9)
}

func TestPosition_MarkIsInQuoteCurrency(t *testing.T) {
	p := &Position{BuyPrice: 0.00002, CurrentPrice: 0.00002, Size: 10}

	p.mark(0.00003)
	assert.InDelta(t, 5, p.Profit, 1e-9)
	assert.InDelta(t, 50, p.PnLPercent, 1e-9)
}
