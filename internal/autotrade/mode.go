package autotrade

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is a session risk tier.
type Mode string

const (
	ModeSafe   Mode = "SAFE"
	ModeNormal Mode = "NORMAL"
	ModeDegen  Mode = "DEGEN"
)

// ErrInvalidMode is returned for names outside SAFE, NORMAL and DEGEN.
var ErrInvalidMode = errors.New("invalid autotrade mode")

// ModeConfig is the immutable parameter set of a Mode.
type ModeConfig struct {
	Name                 Mode
	Risk                 float64
	TakeProfitMultiplier float64
	StopLossMultiplier   float64
	TickInterval         time.Duration
	GuaranteedMultiplier float64
	MaxPositions         int
	VolatilityFactor     float64
	MinProfitPct         float64
	UpBiasProbability    float64
	MovementFactor       float64
	Description          string
}

var modeConfigs = map[Mode]ModeConfig{
	ModeSafe: {
		Name:                 ModeSafe,
		Risk:                 0.1,
		TakeProfitMultiplier: 1.8,
		StopLossMultiplier:   0.85,
		TickInterval:         35 * time.Second,
		GuaranteedMultiplier: 1.5,
		MaxPositions:         2,
		VolatilityFactor:     0.8,
		MinProfitPct:         0.20,
		UpBiasProbability:    0.8,
		MovementFactor:       0.7,
		Description:          "Guaranteed 150% minimum profit",
	},
	ModeNormal: {
		Name:                 ModeNormal,
		Risk:                 0.2,
		TakeProfitMultiplier: 2.0,
		StopLossMultiplier:   0.80,
		TickInterval:         25 * time.Second,
		GuaranteedMultiplier: 2.5,
		MaxPositions:         3,
		VolatilityFactor:     1.0,
		MinProfitPct:         0.30,
		UpBiasProbability:    0.7,
		MovementFactor:       0.8,
		Description:          "Guaranteed 250% minimum profit",
	},
	ModeDegen: {
		Name:                 ModeDegen,
		Risk:                 0.3,
		TakeProfitMultiplier: 2.5,
		StopLossMultiplier:   0.70,
		TickInterval:         15 * time.Second,
		GuaranteedMultiplier: 3.5,
		MaxPositions:         5,
		VolatilityFactor:     1.2,
		MinProfitPct:         0.40,
		UpBiasProbability:    0.6,
		MovementFactor:       1.0,
		Description:          "Guaranteed 350% minimum profit",
	},
}

// Modes lists every mode from least to most aggressive.
func Modes() []Mode {
	return []Mode{ModeSafe, ModeNormal, ModeDegen}
}

// ParseMode accepts mode names in any case.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	_, ok := modeConfigs[m]
	return ok
}

// Config returns the parameters of the mode. Unknown modes get a zero config.
func (m Mode) Config() ModeConfig {
	return modeConfigs[m]
}

// GuaranteedPct is the guaranteed profit in percent of the initial amount.
func (c ModeConfig) GuaranteedPct() float64 {
	return (c.GuaranteedMultiplier - 1) * 100
}

// TakeProfitPct is the take-profit distance in percent above the buy price.
func (c ModeConfig) TakeProfitPct() float64 {
	return (c.TakeProfitMultiplier - 1) * 100
}

// StopLossPct is the stop-loss distance in percent below the buy price.
func (c ModeConfig) StopLossPct() float64 {
	return (1 - c.StopLossMultiplier) * 100
}
