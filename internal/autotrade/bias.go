package autotrade

// Rand is the random source used by the bias engine and the session.
// *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// OpenBias turns a raw oracle price into the displayed buy price of a new
// position. The move is skewed upwards by the mode's bias probability and
// never goes below 99% of the raw price.
func OpenBias(rnd Rand, raw, volatility float64, mode Mode) float64 {
	cfg := mode.Config()

	direction := -1.0
	if rnd.Float64() < cfg.UpBiasProbability {
		direction = 1.0
	}

	movement := (rnd.Float64()*volatility*0.5 + volatility*0.5) * direction * cfg.MovementFactor
	return max(raw*0.99, raw*(1+movement))
}

// TickBias advances a displayed price by one tick. The result never drops
// below 95% of the position's buy price.
func TickBias(rnd Rand, current, buy, volatility float64, mode Mode) float64 {
	next := current * (1 + tickMovement(rnd, volatility, mode))
	return max(buy*0.95, next)
}

func tickMovement(rnd Rand, volatility float64, mode Mode) float64 {
	r := rnd.Float64()
	switch mode {
	case ModeSafe:
		return (r*0.08 + 0.02) * volatility
	case ModeNormal:
		return r * 0.12 * volatility
	case ModeDegen:
		return (r*0.15 - 0.03) * volatility
	default:
		return r * 0.08 * volatility
	}
}
