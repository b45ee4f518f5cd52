package signal

import (
	"math"

	"surgebot/internal/indicators"
)

// Indicator is the pluggable capability interface for multi-indicator combination (spec §9 design
// note), grounded on internal/strategy.Strategy's OnTick shape but narrowed to a pure
// update/signal split so SignalDetector can weight several indicators without owning their
// internal state.
type Indicator interface {
	// Update folds in the window's current price series and reports whether it has enough data.
	Update(prices []float64) (value float64, ok bool)
	// Signal converts the last computed value into a directional score in [-1, 1].
	Signal() (score float64, ok bool)
	Name() string
}

// RSIIndicator scores momentum extremes: score -1 at RSI<=30 (oversold, contributes to Sell), +1
// at RSI>=70 (overbought, contributes to Buy), 0 in between.
type RSIIndicator struct {
	Period int
	last   float64
	ok     bool
}

func (r *RSIIndicator) Name() string { return "rsi" }

func (r *RSIIndicator) Update(prices []float64) (float64, bool) {
	r.last = indicators.RSI(prices, r.Period)
	r.ok = len(prices) >= r.Period+1
	return r.last, r.ok
}

func (r *RSIIndicator) Signal() (float64, bool) {
	if !r.ok {
		return 0, false
	}
	switch {
	case r.last <= 30:
		return -1, true
	case r.last >= 70:
		return 1, true
	default:
		return 0, true
	}
}

// MACDIndicator scores the MACD histogram sign: positive histogram -> bullish (+1), negative -> bearish (-1).
type MACDIndicator struct {
	Fast, Slow, Signal int
	histogram          float64
	ok                 bool
}

func (m *MACDIndicator) Name() string { return "macd" }

func (m *MACDIndicator) Update(prices []float64) (float64, bool) {
	_, _, hist := indicators.MACD(prices, m.Fast, m.Slow, m.Signal)
	m.histogram = hist
	m.ok = len(prices) >= m.Slow+m.Signal
	return m.histogram, m.ok
}

func (m *MACDIndicator) Signal() (float64, bool) {
	if !m.ok {
		return 0, false
	}
	if m.histogram > 0 {
		return 1, true
	}
	if m.histogram < 0 {
		return -1, true
	}
	return 0, true
}

// BollingerIndicator scores breakouts: price at/below the lower band is bearish (contributes to
// Sell), at/above the upper band is bullish (contributes to Buy). Adapted from
// internal/strategy.BollingerStrategy's band math.
type BollingerIndicator struct {
	Period    int
	NumStdDev float64
	price     float64
	lower     float64
	upper     float64
	ok        bool
}

func (b *BollingerIndicator) Name() string { return "bollinger" }

func (b *BollingerIndicator) Update(prices []float64) (float64, bool) {
	if len(prices) < b.Period {
		b.ok = false
		return 0, false
	}
	window := prices[len(prices)-b.Period:]
	mean := indicators.SMA(window, b.Period)
	var variance float64
	for _, p := range window {
		d := p - mean
		variance += d * d
	}
	variance /= float64(b.Period)
	stdDev := math.Sqrt(variance)
	b.lower = mean - b.NumStdDev*stdDev
	b.upper = mean + b.NumStdDev*stdDev
	b.price = prices[len(prices)-1]
	b.ok = true
	return b.price, true
}

func (b *BollingerIndicator) Signal() (float64, bool) {
	if !b.ok {
		return 0, false
	}
	switch {
	case b.price <= b.lower:
		return -1, true
	case b.price >= b.upper:
		return 1, true
	default:
		return 0, true
	}
}
