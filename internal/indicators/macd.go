package indicators

// MACD computes the Moving Average Convergence/Divergence line and its signal line using
// exponential moving averages over the given fast/slow/signal periods. No teacher file implements
// MACD; this follows the package's existing SMA/RSI shape (plain functions over a []float64
// window, no internal state) rather than introducing a new style.
func MACD(values []float64, fast, slow, signal int) (macd, signalLine, histogram float64) {
	if fast <= 0 || slow <= 0 || signal <= 0 || len(values) < slow+signal {
		return 0, 0, 0
	}

	fastEMA := ema(values, fast)
	slowEMA := ema(values, slow)
	macdSeries := make([]float64, len(fastEMA))
	offset := len(fastEMA) - len(slowEMA)
	for i := range slowEMA {
		macdSeries[i+offset] = fastEMA[i+offset] - slowEMA[i]
	}
	macdSeries = macdSeries[offset:]

	signalSeries := ema(macdSeries, signal)
	macd = macdSeries[len(macdSeries)-1]
	signalLine = signalSeries[len(signalSeries)-1]
	histogram = macd - signalLine
	return macd, signalLine, histogram
}

// ema returns the exponential moving average series for period, seeded by an SMA of the first
// `period` values, matching the conventional MACD computation.
func ema(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(values)-period+1)
	seed := SMA(values[:period], period)
	out[0] = seed
	for i := period; i < len(values); i++ {
		out[i-period+1] = values[i]*k + out[i-period]*(1-k)
	}
	return out
}
