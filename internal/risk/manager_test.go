package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surgebot/pkg/exchange"
)

func baseConfig() Config {
	return Config{StopLossRate: 0.05, TakeProfitRate: 0.10}
}

func TestStopLossFiresOncePerPosition(t *testing.T) {
	m := NewManager(baseConfig())
	m.Restore("p1", "KRW-BTC", 100, 1, 95, 110)

	a := m.OnTick(exchange.PriceTick{Market: "KRW-BTC", TradePrice: 94})
	require.NotNil(t, a)
	assert.Equal(t, ReasonStopLoss, a.Reason)

	// A further drop must not re-fire; latch is set.
	again := m.OnTick(exchange.PriceTick{Market: "KRW-BTC", TradePrice: 80})
	assert.Nil(t, again)
}

func TestTakeProfitFires(t *testing.T) {
	m := NewManager(baseConfig())
	m.Restore("p1", "KRW-BTC", 100, 1, 90, 109)

	a := m.OnTick(exchange.PriceTick{Market: "KRW-BTC", TradePrice: 111})
	require.NotNil(t, a)
	assert.Equal(t, ReasonTakeProfit, a.Reason)
}

func TestClearResetsLatchForNextPosition(t *testing.T) {
	m := NewManager(baseConfig())
	m.Restore("p1", "KRW-BTC", 100, 1, 95, 110)
	require.NotNil(t, m.OnTick(exchange.PriceTick{Market: "KRW-BTC", TradePrice: 90}))

	m.Clear()
	m.Restore("p2", "KRW-BTC", 100, 1, 95, 110)
	a := m.OnTick(exchange.PriceTick{Market: "KRW-BTC", TradePrice: 90})
	require.NotNil(t, a, "latch must reset for a new position")
}

func TestTrailingStopRatchetsUpWithPeak(t *testing.T) {
	cfg := baseConfig()
	cfg.TrailingStopEnabled = true
	cfg.TrailingActivationRate = 0.05
	cfg.TrailingOffsetRate = 0.02
	cfg.TakeProfitRate = 1.0 // take-profit at 200, matching the restored position below
	m := NewManager(cfg)
	m.Restore("p1", "KRW-BTC", 100, 1, 95, 200)

	// Price rallies past the activation threshold; trailing stop should ratchet up, not trigger.
	assert.Nil(t, m.OnTick(exchange.PriceTick{Market: "KRW-BTC", TradePrice: 110}))
	m.mu.Lock()
	stop := m.pos.StopLoss
	m.mu.Unlock()
	assert.InDelta(t, 110*0.98, stop, 0.01)

	// Price pulls back below the ratcheted stop: should fire as a stop-loss (trailing exit).
	a := m.OnTick(exchange.PriceTick{Market: "KRW-BTC", TradePrice: 106})
	require.NotNil(t, a)
	assert.Equal(t, ReasonStopLoss, a.Reason)
}
