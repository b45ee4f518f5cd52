package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSchedule(t *testing.T) {
	max := 60 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
	}
	for _, c := range cases {
		d := backoff(c.attempt, max)
		// jitter is +/-20%; assert within bounds rather than exact equality.
		assert.GreaterOrEqual(t, d, time.Duration(float64(c.want)*0.8))
		assert.LessOrEqual(t, d, time.Duration(float64(c.want)*1.2)+1)
	}
}

func TestHandleFrameDropsOutOfOrderTicks(t *testing.T) {
	s := NewStream(StreamConfig{URL: "wss://example.invalid"})
	staging := make(chan PriceTick, 4)

	first := `{"market":"KRW-BTC","trade_price":100,"change_rate":0.01,"acc_trade_volume_24h":10,"timestamp":1000}`
	require.NoError(t, s.handleFrame([]byte(first), staging))

	stale := `{"market":"KRW-BTC","trade_price":99,"change_rate":0.01,"acc_trade_volume_24h":10,"timestamp":500}`
	err := s.handleFrame([]byte(stale), staging)
	assert.Error(t, err)
	assert.Equal(t, int64(1), s.DroppedTicks())
	assert.Len(t, staging, 1) // stale tick never reached the buffer
}

func TestHandleFrameStagingBufferEvictsOldest(t *testing.T) {
	s := NewStream(StreamConfig{URL: "wss://example.invalid"})
	staging := make(chan PriceTick, 1)

	first := `{"market":"KRW-BTC","trade_price":100,"change_rate":0.01,"acc_trade_volume_24h":10,"timestamp":1000}`
	require.NoError(t, s.handleFrame([]byte(first), staging))

	second := `{"market":"KRW-BTC","trade_price":101,"change_rate":0.01,"acc_trade_volume_24h":10,"timestamp":2000}`
	require.NoError(t, s.handleFrame([]byte(second), staging))

	require.Len(t, staging, 1)
	tick := <-staging
	assert.Equal(t, 101.0, tick.TradePrice)
}
