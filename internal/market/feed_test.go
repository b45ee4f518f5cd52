package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surgebot/internal/events"
	"surgebot/pkg/cache"
	"surgebot/pkg/exchange"
)

type fakeStream struct {
	ticks []exchange.PriceTick
}

func (s *fakeStream) Run(ctx context.Context, markets []string, out chan<- exchange.PriceTick) error {
	for _, t := range s.ticks {
		select {
		case out <- t:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestMonitorFansOutToSignalAndRiskChannels(t *testing.T) {
	stream := &fakeStream{ticks: []exchange.PriceTick{
		{Market: "KRW-BTC", TradePrice: 100, TimestampMs: 1},
		{Market: "KRW-BTC", TradePrice: 101, TimestampMs: 2},
	}}
	bus := events.NewBus()
	priceCache := cache.NewShardedPriceCache()
	m := New(stream, []string{"KRW-BTC"}, bus, priceCache, nil, false)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go m.Run(ctx)

	var signalSeen, riskSeen int
	for signalSeen < 2 || riskSeen < 2 {
		select {
		case <-m.SignalTicks():
			signalSeen++
		case <-m.RiskTicks():
			riskSeen++
		case <-ctx.Done():
			t.Fatalf("timed out waiting for ticks: signal=%d risk=%d", signalSeen, riskSeen)
		}
	}

	assert.Equal(t, 2, signalSeen)
	assert.Equal(t, 2, riskSeen)

	price, ok := priceCache.Get("KRW-BTC")
	require.True(t, ok)
	assert.Equal(t, 101.0, price)
}
