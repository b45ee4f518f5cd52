package exchange

import (
	"context"
	"math/rand"
	"time"
)

// MockStream generates a synthetic random-walk tick sequence for local development and tests,
// standing in for Stream when USE_MOCK_FEED=true. Adapted from internal/market/mock.go's random
// walk, normalized to PriceTick instead of an ad-hoc Symbol/Close struct.
type MockStream struct {
	StartPrice float64
	StepRate   float64 // fractional step size, e.g. 0.002 = 0.2%
	Interval   time.Duration
}

func (m *MockStream) withDefaults() MockStream {
	out := *m
	if out.StartPrice == 0 {
		out.StartPrice = 50_000_000
	}
	if out.StepRate == 0 {
		out.StepRate = 0.002
	}
	if out.Interval == 0 {
		out.Interval = time.Second
	}
	return out
}

// Run mimics Stream.Run's signature so callers (MarketMonitor) can select between live and mock
// feeds without a type switch in the caller.
func (m *MockStream) Run(ctx context.Context, markets []string, out chan<- PriceTick) error {
	cfg := m.withDefaults()
	prices := make(map[string]float64, len(markets))
	for _, mkt := range markets {
		prices[mkt] = cfg.StartPrice
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, mkt := range markets {
				prev := prices[mkt]
				change := (rand.Float64()*2 - 1) * cfg.StepRate
				next := prev * (1 + change)
				prices[mkt] = next

				tick := PriceTick{
					Market:      mkt,
					TimestampMs: now.UnixMilli(),
					TradePrice:  next,
					ChangeRate:  change,
					Volume:      100 + rand.Float64()*50,
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}
