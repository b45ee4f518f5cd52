// Package market implements MarketMonitor: fans a single exchange tick stream out to every
// in-process consumer (SignalDetector, RiskManager, the snapshot cache, optional analytics
// persistence) without letting a slow consumer block the others. Adapted from the teacher's
// market.Feed, which paired a websocket subscription with a polling fallback and published
// straight onto the shared event bus — generalized here to fan out to typed channels instead,
// since SignalDetector and RiskManager each need their own ordered tick stream.
package market

import (
	"context"
	"log"
	"time"

	"surgebot/internal/events"
	"surgebot/internal/persistence"
	"surgebot/pkg/cache"
	"surgebot/pkg/db"
	"surgebot/pkg/exchange"
)

// Streamer is the capability MarketMonitor needs from pkg/exchange.Stream / MockStream.
type Streamer interface {
	Run(ctx context.Context, markets []string, out chan<- exchange.PriceTick) error
}

// Monitor is MarketMonitor.
type Monitor struct {
	stream  Streamer
	markets []string
	bus     *events.Bus
	cache   *cache.ShardedPriceCache
	logTicks bool
	writer  *persistence.BatchWriter

	signalOut chan exchange.PriceTick
	riskOut   chan exchange.PriceTick
}

// New builds a Monitor. logTicks gates persistence of every tick to the price_ticks analytics
// table (spec §6 EnableTickLog); ticks are batched through persistence.BatchWriter rather than
// inserted one at a time, since a handful of subscribed markets can produce several ticks/sec.
func New(stream Streamer, markets []string, bus *events.Bus, priceCache *cache.ShardedPriceCache, database *db.Database, logTicks bool) *Monitor {
	m := &Monitor{
		stream:    stream,
		markets:   markets,
		bus:       bus,
		cache:     priceCache,
		logTicks:  logTicks,
		signalOut: make(chan exchange.PriceTick, 256),
		riskOut:   make(chan exchange.PriceTick, 256),
	}
	if logTicks && database != nil {
		m.writer = persistence.NewBatchWriter(database.DB, 50, 500*time.Millisecond)
	}
	return m
}

// SignalTicks is the channel SignalDetector should read from.
func (m *Monitor) SignalTicks() <-chan exchange.PriceTick { return m.signalOut }

// RiskTicks is the channel RiskManager should read from.
func (m *Monitor) RiskTicks() <-chan exchange.PriceTick { return m.riskOut }

// Run drives the underlying stream and fans out every tick. It returns only when the stream
// itself gives up (ctx cancelled, or ErrStreamFatal) — the Supervisor is responsible for
// indefinite-backoff restart of the whole Monitor per spec §7.
func (m *Monitor) Run(ctx context.Context) error {
	// signalOut and riskOut stay open across restarts so consumers keep reading the same channels.
	if m.writer != nil {
		defer m.writer.Close()
	}

	in := make(chan exchange.PriceTick, 256)
	errCh := make(chan error, 1)
	go func() { errCh <- m.stream.Run(ctx, m.markets, in) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case tick, ok := <-in:
			if !ok {
				return nil
			}
			m.fanOut(ctx, tick)
		}
	}
}

func (m *Monitor) fanOut(ctx context.Context, tick exchange.PriceTick) {
	if m.cache != nil {
		m.cache.Set(tick.Market, tick.TradePrice)
	}
	m.bus.Publish(events.EventPriceTick, tick)

	select {
	case m.signalOut <- tick:
	default:
		log.Printf("market: signal consumer backlogged, dropping tick for %s", tick.Market)
	}
	select {
	case m.riskOut <- tick:
	default:
		log.Printf("market: risk consumer backlogged, dropping tick for %s", tick.Market)
	}

	if m.writer != nil {
		m.writer.Write(db.InsertPriceTickQuery, tick.Market, tick.TimestampMs, tick.TradePrice, tick.ChangeRate, tick.Volume)
	}
}
