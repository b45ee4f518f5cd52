// Package risk implements RiskManager: continuous stop-loss/take-profit evaluation of the single
// active position against live ticks. Adapted from the teacher's StopLossManager (originally a
// multi-symbol, manually-polled tracker) into a bus-driven single-position agent matching the
// spec's TradingState model.
package risk

import (
	"context"
	"log"
	"sync"

	"surgebot/internal/events"
	"surgebot/pkg/exchange"
)

// Reason identifies why a forced exit fired.
type Reason string

const (
	ReasonStopLoss   Reason = "StopLoss"
	ReasonTakeProfit Reason = "TakeProfit"
)

// Action is what RiskManager publishes on events.EventRiskAction for DecisionMaker to act on.
type Action struct {
	Market string
	Reason Reason
	Price  float64
}

// trackedPosition mirrors the StateStore's Position row plus the trailing-stop high-water mark.
type trackedPosition struct {
	ID              string
	Market          string
	EntryPrice      float64
	Amount          float64
	StopLoss        float64
	TakeProfit      float64
	HighWaterMark   float64
	Fired           bool
}

// Config holds RiskManager's thresholds (spec §6).
type Config struct {
	StopLossRate           float64
	TakeProfitRate         float64
	TrailingStopEnabled    bool
	TrailingActivationRate float64
	TrailingOffsetRate     float64
}

// Manager is RiskManager.
type Manager struct {
	cfg Config

	mu  sync.Mutex
	pos *trackedPosition
}

// NewManager builds a Manager with no active position; call Restore after loading StateStore state.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Restore seeds the tracked position at boot (or on PositionOpened), matching the spec's
// "RiskManager restores the active position from StateStore on startup" contract.
func (m *Manager) Restore(id, market string, entryPrice, amount, stopLoss, takeProfit float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = &trackedPosition{
		ID: id, Market: market, EntryPrice: entryPrice, Amount: amount,
		StopLoss: stopLoss, TakeProfit: takeProfit, HighWaterMark: entryPrice,
	}
}

// Clear drops the tracked position, called when Executor confirms the position closed — this
// resets the once-per-position latch.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = nil
}

// Run subscribes to ticks and publishes forced-exit Actions. Position-open/close notifications
// don't flow through here — Executor calls Restore/Clear directly once it commits the position
// change, since it's the only component that knows the commit actually succeeded.
func (m *Manager) Run(ctx context.Context, ticks <-chan exchange.PriceTick, bus *events.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			if action := m.OnTick(tick); action != nil {
				bus.Publish(events.EventRiskAction, *action)
			}
		}
	}
}

// OnTick updates the trailing stop (if enabled) and checks for a stop-loss/take-profit trigger.
// Returns nil if no tracked position matches the tick's market, or if the latch has already fired.
func (m *Manager) OnTick(tick exchange.PriceTick) *Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pos
	if p == nil || p.Market != tick.Market || p.Fired {
		return nil
	}

	if m.cfg.TrailingStopEnabled {
		m.updateTrailingStop(p, tick.TradePrice)
	}

	pnlRate := (tick.TradePrice - p.EntryPrice) / p.EntryPrice

	switch {
	case pnlRate <= -m.cfg.StopLossRate || tick.TradePrice <= p.StopLoss:
		p.Fired = true
		log.Printf("risk: stop-loss triggered market=%s price=%.8f entry=%.8f pnl_rate=%.4f", tick.Market, tick.TradePrice, p.EntryPrice, pnlRate)
		return &Action{Market: tick.Market, Reason: ReasonStopLoss, Price: tick.TradePrice}
	case pnlRate >= m.cfg.TakeProfitRate || tick.TradePrice >= p.TakeProfit:
		p.Fired = true
		log.Printf("risk: take-profit triggered market=%s price=%.8f entry=%.8f pnl_rate=%.4f", tick.Market, tick.TradePrice, p.EntryPrice, pnlRate)
		return &Action{Market: tick.Market, Reason: ReasonTakeProfit, Price: tick.TradePrice}
	}
	return nil
}

// updateTrailingStop ratchets the stop up toward the peak price once profit exceeds the
// activation threshold, long-only (mirrors the teacher's symmetric long/short logic, narrowed).
func (m *Manager) updateTrailingStop(p *trackedPosition, price float64) {
	if price > p.HighWaterMark {
		p.HighWaterMark = price
	}
	activationPrice := p.EntryPrice * (1 + m.cfg.TrailingActivationRate)
	if p.HighWaterMark < activationPrice {
		return
	}
	trailingStop := p.HighWaterMark * (1 - m.cfg.TrailingOffsetRate)
	if trailingStop > p.StopLoss {
		p.StopLoss = trailingStop
	}
}
