// Package decision implements DecisionMaker: the ordered rule evaluation that turns Signal and
// RiskAction events into a single Open/Close Decision, respecting the TradingState machine so at
// most one decision is ever in flight. Grounded on the teacher's inlined main.go trading loop
// (signal -> position-sizing -> submit), pulled out into its own agent per the spec's component
// boundary (§4.5).
package decision

import (
	"context"
	"fmt"
	"log"
	"sync"

	"surgebot/internal/events"
	"surgebot/internal/risk"
	"surgebot/internal/signal"
	"surgebot/internal/state"
)

// Action is what kind of order DecisionMaker wants Executor to place.
type Action string

const (
	ActionOpen  Action = "Open"
	ActionClose Action = "Close"
)

// Decision is DecisionMaker's output, consumed by Executor.
type Decision struct {
	Action       Action
	Market       string
	QuoteAmount  float64 // for ActionOpen: how much quote currency to spend
	PositionID   string  // for ActionClose: which position to close
	Reason       string
}

// BalanceSource is the capability DecisionMaker needs to size a new position.
type BalanceSource interface {
	GetAvailable(ctx context.Context) (float64, error)
}

// Config holds DecisionMaker's sizing rules (spec §6).
type Config struct {
	MinOrderAmountQuote float64
	MaxPositionRatio    float64
}

// Maker is DecisionMaker.
type Maker struct {
	cfg     Config
	store   *state.Store
	balance BalanceSource
	bus     *events.Bus

	mu sync.Mutex
}

// New builds a Maker.
func New(cfg Config, store *state.Store, balance BalanceSource, bus *events.Bus) *Maker {
	return &Maker{cfg: cfg, store: store, balance: balance, bus: bus}
}

// Run consumes signals and risk actions and publishes Decision values onto out until ctx is done
// or either input channel closes.
func (m *Maker) Run(ctx context.Context, signals <-chan signal.Signal, riskActions <-chan risk.Action, out chan<- Decision) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-signals:
			if !ok {
				return
			}
			if d := m.onSignal(ctx, s); d != nil {
				m.emit(out, *d)
			}
		case a, ok := <-riskActions:
			if !ok {
				return
			}
			if d := m.onRiskAction(a); d != nil {
				m.emit(out, *d)
			}
		}
	}
}

func (m *Maker) emit(out chan<- Decision, d Decision) {
	select {
	case out <- d:
	default:
		log.Printf("decision: executor backlogged, dropping decision %+v", d)
	}
}

// onSignal evaluates a Signal against the current TradingState. Only fires an Open decision
// while Idle (spec invariant I1: at most one active position), and a Close decision for an
// opposing signal while InPosition.
func (m *Maker) onSignal(ctx context.Context, s signal.Signal) *Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	phase := m.store.Phase()

	switch s.Kind {
	case signal.KindBuy, signal.KindStrongBuy:
		if phase != state.PhaseIdle {
			log.Printf("decision: position-busy (phase=%s), ignoring buy signal for %s", phase, s.Market)
			return nil
		}
		amount, err := m.sizeOpen(ctx)
		if err != nil {
			log.Printf("decision: sizing failed, skipping signal: %v", err)
			return nil
		}
		if amount <= 0 {
			return nil
		}
		m.store.SetPhase(state.PhaseOpening)
		return &Decision{Action: ActionOpen, Market: s.Market, QuoteAmount: amount, Reason: s.Reason}

	case signal.KindSell, signal.KindStrongSell:
		if phase != state.PhaseInPosition {
			return nil
		}
		pos := m.store.ActivePosition()
		if pos == nil || pos.Market != s.Market {
			return nil
		}
		m.store.SetPhase(state.PhaseClosing)
		return &Decision{Action: ActionClose, Market: s.Market, PositionID: pos.ID, Reason: s.Reason}
	}
	return nil
}

// onRiskAction handles a forced stop-loss/take-profit exit, which always takes precedence over
// signal-driven closes since it targets capital preservation.
func (m *Maker) onRiskAction(a risk.Action) *Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store.Phase() != state.PhaseInPosition {
		return nil
	}
	pos := m.store.ActivePosition()
	if pos == nil || pos.Market != a.Market {
		return nil
	}
	m.store.SetPhase(state.PhaseClosing)
	return &Decision{Action: ActionClose, Market: a.Market, PositionID: pos.ID, Reason: fmt.Sprintf("risk: %s", a.Reason)}
}

// sizeOpen computes the quote amount to spend on a new position: MaxPositionRatio of available
// balance. Returns 0, nil when the available balance is below MinOrderAmountQuote.
func (m *Maker) sizeOpen(ctx context.Context) (float64, error) {
	available, err := m.balance.GetAvailable(ctx)
	if err != nil {
		return 0, err
	}
	if available < m.cfg.MinOrderAmountQuote {
		log.Printf("decision: insufficient balance (available=%.2f min=%.2f)", available, m.cfg.MinOrderAmountQuote)
		return 0, nil
	}
	return available * m.cfg.MaxPositionRatio, nil
}
