// Package state implements StateStore: the single source of truth for the active position and
// in-flight orders, backed by pkg/db's SQLite schema. Adapted from the teacher's state.Manager,
// which already keeps an in-memory view synced from the DB on Load — generalized here to the
// spec's single-position, recovery-on-startup model (TradingState, spec §3, §4.8).
package state

import (
	"context"
	"fmt"
	"sync"

	"surgebot/pkg/db"
	"surgebot/pkg/exchange"
)

// Phase is the TradingState machine phase (spec §4.5).
type Phase string

const (
	PhaseIdle      Phase = "Idle"
	PhaseOpening   Phase = "Opening"
	PhaseInPosition Phase = "InPosition"
	PhaseClosing   Phase = "Closing"
	PhaseError     Phase = "Error"
)

// OrderReconciler is the capability StateStore needs from ExchangeClient to resolve orders left
// non-terminal by a crash (spec §4.8 recovery contract).
type OrderReconciler interface {
	GetOrder(ctx context.Context, exchangeID string) (exchange.Order, error)
}

// Store is StateStore: owns the authoritative phase, active position, and order bookkeeping.
type Store struct {
	mu    sync.RWMutex
	phase Phase
	pos   *db.Position // nil when Idle

	db *db.Database
}

// NewStore constructs a Store. Call Load before starting any other agent so phase/position
// reflect durable state rather than the zero value.
func NewStore(database *db.Database) *Store {
	return &Store{db: database, phase: PhaseIdle}
}

// Load recovers state at startup: it reads the Active position (if any) and reconciles every
// non-terminal order by asking the exchange for its current status (spec §4.8 edge case: a crash
// mid-submit must not silently strand an order).
func (s *Store) Load(ctx context.Context, exchangeClient OrderReconciler) error {
	pos, err := s.db.GetActivePosition(ctx)
	if err != nil {
		return fmt.Errorf("state: load active position: %w", err)
	}

	pending, err := s.db.ListNonTerminalOrders(ctx)
	if err != nil {
		return fmt.Errorf("state: list non-terminal orders: %w", err)
	}

	for _, o := range pending {
		if o.ExchangeID == "" || exchangeClient == nil {
			// Never reached the exchange: fail it outright, nothing to reconcile against.
			_ = s.db.FailOrder(ctx, o.ID, "recovered at startup with no exchange id")
			continue
		}
		remote, err := exchangeClient.GetOrder(ctx, o.ExchangeID)
		if err != nil {
			// Exchange unreachable during recovery; leave the order non-terminal for the next boot.
			continue
		}
		if !remote.Status.IsTerminal() {
			continue
		}
		if remote.Status == exchange.StatusExecuted {
			_ = s.db.UpdateOrderStatus(ctx, o.ID, string(remote.Status), remote.ExecutedVolume, remote.ExecutedQuote, "")
		} else {
			_ = s.db.FailOrder(ctx, o.ID, fmt.Sprintf("reconciled as %s at startup", remote.Status))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pos != nil {
		s.pos = pos
		s.phase = PhaseInPosition
	} else {
		s.phase = PhaseIdle
	}
	return nil
}

// Phase returns the current TradingState phase.
func (s *Store) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase transitions the phase. DecisionMaker/Executor drive this explicitly rather than
// inferring it from position presence, since Opening/Closing have no durable row of their own.
func (s *Store) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// ActivePosition returns the current position, or nil if there isn't one.
func (s *Store) ActivePosition() *db.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pos == nil {
		return nil
	}
	cp := *s.pos
	return &cp
}

// OnPositionOpened records a newly opened position in memory, mirroring what OpenPosition
// already committed to the DB within the same decision cycle.
func (s *Store) OnPositionOpened(pos db.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := pos
	s.pos = &cp
	s.phase = PhaseInPosition
}

// OnPositionClosed clears the in-memory position, mirroring a committed ClosePositionWithOrder.
func (s *Store) OnPositionClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = nil
	s.phase = PhaseIdle
}
