// Package snapshot implements the read-only Provider contract consumed by the out-of-scope
// UI/web dashboard (spec §6): a point-in-time StateSnapshot plus a live Event feed. Grounded on
// the teacher's events.Bus subscribe/unsubscribe pattern and pkg/cache.ShardedPriceCache for the
// latest-price view; Provider itself has no teacher analogue since the original repo shipped its
// own gin-based dashboard rather than a narrow interface boundary.
package snapshot

import (
	"sync"
	"time"

	"surgebot/internal/events"
	"surgebot/pkg/cache"
	"surgebot/pkg/db"
)

// AgentState is whether a supervised agent is healthy.
type AgentState string

const (
	AgentRunning AgentState = "Running"
	AgentIdle    AgentState = "Idle"
	AgentError   AgentState = "Error"
)

// AgentStatus reports one agent's health for the dashboard.
type AgentStatus struct {
	State      AgentState
	Message    string
	LastUpdate time.Time
}

// StateSnapshot is the full point-in-time view handed to a dashboard on request.
type StateSnapshot struct {
	Position *db.Position
	Balance  float64
	Agents   map[string]AgentStatus
	Prices   map[string]float64
}

// Event is forwarded verbatim from the shared bus to snapshot subscribers.
type Event struct {
	Topic   events.Event
	Payload any
}

// Provider is the read-only interface the core exposes to an external dashboard.
type Provider interface {
	Snapshot() StateSnapshot
	Subscribe(buffer int) (<-chan Event, func())
}

// PositionSource supplies the active position for Snapshot().
type PositionSource interface {
	ActivePosition() *db.Position
}

// Store implements Provider. It holds no independent state beyond agent health — positions and
// prices are read live from their owning components on every Snapshot() call.
type Store struct {
	bus       *events.Bus
	position  PositionSource
	cache     *cache.ShardedPriceCache
	balanceFn func() float64
	markets   []string

	statusMu sync.RWMutex
	statuses map[string]AgentStatus
}

// New builds a Store. balanceFn reads the current available balance on demand; Store neither
// refreshes that value nor checks its age, so it is as fresh as whatever balanceFn returns.
func New(bus *events.Bus, position PositionSource, priceCache *cache.ShardedPriceCache, markets []string, balanceFn func() float64) *Store {
	return &Store{
		bus: bus, position: position, cache: priceCache, markets: markets, balanceFn: balanceFn,
		statuses: make(map[string]AgentStatus),
	}
}

// ReportStatus records an agent's health, called by Supervisor on start/stop/panic.
func (s *Store) ReportStatus(agent string, state AgentState, message string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.statuses[agent] = AgentStatus{State: state, Message: message, LastUpdate: time.Now()}
}

// Snapshot returns the current point-in-time view.
func (s *Store) Snapshot() StateSnapshot {
	s.statusMu.RLock()
	agents := make(map[string]AgentStatus, len(s.statuses))
	for k, v := range s.statuses {
		agents[k] = v
	}
	s.statusMu.RUnlock()

	prices := make(map[string]float64, len(s.markets))
	if s.cache != nil {
		for _, m := range s.markets {
			if p, ok := s.cache.Get(m); ok {
				prices[m] = p
			}
		}
	}

	var pos *db.Position
	if s.position != nil {
		pos = s.position.ActivePosition()
	}

	bal := 0.0
	if s.balanceFn != nil {
		bal = s.balanceFn()
	}

	return StateSnapshot{Position: pos, Balance: bal, Agents: agents, Prices: prices}
}

// Subscribe mirrors the shared bus's events onto a dashboard-facing channel. It fans in every
// topic a dashboard would plausibly want rather than requiring per-topic subscriptions.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	out := make(chan Event, buffer)
	topics := []events.Event{
		events.EventPriceTick, events.EventSignal, events.EventDecision, events.EventRiskAction,
		events.EventOrderSubmitted, events.EventOrderFilled, events.EventOrderFailed,
		events.EventPositionChange, events.EventSystem,
	}

	var unsubs []func()
	for _, topic := range topics {
		stream, unsub := s.bus.Subscribe(topic, buffer)
		unsubs = append(unsubs, unsub)
		go func(topic events.Event, stream <-chan any) {
			for payload := range stream {
				select {
				case out <- Event{Topic: topic, Payload: payload}:
				default:
				}
			}
		}(topic, stream)
	}

	stop := func() {
		for _, u := range unsubs {
			u()
		}
		close(out)
	}
	return out, stop
}
