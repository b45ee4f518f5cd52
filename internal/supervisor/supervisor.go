// Package supervisor implements the Supervisor: starts every agent in its own goroutine and
// applies the restart policy spec §7 assigns to each component (indefinite backoff for the
// exchange stream and market monitor, restart after a panic or error for the signal/risk agents,
// no auto-restart for the executor on an integrity error). Durable state is restored by the
// caller (main.go runs state.Store.Load) before Run is called.
// Grounded on the teacher's cmd/trading-core/main.go wiring sequence (DB -> state -> risk ->
// balance -> gateway -> feed -> API), generalized into explicit per-agent restart supervision
// instead of inline goroutines with no restart behavior at all.
package supervisor

import (
	"context"
	"log"
	"math"
	"time"

	"surgebot/internal/events"
	"surgebot/internal/notify"
	"surgebot/internal/snapshot"
)

// Policy controls how a supervised agent is restarted after it returns/panics.
type Policy string

const (
	// PolicyBackoff restarts indefinitely with exponential backoff (ExchangeStream, MarketMonitor).
	PolicyBackoff Policy = "backoff"
	// PolicyRestartOnPanic restarts after a panic or a returned error, not after a clean nil return
	// (SignalDetector, RiskManager).
	PolicyRestartOnPanic Policy = "restart-on-panic"
	// PolicyNone never restarts; an Executor integrity error halts trading until operator intervention.
	PolicyNone Policy = "none"
)

// Agent is a supervised unit of work. Run should block until ctx is cancelled or it fails.
type Agent struct {
	Name   string
	Policy Policy
	Run    func(ctx context.Context) error
}

// Supervisor runs a fixed set of agents with their individual restart policies.
type Supervisor struct {
	bus      *events.Bus
	status   *snapshot.Store
	notifier *notify.Watcher
}

// New builds a Supervisor.
func New(bus *events.Bus, status *snapshot.Store, notifier *notify.Watcher) *Supervisor {
	return &Supervisor{bus: bus, status: status, notifier: notifier}
}

// Run starts every agent and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, agents []Agent) {
	for _, a := range agents {
		go s.supervise(ctx, a)
	}
	<-ctx.Done()
}

func (s *Supervisor) supervise(ctx context.Context, a Agent) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.runOnce(ctx, a)
		if ctx.Err() != nil {
			return
		}

		switch a.Policy {
		case PolicyNone:
			s.report(a.Name, snapshot.AgentError, errString(err))
			log.Printf("supervisor: %s stopped (policy=none), not restarting: %v", a.Name, err)
			return

		case PolicyRestartOnPanic:
			if err == nil {
				s.report(a.Name, snapshot.AgentIdle, "returned cleanly")
				log.Printf("supervisor: %s returned cleanly, not restarting", a.Name)
				return
			}
			s.report(a.Name, snapshot.AgentError, errString(err))
			log.Printf("supervisor: %s failed, restarting: %v", a.Name, err)
			attempt++
			sleepBackoff(ctx, attempt)

		case PolicyBackoff:
			s.report(a.Name, snapshot.AgentError, errString(err))
			attempt++
			delay := sleepBackoff(ctx, attempt)
			log.Printf("supervisor: %s failed, restarting in %s: %v", a.Name, delay, err)
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, a Agent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	s.report(a.Name, snapshot.AgentRunning, "")
	return a.Run(ctx)
}

func (s *Supervisor) report(name string, state snapshot.AgentState, msg string) {
	if s.status != nil {
		s.status.ReportStatus(name, state, msg)
	}
}

type panicError struct{ v any }

func (p panicError) Error() string { return "panic: " + toString(p.v) }

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "recovered panic"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sleepBackoff waits min(60s, 2^attempt * time.Second) with no jitter (agent restarts are rare
// enough that thundering-herd jitter isn't needed, unlike the per-tick websocket reconnect).
func sleepBackoff(ctx context.Context, attempt int) time.Duration {
	delay := time.Duration(math.Min(60, math.Pow(2, float64(attempt)))) * time.Second
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
	return delay
}
