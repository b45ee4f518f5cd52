// Package executor implements Executor: turns a DecisionMaker Decision into a durable order,
// submits it to the exchange, resolves ambiguous outcomes with bounded polling, and commits the
// resulting position transition atomically via StateStore's DB helpers. Adapted from the
// teacher's order.Executor (persist -> submit -> publish) and order.Queue (buffered intake),
// narrowed from a multi-gateway/multi-strategy design to the spec's single exchange, single
// in-flight decision model (§4.6).
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"surgebot/internal/balance"
	"surgebot/internal/decision"
	"surgebot/internal/events"
	"surgebot/internal/risk"
	"surgebot/internal/state"
	"surgebot/pkg/db"
	"surgebot/pkg/exchange"
)

// ExchangeClient is the capability Executor needs from pkg/exchange.Client / MockClient.
type ExchangeClient interface {
	SubmitOrder(ctx context.Context, intent exchange.OrderIntent) (exchange.SubmitResult, error)
	GetOrder(ctx context.Context, exchangeID string) (exchange.Order, error)
}

// Config holds Executor's bounded-poll reconciliation parameters.
type Config struct {
	PollInterval  time.Duration
	MaxPollCount  int
	StopLossRate  float64
	TakeProfitRate float64
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 1 * time.Second
	}
	if c.MaxPollCount == 0 {
		c.MaxPollCount = 30
	}
	return c
}

// Executor is Executor.
type Executor struct {
	cfg      Config
	exchange ExchangeClient
	db       *db.Database
	store    *state.Store
	bal      *balance.Manager
	risk     *risk.Manager
	bus      *events.Bus
}

// New builds an Executor.
func New(cfg Config, exchangeClient ExchangeClient, database *db.Database, store *state.Store, bal *balance.Manager, riskMgr *risk.Manager, bus *events.Bus) *Executor {
	return &Executor{cfg: cfg.withDefaults(), exchange: exchangeClient, db: database, store: store, bal: bal, risk: riskMgr, bus: bus}
}

// Run consumes decisions one at a time until ctx is cancelled or the channel closes. Decisions
// are handled sequentially by design: DecisionMaker never emits a second decision while a
// position is Opening/Closing (spec invariant: at most one decision in flight).
func (e *Executor) Run(ctx context.Context, decisions <-chan decision.Decision) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-decisions:
			if !ok {
				return
			}
			e.handle(ctx, d)
		}
	}
}

func (e *Executor) handle(ctx context.Context, d decision.Decision) {
	var err error
	switch d.Action {
	case decision.ActionOpen:
		err = e.open(ctx, d)
	case decision.ActionClose:
		err = e.close(ctx, d)
	}
	if err != nil {
		log.Printf("executor: decision %+v failed: %v", d, err)
		// A buy the exchange rejected or never filled has already returned the phase to Idle in
		// open; every other failure halts trading.
		if !(d.Action == decision.ActionOpen && e.store.Phase() == state.PhaseIdle) {
			e.store.SetPhase(state.PhaseError)
		}
		if e.bus != nil {
			e.bus.Publish(events.EventOrderFailed, err.Error())
		}
	}
}

func (e *Executor) open(ctx context.Context, d decision.Decision) error {
	orderID := uuid.NewString()
	order := db.Order{ID: orderID, Market: d.Market, Side: string(exchange.SideBid), Status: string(exchange.StatusWaiting),
		QuoteAmount: nullFloat(d.QuoteAmount), CreatedAt: time.Now()}
	if err := e.db.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("persist order: %w", err)
	}
	if e.bus != nil {
		e.bus.Publish(events.EventOrderSubmitted, order)
	}

	if err := e.bal.Lock(d.QuoteAmount); err != nil {
		_ = e.db.FailOrder(ctx, orderID, err.Error())
		return fmt.Errorf("lock balance: %w", err)
	}

	result, submitErr := e.exchange.SubmitOrder(ctx, exchange.OrderIntent{ClientID: orderID, Market: d.Market, Side: exchange.SideBid, QuoteAmount: d.QuoteAmount})
	final, err := e.resolve(ctx, orderID, result, submitErr)
	if err != nil {
		e.bal.Unlock(d.QuoteAmount)
		_ = e.db.FailOrder(ctx, orderID, err.Error())
		e.store.SetPhase(state.PhaseIdle)
		return err
	}

	_ = e.db.SetOrderExchangeID(ctx, orderID, final.ExchangeID)

	entryPrice := 0.0
	if final.ExecutedVolume > 0 {
		entryPrice = final.ExecutedQuote / final.ExecutedVolume
	}
	positionID := uuid.NewString()
	pos := db.Position{
		ID: positionID, Market: d.Market, EntryPrice: entryPrice, Amount: final.ExecutedVolume,
		EntryTime: time.Now(),
		StopLoss:  entryPrice * (1 - e.cfg.StopLossRate),
		TakeProfit: entryPrice * (1 + e.cfg.TakeProfitRate),
	}
	if err := e.db.OpenPosition(ctx, orderID, final.ExecutedVolume, final.ExecutedQuote, pos); err != nil {
		// Integrity violation (e.g. a second Active position slipped through): surface and halt.
		return fmt.Errorf("commit open position: %w", err)
	}

	e.bal.Deduct(final.ExecutedQuote)
	e.store.OnPositionOpened(pos)
	e.risk.Restore(pos.ID, pos.Market, pos.EntryPrice, pos.Amount, pos.StopLoss, pos.TakeProfit)
	if e.bus != nil {
		e.bus.Publish(events.EventOrderFilled, order)
		e.bus.Publish(events.EventPositionChange, pos)
	}
	log.Printf("executor: opened position %s market=%s entry=%.8f amount=%.8f", pos.ID, pos.Market, pos.EntryPrice, pos.Amount)
	return nil
}

func (e *Executor) close(ctx context.Context, d decision.Decision) error {
	pos := e.store.ActivePosition()
	if pos == nil || pos.ID != d.PositionID {
		return fmt.Errorf("close: no matching active position for %s", d.PositionID)
	}

	orderID := uuid.NewString()
	order := db.Order{ID: orderID, Market: d.Market, Side: string(exchange.SideAsk), Status: string(exchange.StatusWaiting),
		Volume: nullFloat(pos.Amount), CreatedAt: time.Now()}
	if err := e.db.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("persist order: %w", err)
	}
	if e.bus != nil {
		e.bus.Publish(events.EventOrderSubmitted, order)
	}

	result, submitErr := e.exchange.SubmitOrder(ctx, exchange.OrderIntent{ClientID: orderID, Market: d.Market, Side: exchange.SideAsk, Volume: pos.Amount})
	final, err := e.resolve(ctx, orderID, result, submitErr)
	if err != nil {
		_ = e.db.FailOrder(ctx, orderID, err.Error())
		e.store.SetPhase(state.PhaseInPosition)
		return err
	}

	_ = e.db.SetOrderExchangeID(ctx, orderID, final.ExchangeID)

	exitPrice := 0.0
	if final.ExecutedVolume > 0 {
		exitPrice = final.ExecutedQuote / final.ExecutedVolume
	}
	pnl := final.ExecutedQuote - pos.EntryPrice*final.ExecutedVolume
	pnlRate := 0.0
	if pos.EntryPrice > 0 {
		pnlRate = (exitPrice - pos.EntryPrice) / pos.EntryPrice
	}

	if err := e.db.ClosePositionWithOrder(ctx, orderID, final.ExecutedVolume, final.ExecutedQuote, pos.ID, exitPrice, pnl, pnlRate); err != nil {
		return fmt.Errorf("commit close position: %w", err)
	}

	e.bal.Add(final.ExecutedQuote)
	e.store.OnPositionClosed()
	e.risk.Clear()
	if e.bus != nil {
		e.bus.Publish(events.EventOrderFilled, order)
		e.bus.Publish(events.EventPositionChange, pos)
	}
	log.Printf("executor: closed position %s market=%s exit=%.8f pnl=%.8f pnl_rate=%.4f", pos.ID, pos.Market, exitPrice, pnl, pnlRate)
	return nil
}

// resolve turns a SubmitOrder outcome into a terminal exchange.Order. When the exchange accepted
// the order with a non-terminal status, or an ambiguous error still carries an exchange id, it
// polls GetOrder by exchange id up to MaxPollCount times. An ambiguous error without an exchange
// id fails the decision without polling: there is no lookup by the client order id.
func (e *Executor) resolve(ctx context.Context, orderID string, result exchange.SubmitResult, submitErr error) (exchange.Order, error) {
	var exID string
	if submitErr == nil {
		exID = result.ExchangeID
		if result.Status.IsTerminal() {
			o, err := e.exchange.GetOrder(ctx, exID)
			if err == nil {
				return o, nil
			}
		}
	} else {
		var exErr *exchange.ExchangeError
		if errors.As(submitErr, &exErr) && exErr.Kind != exchange.ErrKindAmbiguous {
			return exchange.Order{}, submitErr
		}
		// Ambiguous: the order may or may not have reached the exchange. Without an exchange id we
		// cannot reconcile by polling; treat the whole decision as failed rather than guess.
		if result.ExchangeID == "" {
			return exchange.Order{}, fmt.Errorf("ambiguous submit with no exchange id: %w", submitErr)
		}
		exID = result.ExchangeID
	}

	for i := 0; i < e.cfg.MaxPollCount; i++ {
		select {
		case <-ctx.Done():
			return exchange.Order{}, ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}
		o, err := e.exchange.GetOrder(ctx, exID)
		if err != nil {
			continue
		}
		if o.Status.IsTerminal() {
			if o.Status != exchange.StatusExecuted {
				return exchange.Order{}, fmt.Errorf("order %s resolved as %s", orderID, o.Status)
			}
			return o, nil
		}
	}
	return exchange.Order{}, fmt.Errorf("order %s: ambiguous outcome unresolved after %d polls", orderID, e.cfg.MaxPollCount)
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}
