package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surgebot/internal/risk"
	"surgebot/internal/signal"
	"surgebot/internal/state"
	"surgebot/pkg/db"
)

type fakeBalance struct{ available float64 }

func (f fakeBalance) GetAvailable(ctx context.Context) (float64, error) { return f.available, nil }

func TestOnSignalOpensWhenIdleAndSized(t *testing.T) {
	store := state.NewStore(nil)
	m := New(Config{MinOrderAmountQuote: 10, MaxPositionRatio: 0.5}, store, fakeBalance{available: 100}, nil)

	d := m.onSignal(context.Background(), signal.Signal{Market: "KRW-BTC", Kind: signal.KindBuy})
	require.NotNil(t, d)
	assert.Equal(t, ActionOpen, d.Action)
	assert.InDelta(t, 50, d.QuoteAmount, 0.001)
	assert.Equal(t, state.PhaseOpening, store.Phase())
}

func TestOnSignalSkipsBelowMinOrderAmount(t *testing.T) {
	store := state.NewStore(nil)
	m := New(Config{MinOrderAmountQuote: 100, MaxPositionRatio: 0.5}, store, fakeBalance{available: 99}, nil)

	d := m.onSignal(context.Background(), signal.Signal{Market: "KRW-BTC", Kind: signal.KindBuy})
	assert.Nil(t, d)
	assert.Equal(t, state.PhaseIdle, store.Phase())
}

func TestOnSignalIgnoredWhileNotIdle(t *testing.T) {
	store := state.NewStore(nil)
	store.SetPhase(state.PhaseInPosition)
	m := New(Config{MinOrderAmountQuote: 10, MaxPositionRatio: 0.5}, store, fakeBalance{available: 100}, nil)

	d := m.onSignal(context.Background(), signal.Signal{Market: "KRW-BTC", Kind: signal.KindBuy})
	assert.Nil(t, d)
}

func TestOnRiskActionClosesActivePosition(t *testing.T) {
	store := state.NewStore(nil)
	store.OnPositionOpened(db.Position{ID: "p1", Market: "KRW-BTC", Status: "Active"})
	m := New(Config{}, store, fakeBalance{}, nil)

	d := m.onRiskAction(risk.Action{Market: "KRW-BTC", Reason: risk.ReasonStopLoss})
	require.NotNil(t, d)
	assert.Equal(t, ActionClose, d.Action)
	assert.Equal(t, "p1", d.PositionID)
	assert.Equal(t, state.PhaseClosing, store.Phase())
}
