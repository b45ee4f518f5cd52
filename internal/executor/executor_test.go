package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surgebot/internal/balance"
	"surgebot/internal/decision"
	"surgebot/internal/risk"
	"surgebot/internal/state"
	"surgebot/pkg/db"
	"surgebot/pkg/exchange"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	d, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(d))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestExecutorOpenThenCloseRoundTrip(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	store := state.NewStore(database)
	mockExchange := exchange.NewMockClient("KRW", 1_000_000)
	mockExchange.NowPrice = 100

	balMgr := balance.NewManager(nil, "KRW", time.Hour, time.Hour)
	balMgr.SetInitialBalance(1_000_000)
	riskMgr := risk.NewManager(risk.Config{StopLossRate: 0.05, TakeProfitRate: 0.10})

	exec := New(Config{StopLossRate: 0.05, TakeProfitRate: 0.10}, mockExchange, database, store, balMgr, riskMgr, nil)

	openErr := exec.open(ctx, decision.Decision{Action: decision.ActionOpen, Market: "KRW-BTC", QuoteAmount: 10_000})
	require.NoError(t, openErr)

	pos := store.ActivePosition()
	require.NotNil(t, pos)
	assert.Equal(t, "KRW-BTC", pos.Market)
	assert.Equal(t, state.PhaseInPosition, store.Phase())

	closeErr := exec.close(ctx, decision.Decision{Action: decision.ActionClose, Market: "KRW-BTC", PositionID: pos.ID})
	require.NoError(t, closeErr)
	assert.Nil(t, store.ActivePosition())
	assert.Equal(t, state.PhaseIdle, store.Phase())
}
