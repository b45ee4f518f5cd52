package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestOpenPositionEnforcesAtMostOneActive(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if err := database.CreateOrder(ctx, Order{ID: "o1", Market: "KRW-BTC", Side: "Bid", Status: "Waiting", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create order 1: %v", err)
	}
	if err := database.OpenPosition(ctx, "o1", 0.01, 500000, Position{
		ID: "p1", Market: "KRW-BTC", EntryPrice: 50000000, Amount: 0.01, EntryTime: time.Now(),
		StopLoss: 47500000, TakeProfit: 55000000,
	}); err != nil {
		t.Fatalf("open position 1: %v", err)
	}

	if err := database.CreateOrder(ctx, Order{ID: "o2", Market: "KRW-ETH", Side: "Bid", Status: "Waiting", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create order 2: %v", err)
	}
	err := database.OpenPosition(ctx, "o2", 1.0, 3000000, Position{
		ID: "p2", Market: "KRW-ETH", EntryPrice: 3000000, Amount: 1.0, EntryTime: time.Now(),
		StopLoss: 2850000, TakeProfit: 3300000,
	})
	if err == nil {
		t.Fatalf("expected second OpenPosition to fail due to the active-position unique index")
	}

	active, err := database.GetActivePosition(ctx)
	if err != nil {
		t.Fatalf("get active position: %v", err)
	}
	if active == nil || active.ID != "p1" {
		t.Fatalf("expected p1 still active, got %+v", active)
	}
}

func TestClosePositionRefusesDoubleClose(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if err := database.CreateOrder(ctx, Order{ID: "o1", Market: "KRW-BTC", Side: "Bid", Status: "Waiting", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := database.OpenPosition(ctx, "o1", 0.01, 500000, Position{
		ID: "p1", Market: "KRW-BTC", EntryPrice: 50000000, Amount: 0.01, EntryTime: time.Now(),
		StopLoss: 47500000, TakeProfit: 55000000,
	}); err != nil {
		t.Fatalf("open position: %v", err)
	}

	if err := database.CreateOrder(ctx, Order{ID: "o2", Market: "KRW-BTC", Side: "Ask", Status: "Waiting", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create close order: %v", err)
	}
	if err := database.ClosePositionWithOrder(ctx, "o2", 0.01, 550000, "p1", 55000000, 50000, 0.1); err != nil {
		t.Fatalf("close position: %v", err)
	}

	if err := database.CreateOrder(ctx, Order{ID: "o3", Market: "KRW-BTC", Side: "Ask", Status: "Waiting", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create second close order: %v", err)
	}
	if err := database.ClosePositionWithOrder(ctx, "o3", 0.01, 550000, "p1", 55000000, 50000, 0.1); err == nil {
		t.Fatalf("expected re-closing an already Closed position to fail")
	}

	active, err := database.GetActivePosition(ctx)
	if err != nil {
		t.Fatalf("get active position: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active position after close, got %+v", active)
	}
}

func TestFailOrderRefusesTerminalRow(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if err := database.CreateOrder(ctx, Order{ID: "o1", Market: "KRW-BTC", Side: "Bid", Status: "Waiting", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := database.FailOrder(ctx, "o1", "ambiguous"); err != nil {
		t.Fatalf("fail order: %v", err)
	}
	if err := database.FailOrder(ctx, "o1", "ambiguous again"); err == nil {
		t.Fatalf("expected FailOrder on an already-terminal order to error")
	}

	got, err := database.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != "Failed" || !got.Error.Valid || got.Error.String != "ambiguous" {
		t.Fatalf("unexpected order state: %+v", got)
	}
}

func TestListNonTerminalOrdersForRecovery(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if err := database.CreateOrder(ctx, Order{ID: "o1", Market: "KRW-BTC", Side: "Bid", Status: "Waiting", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create order 1: %v", err)
	}
	if err := database.CreateOrder(ctx, Order{ID: "o2", Market: "KRW-BTC", Side: "Bid", Status: "PartiallyFilled", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create order 2: %v", err)
	}
	if err := database.CreateOrder(ctx, Order{ID: "o3", Market: "KRW-BTC", Side: "Bid", Status: "Executed", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create order 3: %v", err)
	}

	pending, err := database.ListNonTerminalOrders(ctx)
	if err != nil {
		t.Fatalf("list non-terminal orders: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 non-terminal orders, got %d", len(pending))
	}
}
