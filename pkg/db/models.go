package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Order represents a trading order persisted by the StateStore.
type Order struct {
	ID             string
	ExchangeID     string
	Market         string
	Side           string
	Price          sql.NullFloat64
	Volume         sql.NullFloat64
	QuoteAmount    sql.NullFloat64
	Status         string
	CreatedAt      time.Time
	ExecutedVolume float64
	ExecutedQuote  float64
	Error          sql.NullString
}

// Position tracks the single active (or historical) long position for a market.
type Position struct {
	ID         string
	Market     string
	EntryPrice float64
	Amount     float64
	EntryTime  time.Time
	StopLoss   float64
	TakeProfit float64
	ExitPrice  sql.NullFloat64
	ExitTime   sql.NullTime
	PnL        sql.NullFloat64
	PnLRate    sql.NullFloat64
	Status     string
}

// PriceTickRow is an append-only analytics record, written only when EnableTickLog is set.
type PriceTickRow struct {
	Market     string
	TimestampMs int64
	TradePrice float64
	ChangeRate float64
	Volume     float64
}

// SignalRow is an append-only analytics record, written only when EnableSignalLog is set.
type SignalRow struct {
	Market      string
	Kind        string
	Confidence  float64
	Reason      string
	TimestampMs int64
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, exchange_id, market, side, price, volume, quote_amount, status,
			created_at, executed_volume, executed_quote, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?, ?, ?)
	`,
		o.ID, nullStr(o.ExchangeID), o.Market, o.Side, o.Price, o.Volume, o.QuoteAmount,
		o.Status, o.CreatedAt, o.ExecutedVolume, o.ExecutedQuote, o.Error,
	)
	return err
}

// UpdateOrderStatus sets the terminal status, fill amounts and optional error for an order.
// Refuses to update a row that is already in a terminal status (Executed/Canceled/Failed),
// matching the store's immutable-terminal-row invariant.
func (d *Database) UpdateOrderStatus(ctx context.Context, id, status string, executedVolume, executedQuote float64, orderErr string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, executed_volume = ?, executed_quote = ?, error = ?
		WHERE id = ? AND status NOT IN ('Executed','Canceled','Failed')
	`, status, executedVolume, executedQuote, nullStr(orderErr), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %s: no non-terminal row updated (already terminal or missing)", id)
	}
	return nil
}

// SetOrderExchangeID records the exchange-assigned id once known.
func (d *Database) SetOrderExchangeID(ctx context.Context, id, exchangeID string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE orders SET exchange_id = ? WHERE id = ?`, exchangeID, id)
	return err
}

// GetOrder returns a single order by id.
func (d *Database) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, exchange_id, market, side, price, volume, quote_amount, status,
		       created_at, executed_volume, executed_quote, error
		FROM orders WHERE id = ?
	`, id)
	var o Order
	var exchangeID sql.NullString
	if err := row.Scan(&o.ID, &exchangeID, &o.Market, &o.Side, &o.Price, &o.Volume, &o.QuoteAmount,
		&o.Status, &o.CreatedAt, &o.ExecutedVolume, &o.ExecutedQuote, &o.Error); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	o.ExchangeID = exchangeID.String
	return &o, nil
}

// ListNonTerminalOrders returns orders still awaiting a definitive outcome, used on StateStore.Load
// to drive reconciliation against the exchange.
func (d *Database) ListNonTerminalOrders(ctx context.Context) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, exchange_id, market, side, price, volume, quote_amount, status,
		       created_at, executed_volume, executed_quote, error
		FROM orders WHERE status NOT IN ('Executed','Canceled','Failed')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		var o Order
		var exchangeID sql.NullString
		if err := rows.Scan(&o.ID, &exchangeID, &o.Market, &o.Side, &o.Price, &o.Volume, &o.QuoteAmount,
			&o.Status, &o.CreatedAt, &o.ExecutedVolume, &o.ExecutedQuote, &o.Error); err != nil {
			return nil, err
		}
		o.ExchangeID = exchangeID.String
		res = append(res, o)
	}
	return res, rows.Err()
}

// GetActivePosition returns the single Active position, or nil if flat.
func (d *Database) GetActivePosition(ctx context.Context) (*Position, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, market, entry_price, amount, entry_time, stop_loss, take_profit,
		       exit_price, exit_time, pnl, pnl_rate, status
		FROM positions WHERE status = 'Active'
	`)
	var p Position
	if err := row.Scan(&p.ID, &p.Market, &p.EntryPrice, &p.Amount, &p.EntryTime, &p.StopLoss, &p.TakeProfit,
		&p.ExitPrice, &p.ExitTime, &p.PnL, &p.PnLRate, &p.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// InsertPriceTickQuery is the price_ticks INSERT, exported so batched writers (internal/market)
// issue the exact same statement instead of hand-duplicating the column list.
const InsertPriceTickQuery = `INSERT INTO price_ticks (market, ts_ms, trade_price, change_rate, volume) VALUES (?, ?, ?, ?, ?)`

// InsertSignalQuery is the signals INSERT, exported so batched writers (internal/signal) issue the
// exact same statement instead of hand-duplicating the column list.
const InsertSignalQuery = `INSERT INTO signals (market, kind, confidence, reason, ts_ms) VALUES (?, ?, ?, ?, ?)`

// InsertPriceTick appends a tick to the analytics log (no-op caller should gate on EnableTickLog).
func (d *Database) InsertPriceTick(ctx context.Context, t PriceTickRow) error {
	_, err := d.DB.ExecContext(ctx, InsertPriceTickQuery, t.Market, t.TimestampMs, t.TradePrice, t.ChangeRate, t.Volume)
	return err
}

// InsertSignal appends a signal to the analytics log (no-op caller should gate on EnableSignalLog).
func (d *Database) InsertSignal(ctx context.Context, s SignalRow) error {
	_, err := d.DB.ExecContext(ctx, InsertSignalQuery, s.Market, s.Kind, s.Confidence, s.Reason, s.TimestampMs)
	return err
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
