package db

import (
	"context"
	"fmt"
	"time"
)

// OpenPosition atomically marks an order Executed and inserts the resulting Active position in a
// single transaction. Fails if another Active position already exists (idx_positions_active) or if
// the order row is not in a non-terminal state; both are Integrity errors to the caller.
func (d *Database) OpenPosition(ctx context.Context, orderID string, executedVolume, executedQuote float64, pos Position) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = 'Executed', executed_volume = ?, executed_quote = ?
		WHERE id = ? AND status NOT IN ('Executed','Canceled','Failed')
	`, executedVolume, executedQuote, orderID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("order %s: already terminal, refusing to open position", orderID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO positions (id, market, entry_price, amount, entry_time, stop_loss, take_profit, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'Active')
	`, pos.ID, pos.Market, pos.EntryPrice, pos.Amount, pos.EntryTime, pos.StopLoss, pos.TakeProfit); err != nil {
		return fmt.Errorf("insert position (active position already exists?): %w", err)
	}

	return tx.Commit()
}

// ClosePositionWithOrder atomically marks an order Executed and the given position Closed with
// realized PnL, in a single transaction.
func (d *Database) ClosePositionWithOrder(ctx context.Context, orderID string, executedVolume, executedQuote float64, positionID string, exitPrice, pnl, pnlRate float64) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = 'Executed', executed_volume = ?, executed_quote = ?
		WHERE id = ? AND status NOT IN ('Executed','Canceled','Failed')
	`, executedVolume, executedQuote, orderID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("order %s: already terminal, refusing to close position", orderID)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE positions
		SET status = 'Closed', exit_price = ?, exit_time = ?, pnl = ?, pnl_rate = ?
		WHERE id = ? AND status = 'Active'
	`, exitPrice, time.Now(), pnl, pnlRate, positionID)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("position %s: no Active row to close", positionID)
	}

	return tx.Commit()
}

// FailOrder marks an order Failed with the given reason, refusing to touch a terminal row.
func (d *Database) FailOrder(ctx context.Context, orderID, reason string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET status = 'Failed', error = ?
		WHERE id = ? AND status NOT IN ('Executed','Canceled','Failed')
	`, reason, orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %s: already terminal", orderID)
	}
	return nil
}
