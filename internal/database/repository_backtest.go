package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/backtest"
)

// ============================================================================
// BACKTEST RUNS
// ============================================================================

// CreateBacktestRun stores a pending run
func (r *Repository) CreateBacktestRun(ctx context.Context, params backtest.Params) (*BacktestRun, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}

	run := &BacktestRun{Params: raw, Status: RunPending}
	err = r.db.Pool.QueryRow(ctx,
		`INSERT INTO backtest_runs (params, status) VALUES ($1, $2) RETURNING id, created_at`,
		raw, run.Status).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// MarkRunRunning transitions a run to the running state
func (r *Repository) MarkRunRunning(ctx context.Context, runID int64) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE backtest_runs SET status = 'running' WHERE id = $1 AND status = 'pending'`, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRunResult stores a finished run's aggregates, skips and trades
func (r *Repository) SaveRunResult(ctx context.Context, runID int64, result *backtest.Result) error {
	skipped, err := json.Marshal(result.Skipped)
	if err != nil {
		return fmt.Errorf("marshaling skips: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE backtest_runs
		SET status = 'finished', total_trades = $2, win_rate = $3, total_return = $4,
			skipped = $5, finished_at = NOW()
		WHERE id = $1
	`, runID, result.TotalTrades, result.WinRate, result.TotalReturn, skipped)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	for _, trade := range result.Trades {
		_, err = tx.Exec(ctx, `
			INSERT INTO backtest_trades (run_id, event_id, ticker, direction, entry_price, exit_price,
				exit_reason, pnl_pct, profit_abs, trader_count, entry_time, exit_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, runID, trade.EventID, trade.Ticker, trade.Direction, trade.EntryPrice, trade.ExitPrice,
			trade.ExitReason, trade.PnLPct, trade.ProfitAbs, trade.TraderCount, trade.EntryTime, trade.ExitTime)
		if err != nil {
			return fmt.Errorf("inserting trade for event %s: %w", trade.EventID, err)
		}
	}

	return tx.Commit(ctx)
}

// MarkRunFailed records a run failure
func (r *Repository) MarkRunFailed(ctx context.Context, runID int64, runErr error) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE backtest_runs SET status = 'failed', error = $2, finished_at = NOW() WHERE id = $1`,
		runID, runErr.Error())
	return err
}

// GetBacktestRun retrieves one run
func (r *Repository) GetBacktestRun(ctx context.Context, id int64) (*BacktestRun, error) {
	run := &BacktestRun{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, params, status, error, total_trades, win_rate, total_return, created_at, finished_at
		FROM backtest_runs WHERE id = $1
	`, id).Scan(&run.ID, &run.Params, &run.Status, &run.Error,
		&run.TotalTrades, &run.WinRate, &run.TotalReturn, &run.CreatedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListBacktestRuns retrieves recent runs, newest first
func (r *Repository) ListBacktestRuns(ctx context.Context, limit int) ([]*BacktestRun, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, params, status, error, total_trades, win_rate, total_return, created_at, finished_at
		FROM backtest_runs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*BacktestRun
	for rows.Next() {
		run := &BacktestRun{}
		if err := rows.Scan(&run.ID, &run.Params, &run.Status, &run.Error,
			&run.TotalTrades, &run.WinRate, &run.TotalReturn, &run.CreatedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRunTrades retrieves the simulated trades of a run
func (r *Repository) GetRunTrades(ctx context.Context, runID int64) ([]backtest.Trade, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT event_id, ticker, direction, entry_price, exit_price, exit_reason,
			pnl_pct, profit_abs, trader_count, entry_time, exit_time
		FROM backtest_trades WHERE run_id = $1 ORDER BY entry_time, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []backtest.Trade
	for rows.Next() {
		var t backtest.Trade
		if err := rows.Scan(&t.EventID, &t.Ticker, &t.Direction, &t.EntryPrice, &t.ExitPrice,
			&t.ExitReason, &t.PnLPct, &t.ProfitAbs, &t.TraderCount, &t.EntryTime, &t.ExitTime); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// PruneOldRuns deletes finished runs older than the retention window
func (r *Repository) PruneOldRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM backtest_runs
		WHERE created_at < $1 AND status IN ('finished', 'failed')
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
