package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/consensus"
)

// ============================================================================
// CONSENSUS EVENTS
// ============================================================================

const eventColumns = `id, rule_id, ticker, direction, trader_count, signal_count,
	strength, window_minutes, avg_entry_price, detected_at, status`

// CreateEvent stores a consensus event and its contributing-signal links in
// one transaction.
func (r *Repository) CreateEvent(ctx context.Context, ev *consensus.Event) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO consensus_events (id, rule_id, ticker, direction, trader_count, signal_count,
			strength, window_minutes, avg_entry_price, detected_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := tx.Exec(ctx, query,
		ev.ID, ev.RuleID, ev.Ticker, ev.Direction, ev.TraderCount, ev.SignalCount,
		ev.Strength, ev.WindowMinutes, ev.AvgEntryPrice, ev.DetectedAt, ev.Status); err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	for _, sigID := range ev.SignalIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO consensus_event_signals (event_id, signal_id) VALUES ($1, $2)`,
			ev.ID, sigID); err != nil {
			return fmt.Errorf("linking signal %d: %w", sigID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetEventByID retrieves one event with its signal IDs
func (r *Repository) GetEventByID(ctx context.Context, id string) (*consensus.Event, error) {
	ev := &consensus.Event{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM consensus_events WHERE id = $1`, id).Scan(
		&ev.ID, &ev.RuleID, &ev.Ticker, &ev.Direction, &ev.TraderCount, &ev.SignalCount,
		&ev.Strength, &ev.WindowMinutes, &ev.AvgEntryPrice, &ev.DetectedAt, &ev.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Pool.Query(ctx,
		`SELECT signal_id FROM consensus_event_signals WHERE event_id = $1 ORDER BY signal_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sigID int64
		if err := rows.Scan(&sigID); err != nil {
			return nil, err
		}
		ev.SignalIDs = append(ev.SignalIDs, sigID)
	}
	return ev, rows.Err()
}

// EventFilter scopes event listing
type EventFilter struct {
	RuleID int64
	Ticker string
	Status consensus.EventStatus
	From   time.Time
	To     time.Time
	Limit  int
}

// ListEvents retrieves events matching the filter, newest first
func (r *Repository) ListEvents(ctx context.Context, filter EventFilter) ([]consensus.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM consensus_events WHERE 1=1`
	var args []any

	add := func(clause string, val any) {
		args = append(args, val)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}
	if filter.RuleID != 0 {
		add("rule_id =", filter.RuleID)
	}
	if filter.Ticker != "" {
		add("ticker =", filter.Ticker)
	}
	if filter.Status != "" {
		add("status =", filter.Status)
	}
	if !filter.From.IsZero() {
		add("detected_at >=", filter.From)
	}
	if !filter.To.IsZero() {
		add("detected_at <=", filter.To)
	}
	query += " ORDER BY detected_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []consensus.Event
	for rows.Next() {
		var ev consensus.Event
		if err := rows.Scan(&ev.ID, &ev.RuleID, &ev.Ticker, &ev.Direction, &ev.TraderCount,
			&ev.SignalCount, &ev.Strength, &ev.WindowMinutes, &ev.AvgEntryPrice,
			&ev.DetectedAt, &ev.Status); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CloseStaleEvents marks active events older than the cutoff as closed and
// returns how many were touched.
func (r *Repository) CloseStaleEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE consensus_events SET status = 'closed' WHERE status = 'active' AND detected_at < $1`,
		olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
