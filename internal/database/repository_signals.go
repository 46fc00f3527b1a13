package database

import (
	"context"
	"time"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/extractor"
)

// ============================================================================
// SIGNALS
// ============================================================================

const signalColumns = `id, message_id, ticker, direction, COALESCE(author, ''),
	target_price, stop_price, take_price, confidence, signal_time`

// CreateSignal inserts an extracted signal
func (r *Repository) CreateSignal(ctx context.Context, sig *extractor.Signal) error {
	query := `
		INSERT INTO signals (message_id, ticker, direction, author, target_price, stop_price, take_price, confidence, signal_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	return r.db.Pool.QueryRow(ctx, query,
		sig.MessageID, sig.Ticker, sig.Direction, sig.Author,
		sig.TargetPrice, sig.StopPrice, sig.TakePrice, sig.Confidence, sig.Timestamp,
	).Scan(&sig.ID)
}

// GetSignalsInRange retrieves signals inside [from, to] in timestamp order,
// the order the consensus detector requires.
func (r *Repository) GetSignalsInRange(ctx context.Context, from, to time.Time) ([]extractor.Signal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE signal_time >= $1 AND signal_time <= $2
		ORDER BY signal_time, id
	`
	return r.querySignals(ctx, query, from, to)
}

// GetSignalsByTicker retrieves the most recent signals for one ticker
func (r *Repository) GetSignalsByTicker(ctx context.Context, ticker string, limit int) ([]extractor.Signal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE ticker = $1
		ORDER BY signal_time DESC
		LIMIT $2
	`
	return r.querySignals(ctx, query, ticker, limit)
}

// GetSignalsForEvent retrieves the signals that contributed to an event
func (r *Repository) GetSignalsForEvent(ctx context.Context, eventID string) ([]extractor.Signal, error) {
	query := `
		SELECT s.id, s.message_id, s.ticker, s.direction, COALESCE(s.author, ''),
			s.target_price, s.stop_price, s.take_price, s.confidence, s.signal_time
		FROM signals s
		JOIN consensus_event_signals es ON es.signal_id = s.id
		WHERE es.event_id = $1
		ORDER BY s.signal_time, s.id
	`
	return r.querySignals(ctx, query, eventID)
}

func (r *Repository) querySignals(ctx context.Context, query string, args ...any) ([]extractor.Signal, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []extractor.Signal
	for rows.Next() {
		var sig extractor.Signal
		if err := rows.Scan(&sig.ID, &sig.MessageID, &sig.Ticker, &sig.Direction, &sig.Author,
			&sig.TargetPrice, &sig.StopPrice, &sig.TakePrice, &sig.Confidence, &sig.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}
