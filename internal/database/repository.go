package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/extractor"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("database: not found")

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// CHANNELS
// ============================================================================

// CreateChannel inserts a new monitored channel
func (r *Repository) CreateChannel(ctx context.Context, ch *Channel) error {
	query := `
		INSERT INTO channels (name, source, external_id, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query, ch.Name, ch.Source, ch.ExternalID, ch.IsActive).
		Scan(&ch.ID, &ch.CreatedAt)
}

// GetChannelByID retrieves a channel by ID
func (r *Repository) GetChannelByID(ctx context.Context, id int64) (*Channel, error) {
	query := `
		SELECT id, name, source, external_id, is_active, created_at
		FROM channels
		WHERE id = $1
	`
	ch := &Channel{}
	err := r.db.Pool.QueryRow(ctx, query, id).
		Scan(&ch.ID, &ch.Name, &ch.Source, &ch.ExternalID, &ch.IsActive, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// ListChannels retrieves all channels
func (r *Repository) ListChannels(ctx context.Context) ([]*Channel, error) {
	query := `
		SELECT id, name, source, external_id, is_active, created_at
		FROM channels
		ORDER BY id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		ch := &Channel{}
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Source, &ch.ExternalID, &ch.IsActive, &ch.CreatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// SetChannelActive toggles ingestion for a channel
func (r *Repository) SetChannelActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE channels SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// MESSAGES
// ============================================================================

// CreateMessage inserts a raw channel message in the unparsed state
func (r *Repository) CreateMessage(ctx context.Context, msg *extractor.Message) error {
	if msg.ParseState == "" {
		msg.ParseState = extractor.StateUnparsed
	}
	query := `
		INSERT INTO messages (channel_id, author, text, received_at, parse_state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.db.Pool.QueryRow(ctx, query,
		msg.ChannelID, msg.Author, msg.Text, msg.ReceivedAt, msg.ParseState,
	).Scan(&msg.ID)
}

// GetUnparsedMessages retrieves messages awaiting extraction, oldest first
func (r *Repository) GetUnparsedMessages(ctx context.Context, limit int) ([]extractor.Message, error) {
	query := `
		SELECT id, channel_id, COALESCE(author, ''), text, received_at, parse_state
		FROM messages
		WHERE parse_state = 'unparsed'
		ORDER BY received_at
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []extractor.Message
	for rows.Next() {
		var msg extractor.Message
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.Author, &msg.Text, &msg.ReceivedAt, &msg.ParseState); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SetParseState records the outcome of an extraction attempt. Messages only
// move forward out of the unparsed state, a re-parse never resurrects them;
// the sole way back is ResetFailedMessages.
func (r *Repository) SetParseState(ctx context.Context, messageID int64, state extractor.ParseState) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE messages SET parse_state = $2 WHERE id = $1 AND parse_state = 'unparsed'`,
		messageID, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMessagesByState returns message counts per parse state for a channel.
// Pass zero to count across all channels.
func (r *Repository) CountMessagesByState(ctx context.Context, channelID int64) (map[extractor.ParseState]int, error) {
	query := `SELECT parse_state, COUNT(*) FROM messages GROUP BY parse_state`
	args := []any{}
	if channelID != 0 {
		query = `SELECT parse_state, COUNT(*) FROM messages WHERE channel_id = $1 GROUP BY parse_state`
		args = append(args, channelID)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[extractor.ParseState]int)
	for rows.Next() {
		var state extractor.ParseState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// ResetFailedMessages returns failed messages to the unparsed state so an
// updated pattern set can take another pass at them.
func (r *Repository) ResetFailedMessages(ctx context.Context, channelID int64) (int64, error) {
	query := `UPDATE messages SET parse_state = 'unparsed' WHERE parse_state = 'failed'`
	args := []any{}
	if channelID != 0 {
		query += ` AND channel_id = $1`
		args = append(args, channelID)
	}
	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("resetting failed messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
