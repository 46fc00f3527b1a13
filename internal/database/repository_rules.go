package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/consensus"
)

// ============================================================================
// CONSENSUS RULES
// ============================================================================

const ruleColumns = `id, name, min_traders, window_minutes, strict_consensus, ticker_filter,
	direction_filter, min_confidence, min_strength, indicator_conditions, is_active, priority,
	created_at, updated_at`

// CreateRule inserts a new consensus rule
func (r *Repository) CreateRule(ctx context.Context, rule *consensus.Rule) error {
	conditions, err := json.Marshal(rule.IndicatorConditions)
	if err != nil {
		return fmt.Errorf("marshaling indicator conditions: %w", err)
	}
	query := `
		INSERT INTO rules (name, min_traders, window_minutes, strict_consensus, ticker_filter,
			direction_filter, min_confidence, min_strength, indicator_conditions, is_active, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		rule.Name, rule.MinTraders, rule.WindowMinutes, rule.StrictConsensus, rule.TickerFilter,
		rule.DirectionFilter, rule.MinConfidence, rule.MinStrength, conditions, rule.IsActive, rule.Priority,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// UpdateRule updates an existing consensus rule
func (r *Repository) UpdateRule(ctx context.Context, rule *consensus.Rule) error {
	conditions, err := json.Marshal(rule.IndicatorConditions)
	if err != nil {
		return fmt.Errorf("marshaling indicator conditions: %w", err)
	}
	query := `
		UPDATE rules
		SET name = $2, min_traders = $3, window_minutes = $4, strict_consensus = $5, ticker_filter = $6,
			direction_filter = $7, min_confidence = $8, min_strength = $9, indicator_conditions = $10,
			is_active = $11, priority = $12, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		rule.ID, rule.Name, rule.MinTraders, rule.WindowMinutes, rule.StrictConsensus, rule.TickerFilter,
		rule.DirectionFilter, rule.MinConfidence, rule.MinStrength, conditions, rule.IsActive, rule.Priority)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule and cascades to its events
func (r *Repository) DeleteRule(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRuleByID retrieves one rule
func (r *Repository) GetRuleByID(ctx context.Context, id int64) (*consensus.Rule, error) {
	rules, err := r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ErrNotFound
	}
	return &rules[0], nil
}

// ListRules retrieves all rules including inactive ones
func (r *Repository) ListRules(ctx context.Context) ([]consensus.Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY priority DESC, id`)
}

func (r *Repository) queryRules(ctx context.Context, query string, args ...any) ([]consensus.Rule, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []consensus.Rule
	for rows.Next() {
		var rule consensus.Rule
		var conditions []byte
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.MinTraders, &rule.WindowMinutes,
			&rule.StrictConsensus, &rule.TickerFilter, &rule.DirectionFilter,
			&rule.MinConfidence, &rule.MinStrength, &conditions,
			&rule.IsActive, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &rule.IndicatorConditions); err != nil {
				return nil, fmt.Errorf("unmarshaling indicator conditions for rule %d: %w", rule.ID, err)
			}
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
