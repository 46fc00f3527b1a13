package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/patterns"
)

// ============================================================================
// PATTERNS
// ============================================================================

const patternColumns = `id, name, category, expression, priority, is_active, description, created_at, updated_at`

// CreatePattern inserts a new extraction pattern
func (r *Repository) CreatePattern(ctx context.Context, p *patterns.Pattern) error {
	query := `
		INSERT INTO patterns (name, category, expression, priority, is_active, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		p.Name, p.Category, p.Expression, p.Priority, p.IsActive, p.Description,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// UpdatePattern updates an existing pattern
func (r *Repository) UpdatePattern(ctx context.Context, p *patterns.Pattern) error {
	query := `
		UPDATE patterns
		SET name = $2, category = $3, expression = $4, priority = $5, is_active = $6, description = $7, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		p.ID, p.Name, p.Category, p.Expression, p.Priority, p.IsActive, p.Description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePattern removes a pattern
func (r *Repository) DeletePattern(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM patterns WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPatternByID retrieves one pattern
func (r *Repository) GetPatternByID(ctx context.Context, id int64) (*patterns.Pattern, error) {
	query := `SELECT ` + patternColumns + ` FROM patterns WHERE id = $1`
	p := &patterns.Pattern{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Category, &p.Expression, &p.Priority,
		&p.IsActive, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPatterns retrieves the full pattern set including inactive entries
func (r *Repository) ListPatterns(ctx context.Context) ([]patterns.Pattern, error) {
	return r.queryPatterns(ctx, `SELECT `+patternColumns+` FROM patterns ORDER BY category, priority DESC, id`)
}

// ListActivePatterns retrieves the patterns the extractor compiles from
func (r *Repository) ListActivePatterns(ctx context.Context) ([]patterns.Pattern, error) {
	return r.queryPatterns(ctx, `SELECT `+patternColumns+` FROM patterns WHERE is_active ORDER BY category, priority DESC, id`)
}

// SeedPatterns inserts the given patterns only when the table is empty
func (r *Repository) SeedPatterns(ctx context.Context, set []patterns.Pattern) (int, error) {
	var count int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	for i := range set {
		if err := r.CreatePattern(ctx, &set[i]); err != nil {
			return i, err
		}
	}
	return len(set), nil
}

func (r *Repository) queryPatterns(ctx context.Context, query string, args ...any) ([]patterns.Pattern, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []patterns.Pattern
	for rows.Next() {
		var p patterns.Pattern
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Expression, &p.Priority,
			&p.IsActive, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
