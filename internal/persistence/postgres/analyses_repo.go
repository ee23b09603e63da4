package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/defiinsight/insight/internal/persistence"
)

// analysesRepo implements AnalysesRepo for PostgreSQL.
type analysesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAnalysesRepo creates a PostgreSQL analyses repository.
func NewAnalysesRepo(db *sqlx.DB, timeout time.Duration) persistence.AnalysesRepo {
	return &analysesRepo{
		db:      db,
		timeout: timeout,
	}
}

// Insert stores a completed analysis and fills ID and CreatedAt.
func (r *analysesRepo) Insert(ctx context.Context, a *persistence.TokenAnalysis) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !a.Type.Valid() {
		return fmt.Errorf("invalid analysis type: %s", a.Type)
	}

	query := `
		INSERT INTO token_analyses (user_id, token_id, token_symbol, analysis_type, result)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		a.UserID, a.TokenID, a.TokenSymbol, a.Type, []byte(a.Result)).
		Scan(&a.ID, &a.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	return nil
}

// GetByID returns the analysis only when userID owns it.
func (r *analysesRepo) GetByID(ctx context.Context, id, userID uuid.UUID) (*persistence.TokenAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, user_id, token_id, token_symbol, analysis_type, result, created_at
		FROM token_analyses
		WHERE id = $1 AND user_id = $2`

	row := r.db.QueryRowxContext(ctx, query, id, userID)

	a, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return a, nil
}

// ListByUser returns one page of analyses, newest first, plus the total
// row count for the filter.
func (r *analysesRepo) ListByUser(ctx context.Context, userID uuid.UUID, f persistence.AnalysisFilter) ([]persistence.TokenAnalysis, int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	f = f.Normalize()

	where := []string{"user_id = $1"}
	args := []interface{}{userID}

	if f.Type != "" {
		if !f.Type.Valid() {
			return nil, 0, fmt.Errorf("invalid analysis type: %s", f.Type)
		}
		args = append(args, f.Type)
		where = append(where, "analysis_type = $"+strconv.Itoa(len(args)))
	}
	if f.TokenID != "" {
		args = append(args, f.TokenID)
		where = append(where, "token_id = $"+strconv.Itoa(len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM token_analyses WHERE " + cond
	if err := r.db.QueryRowxContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count analyses: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, token_id, token_symbol, analysis_type, result, created_at
		FROM token_analyses
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, cond, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, f.Offset())

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	analyses, err := scanAnalyses(rows)
	if err != nil {
		return nil, 0, err
	}

	return analyses, total, nil
}

// Helper methods

func scanAnalyses(rows *sqlx.Rows) ([]persistence.TokenAnalysis, error) {
	var analyses []persistence.TokenAnalysis

	for rows.Next() {
		a, err := scanAnalysisFromRows(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return analyses, nil
}

func scanAnalysis(row *sqlx.Row) (*persistence.TokenAnalysis, error) {
	var a persistence.TokenAnalysis
	var result []byte

	err := row.Scan(
		&a.ID, &a.UserID, &a.TokenID, &a.TokenSymbol,
		&a.Type, &result, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	a.Result = result
	return &a, nil
}

func scanAnalysisFromRows(rows *sqlx.Rows) (*persistence.TokenAnalysis, error) {
	var a persistence.TokenAnalysis
	var result []byte

	err := rows.Scan(
		&a.ID, &a.UserID, &a.TokenID, &a.TokenSymbol,
		&a.Type, &result, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	a.Result = result
	return &a, nil
}
