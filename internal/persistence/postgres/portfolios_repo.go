package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/defiinsight/insight/internal/persistence"
)

// portfoliosRepo implements PortfoliosRepo for PostgreSQL.
type portfoliosRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPortfoliosRepo creates a PostgreSQL portfolios repository.
func NewPortfoliosRepo(db *sqlx.DB, timeout time.Duration) persistence.PortfoliosRepo {
	return &portfoliosRepo{
		db:      db,
		timeout: timeout,
	}
}

// Create inserts the portfolio and fills ID and timestamps.
func (r *portfoliosRepo) Create(ctx context.Context, p *persistence.Portfolio) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	assetsJSON, err := marshalAssets(p.Assets)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO portfolios (user_id, name, description, assets)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err = r.db.QueryRowxContext(ctx, query,
		p.UserID, p.Name, p.Description, assetsJSON).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert portfolio: %w", err)
	}

	return nil
}

// GetByID returns the portfolio only when userID owns it.
func (r *portfoliosRepo) GetByID(ctx context.Context, id, userID uuid.UUID) (*persistence.Portfolio, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, user_id, name, description, assets, created_at, updated_at
		FROM portfolios
		WHERE id = $1 AND user_id = $2`

	row := r.db.QueryRowxContext(ctx, query, id, userID)

	p, err := scanPortfolio(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	return p, nil
}

// ListByUser returns all portfolios for the user, newest first.
func (r *portfoliosRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]persistence.Portfolio, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, user_id, name, description, assets, created_at, updated_at
		FROM portfolios
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	return scanPortfolios(rows)
}

// Update replaces name, description, and assets. The ownership predicate
// makes updating someone else's portfolio indistinguishable from a
// missing row.
func (r *portfoliosRepo) Update(ctx context.Context, p *persistence.Portfolio) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	assetsJSON, err := marshalAssets(p.Assets)
	if err != nil {
		return err
	}

	query := `
		UPDATE portfolios
		SET name = $3, description = $4, assets = $5, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING updated_at`

	err = r.db.QueryRowxContext(ctx, query,
		p.ID, p.UserID, p.Name, p.Description, assetsJSON).
		Scan(&p.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrNotFound
		}
		return fmt.Errorf("failed to update portfolio: %w", err)
	}

	return nil
}

func (r *portfoliosRepo) Delete(ctx context.Context, id, userID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM portfolios WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete portfolio: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

// SaveSnapshots batch-inserts composition snapshots atomically via a
// prepared statement.
func (r *portfoliosRepo) SaveSnapshots(ctx context.Context, snapshots []persistence.PortfolioSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(snapshots)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO portfolio_snapshots (portfolio_id, user_id, assets, cost_basis_usd)
		VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		assetsJSON, err := marshalAssets(snap.Assets)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx,
			snap.PortfolioID, snap.UserID, assetsJSON, snap.CostBasisUSD)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot in batch: %w", err)
		}
	}

	return tx.Commit()
}

// ListSnapshots returns the newest composition snapshots for a portfolio
// the user owns.
func (r *portfoliosRepo) ListSnapshots(ctx context.Context, portfolioID, userID uuid.UUID, limit int) ([]persistence.PortfolioSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit < 1 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT id, portfolio_id, user_id, assets, cost_basis_usd, created_at
		FROM portfolio_snapshots
		WHERE portfolio_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, portfolioID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []persistence.PortfolioSnapshot
	for rows.Next() {
		var snap persistence.PortfolioSnapshot
		var assetsJSON []byte

		err := rows.Scan(&snap.ID, &snap.PortfolioID, &snap.UserID,
			&assetsJSON, &snap.CostBasisUSD, &snap.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		if snap.Assets, err = unmarshalAssets(assetsJSON); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return snapshots, nil
}

// Helper methods

func scanPortfolios(rows *sqlx.Rows) ([]persistence.Portfolio, error) {
	var portfolios []persistence.Portfolio

	for rows.Next() {
		p, err := scanPortfolioFromRows(rows)
		if err != nil {
			return nil, err
		}
		portfolios = append(portfolios, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return portfolios, nil
}

func scanPortfolio(row *sqlx.Row) (*persistence.Portfolio, error) {
	var p persistence.Portfolio
	var assetsJSON []byte

	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Description,
		&assetsJSON, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if p.Assets, err = unmarshalAssets(assetsJSON); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPortfolioFromRows(rows *sqlx.Rows) (*persistence.Portfolio, error) {
	var p persistence.Portfolio
	var assetsJSON []byte

	err := rows.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Description,
		&assetsJSON, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if p.Assets, err = unmarshalAssets(assetsJSON); err != nil {
		return nil, err
	}
	return &p, nil
}

func marshalAssets(assets []persistence.PortfolioAsset) ([]byte, error) {
	if assets == nil {
		assets = []persistence.PortfolioAsset{}
	}
	data, err := json.Marshal(assets)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assets: %w", err)
	}
	return data, nil
}

func unmarshalAssets(data []byte) ([]persistence.PortfolioAsset, error) {
	assets := []persistence.PortfolioAsset{}
	if len(data) == 0 {
		return assets, nil
	}
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assets: %w", err)
	}
	return assets, nil
}
