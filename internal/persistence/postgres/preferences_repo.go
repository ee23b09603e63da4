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

// preferencesRepo implements PreferencesRepo for PostgreSQL.
type preferencesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPreferencesRepo creates a PostgreSQL preferences repository.
func NewPreferencesRepo(db *sqlx.DB, timeout time.Duration) persistence.PreferencesRepo {
	return &preferencesRepo{
		db:      db,
		timeout: timeout,
	}
}

// Get returns the stored preferences, or the defaults when the user has
// never saved any. Defaults are not written back; the row appears on
// first Upsert.
func (r *preferencesRepo) Get(ctx context.Context, userID uuid.UUID) (*persistence.Preferences, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT user_id, theme, default_currency, dashboard_config, updated_at
		FROM user_preferences
		WHERE user_id = $1`

	var prefs persistence.Preferences
	var configJSON []byte

	err := r.db.QueryRowxContext(ctx, query, userID).Scan(
		&prefs.UserID, &prefs.Theme, &prefs.DefaultCurrency,
		&configJSON, &prefs.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.DefaultPreferences(userID), nil
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	if len(configJSON) > 0 {
		prefs.DashboardConfig = json.RawMessage(configJSON)
	} else {
		prefs.DashboardConfig = json.RawMessage(`{}`)
	}

	return &prefs, nil
}

// Upsert writes the whole preferences row, inserting on first save.
func (r *preferencesRepo) Upsert(ctx context.Context, p *persistence.Preferences) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	config := p.DashboardConfig
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	} else if !json.Valid(config) {
		return fmt.Errorf("invalid dashboard config json")
	}

	query := `
		INSERT INTO user_preferences (user_id, theme, default_currency, dashboard_config)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET theme = EXCLUDED.theme,
		    default_currency = EXCLUDED.default_currency,
		    dashboard_config = EXCLUDED.dashboard_config,
		    updated_at = now()
		RETURNING updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		p.UserID, p.Theme, p.DefaultCurrency, []byte(config)).
		Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}

	p.DashboardConfig = config
	return nil
}
