// Package persistence defines the stored entities and the repository
// interfaces the rest of the service depends on. Implementations live in
// the postgres subpackage; handlers and tests program against these
// interfaces.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no row matches, including rows that
	// exist but belong to another user.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("persistence: duplicate")
)

// User is an account row. The bcrypt hash never leaves this package's
// callers; the json tag keeps it out of any serialized form.
type User struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Email          string    `json:"email" db:"email"`
	HashedPassword string    `json:"-" db:"hashed_password"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// AnalysisType discriminates stored analysis results.
type AnalysisType string

const (
	AnalysisTechnical AnalysisType = "technical"
	AnalysisSentiment AnalysisType = "sentiment"
	AnalysisOnchain   AnalysisType = "onchain"
)

func (t AnalysisType) Valid() bool {
	switch t {
	case AnalysisTechnical, AnalysisSentiment, AnalysisOnchain:
		return true
	}
	return false
}

// TokenAnalysis is one completed agent run kept for the user.
type TokenAnalysis struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	UserID      uuid.UUID       `json:"user_id" db:"user_id"`
	TokenID     string          `json:"token_id" db:"token_id"`
	TokenSymbol string          `json:"token_symbol" db:"token_symbol"`
	Type        AnalysisType    `json:"analysis_type" db:"analysis_type"`
	Result      json.RawMessage `json:"result" db:"result"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AnalysisFilter narrows and pages ListByUser.
type AnalysisFilter struct {
	Type     AnalysisType
	TokenID  string
	Page     int
	PageSize int
}

// Normalize clamps paging to sane bounds.
func (f AnalysisFilter) Normalize() AnalysisFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
	return f
}

func (f AnalysisFilter) Offset() int { return (f.Page - 1) * f.PageSize }

// PortfolioAsset is one holding inside a portfolio. The slice is stored as
// a JSONB column, not a child table; updates replace it whole.
type PortfolioAsset struct {
	Symbol        string     `json:"symbol"`
	Address       string     `json:"address,omitempty"`
	Chain         string     `json:"chain,omitempty"`
	Amount        float64    `json:"amount"`
	PurchasePrice float64    `json:"purchase_price,omitempty"`
	PurchaseDate  *time.Time `json:"purchase_date,omitempty"`
}

// Portfolio is a named collection of holdings.
type Portfolio struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	UserID      uuid.UUID        `json:"user_id" db:"user_id"`
	Name        string           `json:"name" db:"name"`
	Description string           `json:"description,omitempty" db:"description"`
	Assets      []PortfolioAsset `json:"assets" db:"assets"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// CostBasis is the sum the holdings were bought for, in the purchase
// currency. Assets without a purchase price contribute nothing.
func (p *Portfolio) CostBasis() float64 {
	total := 0.0
	for _, a := range p.Assets {
		total += a.Amount * a.PurchasePrice
	}
	return total
}

// PortfolioSnapshot records the holdings of a portfolio at a point in
// time, written whenever composition changes.
type PortfolioSnapshot struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	PortfolioID  uuid.UUID        `json:"portfolio_id" db:"portfolio_id"`
	UserID       uuid.UUID        `json:"user_id" db:"user_id"`
	Assets       []PortfolioAsset `json:"assets" db:"assets"`
	CostBasisUSD float64          `json:"cost_basis_usd" db:"cost_basis_usd"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

// Preferences is the per-user settings row.
type Preferences struct {
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	Theme           string          `json:"theme" db:"theme"`
	DefaultCurrency string          `json:"default_currency" db:"default_currency"`
	DashboardConfig json.RawMessage `json:"dashboard_config" db:"dashboard_config"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// DefaultPreferences returns the settings a user starts with.
func DefaultPreferences(userID uuid.UUID) *Preferences {
	return &Preferences{
		UserID:          userID,
		Theme:           "dark",
		DefaultCurrency: "usd",
		DashboardConfig: json.RawMessage(`{}`),
	}
}

// UsersRepo stores accounts.
type UsersRepo interface {
	// Create inserts the user and fills ID and timestamps. Duplicate
	// emails return ErrDuplicate.
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// AnalysesRepo stores completed agent runs.
type AnalysesRepo interface {
	// Insert stores the analysis and fills ID and CreatedAt.
	Insert(ctx context.Context, a *TokenAnalysis) error
	// GetByID returns the row only when it belongs to userID.
	GetByID(ctx context.Context, id, userID uuid.UUID) (*TokenAnalysis, error)
	// ListByUser returns one page plus the total row count for the
	// filter.
	ListByUser(ctx context.Context, userID uuid.UUID, f AnalysisFilter) ([]TokenAnalysis, int, error)
}

// PortfoliosRepo stores portfolios and their composition history.
type PortfoliosRepo interface {
	Create(ctx context.Context, p *Portfolio) error
	GetByID(ctx context.Context, id, userID uuid.UUID) (*Portfolio, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Portfolio, error)
	// Update replaces name, description, and assets. ErrNotFound when
	// the row is missing or owned by someone else.
	Update(ctx context.Context, p *Portfolio) error
	Delete(ctx context.Context, id, userID uuid.UUID) error

	// SaveSnapshots batch-inserts composition snapshots atomically.
	SaveSnapshots(ctx context.Context, snapshots []PortfolioSnapshot) error
	ListSnapshots(ctx context.Context, portfolioID, userID uuid.UUID, limit int) ([]PortfolioSnapshot, error)
}

// PreferencesRepo stores per-user settings.
type PreferencesRepo interface {
	// Get returns the stored row, or the defaults when none exists yet.
	Get(ctx context.Context, userID uuid.UUID) (*Preferences, error)
	Upsert(ctx context.Context, p *Preferences) error
}
