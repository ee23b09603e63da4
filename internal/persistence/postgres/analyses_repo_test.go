package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiinsight/insight/internal/persistence"
)

func TestAnalysesRepo_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalysesRepo(db, DefaultTimeout)

	id := uuid.New()
	userID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	result := json.RawMessage(`{"score":72}`)

	mock.ExpectQuery("INSERT INTO token_analyses").
		WithArgs(userID, "bitcoin", "BTC", "technical", []byte(result)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow(id.String(), now))

	a := &persistence.TokenAnalysis{
		UserID:      userID,
		TokenID:     "bitcoin",
		TokenSymbol: "BTC",
		Type:        persistence.AnalysisTechnical,
		Result:      result,
	}
	err := repo.Insert(context.Background(), a)
	require.NoError(t, err)

	assert.Equal(t, id, a.ID)
	assert.Equal(t, now, a.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalysesRepo_Insert_RejectsUnknownType(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewAnalysesRepo(db, DefaultTimeout)

	a := &persistence.TokenAnalysis{
		UserID: uuid.New(),
		Type:   persistence.AnalysisType("astrology"),
	}
	err := repo.Insert(context.Background(), a)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid analysis type")
}

func TestAnalysesRepo_GetByID_OwnershipScoped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalysesRepo(db, DefaultTimeout)

	id := uuid.New()
	owner := uuid.New()
	stranger := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery("SELECT id, user_id, token_id, token_symbol, analysis_type, result, created_at").
		WithArgs(id, owner).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "user_id", "token_id", "token_symbol", "analysis_type", "result", "created_at"}).
			AddRow(id.String(), owner.String(), "bitcoin", "BTC", "sentiment", []byte(`{"score":64}`), now))

	a, err := repo.GetByID(context.Background(), id, owner)
	require.NoError(t, err)
	assert.Equal(t, persistence.AnalysisSentiment, a.Type)
	assert.JSONEq(t, `{"score":64}`, string(a.Result))

	// Same row requested by another user comes back empty.
	mock.ExpectQuery("SELECT id, user_id, token_id, token_symbol, analysis_type, result, created_at").
		WithArgs(id, stranger).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "user_id", "token_id", "token_symbol", "analysis_type", "result", "created_at"}))

	_, err = repo.GetByID(context.Background(), id, stranger)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalysesRepo_ListByUser_TypeFilterAndPaging(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalysesRepo(db, DefaultTimeout)

	userID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(userID, "onchain").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(27))

	rows := sqlmock.NewRows(
		[]string{"id", "user_id", "token_id", "token_symbol", "analysis_type", "result", "created_at"})
	for i := 0; i < 2; i++ {
		rows.AddRow(uuid.New().String(), userID.String(), "pepe", "PEPE", "onchain", []byte(`{}`), now)
	}
	mock.ExpectQuery("SELECT id, user_id, token_id, token_symbol, analysis_type, result, created_at").
		WithArgs(userID, "onchain", 10, 10).
		WillReturnRows(rows)

	list, total, err := repo.ListByUser(context.Background(), userID, persistence.AnalysisFilter{
		Type:     persistence.AnalysisOnchain,
		Page:     2,
		PageSize: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 27, total)
	assert.Len(t, list, 2)
	assert.Equal(t, persistence.AnalysisOnchain, list[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalysesRepo_ListByUser_DefaultsPaging(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalysesRepo(db, DefaultTimeout)

	userID := uuid.New()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT id, user_id, token_id, token_symbol, analysis_type, result, created_at").
		WithArgs(userID, 20, 0).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "user_id", "token_id", "token_symbol", "analysis_type", "result", "created_at"}))

	list, total, err := repo.ListByUser(context.Background(), userID, persistence.AnalysisFilter{Page: -3, PageSize: 9000})
	require.NoError(t, err)

	assert.Zero(t, total)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}
