package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/persistence"
)

type portfolioRequest struct {
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Assets      []persistence.PortfolioAsset `json:"assets"`
}

// portfolioResponse decorates the stored portfolio with its cost basis.
type portfolioResponse struct {
	*persistence.Portfolio
	CostBasisUSD float64 `json:"cost_basis_usd"`
}

func toPortfolioResponse(p *persistence.Portfolio) portfolioResponse {
	return portfolioResponse{Portfolio: p, CostBasisUSD: p.CostBasis()}
}

func validatePortfolio(req portfolioRequest) []FieldError {
	var fields []FieldError

	name := strings.TrimSpace(req.Name)
	if name == "" {
		fields = append(fields, FieldError{Field: "name", Reason: "required"})
	} else if len(name) > 120 {
		fields = append(fields, FieldError{Field: "name", Reason: "must be 120 characters or fewer"})
	}

	for i, a := range req.Assets {
		if strings.TrimSpace(a.Symbol) == "" {
			fields = append(fields, FieldError{
				Field:  fmt.Sprintf("assets[%d].symbol", i),
				Reason: "required",
			})
		}
		if a.Amount <= 0 {
			fields = append(fields, FieldError{
				Field:  fmt.Sprintf("assets[%d].amount", i),
				Reason: "must be greater than zero",
			})
		}
		if a.PurchasePrice < 0 {
			fields = append(fields, FieldError{
				Field:  fmt.Sprintf("assets[%d].purchase_price", i),
				Reason: "cannot be negative",
			})
		}
	}
	return fields
}

func normalizeAssets(assets []persistence.PortfolioAsset) []persistence.PortfolioAsset {
	out := make([]persistence.PortfolioAsset, 0, len(assets))
	for _, a := range assets {
		a.Symbol = strings.ToUpper(strings.TrimSpace(a.Symbol))
		a.Address = strings.TrimSpace(a.Address)
		a.Chain = strings.ToLower(strings.TrimSpace(a.Chain))
		out = append(out, a)
	}
	return out
}

// snapshotPortfolio appends the portfolio's current composition to its
// history. Best effort: a failed snapshot never fails the request.
func (s *Server) snapshotPortfolio(ctx context.Context, p *persistence.Portfolio) {
	snap := persistence.PortfolioSnapshot{
		PortfolioID:  p.ID,
		UserID:       p.UserID,
		Assets:       p.Assets,
		CostBasisUSD: p.CostBasis(),
	}
	if err := s.portfolios.SaveSnapshots(ctx, []persistence.PortfolioSnapshot{snap}); err != nil {
		log.Warn().Err(err).Str("portfolio_id", p.ID.String()).Msg("Failed to record portfolio snapshot")
	}
}

func (s *Server) handlePortfolioCreate(w http.ResponseWriter, r *http.Request) {
	claims := mustUser(r)

	var req portfolioRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if fields := validatePortfolio(req); len(fields) > 0 {
		writeValidationError(w, r, fields...)
		return
	}

	p := &persistence.Portfolio{
		UserID:      claims.UserID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Assets:      normalizeAssets(req.Assets),
	}
	if err := s.portfolios.Create(r.Context(), p); err != nil {
		log.Error().Err(err).Msg("Failed to create portfolio")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to create portfolio")
		return
	}

	s.snapshotPortfolio(r.Context(), p)
	writeSuccess(w, r, http.StatusCreated, toPortfolioResponse(p))
}

func (s *Server) handlePortfolioGet(w http.ResponseWriter, r *http.Request) {
	claims := mustUser(r)

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "invalid portfolio id")
		return
	}

	p, err := s.portfolios.GetByID(r.Context(), id, claims.UserID)
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "portfolio not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("Failed to load portfolio")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to load portfolio")
		return
	}

	writeSuccess(w, r, http.StatusOK, toPortfolioResponse(p))
}

func (s *Server) handlePortfolioList(w http.ResponseWriter, r *http.Request) {
	claims := mustUser(r)
	s.writePortfolios(w, r, claims.UserID)
}

func (s *Server) handlePortfolioListByUser(w http.ResponseWriter, r *http.Request) {
	claims := mustUser(r)

	userID, err := uuid.Parse(mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "invalid user id")
		return
	}
	if userID != claims.UserID {
		writeError(w, r, http.StatusForbidden, codeForbidden, "cannot list another user's portfolios")
		return
	}

	s.writePortfolios(w, r, userID)
}

func (s *Server) writePortfolios(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	items, err := s.portfolios.ListByUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to list portfolios")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to list portfolios")
		return
	}

	out := make([]portfolioResponse, 0, len(items))
	for i := range items {
		out = append(out, toPortfolioResponse(&items[i]))
	}
	writeSuccess(w, r, http.StatusOK, out)
}

func (s *Server) handlePortfolioUpdate(w http.ResponseWriter, r *http.Request) {
	claims := mustUser(r)

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "invalid portfolio id")
		return
	}

	var req portfolioRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if fields := validatePortfolio(req); len(fields) > 0 {
		writeValidationError(w, r, fields...)
		return
	}

	p := &persistence.Portfolio{
		ID:          id,
		UserID:      claims.UserID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Assets:      normalizeAssets(req.Assets),
	}
	if err := s.portfolios.Update(r.Context(), p); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, codeNotFound, "portfolio not found")
			return
		}
		log.Error().Err(err).Str("id", id.String()).Msg("Failed to update portfolio")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to update portfolio")
		return
	}
	s.snapshotPortfolio(r.Context(), p)

	// Re-read for the canonical row, including created_at.
	stored, err := s.portfolios.GetByID(r.Context(), id, claims.UserID)
	if err != nil {
		writeSuccess(w, r, http.StatusOK, toPortfolioResponse(p))
		return
	}
	writeSuccess(w, r, http.StatusOK, toPortfolioResponse(stored))
}

func (s *Server) handlePortfolioDelete(w http.ResponseWriter, r *http.Request) {
	claims := mustUser(r)

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "invalid portfolio id")
		return
	}

	if err := s.portfolios.Delete(r.Context(), id, claims.UserID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, codeNotFound, "portfolio not found")
			return
		}
		log.Error().Err(err).Str("id", id.String()).Msg("Failed to delete portfolio")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to delete portfolio")
		return
	}

	writeMessage(w, r, http.StatusOK, "portfolio deleted")
}

func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	claims := mustUser(r)

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "invalid portfolio id")
		return
	}

	// Ownership check before touching history.
	if _, err := s.portfolios.GetByID(r.Context(), id, claims.UserID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, codeNotFound, "portfolio not found")
			return
		}
		log.Error().Err(err).Str("id", id.String()).Msg("Failed to load portfolio")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to load portfolio")
		return
	}

	limit := queryInt(r, "limit", 50)
	snaps, err := s.portfolios.ListSnapshots(r.Context(), id, claims.UserID, limit)
	if err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("Failed to load portfolio history")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to load portfolio history")
		return
	}

	writeSuccess(w, r, http.StatusOK, snaps)
}
