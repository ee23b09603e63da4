package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/agents"
	"github.com/defiinsight/insight/internal/agents/token"
	"github.com/defiinsight/insight/internal/events"
	"github.com/defiinsight/insight/internal/persistence"
)

const (
	agentTechnical = "technical"
	agentSentiment = "sentiment"
	agentOnchain   = "onchain"
)

// analysisRecord is a stored analysis as the API returns it.
type analysisRecord struct {
	ID          uuid.UUID                `json:"id"`
	UserID      uuid.UUID                `json:"user_id"`
	TokenID     string                   `json:"token_id"`
	TokenSymbol string                   `json:"token_symbol,omitempty"`
	Type        persistence.AnalysisType `json:"analysis_type"`
	Result      json.RawMessage          `json:"result"`
	CreatedAt   time.Time                `json:"created_at"`
}

func toAnalysisRecord(a *persistence.TokenAnalysis) analysisRecord {
	return analysisRecord{
		ID:          a.ID,
		UserID:      a.UserID,
		TokenID:     a.TokenID,
		TokenSymbol: a.TokenSymbol,
		Type:        a.Type,
		Result:      a.Result,
		CreatedAt:   a.CreatedAt,
	}
}

// runHandler runs one agent for the authenticated user and persists the
// result.
func (s *Server) runHandler(agentName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := mustUser(r)

		var req agents.Request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}

		agent, err := s.agents.Agent(agentName)
		if err != nil {
			log.Error().Err(err).Str("agent", agentName).Msg("Agent not registered")
			writeError(w, r, http.StatusInternalServerError, codeInternal, "agent unavailable")
			return
		}

		if err := agent.Validate(req); err != nil {
			writeAgentError(w, r, err)
			return
		}

		start := time.Now()
		res, err := agent.Analyze(r.Context(), req)
		if err != nil {
			writeAgentError(w, r, err)
			return
		}
		res.Agent = agent.Name()
		if res.Token == "" {
			res.Token = req.Token
		}
		res.GeneratedAt = time.Now().UTC()
		res.DurationMS = time.Since(start).Milliseconds()

		raw, err := json.Marshal(res)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to encode analysis result")
			return
		}

		rec := &persistence.TokenAnalysis{
			UserID:      claims.UserID,
			TokenID:     res.Token,
			TokenSymbol: res.Symbol,
			Type:        persistence.AnalysisType(agentName),
			Result:      raw,
		}
		if err := s.analyses.Insert(r.Context(), rec); err != nil {
			log.Error().Err(err).Str("agent", agentName).Msg("Failed to store analysis")
			writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to store analysis")
			return
		}

		if s.metrics != nil {
			s.metrics.RecordAnalysis(agentName)
		}
		if s.events != nil {
			s.events.AnalysisCompleted(events.AnalysisCompleted{
				UserID:     claims.UserID,
				AnalysisID: rec.ID,
				Type:       agentName,
				Token:      res.Token,
				DurationMS: res.DurationMS,
			})
		}

		writeSuccess(w, r, http.StatusCreated, toAnalysisRecord(rec))
	}
}

// getHandler serves one stored analysis, owner only. The id must belong to
// an analysis of the route's type; a technical id fetched through the
// sentiment route is a client error, not a miss.
func (s *Server) getHandler(want persistence.AnalysisType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := mustUser(r)

		id, err := uuid.Parse(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, "invalid analysis id")
			return
		}

		rec, err := s.analyses.GetByID(r.Context(), id, claims.UserID)
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, codeNotFound, "analysis not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("id", id.String()).Msg("Failed to load analysis")
			writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to load analysis")
			return
		}

		if rec.Type != want {
			writeError(w, r, http.StatusBadRequest, codeBadRequest,
				fmt.Sprintf("analysis %s is %s, not %s", rec.ID, rec.Type, want))
			return
		}

		writeSuccess(w, r, http.StatusOK, toAnalysisRecord(rec))
	}
}

// listHandler serves a user's analyses of one type, newest first. Users can
// only list their own.
func (s *Server) listHandler(want persistence.AnalysisType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := mustUser(r)

		userID, err := uuid.Parse(mux.Vars(r)["user_id"])
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, "invalid user id")
			return
		}
		if userID != claims.UserID {
			writeError(w, r, http.StatusForbidden, codeForbidden, "cannot list another user's analyses")
			return
		}

		filter := persistence.AnalysisFilter{
			Type:     want,
			TokenID:  strings.TrimSpace(r.URL.Query().Get("token")),
			Page:     queryInt(r, "page", 1),
			PageSize: queryInt(r, "page_size", 20),
		}.Normalize()

		items, total, err := s.analyses.ListByUser(r.Context(), userID, filter)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to list analyses")
			writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to list analyses")
			return
		}

		records := make([]analysisRecord, 0, len(items))
		for i := range items {
			records = append(records, toAnalysisRecord(&items[i]))
		}

		writePaginated(w, r, records, NewPagination(filter.Page, filter.PageSize, total))
	}
}

// writeAgentError maps agent failures onto API errors: refused requests are
// the caller's fault, everything else is an upstream problem.
func writeAgentError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *agents.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeValidationError(w, r, FieldError{Field: vErr.Field, Reason: vErr.Reason})
	case errors.Is(err, token.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, codeUpstream, "analysis timed out")
	default:
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Analysis failed")
		writeError(w, r, http.StatusBadGateway, codeUpstream, "upstream analysis data unavailable")
	}
}
