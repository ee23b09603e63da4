package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// preferencesRequest uses pointers so a PUT can update a subset of fields;
// omitted fields keep their stored values.
type preferencesRequest struct {
	Theme           *string         `json:"theme"`
	DefaultCurrency *string         `json:"default_currency"`
	DashboardConfig json.RawMessage `json:"dashboard_config"`
}

func (s *Server) handlePreferencesGet(w http.ResponseWriter, r *http.Request) {
	claims := mustUser(r)

	prefs, err := s.preferences.Get(r.Context(), claims.UserID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load preferences")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to load preferences")
		return
	}

	writeSuccess(w, r, http.StatusOK, prefs)
}

func (s *Server) handlePreferencesPut(w http.ResponseWriter, r *http.Request) {
	claims := mustUser(r)

	var req preferencesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	var fields []FieldError
	if req.Theme != nil {
		theme := strings.ToLower(strings.TrimSpace(*req.Theme))
		if theme == "" {
			fields = append(fields, FieldError{Field: "theme", Reason: "cannot be empty"})
		} else if len(theme) > 32 {
			fields = append(fields, FieldError{Field: "theme", Reason: "must be 32 characters or fewer"})
		} else {
			*req.Theme = theme
		}
	}
	if req.DefaultCurrency != nil {
		currency := strings.ToLower(strings.TrimSpace(*req.DefaultCurrency))
		if currency == "" {
			fields = append(fields, FieldError{Field: "default_currency", Reason: "cannot be empty"})
		} else if len(currency) > 10 {
			fields = append(fields, FieldError{Field: "default_currency", Reason: "must be 10 characters or fewer"})
		} else {
			*req.DefaultCurrency = currency
		}
	}
	if len(req.DashboardConfig) > 0 && !json.Valid(req.DashboardConfig) {
		fields = append(fields, FieldError{Field: "dashboard_config", Reason: "must be valid JSON"})
	}
	if len(fields) > 0 {
		writeValidationError(w, r, fields...)
		return
	}

	// Merge over the stored row (or the defaults for a first write).
	prefs, err := s.preferences.Get(r.Context(), claims.UserID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load preferences")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to update preferences")
		return
	}
	if req.Theme != nil {
		prefs.Theme = *req.Theme
	}
	if req.DefaultCurrency != nil {
		prefs.DefaultCurrency = *req.DefaultCurrency
	}
	if len(req.DashboardConfig) > 0 {
		prefs.DashboardConfig = req.DashboardConfig
	}

	if err := s.preferences.Upsert(r.Context(), prefs); err != nil {
		log.Error().Err(err).Msg("Failed to update preferences")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to update preferences")
		return
	}

	writeSuccess(w, r, http.StatusOK, prefs)
}
