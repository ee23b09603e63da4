// Package http serves the REST and WebSocket API. Every JSON response is
// wrapped in the same envelope so clients can handle success and failure
// uniformly.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Envelope is the uniform response wrapper.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
	Path      string      `json:"path,omitempty"`
}

// APIError carries a machine-readable code plus optional per-field detail.
type APIError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError pins a validation failure to one input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Pagination describes one page of a list response.
type Pagination struct {
	Page        int  `json:"page"`
	PageSize    int  `json:"page_size"`
	TotalItems  int  `json:"total_items"`
	TotalPages  int  `json:"total_pages"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

// NewPagination computes page counts from a total.
func NewPagination(page, pageSize, total int) Pagination {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return Pagination{
		Page:        page,
		PageSize:    pageSize,
		TotalItems:  total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1 && total > 0,
	}
}

// pagedEnvelope is the envelope plus pagination, kept separate so plain
// responses never carry an empty pagination block.
type pagedEnvelope struct {
	Envelope
	Pagination Pagination `json:"pagination"`
}

// Error codes used across handlers.
const (
	codeBadRequest       = "bad_request"
	codeValidation       = "validation_failed"
	codeUnauthorized     = "unauthorized"
	codeForbidden        = "forbidden"
	codeNotFound         = "not_found"
	codeConflict         = "conflict"
	codeRateLimited      = "rate_limited"
	codeUpstream         = "upstream_unavailable"
	codeInternal         = "internal_error"
	codeServiceUnhealthy = "service_unhealthy"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// writeSuccess wraps data in a success envelope.
func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, status, Envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestIDFrom(r.Context()),
	})
}

// writeMessage wraps a human-readable message with no data payload.
func writeMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, Envelope{
		Success:   true,
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: requestIDFrom(r.Context()),
	})
}

// writeError emits a failure envelope with the request path for log
// correlation.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, Envelope{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
		RequestID: requestIDFrom(r.Context()),
		Path:      r.URL.Path,
	})
}

// writeValidationError emits a 422 with per-field details.
func writeValidationError(w http.ResponseWriter, r *http.Request, fields ...FieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, Envelope{
		Success: false,
		Error: &APIError{
			Code:    codeValidation,
			Message: "validation failed",
			Fields:  fields,
		},
		Timestamp: time.Now().UTC(),
		RequestID: requestIDFrom(r.Context()),
		Path:      r.URL.Path,
	})
}

// writePaginated emits one page plus pagination metadata. X-Total-Count
// and Content-Range let clients page without parsing the body.
func writePaginated(w http.ResponseWriter, r *http.Request, data interface{}, p Pagination) {
	w.Header().Set("X-Total-Count", strconv.Itoa(p.TotalItems))

	first := (p.Page - 1) * p.PageSize
	last := first + p.PageSize - 1
	if last >= p.TotalItems {
		last = p.TotalItems - 1
	}
	if p.TotalItems == 0 {
		w.Header().Set("Content-Range", "items */0")
	} else {
		w.Header().Set("Content-Range", fmt.Sprintf("items %d-%d/%d", first, last, p.TotalItems))
	}

	writeJSON(w, http.StatusOK, pagedEnvelope{
		Envelope: Envelope{
			Success:   true,
			Data:      data,
			Timestamp: time.Now().UTC(),
			RequestID: requestIDFrom(r.Context()),
		},
		Pagination: p,
	})
}

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// decodeBody parses a JSON request body into dst, rejecting unknown
// fields and trailing garbage.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid request body: unexpected trailing data")
	}
	return nil
}
