package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/defiinsight/insight/internal/auth"
	"github.com/defiinsight/insight/internal/persistence"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func validateCredentials(req credentialsRequest) []FieldError {
	var fields []FieldError

	email := strings.TrimSpace(req.Email)
	if email == "" {
		fields = append(fields, FieldError{Field: "email", Reason: "required"})
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields = append(fields, FieldError{Field: "email", Reason: "not a valid email address"})
	}

	if len(req.Password) < auth.MinPasswordLength {
		fields = append(fields, FieldError{
			Field:  "password",
			Reason: fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength),
		})
	}
	return fields
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if fields := validateCredentials(req); len(fields) > 0 {
		writeValidationError(w, r, fields...)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Error().Err(err).Msg("Failed to hash password")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to create user")
		return
	}

	user := &persistence.User{Email: req.Email, HashedPassword: hash}
	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			writeError(w, r, http.StatusConflict, codeConflict, "email already registered")
			return
		}
		log.Error().Err(err).Msg("Failed to create user")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to create user")
		return
	}

	log.Info().Str("user_id", user.ID.String()).Msg("User registered")
	writeSuccess(w, r, http.StatusCreated, userResponse{
		ID:        user.ID,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.users.GetByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		log.Error().Err(err).Msg("Failed to look up user")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "login failed")
		return
	}

	// Same answer for unknown email and wrong password.
	if err != nil || !auth.CheckPassword(user.HashedPassword, req.Password) {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid email or password")
		return
	}

	accessToken, _, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue token")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "login failed")
		return
	}

	writeSuccess(w, r, http.StatusOK, tokenResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresIn:   int(s.tokens.TTL().Seconds()),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := mustUser(r)

	user, err := s.users.GetByID(r.Context(), claims.UserID)
	if errors.Is(err, persistence.ErrNotFound) {
		// Valid token for a deleted account.
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "account no longer exists")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load user")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to load user")
		return
	}

	writeSuccess(w, r, http.StatusOK, userResponse{
		ID:        user.ID,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	})
}
