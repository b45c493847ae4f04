package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"buildledger/internal/auth"
	"buildledger/internal/core"
	"buildledger/internal/log"
	"buildledger/internal/services"
	"buildledger/internal/storage"
)

type contextKey string

const identityKey contextKey = "identity"

// requireAuth verifies the bearer token and attaches the caller's
// identity to the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		identity, err := s.auth.VerifyToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				respondError(w, http.StatusUnauthorized, "token expired")
				return
			}
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) auth.Identity {
	identity, _ := r.Context().Value(identityKey).(auth.Identity)
	return identity
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}

// decodeJSON parses a request body, rejecting unknown fields so typos
// in client payloads fail loudly.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

// validationErrors are the domain rules a client can trip; they map to
// 422 rather than 400.
var validationErrors = []error{
	core.ErrInvalidAmount,
	core.ErrZeroAmount,
	core.ErrReasonTooShort,
	core.ErrDescTooShort,
	core.ErrEmptyAllocation,
	core.ErrInvalidQuantity,
	core.ErrInvalidUnitPrice,
	core.ErrEmptyComments,
	core.ErrEmptyTitle,
	core.ErrInvalidCurrency,
	core.ErrInvalidTransaction,
}

// respondServiceError translates domain and storage errors to HTTP
// statuses. Anything unrecognized is a 500 and gets logged.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrConflict):
		respondError(w, http.StatusConflict, "record already finalized")
	case errors.Is(err, services.ErrForbidden):
		respondError(w, http.StatusForbidden, "operation not permitted")
	case errors.Is(err, services.ErrUnknownKind):
		respondError(w, http.StatusNotFound, "unknown proposal kind")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	case isValidationError(err):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "request failed",
			log.FieldError, err,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func isValidationError(err error) bool {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// pathID parses the {id} path segment.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
