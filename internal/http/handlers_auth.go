package http

import (
	"errors"
	"net/http"

	"buildledger/internal/auth"
	"buildledger/internal/core"
	"buildledger/internal/log"
	"buildledger/internal/storage"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  core.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.storage.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		// Not found and bad password look identical to the caller.
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.respondServiceError(w, r, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.IssueToken(user)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "user logged in",
		log.FieldUserID, user.ID,
		log.FieldCompanyID, user.CompanyID)
	respondJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

const minPasswordLen = 8

// handleChangePassword rotates the password of every admin account in
// the caller's company. Only admins may call it.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role != core.RoleAdmin {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.NewPassword) < minPasswordLen {
		respondError(w, http.StatusUnprocessableEntity, "password must be at least 8 characters")
		return
	}

	user, err := s.storage.GetUser(r.Context(), identity.UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.CurrentPassword); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if err := s.storage.UpdateCompanyAdminPassword(r.Context(), identity.CompanyID, hash); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "admin password rotated",
		log.FieldCompanyID, identity.CompanyID,
		log.FieldActor, identity.UserID)
	w.WriteHeader(http.StatusNoContent)
}
