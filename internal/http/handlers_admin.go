package http

import (
	"net/http"

	"buildledger/internal/cache"
	"buildledger/internal/core"
	"buildledger/internal/log"
)

type teamRequest struct {
	Name     string `json:"name"`
	LeaderID int64  `json:"leaderId"`
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.storage.ListTeams(r.Context(), identityFrom(r).CompanyID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, teams)
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role != core.RoleAdmin {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}

	var req teamRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	team := core.Team{
		CompanyID: identity.CompanyID,
		Name:      req.Name,
		LeaderID:  req.LeaderID,
	}
	if err := team.Validate(); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	created, err := s.storage.CreateTeam(r.Context(), team)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.invalidate(cache.EntityTeam, identity.CompanyID)
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role != core.RoleAdmin {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid team id")
		return
	}

	var req teamRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	team := core.Team{
		ID:        id,
		CompanyID: identity.CompanyID,
		Name:      req.Name,
		LeaderID:  req.LeaderID,
	}
	if err := team.Validate(); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	if err := s.storage.UpdateTeam(r.Context(), team); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.invalidate(cache.EntityTeam, identity.CompanyID)
	respondJSON(w, http.StatusOK, team)
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role != core.RoleAdmin {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid team id")
		return
	}
	if err := s.storage.DeleteTeam(r.Context(), identity.CompanyID, id); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.invalidate(cache.EntityTeam, identity.CompanyID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	company, err := s.storage.GetCompany(r.Context(), identityFrom(r).CompanyID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, company)
}

type companyRequest struct {
	Name     string `json:"name"`
	Industry string `json:"industry,omitempty"`
	Currency string `json:"currency,omitempty"`
}

func (s *Server) handleUpdateCompany(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role != core.RoleAdmin {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}

	var req companyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	company := core.Company{
		ID:       identity.CompanyID,
		Name:     req.Name,
		Industry: req.Industry,
		Currency: core.Currency(req.Currency),
	}
	if err := company.Validate(); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	if err := s.storage.UpdateCompany(r.Context(), company); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.invalidate(cache.EntityCompany, identity.CompanyID)
	updated, err := s.storage.GetCompany(r.Context(), identity.CompanyID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

const defaultIndustry = "Construction"

// handlePopulateIndustry backfills the industry field for companies
// created before the field existed.
func (s *Server) handlePopulateIndustry(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role != core.RoleAdmin {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}

	company, err := s.storage.GetCompany(r.Context(), identity.CompanyID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if company.Industry != "" {
		respondJSON(w, http.StatusOK, company)
		return
	}

	if err := s.storage.SetCompanyIndustry(r.Context(), company.ID, defaultIndustry); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	company.Industry = defaultIndustry

	s.invalidate(cache.EntityCompany, identity.CompanyID)
	s.logger.InfoContext(r.Context(), "company industry backfilled",
		log.FieldOperation, log.OpUpdate,
		log.FieldCompanyID, company.ID)
	respondJSON(w, http.StatusOK, company)
}
