package http

import (
	"net/http"
	"time"

	"buildledger/internal/cache"
	"buildledger/internal/core"
	"buildledger/internal/log"
)

func (s *Server) invalidate(entity cache.Entity, companyID int64) {
	if s.invalidator != nil {
		s.invalidator.OnWrite(entity, companyID)
	}
}

type projectRequest struct {
	Title     string `json:"title"`
	Budget    string `json:"budget"`
	Revenue   string `json:"revenue,omitempty"`
	Status    string `json:"status,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// toProject parses the request into a domain project tagged with the
// tenant's currency. Money arrives as decimal strings ("2500000.00").
func (s *Server) toProject(r *http.Request, req projectRequest) (core.Project, error) {
	identity := identityFrom(r)
	currency, err := s.storage.CompanyCurrency(r.Context(), identity.CompanyID)
	if err != nil {
		return core.Project{}, err
	}

	p := core.Project{
		CompanyID: identity.CompanyID,
		Title:     req.Title,
		Status:    core.ProjectActive,
	}
	if req.Status != "" {
		p.Status = core.ProjectStatus(req.Status)
	}
	if req.Budget != "" {
		cents, err := core.ParseDecimalToCents(req.Budget)
		if err != nil {
			return core.Project{}, err
		}
		p.Budget = core.NewMoney(cents, currency)
	}
	if req.Revenue != "" {
		cents, err := core.ParseDecimalToCents(req.Revenue)
		if err != nil {
			return core.Project{}, err
		}
		p.Revenue = core.NewMoney(cents, currency)
	}
	if req.StartDate != "" {
		t, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			return core.Project{}, core.ErrInvalidAmount
		}
		p.StartDate = t
	}
	if req.EndDate != "" {
		t, err := time.Parse(time.RFC3339, req.EndDate)
		if err != nil {
			return core.Project{}, core.ErrInvalidAmount
		}
		p.EndDate = t
	}
	return p, nil
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.storage.ListProjects(r.Context(), identityFrom(r).CompanyID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role != core.RoleAdmin {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}

	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.toProject(r, req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if err := p.Validate(); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	created, err := s.storage.CreateProject(r.Context(), p)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.invalidate(cache.EntityProject, identity.CompanyID)
	s.logger.InfoContext(r.Context(), "project created",
		log.FieldOperation, log.OpCreate,
		log.FieldProjectID, created.ID,
		log.FieldCompanyID, identity.CompanyID,
		log.FieldActor, identity.UserID)
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	p, err := s.storage.GetProject(r.Context(), identityFrom(r).CompanyID, id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// handleUpdateProject applies a direct admin edit. A budget set here
// bypasses the amendment workflow; it is the sanctioned backdoor for
// corrections.
func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role != core.RoleAdmin {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	existing, err := s.storage.GetProject(r.Context(), identity.CompanyID, id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.toProject(r, req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	// Fields left out of the payload keep their current values.
	p.ID = existing.ID
	if req.Budget == "" {
		p.Budget = existing.Budget
	}
	if req.Revenue == "" {
		p.Revenue = existing.Revenue
	}
	if req.Status == "" {
		p.Status = existing.Status
	}
	if req.StartDate == "" {
		p.StartDate = existing.StartDate
	}
	if req.EndDate == "" {
		p.EndDate = existing.EndDate
	}
	if err := p.Validate(); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	if err := s.storage.UpdateProject(r.Context(), p); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.invalidate(cache.EntityProject, identity.CompanyID)
	updated, err := s.storage.GetProject(r.Context(), identity.CompanyID, id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role != core.RoleAdmin {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	if err := s.storage.DeleteProject(r.Context(), identity.CompanyID, id); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.invalidate(cache.EntityProject, identity.CompanyID)
	w.WriteHeader(http.StatusNoContent)
}

type lineItemRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleListLineItems(w http.ResponseWriter, r *http.Request) {
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}
	items, err := s.storage.ListLineItems(r.Context(), project.ID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateLineItem(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role == core.RoleMember {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}

	var req lineItemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}

	created, err := s.storage.CreateLineItem(r.Context(), core.LineItem{
		ProjectID: project.ID,
		Name:      req.Name,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

type transactionRequest struct {
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}
	txns, err := s.storage.ListTransactions(r.Context(), identityFrom(r).CompanyID, project.ID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, txns)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role == core.RoleMember {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}

	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	t := core.Transaction{
		CompanyID:   identity.CompanyID,
		ProjectID:   project.ID,
		Type:        core.TransactionType(req.Type),
		Amount:      core.NewMoney(cents, project.Budget.Currency),
		Category:    req.Category,
		Description: req.Description,
		Status:      "completed",
	}
	if err := t.Validate(); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	created, err := s.storage.CreateTransaction(r.Context(), t)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.invalidate(cache.EntityTransaction, identity.CompanyID)
	respondJSON(w, http.StatusCreated, created)
}

type assignmentRequest struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}
	assignments, err := s.storage.ListAssignments(r.Context(), project.ID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, assignments)
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.Role != core.RoleAdmin {
		respondError(w, http.StatusForbidden, "operation not permitted")
		return
	}
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}

	var req assignmentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role := core.Role(req.Role)
	if req.UserID == 0 || !role.Valid() {
		respondError(w, http.StatusUnprocessableEntity, "userId and a valid role are required")
		return
	}

	created, err := s.storage.CreateAssignment(r.Context(), core.ProjectAssignment{
		ProjectID: project.ID,
		UserID:    req.UserID,
		Role:      role,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// requestProject resolves the {id} path segment to a project in the
// caller's tenant, writing the error response itself on failure.
func (s *Server) requestProject(w http.ResponseWriter, r *http.Request) (core.Project, error) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return core.Project{}, err
	}
	project, err := s.storage.GetProject(r.Context(), identityFrom(r).CompanyID, id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return core.Project{}, err
	}
	return project, nil
}
