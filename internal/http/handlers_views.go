package http

import (
	"net/http"

	"buildledger/internal/core"
)

// handleBudgetHistory serves the reconstructed budget timeline. Query
// parameters type, status and projectId narrow it; running totals are
// computed before filtering and never change with the filter.
func (s *Server) handleBudgetHistory(w http.ResponseWriter, r *http.Request) {
	filter := core.HistoryFilter{
		Type:      core.HistoryEntryType(r.URL.Query().Get("type")),
		Status:    core.ProposalStatus(r.URL.Query().Get("status")),
		ProjectID: queryInt64(r, "projectId"),
	}

	entries, err := s.views.BudgetHistory(r.Context(), identityFrom(r).CompanyID, filter)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCompanyAnalytics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.views.CompanyAnalytics(r.Context(), identityFrom(r).CompanyID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleProjectAnalytics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	summary, err := s.views.ProjectAnalytics(r.Context(), identityFrom(r).CompanyID, id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
