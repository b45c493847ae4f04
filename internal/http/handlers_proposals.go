package http

import (
	"context"
	"net/http"
	"time"

	"buildledger/internal/core"
)

type amendmentRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) handleProposeAmendment(w http.ResponseWriter, r *http.Request) {
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}

	var req amendmentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cents, err := core.ParseSignedDecimalToCents(req.Amount)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	created, err := s.approvals.ProposeAmendment(r.Context(), identityFrom(r), core.BudgetAmendment{
		ProjectID: project.ID,
		Amount:    core.NewMoney(cents, project.Budget.Currency),
		Reason:    req.Reason,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListAmendments(w http.ResponseWriter, r *http.Request) {
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}
	status := core.ProposalStatus(r.URL.Query().Get("status"))
	amendments, err := s.storage.ListAmendments(r.Context(), identityFrom(r).CompanyID, project.ID, status)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, amendments)
}

type changeOrderRequest struct {
	Description string `json:"description"`
	CostImpact  string `json:"costImpact,omitempty"`
}

func (s *Server) handleProposeChangeOrder(w http.ResponseWriter, r *http.Request) {
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}

	var req changeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var cents int64
	if req.CostImpact != "" {
		cents, err = core.ParseSignedDecimalToCents(req.CostImpact)
		if err != nil {
			s.respondServiceError(w, r, err)
			return
		}
	}

	created, err := s.approvals.ProposeChangeOrder(r.Context(), identityFrom(r), core.ChangeOrder{
		ProjectID:   project.ID,
		Description: req.Description,
		CostImpact:  core.NewMoney(cents, project.Budget.Currency),
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListChangeOrders(w http.ResponseWriter, r *http.Request) {
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}
	status := core.ProposalStatus(r.URL.Query().Get("status"))
	orders, err := s.storage.ListChangeOrders(r.Context(), identityFrom(r).CompanyID, project.ID, status)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

type materialLineRequest struct {
	MaterialName string `json:"materialName"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    string `json:"unitPrice"`
}

type allocationRequest struct {
	LineItemID    int64                 `json:"lineItemId"`
	LabourCost    string                `json:"labourCost,omitempty"`
	DateIncurred  string                `json:"dateIncurred,omitempty"`
	ChangeOrderID int64                 `json:"changeOrderId,omitempty"`
	Materials     []materialLineRequest `json:"materials,omitempty"`
}

func (s *Server) handleProposeAllocation(w http.ResponseWriter, r *http.Request) {
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}

	var req allocationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	currency := project.Budget.Currency
	ca := core.CostAllocation{
		ProjectID:     project.ID,
		LineItemID:    req.LineItemID,
		ChangeOrderID: req.ChangeOrderID,
	}
	if req.LabourCost != "" {
		cents, err := core.ParseDecimalToCents(req.LabourCost)
		if err != nil {
			s.respondServiceError(w, r, err)
			return
		}
		ca.LabourCost = core.NewMoney(cents, currency)
	} else {
		ca.LabourCost = core.Money{Currency: currency}
	}
	if req.DateIncurred != "" {
		t, err := time.Parse(time.RFC3339, req.DateIncurred)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid dateIncurred")
			return
		}
		ca.DateIncurred = t
	}
	for _, m := range req.Materials {
		cents, err := core.ParseDecimalToCents(m.UnitPrice)
		if err != nil {
			s.respondServiceError(w, r, err)
			return
		}
		ca.Materials = append(ca.Materials, core.MaterialAllocation{
			MaterialName: m.MaterialName,
			Quantity:     m.Quantity,
			UnitPrice:    core.NewMoney(cents, currency),
		})
	}

	created, err := s.approvals.ProposeAllocation(r.Context(), identityFrom(r), ca)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	project, err := s.requestProject(w, r)
	if err != nil {
		return
	}
	status := core.ProposalStatus(r.URL.Query().Get("status"))
	allocations, err := s.storage.ListCostAllocations(r.Context(), identityFrom(r).CompanyID, project.ID, status)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, allocations)
}

func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid allocation id")
		return
	}
	ca, err := s.storage.GetCostAllocation(r.Context(), identityFrom(r).CompanyID, id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ca)
}

type previewRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handlePreviewAmendment(w http.ResponseWriter, r *http.Request) {
	s.handlePreview(w, r, s.views.PreviewAmendment)
}

func (s *Server) handlePreviewChangeOrder(w http.ResponseWriter, r *http.Request) {
	s.handlePreview(w, r, s.views.PreviewChangeOrder)
}

// handlePreview computes a budget impact preview without persisting
// anything; both proposal kinds differ only in significance threshold.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request,
	preview func(ctx context.Context, companyID, projectID int64, amount core.Money) (core.BudgetImpact, error)) {

	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cents, err := core.ParseSignedDecimalToCents(req.Amount)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	impact, err := preview(r.Context(), identityFrom(r).CompanyID, id, core.Money{Cents: cents})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, impact)
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	queue, err := s.views.PendingApprovals(r.Context(), identityFrom(r).CompanyID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, queue)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	kind := core.ProposalKind(r.PathValue("kind"))
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	result, err := s.approvals.Approve(r.Context(), identityFrom(r), kind, id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result.Record())
}

type rejectRequest struct {
	Comments string `json:"comments"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	kind := core.ProposalKind(r.PathValue("kind"))
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.approvals.Reject(r.Context(), identityFrom(r), kind, id, req.Comments)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result.Record())
}
