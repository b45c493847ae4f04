// Package services orchestrates the proposal lifecycle across storage,
// messaging and the SSE hub, and serves the cached read models.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"buildledger/internal/amqp"
	"buildledger/internal/auth"
	"buildledger/internal/cache"
	"buildledger/internal/core"
	"buildledger/internal/events"
	"buildledger/internal/log"
	"buildledger/internal/storage"
)

var (
	// ErrForbidden is returned when the caller's role does not permit
	// the operation.
	ErrForbidden = errors.New("operation not permitted for role")
	// ErrUnknownKind is returned for a proposal kind outside the three
	// known ones.
	ErrUnknownKind = errors.New("unknown proposal kind")
)

// Publisher is the slice of the AMQP client the service needs.
type Publisher interface {
	PublishApproval(ctx context.Context, event *amqp.ApprovalEvent) error
}

// ApprovalResult carries the finalized record back to the handler. Only
// the field matching Kind is set.
type ApprovalResult struct {
	Kind        core.ProposalKind
	Amendment   *core.BudgetAmendment
	ChangeOrder *core.ChangeOrder
	Allocation  *core.CostAllocation
}

// Record returns the kind-specific record for serialization.
func (r ApprovalResult) Record() any {
	switch r.Kind {
	case core.KindAmendment:
		return r.Amendment
	case core.KindChangeOrder:
		return r.ChangeOrder
	case core.KindAllocation:
		return r.Allocation
	}
	return nil
}

// ApprovalService owns the proposal lifecycle. The AMQP publisher and
// the SSE hub are optional; a missing one degrades to local-only
// operation rather than failing requests.
type ApprovalService struct {
	storage     *storage.SQLiteRepository
	publisher   Publisher
	hub         *events.Hub
	invalidator *cache.Invalidator
	logger      *log.Logger
}

func NewApprovalService(repo *storage.SQLiteRepository, publisher Publisher, hub *events.Hub, invalidator *cache.Invalidator, logger *log.Logger) *ApprovalService {
	return &ApprovalService{
		storage:     repo,
		publisher:   publisher,
		hub:         hub,
		invalidator: invalidator,
		logger:      logger.WithComponent(log.ComponentLedger),
	}
}

// ProposeAmendment validates and files a budget amendment as pending.
func (s *ApprovalService) ProposeAmendment(ctx context.Context, actor auth.Identity, a core.BudgetAmendment) (core.BudgetAmendment, error) {
	if err := s.requireProposer(actor); err != nil {
		return core.BudgetAmendment{}, err
	}
	if err := a.Validate(); err != nil {
		return core.BudgetAmendment{}, err
	}
	if _, err := s.storage.GetProject(ctx, actor.CompanyID, a.ProjectID); err != nil {
		return core.BudgetAmendment{}, err
	}

	a.ProposedBy = actor.UserID
	a.Status = core.StatusPending
	created, err := s.storage.CreateAmendment(ctx, a)
	if err != nil {
		return core.BudgetAmendment{}, err
	}

	s.invalidate(core.KindAmendment, actor.CompanyID)
	s.logger.InfoContext(ctx, "amendment proposed",
		log.FieldOperation, log.OpPropose,
		log.FieldRecordID, created.ID,
		log.FieldProjectID, created.ProjectID,
		log.FieldAmountCents, created.Amount.Cents,
		log.FieldActor, actor.UserID)
	return created, nil
}

// ProposeChangeOrder files a change order. Zero-impact orders start as
// drafts; orders with budget impact go straight to pending.
func (s *ApprovalService) ProposeChangeOrder(ctx context.Context, actor auth.Identity, co core.ChangeOrder) (core.ChangeOrder, error) {
	if err := s.requireProposer(actor); err != nil {
		return core.ChangeOrder{}, err
	}
	if err := co.Validate(); err != nil {
		return core.ChangeOrder{}, err
	}
	if _, err := s.storage.GetProject(ctx, actor.CompanyID, co.ProjectID); err != nil {
		return core.ChangeOrder{}, err
	}

	co.ProposedBy = actor.UserID
	co.Status = co.InitialStatus()
	created, err := s.storage.CreateChangeOrder(ctx, co)
	if err != nil {
		return core.ChangeOrder{}, err
	}

	s.invalidate(core.KindChangeOrder, actor.CompanyID)
	s.logger.InfoContext(ctx, "change order proposed",
		log.FieldOperation, log.OpPropose,
		log.FieldRecordID, created.ID,
		log.FieldProjectID, created.ProjectID,
		log.FieldStatus, string(created.Status),
		log.FieldActor, actor.UserID)
	return created, nil
}

// ProposeAllocation derives totals, validates and files a cost
// allocation as pending.
func (s *ApprovalService) ProposeAllocation(ctx context.Context, actor auth.Identity, ca core.CostAllocation) (core.CostAllocation, error) {
	if err := s.requireProposer(actor); err != nil {
		return core.CostAllocation{}, err
	}
	ca.ComputeTotals()
	if err := ca.Validate(); err != nil {
		return core.CostAllocation{}, err
	}
	if _, err := s.storage.GetProject(ctx, actor.CompanyID, ca.ProjectID); err != nil {
		return core.CostAllocation{}, err
	}

	ca.EnteredBy = actor.UserID
	ca.Status = core.StatusPending
	created, err := s.storage.CreateCostAllocation(ctx, ca)
	if err != nil {
		return core.CostAllocation{}, err
	}

	s.invalidate(core.KindAllocation, actor.CompanyID)
	s.logger.InfoContext(ctx, "allocation proposed",
		log.FieldOperation, log.OpPropose,
		log.FieldRecordID, created.ID,
		log.FieldProjectID, created.ProjectID,
		log.FieldAmountCents, created.TotalCost.Cents,
		log.FieldActor, actor.UserID)
	return created, nil
}

// Approve finalizes a proposal. Admins approve everything; team leaders
// approve cost allocations on projects they are assigned to.
func (s *ApprovalService) Approve(ctx context.Context, actor auth.Identity, kind core.ProposalKind, id int64) (ApprovalResult, error) {
	if err := s.requireApprover(ctx, actor, kind, id); err != nil {
		return ApprovalResult{}, err
	}

	result := ApprovalResult{Kind: kind}
	var (
		projectID int64
		amount    core.Money
	)
	switch kind {
	case core.KindAmendment:
		a, err := s.storage.ApproveAmendment(ctx, actor.CompanyID, id, actor.UserID)
		if err != nil {
			return ApprovalResult{}, err
		}
		result.Amendment, projectID, amount = &a, a.ProjectID, a.Amount
	case core.KindChangeOrder:
		co, err := s.storage.ApproveChangeOrder(ctx, actor.CompanyID, id, actor.UserID)
		if err != nil {
			return ApprovalResult{}, err
		}
		result.ChangeOrder, projectID, amount = &co, co.ProjectID, co.CostImpact
	case core.KindAllocation:
		ca, err := s.storage.ApproveCostAllocation(ctx, actor.CompanyID, id, actor.UserID)
		if err != nil {
			return ApprovalResult{}, err
		}
		result.Allocation, projectID, amount = &ca, ca.ProjectID, ca.TotalCost
	default:
		return ApprovalResult{}, ErrUnknownKind
	}

	s.finalized(ctx, actor, kind, id, projectID, amount, amqp.ActionApproved)
	return result, nil
}

// Reject finalizes a proposal negatively. Comments are mandatory so the
// proposer learns why.
func (s *ApprovalService) Reject(ctx context.Context, actor auth.Identity, kind core.ProposalKind, id int64, comments string) (ApprovalResult, error) {
	if strings.TrimSpace(comments) == "" {
		return ApprovalResult{}, core.ErrEmptyComments
	}
	if err := s.requireApprover(ctx, actor, kind, id); err != nil {
		return ApprovalResult{}, err
	}

	result := ApprovalResult{Kind: kind}
	var (
		projectID int64
		amount    core.Money
	)
	switch kind {
	case core.KindAmendment:
		a, err := s.storage.RejectAmendment(ctx, actor.CompanyID, id, actor.UserID, comments)
		if err != nil {
			return ApprovalResult{}, err
		}
		result.Amendment, projectID, amount = &a, a.ProjectID, a.Amount
	case core.KindChangeOrder:
		co, err := s.storage.RejectChangeOrder(ctx, actor.CompanyID, id, actor.UserID, comments)
		if err != nil {
			return ApprovalResult{}, err
		}
		result.ChangeOrder, projectID, amount = &co, co.ProjectID, co.CostImpact
	case core.KindAllocation:
		ca, err := s.storage.RejectCostAllocation(ctx, actor.CompanyID, id, actor.UserID, comments)
		if err != nil {
			return ApprovalResult{}, err
		}
		result.Allocation, projectID, amount = &ca, ca.ProjectID, ca.TotalCost
	default:
		return ApprovalResult{}, ErrUnknownKind
	}

	s.finalized(ctx, actor, kind, id, projectID, amount, amqp.ActionRejected)
	return result, nil
}

// finalized runs the post-transition fanout: cache invalidation, AMQP
// publish and SSE broadcast. Fanout failures are logged, never
// propagated; the database transition already committed.
func (s *ApprovalService) finalized(ctx context.Context, actor auth.Identity, kind core.ProposalKind, id, projectID int64, amount core.Money, action amqp.ApprovalAction) {
	s.invalidate(kind, actor.CompanyID)

	if s.publisher != nil {
		event := amqp.NewApprovalEvent(kind, id, projectID, actor.CompanyID, actor.UserID, action, amount)
		if err := s.publisher.PublishApproval(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "publish approval event",
				log.FieldError, err,
				log.FieldKind, string(kind),
				log.FieldRecordID, id)
		}
	}

	if s.hub != nil {
		s.hub.Publish(actor.CompanyID, events.Event{
			Kind:      string(kind),
			RecordID:  id,
			ProjectID: projectID,
			Action:    string(action),
		})
	}

	s.logger.InfoContext(ctx, "proposal finalized",
		log.FieldOperation, string(action),
		log.FieldKind, string(kind),
		log.FieldRecordID, id,
		log.FieldProjectID, projectID,
		log.FieldCompanyID, actor.CompanyID,
		log.FieldActor, actor.UserID)
}

func (s *ApprovalService) invalidate(kind core.ProposalKind, companyID int64) {
	if s.invalidator == nil {
		return
	}
	switch kind {
	case core.KindAmendment:
		s.invalidator.OnWrite(cache.EntityAmendment, companyID)
	case core.KindChangeOrder:
		s.invalidator.OnWrite(cache.EntityChangeOrder, companyID)
	case core.KindAllocation:
		s.invalidator.OnWrite(cache.EntityAllocation, companyID)
	}
}

func (s *ApprovalService) requireProposer(actor auth.Identity) error {
	if actor.Role == core.RoleAdmin || actor.Role == core.RoleTeamLeader {
		return nil
	}
	return ErrForbidden
}

// requireApprover enforces who may finalize: admins always, team
// leaders only for allocations on projects they are assigned to.
func (s *ApprovalService) requireApprover(ctx context.Context, actor auth.Identity, kind core.ProposalKind, id int64) error {
	if !kind.Valid() {
		return ErrUnknownKind
	}
	if actor.Role == core.RoleAdmin {
		return nil
	}
	if actor.Role != core.RoleTeamLeader || kind != core.KindAllocation {
		return ErrForbidden
	}

	ca, err := s.storage.GetCostAllocation(ctx, actor.CompanyID, id)
	if err != nil {
		return err
	}
	assigned, err := s.storage.IsUserAssigned(ctx, ca.ProjectID, actor.UserID)
	if err != nil {
		return fmt.Errorf("check assignment: %w", err)
	}
	if !assigned {
		return ErrForbidden
	}
	return nil
}
