package core

import (
	"errors"
	"strings"
	"time"
)

// ProposalStatus is the lifecycle state shared by budget amendments,
// change orders and cost allocations. Approved and rejected are terminal.
type ProposalStatus string

const (
	StatusDraft    ProposalStatus = "draft"
	StatusPending  ProposalStatus = "pending"
	StatusApproved ProposalStatus = "approved"
	StatusRejected ProposalStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s ProposalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether the status is one of the known lifecycle states.
func (s ProposalStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Role controls who may mutate proposals. Team leaders act only on
// projects they are assigned to; members read within their scope.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTeamLeader Role = "team_leader"
	RoleMember     Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeamLeader, RoleMember:
		return true
	}
	return false
}

// ProjectStatus is the coarse state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
)

// TransactionType separates money coming in from money going out.
type TransactionType string

const (
	TransactionExpense TransactionType = "expense"
	TransactionRevenue TransactionType = "revenue"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrZeroAmount         = errors.New("amount must be non-zero")
	ErrReasonTooShort     = errors.New("reason must be at least 10 characters")
	ErrDescTooShort       = errors.New("description must be at least 20 characters")
	ErrEmptyAllocation    = errors.New("allocation needs labour cost or material lines")
	ErrInvalidQuantity    = errors.New("material quantity must be positive")
	ErrInvalidUnitPrice   = errors.New("material unit price must be positive")
	ErrEmptyComments      = errors.New("rejection comments are required")
	ErrAlreadyFinalized   = errors.New("record is already approved or rejected")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrEmptyTitle         = errors.New("empty title")
	ErrInvalidCurrency    = errors.New("unsupported currency")
	ErrInvalidTransaction = errors.New("transaction type must be expense or revenue")
)

const (
	minReasonLen      = 10
	minDescriptionLen = 20
	maxTextLen        = 500
)

// Company is a tenant. Every other entity is scoped to exactly one.
type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Industry  string    `json:"industry"`
	Currency  Currency  `json:"currency"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c Company) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyTitle
	}
	if c.Currency != "" && !c.Currency.Valid() {
		return ErrInvalidCurrency
	}
	return nil
}

// User is an account inside a company.
type User struct {
	ID           int64     `json:"id"`
	CompanyID    int64     `json:"companyId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Project carries the running budget figures. Budget moves only through
// approved amendments, approved non-zero change orders, or a direct
// admin edit. Consumed may exceed Budget; overspend is flagged, not blocked.
type Project struct {
	ID        int64         `json:"id"`
	CompanyID int64         `json:"companyId"`
	Title     string        `json:"title"`
	Budget    Money         `json:"budget"`
	Consumed  Money         `json:"consumed"`
	Revenue   Money         `json:"revenue"`
	Status    ProjectStatus `json:"status"`
	StartDate time.Time     `json:"startDate"`
	EndDate   time.Time     `json:"endDate"`
	CreatedAt time.Time     `json:"createdAt"`
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return ErrEmptyTitle
	}
	if len(p.Title) > maxTextLen {
		return errors.New("title too long")
	}
	if p.Budget.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// LineItem is a budget category inside a project ("Foundation",
// "Electrical") that cost allocations are booked against.
type LineItem struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"projectId"`
	Name      string `json:"name"`
}

// BudgetAmendment is a proposed permanent change to a project budget.
type BudgetAmendment struct {
	ID                int64          `json:"id"`
	ProjectID         int64          `json:"projectId"`
	Amount            Money          `json:"amount"`
	Reason            string         `json:"reason"`
	ProposedBy        int64          `json:"proposedBy"`
	Status            ProposalStatus `json:"status"`
	ApprovedBy        int64          `json:"approvedBy,omitempty"`
	ApprovedAt        *time.Time     `json:"approvedAt,omitempty"`
	RejectionComments string         `json:"rejectionComments,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

func (a BudgetAmendment) Validate() error {
	if a.Amount.Cents == 0 {
		return ErrZeroAmount
	}
	if len(strings.TrimSpace(a.Reason)) < minReasonLen {
		return ErrReasonTooShort
	}
	if len(a.Reason) > maxTextLen {
		return errors.New("reason too long")
	}
	return nil
}

// ChangeOrder is a proposed scope change with an optional cost impact.
// Zero-impact change orders are informational and start as drafts.
type ChangeOrder struct {
	ID                int64          `json:"id"`
	ProjectID         int64          `json:"projectId"`
	Description       string         `json:"description"`
	CostImpact        Money          `json:"costImpact"`
	ProposedBy        int64          `json:"proposedBy"`
	Status            ProposalStatus `json:"status"`
	ApprovedBy        int64          `json:"approvedBy,omitempty"`
	ApprovedAt        *time.Time     `json:"approvedAt,omitempty"`
	RejectionComments string         `json:"rejectionComments,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

func (c ChangeOrder) Validate() error {
	if len(strings.TrimSpace(c.Description)) < minDescriptionLen {
		return ErrDescTooShort
	}
	if len(c.Description) > maxTextLen {
		return errors.New("description too long")
	}
	return nil
}

// InitialStatus returns the status a new change order starts in:
// pending when it carries budget impact, draft when informational.
func (c ChangeOrder) InitialStatus() ProposalStatus {
	if c.CostImpact.Cents == 0 {
		return StatusDraft
	}
	return StatusPending
}

// MaterialAllocation is one material line inside a cost allocation.
type MaterialAllocation struct {
	ID           int64  `json:"id"`
	MaterialName string `json:"materialName"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    Money  `json:"unitPrice"`
	Total        Money  `json:"total"`
}

func (m MaterialAllocation) Validate() error {
	if m.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if m.UnitPrice.Cents <= 0 {
		return ErrInvalidUnitPrice
	}
	return nil
}

// CostAllocation is a recorded cost (labour + materials) against a
// project line item. MaterialCost and TotalCost are always derived,
// never accepted from the caller.
type CostAllocation struct {
	ID                int64                `json:"id"`
	ProjectID         int64                `json:"projectId"`
	LineItemID        int64                `json:"lineItemId"`
	LabourCost        Money                `json:"labourCost"`
	MaterialCost      Money                `json:"materialCost"`
	TotalCost         Money                `json:"totalCost"`
	DateIncurred      time.Time            `json:"dateIncurred"`
	EnteredBy         int64                `json:"enteredBy"`
	Status            ProposalStatus       `json:"status"`
	ChangeOrderID     int64                `json:"changeOrderId,omitempty"`
	ApprovedBy        int64                `json:"approvedBy,omitempty"`
	ApprovedAt        *time.Time           `json:"approvedAt,omitempty"`
	RejectionComments string               `json:"rejectionComments,omitempty"`
	Exported          bool                 `json:"-"`
	Materials         []MaterialAllocation `json:"materials,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
}

// ComputeTotals fills MaterialCost, TotalCost and each material line
// total from labour cost and the material lines.
func (c *CostAllocation) ComputeTotals() {
	cur := c.LabourCost.Currency
	var materialCents int64
	for i := range c.Materials {
		line := c.Materials[i].Quantity * c.Materials[i].UnitPrice.Cents
		c.Materials[i].Total = Money{Cents: line, Currency: c.Materials[i].UnitPrice.Currency}
		materialCents += line
		if cur == "" {
			cur = c.Materials[i].UnitPrice.Currency
		}
	}
	c.MaterialCost = Money{Cents: materialCents, Currency: cur}
	c.TotalCost = Money{Cents: c.LabourCost.Cents + materialCents, Currency: cur}
}

// Validate enforces the allocation boundary rule: at least one of
// labour cost or material lines must be present, and every material
// line must carry a positive quantity and unit price.
func (c CostAllocation) Validate() error {
	if c.LabourCost.Cents < 0 {
		return ErrInvalidAmount
	}
	if c.LabourCost.Cents == 0 && len(c.Materials) == 0 {
		return ErrEmptyAllocation
	}
	for _, m := range c.Materials {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Transaction feeds tenant and project aggregate analytics.
type Transaction struct {
	ID          int64           `json:"id"`
	CompanyID   int64           `json:"companyId"`
	ProjectID   int64           `json:"projectId"`
	Type        TransactionType `json:"type"`
	Amount      Money           `json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (t Transaction) Validate() error {
	if t.Type != TransactionExpense && t.Type != TransactionRevenue {
		return ErrInvalidTransaction
	}
	if t.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Team groups users under a leader inside a company.
type Team struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"companyId"`
	Name      string    `json:"name"`
	LeaderID  int64     `json:"leaderId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (t Team) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyTitle
	}
	return nil
}

// ProjectAssignment grants a user a role on a project. Team leaders may
// approve cost allocations only on projects they are assigned to.
type ProjectAssignment struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"projectId"`
	UserID    int64     `json:"userId"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProposalKind discriminates the three record types that flow through
// the shared approval queue.
type ProposalKind string

const (
	KindAmendment   ProposalKind = "amendment"
	KindChangeOrder ProposalKind = "change_order"
	KindAllocation  ProposalKind = "cost_allocation"
)

func (k ProposalKind) Valid() bool {
	switch k {
	case KindAmendment, KindChangeOrder, KindAllocation:
		return true
	}
	return false
}

// PendingApproval is the query-time projection joining the three
// proposal kinds awaiting action. It is never persisted.
type PendingApproval struct {
	Kind        ProposalKind   `json:"kind"`
	ID          int64          `json:"id"`
	ProjectID   int64          `json:"projectId"`
	Description string         `json:"description"`
	Amount      Money          `json:"amount"`
	ProposedBy  int64          `json:"proposedBy"`
	Status      ProposalStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
}
