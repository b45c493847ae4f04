package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"buildledger/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

type fixture struct {
	company core.Company
	admin   core.User
	project core.Project
}

func seed(t *testing.T, repo *SQLiteRepository) fixture {
	t.Helper()
	ctx := context.Background()

	company, err := repo.CreateCompany(ctx, core.Company{Name: "Lagos Build Co " + t.Name()})
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	admin, err := repo.CreateUser(ctx, core.User{
		CompanyID:    company.ID,
		Name:         "Ada",
		Email:        "ada-" + t.Name() + "@example.com",
		PasswordHash: "x",
		Role:         core.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	project, err := repo.CreateProject(ctx, core.Project{
		CompanyID: company.ID,
		Title:     "Warehouse extension",
		Budget:    core.Money{Cents: 500_000_00, Currency: company.Currency},
		Status:    core.ProjectActive,
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return fixture{company: company, admin: admin, project: project}
}

func TestCompanyCurrencyDefaultsToNGN(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)

	cur, err := repo.CompanyCurrency(context.Background(), fx.company.ID)
	if err != nil {
		t.Fatalf("CompanyCurrency: %v", err)
	}
	if cur != core.NGN {
		t.Fatalf("currency = %s, want %s", cur, core.NGN)
	}
	if fx.project.Budget.Currency != core.NGN {
		t.Fatalf("project budget currency = %s, want %s", fx.project.Budget.Currency, core.NGN)
	}
}

func TestApproveAmendmentMovesBudget(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)
	ctx := context.Background()

	a, err := repo.CreateAmendment(ctx, core.BudgetAmendment{
		ProjectID:  fx.project.ID,
		Amount:     core.Money{Cents: -100_000_00, Currency: core.NGN},
		Reason:     "Client descoped the east wing",
		ProposedBy: fx.admin.ID,
		Status:     core.StatusPending,
	})
	if err != nil {
		t.Fatalf("CreateAmendment: %v", err)
	}

	approved, err := repo.ApproveAmendment(ctx, fx.company.ID, a.ID, fx.admin.ID)
	if err != nil {
		t.Fatalf("ApproveAmendment: %v", err)
	}
	if approved.Status != core.StatusApproved {
		t.Fatalf("status = %s, want approved", approved.Status)
	}
	if approved.ApprovedBy != fx.admin.ID || approved.ApprovedAt == nil {
		t.Fatalf("approval audit fields not stamped: %+v", approved)
	}

	p, err := repo.GetProject(ctx, fx.company.ID, fx.project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.Budget.Cents != 400_000_00 {
		t.Fatalf("budget = %d, want 40000000", p.Budget.Cents)
	}
}

func TestApproveAmendmentConflictAfterFinalized(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)
	ctx := context.Background()

	a, err := repo.CreateAmendment(ctx, core.BudgetAmendment{
		ProjectID:  fx.project.ID,
		Amount:     core.Money{Cents: 50_000_00, Currency: core.NGN},
		Reason:     "Steel price escalation",
		ProposedBy: fx.admin.ID,
		Status:     core.StatusPending,
	})
	if err != nil {
		t.Fatalf("CreateAmendment: %v", err)
	}

	if _, err := repo.ApproveAmendment(ctx, fx.company.ID, a.ID, fx.admin.ID); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	// The losing approval must not touch the budget again.
	if _, err := repo.ApproveAmendment(ctx, fx.company.ID, a.ID, fx.admin.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second approve err = %v, want ErrConflict", err)
	}
	if _, err := repo.RejectAmendment(ctx, fx.company.ID, a.ID, fx.admin.ID, "too late"); !errors.Is(err, ErrConflict) {
		t.Fatalf("reject after approve err = %v, want ErrConflict", err)
	}

	p, _ := repo.GetProject(ctx, fx.company.ID, fx.project.ID)
	if p.Budget.Cents != 550_000_00 {
		t.Fatalf("budget applied more than once: %d", p.Budget.Cents)
	}
}

func TestRejectAmendmentLeavesBudgetAlone(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)
	ctx := context.Background()

	a, _ := repo.CreateAmendment(ctx, core.BudgetAmendment{
		ProjectID:  fx.project.ID,
		Amount:     core.Money{Cents: 75_000_00, Currency: core.NGN},
		Reason:     "Contingency for rainy season",
		ProposedBy: fx.admin.ID,
		Status:     core.StatusPending,
	})

	rejected, err := repo.RejectAmendment(ctx, fx.company.ID, a.ID, fx.admin.ID, "Not justified by schedule risk")
	if err != nil {
		t.Fatalf("RejectAmendment: %v", err)
	}
	if rejected.Status != core.StatusRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}
	if rejected.RejectionComments == "" {
		t.Fatal("rejection comments not persisted")
	}

	p, _ := repo.GetProject(ctx, fx.company.ID, fx.project.ID)
	if p.Budget.Cents != fx.project.Budget.Cents {
		t.Fatalf("budget changed on rejection: %d", p.Budget.Cents)
	}
}

func TestApproveZeroImpactChangeOrder(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)
	ctx := context.Background()

	co, err := repo.CreateChangeOrder(ctx, core.ChangeOrder{
		ProjectID:   fx.project.ID,
		Description: "Swap window supplier, no cost difference",
		CostImpact:  core.Money{Cents: 0, Currency: core.NGN},
		ProposedBy:  fx.admin.ID,
		Status:      core.StatusDraft,
	})
	if err != nil {
		t.Fatalf("CreateChangeOrder: %v", err)
	}

	if _, err := repo.ApproveChangeOrder(ctx, fx.company.ID, co.ID, fx.admin.ID); err != nil {
		t.Fatalf("ApproveChangeOrder: %v", err)
	}

	p, _ := repo.GetProject(ctx, fx.company.ID, fx.project.ID)
	if p.Budget.Cents != fx.project.Budget.Cents {
		t.Fatalf("zero-impact order changed budget: %d", p.Budget.Cents)
	}
}

func TestApproveAllocationBooksConsumed(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)
	ctx := context.Background()

	li, err := repo.CreateLineItem(ctx, core.LineItem{ProjectID: fx.project.ID, Name: "Foundation"})
	if err != nil {
		t.Fatalf("CreateLineItem: %v", err)
	}

	ca := core.CostAllocation{
		ProjectID:  fx.project.ID,
		LineItemID: li.ID,
		LabourCost: core.Money{Cents: 500_00, Currency: core.NGN},
		EnteredBy:  fx.admin.ID,
		Status:     core.StatusPending,
		Materials: []core.MaterialAllocation{
			{MaterialName: "Cement", Quantity: 10, UnitPrice: core.Money{Cents: 25_00, Currency: core.NGN}},
		},
	}
	ca.ComputeTotals()

	created, err := repo.CreateCostAllocation(ctx, ca)
	if err != nil {
		t.Fatalf("CreateCostAllocation: %v", err)
	}

	approved, err := repo.ApproveCostAllocation(ctx, fx.company.ID, created.ID, fx.admin.ID)
	if err != nil {
		t.Fatalf("ApproveCostAllocation: %v", err)
	}
	if approved.TotalCost.Cents != 750_00 {
		t.Fatalf("total = %d, want 75000", approved.TotalCost.Cents)
	}
	if len(approved.Materials) != 1 || approved.Materials[0].Total.Cents != 250_00 {
		t.Fatalf("material lines not persisted: %+v", approved.Materials)
	}

	p, _ := repo.GetProject(ctx, fx.company.ID, fx.project.ID)
	if p.Consumed.Cents != 750_00 {
		t.Fatalf("consumed = %d, want 75000", p.Consumed.Cents)
	}

	// Approving twice must not double-book.
	if _, err := repo.ApproveCostAllocation(ctx, fx.company.ID, created.ID, fx.admin.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second approve err = %v, want ErrConflict", err)
	}
	p, _ = repo.GetProject(ctx, fx.company.ID, fx.project.ID)
	if p.Consumed.Cents != 750_00 {
		t.Fatalf("consumed booked twice: %d", p.Consumed.Cents)
	}
}

func TestTenantScopingHidesOtherCompanies(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)
	ctx := context.Background()

	other, err := repo.CreateCompany(ctx, core.Company{Name: "Abuja Roads Ltd"})
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}

	if _, err := repo.GetProject(ctx, other.ID, fx.project.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant project read err = %v, want ErrNotFound", err)
	}

	a, _ := repo.CreateAmendment(ctx, core.BudgetAmendment{
		ProjectID:  fx.project.ID,
		Amount:     core.Money{Cents: 10_000_00, Currency: core.NGN},
		Reason:     "Extra groundwork required",
		ProposedBy: fx.admin.ID,
		Status:     core.StatusPending,
	})
	if _, err := repo.ApproveAmendment(ctx, other.ID, a.ID, fx.admin.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant approve err = %v, want ErrNotFound", err)
	}
}

func TestListPendingApprovalsMergesKinds(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)
	ctx := context.Background()

	li, _ := repo.CreateLineItem(ctx, core.LineItem{ProjectID: fx.project.ID, Name: "Electrical"})

	if _, err := repo.CreateAmendment(ctx, core.BudgetAmendment{
		ProjectID:  fx.project.ID,
		Amount:     core.Money{Cents: 20_000_00, Currency: core.NGN},
		Reason:     "Additional cabling runs",
		ProposedBy: fx.admin.ID,
		Status:     core.StatusPending,
	}); err != nil {
		t.Fatalf("CreateAmendment: %v", err)
	}
	if _, err := repo.CreateChangeOrder(ctx, core.ChangeOrder{
		ProjectID:   fx.project.ID,
		Description: "Upgrade distribution board to three-phase",
		CostImpact:  core.Money{Cents: 5_000_00, Currency: core.NGN},
		ProposedBy:  fx.admin.ID,
		Status:      core.StatusPending,
	}); err != nil {
		t.Fatalf("CreateChangeOrder: %v", err)
	}
	ca := core.CostAllocation{
		ProjectID:  fx.project.ID,
		LineItemID: li.ID,
		LabourCost: core.Money{Cents: 1_000_00, Currency: core.NGN},
		EnteredBy:  fx.admin.ID,
		Status:     core.StatusPending,
	}
	ca.ComputeTotals()
	if _, err := repo.CreateCostAllocation(ctx, ca); err != nil {
		t.Fatalf("CreateCostAllocation: %v", err)
	}

	// Draft records must stay out of the queue.
	if _, err := repo.CreateChangeOrder(ctx, core.ChangeOrder{
		ProjectID:   fx.project.ID,
		Description: "Informational note about site access",
		Status:      core.StatusDraft,
		ProposedBy:  fx.admin.ID,
	}); err != nil {
		t.Fatalf("CreateChangeOrder draft: %v", err)
	}

	pending, err := repo.ListPendingApprovals(ctx, fx.company.ID)
	if err != nil {
		t.Fatalf("ListPendingApprovals: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	seen := map[core.ProposalKind]bool{}
	for _, p := range pending {
		seen[p.Kind] = true
		if p.Status != core.StatusPending {
			t.Fatalf("non-pending record in queue: %+v", p)
		}
	}
	for _, k := range []core.ProposalKind{core.KindAmendment, core.KindChangeOrder, core.KindAllocation} {
		if !seen[k] {
			t.Fatalf("kind %s missing from queue", k)
		}
	}
}

func TestExportSweepLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)
	ctx := context.Background()

	li, _ := repo.CreateLineItem(ctx, core.LineItem{ProjectID: fx.project.ID, Name: "Roofing"})
	ca := core.CostAllocation{
		ProjectID:  fx.project.ID,
		LineItemID: li.ID,
		LabourCost: core.Money{Cents: 2_000_00, Currency: core.NGN},
		EnteredBy:  fx.admin.ID,
		Status:     core.StatusPending,
	}
	ca.ComputeTotals()
	created, _ := repo.CreateCostAllocation(ctx, ca)

	// Pending allocations are not exportable.
	batch, err := repo.ListUnexportedApprovedAllocations(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnexportedApprovedAllocations: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("pending allocation in export batch: %+v", batch)
	}

	if _, err := repo.ApproveCostAllocation(ctx, fx.company.ID, created.ID, fx.admin.ID); err != nil {
		t.Fatalf("ApproveCostAllocation: %v", err)
	}

	batch, _ = repo.ListUnexportedApprovedAllocations(ctx, 10)
	if len(batch) != 1 || batch[0].ID != created.ID {
		t.Fatalf("export batch = %+v, want the approved allocation", batch)
	}

	if err := repo.MarkAllocationExported(ctx, created.ID); err != nil {
		t.Fatalf("MarkAllocationExported: %v", err)
	}
	batch, _ = repo.ListUnexportedApprovedAllocations(ctx, 10)
	if len(batch) != 0 {
		t.Fatalf("exported allocation still in batch: %+v", batch)
	}
}

func TestInitialBudgetsSurviveAmendments(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)
	ctx := context.Background()

	a, _ := repo.CreateAmendment(ctx, core.BudgetAmendment{
		ProjectID:  fx.project.ID,
		Amount:     core.Money{Cents: 100_000_00, Currency: core.NGN},
		Reason:     "Scope extension approved by client",
		ProposedBy: fx.admin.ID,
		Status:     core.StatusPending,
	})
	if _, err := repo.ApproveAmendment(ctx, fx.company.ID, a.ID, fx.admin.ID); err != nil {
		t.Fatalf("ApproveAmendment: %v", err)
	}

	initials, err := repo.InitialBudgets(ctx, fx.company.ID)
	if err != nil {
		t.Fatalf("InitialBudgets: %v", err)
	}
	if got := initials[fx.project.ID].Cents; got != 500_000_00 {
		t.Fatalf("initial budget = %d, want creation-time 50000000", got)
	}
}

func TestUpdateAndDeleteScoped(t *testing.T) {
	repo := newTestRepo(t)
	fx := seed(t, repo)
	ctx := context.Background()

	fx.project.Title = "Warehouse extension phase 2"
	fx.project.Budget.Cents = 600_000_00
	if err := repo.UpdateProject(ctx, fx.project); err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	p, _ := repo.GetProject(ctx, fx.company.ID, fx.project.ID)
	if p.Budget.Cents != 600_000_00 {
		t.Fatalf("direct budget edit not applied: %d", p.Budget.Cents)
	}

	if err := repo.DeleteProject(ctx, fx.company.ID+999, fx.project.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant delete err = %v, want ErrNotFound", err)
	}
}
