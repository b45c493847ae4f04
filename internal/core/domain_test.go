package core

import (
	"errors"
	"testing"
)

func TestBudgetAmendmentValidate(t *testing.T) {
	valid := BudgetAmendment{
		ProjectID: 1,
		Amount:    money(-20000_00),
		Reason:    "Scope reduced after client request",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid amendment rejected: %v", err)
	}

	cases := []struct {
		name  string
		mutat func(*BudgetAmendment)
		want  error
	}{
		{"zero amount", func(a *BudgetAmendment) { a.Amount = money(0) }, ErrZeroAmount},
		{"short reason", func(a *BudgetAmendment) { a.Reason = "too short" }, ErrReasonTooShort},
		{"whitespace reason", func(a *BudgetAmendment) { a.Reason = "              " }, ErrReasonTooShort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := valid
			tc.mutat(&a)
			if err := a.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestChangeOrderValidateAndInitialStatus(t *testing.T) {
	co := ChangeOrder{
		ProjectID:   1,
		Description: "Additional drainage works on the east wing",
		CostImpact:  money(5000_00),
	}
	if err := co.Validate(); err != nil {
		t.Fatalf("valid change order rejected: %v", err)
	}
	if got := co.InitialStatus(); got != StatusPending {
		t.Fatalf("non-zero impact starts %s, want pending", got)
	}

	co.CostImpact = money(0)
	if got := co.InitialStatus(); got != StatusDraft {
		t.Fatalf("zero impact starts %s, want draft", got)
	}

	co.Description = "too short"
	if err := co.Validate(); !errors.Is(err, ErrDescTooShort) {
		t.Fatalf("got %v, want ErrDescTooShort", err)
	}
}

func TestCostAllocationComputeTotals(t *testing.T) {
	// labour 500.00 + 10 × 25.00 materials = 250.00 material, 750.00 total
	alloc := CostAllocation{
		LabourCost: money(500_00),
		Materials: []MaterialAllocation{
			{MaterialName: "Cement", Quantity: 10, UnitPrice: money(25_00)},
		},
	}
	alloc.ComputeTotals()

	if alloc.MaterialCost.Cents != 250_00 {
		t.Fatalf("MaterialCost = %d, want %d", alloc.MaterialCost.Cents, int64(250_00))
	}
	if alloc.TotalCost.Cents != 750_00 {
		t.Fatalf("TotalCost = %d, want %d", alloc.TotalCost.Cents, int64(750_00))
	}
	if alloc.Materials[0].Total.Cents != 250_00 {
		t.Fatalf("line total = %d, want %d", alloc.Materials[0].Total.Cents, int64(250_00))
	}
}

func TestCostAllocationComputeTotalsEmptyMaterials(t *testing.T) {
	alloc := CostAllocation{LabourCost: money(100_00)}
	alloc.ComputeTotals()
	if alloc.MaterialCost.Cents != 0 || alloc.TotalCost.Cents != 100_00 {
		t.Fatalf("totals = %d/%d, want 0/%d",
			alloc.MaterialCost.Cents, alloc.TotalCost.Cents, int64(100_00))
	}
}

func TestCostAllocationValidateBoundary(t *testing.T) {
	// Zero labour and no materials is rejected at the boundary.
	empty := CostAllocation{LabourCost: money(0)}
	if err := empty.Validate(); !errors.Is(err, ErrEmptyAllocation) {
		t.Fatalf("got %v, want ErrEmptyAllocation", err)
	}

	// One cent of labour is enough.
	tiny := CostAllocation{LabourCost: money(1)}
	if err := tiny.Validate(); err != nil {
		t.Fatalf("0.01 labour with no materials should pass: %v", err)
	}

	// Zero labour with a material line is fine.
	materialsOnly := CostAllocation{
		Materials: []MaterialAllocation{{Quantity: 2, UnitPrice: money(50_00)}},
	}
	if err := materialsOnly.Validate(); err != nil {
		t.Fatalf("materials-only allocation should pass: %v", err)
	}

	bad := CostAllocation{
		LabourCost: money(100),
		Materials:  []MaterialAllocation{{Quantity: 0, UnitPrice: money(50_00)}},
	}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("got %v, want ErrInvalidQuantity", err)
	}

	bad.Materials[0] = MaterialAllocation{Quantity: 1, UnitPrice: money(0)}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidUnitPrice) {
		t.Fatalf("got %v, want ErrInvalidUnitPrice", err)
	}
}

func TestTransactionValidate(t *testing.T) {
	ok := Transaction{Type: TransactionExpense, Amount: money(10_00)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid transaction rejected: %v", err)
	}

	bad := Transaction{Type: "transfer", Amount: money(10_00)}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("got %v, want ErrInvalidTransaction", err)
	}

	neg := Transaction{Type: TransactionRevenue, Amount: money(-5)}
	if err := neg.Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}
}

func TestProposalStatusTerminal(t *testing.T) {
	for _, s := range []ProposalStatus{StatusApproved, StatusRejected} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []ProposalStatus{StatusDraft, StatusPending} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestProposalKindValid(t *testing.T) {
	for _, k := range []ProposalKind{KindAmendment, KindChangeOrder, KindAllocation} {
		if !k.Valid() {
			t.Fatalf("%s should be valid", k)
		}
	}
	if ProposalKind("invoice").Valid() {
		t.Fatal("unknown kind should be invalid")
	}
}
