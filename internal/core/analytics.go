package core

// Budget health thresholds, in percent utilization. These drive UI
// badges only; the system never blocks spend on their account.
const (
	UtilizationCritical = 90.0
	UtilizationWarning  = 75.0
)

// BudgetHealth is the traffic-light state derived from utilization.
type BudgetHealth string

const (
	HealthHealthy  BudgetHealth = "healthy"
	HealthWarning  BudgetHealth = "warning"
	HealthCritical BudgetHealth = "critical"
)

// HealthFor maps a utilization percentage to its traffic-light state.
func HealthFor(utilization float64) BudgetHealth {
	switch {
	case utilization >= UtilizationCritical:
		return HealthCritical
	case utilization >= UtilizationWarning:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// CategoryAmount is one slice of a category spending breakdown.
type CategoryAmount struct {
	Name   string `json:"name"`
	Amount Money  `json:"amount"`
}

// AnalyticsSummary aggregates spend and revenue for a tenant or a
// single project.
type AnalyticsSummary struct {
	TotalBudget       Money            `json:"totalBudget"`
	TotalSpent        Money            `json:"totalSpent"`
	TotalRevenue      Money            `json:"totalRevenue"`
	NetProfit         Money            `json:"netProfit"`
	BudgetUtilization float64          `json:"budgetUtilization"`
	Health            BudgetHealth     `json:"health"`
	LabourTotal       Money            `json:"labourTotal"`
	MaterialTotal     Money            `json:"materialTotal"`
	ByCategory        []CategoryAmount `json:"byCategory,omitempty"`
	ProjectCount      int              `json:"projectCount,omitempty"`
}

// AnalyticsInput carries the raw records the aggregation runs over.
// Transactions and allocations must already be scoped to the tenant or
// project being summarized.
type AnalyticsInput struct {
	Projects     []Project
	Transactions []Transaction
	Allocations  []CostAllocation
	Currency     Currency
}

// Aggregate computes the analytics summary. Total spend is expense
// transactions plus approved cost allocation totals; the two sources
// are disjoint so nothing is double counted. Utilization of a zero or
// negative budget is exactly 0.
func Aggregate(in AnalyticsInput) AnalyticsSummary {
	cur := in.Currency
	sum := AnalyticsSummary{
		TotalBudget:   Money{Currency: cur},
		TotalSpent:    Money{Currency: cur},
		TotalRevenue:  Money{Currency: cur},
		LabourTotal:   Money{Currency: cur},
		MaterialTotal: Money{Currency: cur},
		ProjectCount:  len(in.Projects),
	}

	for _, p := range in.Projects {
		sum.TotalBudget.Cents += p.Budget.Cents
		sum.TotalRevenue.Cents += p.Revenue.Cents
	}

	byCategory := make(map[string]int64)
	for _, t := range in.Transactions {
		switch t.Type {
		case TransactionExpense:
			sum.TotalSpent.Cents += t.Amount.Cents
			byCategory[t.Category] += t.Amount.Cents
		case TransactionRevenue:
			sum.TotalRevenue.Cents += t.Amount.Cents
		}
	}

	for _, a := range in.Allocations {
		if a.Status != StatusApproved {
			continue
		}
		sum.TotalSpent.Cents += a.TotalCost.Cents
		sum.LabourTotal.Cents += a.LabourCost.Cents
		sum.MaterialTotal.Cents += a.MaterialCost.Cents
	}

	if sum.TotalBudget.Cents > 0 {
		sum.BudgetUtilization = float64(sum.TotalSpent.Cents) / float64(sum.TotalBudget.Cents) * 100
	}
	sum.Health = HealthFor(sum.BudgetUtilization)
	sum.NetProfit = Money{Cents: sum.TotalRevenue.Cents - sum.TotalSpent.Cents, Currency: cur}

	for name, cents := range byCategory {
		sum.ByCategory = append(sum.ByCategory, CategoryAmount{
			Name:   name,
			Amount: Money{Cents: cents, Currency: cur},
		})
	}
	sortCategories(sum.ByCategory)

	return sum
}

// sortCategories orders breakdown slices largest first, ties by name,
// so output is deterministic for tests and cache keys.
func sortCategories(cats []CategoryAmount) {
	for i := 1; i < len(cats); i++ {
		for j := i; j > 0; j-- {
			a, b := cats[j-1], cats[j]
			if a.Amount.Cents > b.Amount.Cents || (a.Amount.Cents == b.Amount.Cents && a.Name <= b.Name) {
				break
			}
			cats[j-1], cats[j] = b, a
		}
	}
}
