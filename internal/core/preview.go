package core

// Significance thresholds, in percent of the current budget. Exceeding
// one only adds a warning badge and an extra confirmation step in
// clients; it never blocks submission.
const (
	AmendmentSignificanceThreshold   = 10.0
	ChangeOrderSignificanceThreshold = 5.0
)

// ImpactType classifies the direction of a proposed budget change.
type ImpactType string

const (
	ImpactIncrease ImpactType = "increase"
	ImpactDecrease ImpactType = "decrease"
	ImpactNeutral  ImpactType = "neutral"
)

// BudgetImpact is the preview computed for a proposed amendment or
// change order before anyone approves it.
type BudgetImpact struct {
	CurrentBudget      Money      `json:"currentBudget"`
	ProposedAmount     Money      `json:"proposedAmount"`
	NewBudget          Money      `json:"newBudget"`
	PercentageChange   float64    `json:"percentageChange"`
	CurrentUtilization float64    `json:"currentUtilization"`
	NewUtilization     float64    `json:"newUtilization"`
	RemainingAfter     Money      `json:"remainingAfter"`
	ImpactType         ImpactType `json:"impactType"`
	IsSignificant      bool       `json:"isSignificant"`
}

// PreviewBudgetImpact computes the effect a signed proposed amount
// would have on a project budget. Denominators that are zero or
// negative yield exactly 0, never NaN or Inf; that guard is a policy,
// not an accident.
func PreviewBudgetImpact(currentBudget, currentSpent, proposedAmount Money, threshold float64) BudgetImpact {
	cur := currentBudget.Currency
	newBudget := Money{Cents: currentBudget.Cents + proposedAmount.Cents, Currency: cur}

	var percentageChange float64
	if currentBudget.Cents > 0 {
		percentageChange = float64(proposedAmount.Cents) / float64(currentBudget.Cents) * 100
	}

	var currentUtilization float64
	if currentBudget.Cents > 0 {
		currentUtilization = float64(currentSpent.Cents) / float64(currentBudget.Cents) * 100
	}

	var newUtilization float64
	if newBudget.Cents > 0 {
		newUtilization = float64(currentSpent.Cents) / float64(newBudget.Cents) * 100
	}

	impact := ImpactNeutral
	switch {
	case proposedAmount.Cents > 0:
		impact = ImpactIncrease
	case proposedAmount.Cents < 0:
		impact = ImpactDecrease
	}

	return BudgetImpact{
		CurrentBudget:      currentBudget,
		ProposedAmount:     proposedAmount,
		NewBudget:          newBudget,
		PercentageChange:   percentageChange,
		CurrentUtilization: currentUtilization,
		NewUtilization:     newUtilization,
		RemainingAfter:     Money{Cents: newBudget.Cents - currentSpent.Cents, Currency: cur},
		ImpactType:         impact,
		IsSignificant:      IsSignificant(proposedAmount, currentBudget, threshold),
	}
}

// IsSignificant reports whether |amount| exceeds the threshold
// percentage of the current budget. Exactly at the threshold is not
// significant; the comparison is strictly greater-than.
func IsSignificant(amount, currentBudget Money, threshold float64) bool {
	if currentBudget.Cents <= 0 {
		return false
	}
	pct := float64(amount.Abs().Cents) / float64(currentBudget.Cents) * 100
	return pct > threshold
}
