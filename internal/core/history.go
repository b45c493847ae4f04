package core

import (
	"sort"
	"time"
)

// HistoryEntryType discriminates the sources merged into a budget
// history timeline.
type HistoryEntryType string

const (
	HistoryInitial     HistoryEntryType = "initial"
	HistoryAmendment   HistoryEntryType = "amendment"
	HistoryChangeOrder HistoryEntryType = "change_order"
)

// BudgetHistoryEntry is one row of the reconstructed budget timeline.
// It is derived at query time and never persisted.
type BudgetHistoryEntry struct {
	Type         HistoryEntryType `json:"type"`
	SourceID     int64            `json:"sourceId"`
	ProjectID    int64            `json:"projectId"`
	ProjectTitle string           `json:"projectTitle"`
	Amount       Money            `json:"amount"`
	Status       ProposalStatus   `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	RunningTotal Money            `json:"runningTotal"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// HistoryInput bundles the raw records the reconstruction runs over.
// InitialBudgets must hold the budget each project was created with,
// not its current figure, or approved entries would be double counted.
type HistoryInput struct {
	Projects       []Project
	InitialBudgets map[int64]Money
	Amendments     []BudgetAmendment
	ChangeOrders   []ChangeOrder
}

// ReconstructBudgetHistory merges one synthetic initial entry per
// project, all amendments, and all change orders with non-zero cost
// impact, sorts them by creation time and walks the list keeping a
// per-project running total:
//
//   - initial entries set the running total,
//   - approved entries add their amount to it,
//   - everything else is annotated with the current total unchanged.
//
// The function is pure: the same input always yields the same output.
func ReconstructBudgetHistory(in HistoryInput) []BudgetHistoryEntry {
	titles := make(map[int64]string, len(in.Projects))
	entries := make([]BudgetHistoryEntry, 0, len(in.Projects)+len(in.Amendments)+len(in.ChangeOrders))

	for _, p := range in.Projects {
		titles[p.ID] = p.Title
		initial, ok := in.InitialBudgets[p.ID]
		if !ok {
			initial = p.Budget
		}
		entries = append(entries, BudgetHistoryEntry{
			Type:         HistoryInitial,
			SourceID:     p.ID,
			ProjectID:    p.ID,
			ProjectTitle: p.Title,
			Amount:       initial,
			Status:       StatusApproved,
			CreatedAt:    p.CreatedAt,
		})
	}

	for _, a := range in.Amendments {
		entries = append(entries, BudgetHistoryEntry{
			Type:         HistoryAmendment,
			SourceID:     a.ID,
			ProjectID:    a.ProjectID,
			ProjectTitle: titles[a.ProjectID],
			Amount:       a.Amount,
			Status:       a.Status,
			Reason:       a.Reason,
			CreatedAt:    a.CreatedAt,
		})
	}

	for _, c := range in.ChangeOrders {
		if c.CostImpact.Cents == 0 {
			continue
		}
		entries = append(entries, BudgetHistoryEntry{
			Type:         HistoryChangeOrder,
			SourceID:     c.ID,
			ProjectID:    c.ProjectID,
			ProjectTitle: titles[c.ProjectID],
			Amount:       c.CostImpact,
			Status:       c.Status,
			Reason:       c.Description,
			CreatedAt:    c.CreatedAt,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	running := make(map[int64]Money)
	for i := range entries {
		e := &entries[i]
		switch {
		case e.Type == HistoryInitial:
			running[e.ProjectID] = e.Amount
		case e.Status == StatusApproved:
			running[e.ProjectID] = running[e.ProjectID].Add(e.Amount)
		}
		e.RunningTotal = running[e.ProjectID]
	}

	return entries
}

// HistoryFilter narrows a reconstructed timeline without touching the
// computed running totals.
type HistoryFilter struct {
	Type      HistoryEntryType
	Status    ProposalStatus
	ProjectID int64
}

// FilterHistory returns the entries matching the filter. Zero-valued
// filter fields match everything; filtering never recomputes totals.
func FilterHistory(entries []BudgetHistoryEntry, f HistoryFilter) []BudgetHistoryEntry {
	out := make([]BudgetHistoryEntry, 0, len(entries))
	for _, e := range entries {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.ProjectID != 0 && e.ProjectID != f.ProjectID {
			continue
		}
		out = append(out, e)
	}
	return out
}
