package services

import (
	"context"
	"fmt"
	"time"

	"buildledger/internal/cache"
	"buildledger/internal/core"
	"buildledger/internal/log"
	"buildledger/internal/storage"
)

const (
	viewCacheSize = 256
	viewCacheTTL  = 5 * time.Minute
)

// ViewService serves the derived read models: analytics rollups, the
// budget history timeline, the pending approval queue and budget impact
// previews. Expensive views are cached per tenant; the dependency graph
// evicts them when a write makes them stale.
type ViewService struct {
	storage   *storage.SQLiteRepository
	analytics *cache.LRUCache[core.AnalyticsSummary]
	history   *cache.LRUCache[[]core.BudgetHistoryEntry]
	pending   *cache.LRUCache[[]core.PendingApproval]
	logger    *log.Logger
}

// NewViewService wires the view caches into the invalidator and the
// cleanup manager. Either may be nil in tests.
func NewViewService(repo *storage.SQLiteRepository, invalidator *cache.Invalidator, manager *cache.Manager, logger *log.Logger) *ViewService {
	s := &ViewService{
		storage:   repo,
		analytics: cache.NewLRUCache[core.AnalyticsSummary](viewCacheSize, viewCacheTTL),
		history:   cache.NewLRUCache[[]core.BudgetHistoryEntry](viewCacheSize, viewCacheTTL),
		pending:   cache.NewLRUCache[[]core.PendingApproval](viewCacheSize, viewCacheTTL),
		logger:    logger.WithComponent(log.ComponentCache),
	}
	if invalidator != nil {
		invalidator.Register(cache.ViewAnalytics, s.analytics)
		invalidator.Register(cache.ViewHistory, s.history)
		invalidator.Register(cache.ViewPending, s.pending)
	}
	if manager != nil {
		manager.Register(s.analytics)
		manager.Register(s.history)
		manager.Register(s.pending)
	}
	return s
}

// CompanyAnalytics aggregates spend, revenue and budget health across
// every project of the tenant.
func (s *ViewService) CompanyAnalytics(ctx context.Context, companyID int64) (core.AnalyticsSummary, error) {
	key := cache.TenantKey(cache.ViewAnalytics, companyID)
	if sum, ok := s.analytics.Get(key); ok {
		return sum, nil
	}

	sum, err := s.aggregate(ctx, companyID, 0)
	if err != nil {
		return core.AnalyticsSummary{}, err
	}
	s.analytics.Set(key, sum)
	return sum, nil
}

// ProjectAnalytics aggregates one project.
func (s *ViewService) ProjectAnalytics(ctx context.Context, companyID, projectID int64) (core.AnalyticsSummary, error) {
	key := fmt.Sprintf("%s:project:%d", cache.TenantKey(cache.ViewAnalytics, companyID), projectID)
	if sum, ok := s.analytics.Get(key); ok {
		return sum, nil
	}

	if _, err := s.storage.GetProject(ctx, companyID, projectID); err != nil {
		return core.AnalyticsSummary{}, err
	}
	sum, err := s.aggregate(ctx, companyID, projectID)
	if err != nil {
		return core.AnalyticsSummary{}, err
	}
	s.analytics.Set(key, sum)
	return sum, nil
}

func (s *ViewService) aggregate(ctx context.Context, companyID, projectID int64) (core.AnalyticsSummary, error) {
	currency, err := s.storage.CompanyCurrency(ctx, companyID)
	if err != nil {
		return core.AnalyticsSummary{}, err
	}

	projects, err := s.storage.ListProjects(ctx, companyID)
	if err != nil {
		return core.AnalyticsSummary{}, err
	}
	if projectID != 0 {
		scoped := projects[:0]
		for _, p := range projects {
			if p.ID == projectID {
				scoped = append(scoped, p)
			}
		}
		projects = scoped
	}

	transactions, err := s.storage.ListTransactions(ctx, companyID, projectID)
	if err != nil {
		return core.AnalyticsSummary{}, err
	}
	allocations, err := s.storage.ListCostAllocations(ctx, companyID, projectID, "")
	if err != nil {
		return core.AnalyticsSummary{}, err
	}

	return core.Aggregate(core.AnalyticsInput{
		Projects:     projects,
		Transactions: transactions,
		Allocations:  allocations,
		Currency:     currency,
	}), nil
}

// BudgetHistory reconstructs the tenant's budget timeline and applies
// the filter. The unfiltered timeline is what gets cached, so changing
// filters never recomputes.
func (s *ViewService) BudgetHistory(ctx context.Context, companyID int64, filter core.HistoryFilter) ([]core.BudgetHistoryEntry, error) {
	key := cache.TenantKey(cache.ViewHistory, companyID)
	if entries, ok := s.history.Get(key); ok {
		return core.FilterHistory(entries, filter), nil
	}

	projects, err := s.storage.ListProjects(ctx, companyID)
	if err != nil {
		return nil, err
	}
	initials, err := s.storage.InitialBudgets(ctx, companyID)
	if err != nil {
		return nil, err
	}
	amendments, err := s.storage.ListAmendments(ctx, companyID, 0, "")
	if err != nil {
		return nil, err
	}
	orders, err := s.storage.ListChangeOrders(ctx, companyID, 0, "")
	if err != nil {
		return nil, err
	}

	entries := core.ReconstructBudgetHistory(core.HistoryInput{
		Projects:       projects,
		InitialBudgets: initials,
		Amendments:     amendments,
		ChangeOrders:   orders,
	})
	s.history.Set(key, entries)
	return core.FilterHistory(entries, filter), nil
}

// PendingApprovals returns the shared approval queue, oldest first.
func (s *ViewService) PendingApprovals(ctx context.Context, companyID int64) ([]core.PendingApproval, error) {
	key := cache.TenantKey(cache.ViewPending, companyID)
	if queue, ok := s.pending.Get(key); ok {
		return queue, nil
	}

	queue, err := s.storage.ListPendingApprovals(ctx, companyID)
	if err != nil {
		return nil, err
	}
	s.pending.Set(key, queue)
	return queue, nil
}

// PreviewAmendment computes the would-be budget impact of an amendment
// amount without persisting anything.
func (s *ViewService) PreviewAmendment(ctx context.Context, companyID, projectID int64, amount core.Money) (core.BudgetImpact, error) {
	return s.preview(ctx, companyID, projectID, amount, core.AmendmentSignificanceThreshold)
}

// PreviewChangeOrder is the change order analog with its tighter
// significance threshold.
func (s *ViewService) PreviewChangeOrder(ctx context.Context, companyID, projectID int64, impact core.Money) (core.BudgetImpact, error) {
	return s.preview(ctx, companyID, projectID, impact, core.ChangeOrderSignificanceThreshold)
}

func (s *ViewService) preview(ctx context.Context, companyID, projectID int64, amount core.Money, threshold float64) (core.BudgetImpact, error) {
	project, err := s.storage.GetProject(ctx, companyID, projectID)
	if err != nil {
		return core.BudgetImpact{}, err
	}

	// Spend for preview purposes is approved allocations plus expense
	// transactions, the same definition analytics uses.
	spent := project.Consumed
	transactions, err := s.storage.ListTransactions(ctx, companyID, projectID)
	if err != nil {
		return core.BudgetImpact{}, err
	}
	for _, t := range transactions {
		if t.Type == core.TransactionExpense {
			spent.Cents += t.Amount.Cents
		}
	}

	amount.Currency = project.Budget.Currency
	return core.PreviewBudgetImpact(project.Budget, spent, amount, threshold), nil
}
