package cache

import "fmt"

// Entity names a write target; View names a cached read model.
type Entity string

type View string

const (
	EntityProject     Entity = "project"
	EntityAmendment   Entity = "amendment"
	EntityChangeOrder Entity = "change_order"
	EntityAllocation  Entity = "allocation"
	EntityTransaction Entity = "transaction"
	EntityTeam        Entity = "team"
	EntityCompany     Entity = "company"
)

const (
	ViewProjects  View = "projects"
	ViewAnalytics View = "analytics"
	ViewHistory   View = "history"
	ViewPending   View = "pending"
	ViewTeams     View = "teams"
)

// dependents maps each entity to the views its writes stale. The graph
// replaces blanket flush-everything invalidation: a team rename no
// longer evicts the analytics rollup.
var dependents = map[Entity][]View{
	EntityProject:     {ViewProjects, ViewAnalytics, ViewHistory},
	EntityAmendment:   {ViewProjects, ViewAnalytics, ViewHistory, ViewPending},
	EntityChangeOrder: {ViewProjects, ViewAnalytics, ViewHistory, ViewPending},
	EntityAllocation:  {ViewProjects, ViewAnalytics, ViewPending},
	EntityTransaction: {ViewAnalytics},
	EntityTeam:        {ViewTeams},
	EntityCompany:     {ViewProjects, ViewAnalytics, ViewHistory, ViewTeams},
}

// Dependents returns the views invalidated by a write to the entity.
func Dependents(entity Entity) []View {
	return dependents[entity]
}

// TenantKey builds the cache key for a view scoped to one company.
func TenantKey(view View, companyID int64) string {
	return fmt.Sprintf("%s:%d", view, companyID)
}

// TenantPrefix covers every key of a view within one company, including
// sub-keys like "projects:3:detail:7".
func TenantPrefix(view View, companyID int64) string {
	return fmt.Sprintf("%s:%d", view, companyID)
}

// PrefixDeleter is the slice of Cache a view registry needs for
// invalidation.
type PrefixDeleter interface {
	DeletePrefix(prefix string) int
}

// Invalidator routes entity writes to the caches holding stale views.
type Invalidator struct {
	views map[View]PrefixDeleter
}

func NewInvalidator() *Invalidator {
	return &Invalidator{views: make(map[View]PrefixDeleter)}
}

// Register binds a view name to the cache storing it.
func (inv *Invalidator) Register(view View, cache PrefixDeleter) {
	inv.views[view] = cache
}

// OnWrite evicts all views dependent on the written entity within the
// tenant, and reports how many entries were dropped.
func (inv *Invalidator) OnWrite(entity Entity, companyID int64) int {
	dropped := 0
	for _, view := range Dependents(entity) {
		if cache, ok := inv.views[view]; ok {
			dropped += cache.DeletePrefix(TenantPrefix(view, companyID))
		}
	}
	return dropped
}
