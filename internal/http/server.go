// Package http exposes the JSON API: authentication, project and
// proposal management, the approval queue, derived views and the SSE
// event stream.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"buildledger/internal/auth"
	"buildledger/internal/cache"
	"buildledger/internal/events"
	"buildledger/internal/log"
	"buildledger/internal/middleware/ratelimit"
	"buildledger/internal/middleware/security"
	"buildledger/internal/middleware/trace"
	"buildledger/internal/services"
	"buildledger/internal/storage"
)

// Deps bundles everything the server needs. Hub may be nil; the SSE
// endpoint then reports 503 instead of streaming.
type Deps struct {
	Storage       *storage.SQLiteRepository
	Approvals     *services.ApprovalService
	Views         *services.ViewService
	Authenticator *auth.Authenticator
	Hub           *events.Hub
	Invalidator   *cache.Invalidator
	Logger        *log.Logger

	RateLimitPerMinute int
}

type Server struct {
	http.Server

	storage   *storage.SQLiteRepository
	approvals *services.ApprovalService
	views     *services.ViewService
	auth        *auth.Authenticator
	hub         *events.Hub
	invalidator *cache.Invalidator
	logger      *log.Logger

	limiter      *ratelimit.Limiter
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		storage:   deps.Storage,
		approvals: deps.Approvals,
		views:     deps.Views,
		auth:        deps.Authenticator,
		hub:         deps.Hub,
		invalidator: deps.Invalidator,
		logger:      deps.Logger.WithComponent(log.ComponentHTTP),
	}

	s.limiter = ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: deps.RateLimitPerMinute,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/auth/change-password", s.handleChangePassword)

	api.HandleFunc("GET /api/projects", s.handleListProjects)
	api.HandleFunc("POST /api/projects", s.handleCreateProject)
	api.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	api.HandleFunc("PUT /api/projects/{id}", s.handleUpdateProject)
	api.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)

	api.HandleFunc("GET /api/projects/{id}/line-items", s.handleListLineItems)
	api.HandleFunc("POST /api/projects/{id}/line-items", s.handleCreateLineItem)
	api.HandleFunc("GET /api/projects/{id}/transactions", s.handleListTransactions)
	api.HandleFunc("POST /api/projects/{id}/transactions", s.handleCreateTransaction)
	api.HandleFunc("GET /api/projects/{id}/assignments", s.handleListAssignments)
	api.HandleFunc("POST /api/projects/{id}/assignments", s.handleCreateAssignment)

	api.HandleFunc("GET /api/projects/{id}/amendments", s.handleListAmendments)
	api.HandleFunc("POST /api/projects/{id}/amendments", s.handleProposeAmendment)
	api.HandleFunc("POST /api/projects/{id}/amendments/preview", s.handlePreviewAmendment)
	api.HandleFunc("GET /api/projects/{id}/change-orders", s.handleListChangeOrders)
	api.HandleFunc("POST /api/projects/{id}/change-orders", s.handleProposeChangeOrder)
	api.HandleFunc("POST /api/projects/{id}/change-orders/preview", s.handlePreviewChangeOrder)
	api.HandleFunc("GET /api/projects/{id}/cost-allocations", s.handleListAllocations)
	api.HandleFunc("POST /api/projects/{id}/cost-allocations", s.handleProposeAllocation)
	api.HandleFunc("GET /api/cost-allocations/{id}", s.handleGetAllocation)

	api.HandleFunc("GET /api/approvals/pending", s.handlePendingApprovals)
	api.HandleFunc("POST /api/approvals/{kind}/{id}/approve", s.handleApprove)
	api.HandleFunc("POST /api/approvals/{kind}/{id}/reject", s.handleReject)

	api.HandleFunc("GET /api/budget-history", s.handleBudgetHistory)
	api.HandleFunc("GET /api/analytics", s.handleCompanyAnalytics)
	api.HandleFunc("GET /api/projects/{id}/analytics", s.handleProjectAnalytics)

	api.HandleFunc("GET /api/teams", s.handleListTeams)
	api.HandleFunc("POST /api/teams", s.handleCreateTeam)
	api.HandleFunc("PUT /api/teams/{id}", s.handleUpdateTeam)
	api.HandleFunc("DELETE /api/teams/{id}", s.handleDeleteTeam)

	api.HandleFunc("GET /api/companies/me", s.handleGetCompany)
	api.HandleFunc("PUT /api/companies/me", s.handleUpdateCompany)
	api.HandleFunc("POST /api/companies/populate-industry", s.handlePopulateIndustry)

	api.HandleFunc("GET /api/events", s.handleEvents)

	mux.Handle("/api/", s.requireAuth(api))

	resolver := security.NewClientIPResolver()
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(resolver.ExtractClientIP, deps.Logger)

	handler := s.limiter.Middleware(resolver.ExtractClientIP, nil)(mux)
	handler = headers.Middleware(handler)
	handler = tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter cleanup and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
