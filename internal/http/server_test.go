package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"buildledger/internal/auth"
	"buildledger/internal/cache"
	"buildledger/internal/core"
	"buildledger/internal/events"
	"buildledger/internal/log"
	"buildledger/internal/services"
	"buildledger/internal/storage"
)

type serverFixture struct {
	ts      *httptest.Server
	repo    *storage.SQLiteRepository
	company core.Company
	admin   core.User
	member  core.User

	adminToken  string
	memberToken string
}

const testPassword = "open-sesame-42"

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	ctx := context.Background()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	company, err := repo.CreateCompany(ctx, core.Company{Name: "Lagos Build Co " + t.Name()})
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	admin, err := repo.CreateUser(ctx, core.User{
		CompanyID: company.ID, Name: "Ada",
		Email:        "ada-" + t.Name() + "@example.com",
		PasswordHash: hash, Role: core.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("CreateUser admin: %v", err)
	}
	member, err := repo.CreateUser(ctx, core.User{
		CompanyID: company.ID, Name: "Musa",
		Email:        "musa-" + t.Name() + "@example.com",
		PasswordHash: hash, Role: core.RoleMember,
	})
	if err != nil {
		t.Fatalf("CreateUser member: %v", err)
	}

	logger := log.New(log.DefaultConfig())
	authenticator := auth.NewAuthenticator("0123456789abcdef0123456789abcdef", time.Hour)
	hub := events.NewHub(logger)
	invalidator := cache.NewInvalidator()
	views := services.NewViewService(repo, invalidator, nil, logger)
	approvals := services.NewApprovalService(repo, nil, hub, invalidator, logger)

	srv := NewServer("127.0.0.1:0", Deps{
		Storage:            repo,
		Approvals:          approvals,
		Views:              views,
		Authenticator:      authenticator,
		Hub:                hub,
		Invalidator:        invalidator,
		Logger:             logger,
		RateLimitPerMinute: 10_000,
	})
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	ts := httptest.NewServer(srv.Server.Handler)
	t.Cleanup(ts.Close)

	adminToken, err := authenticator.IssueToken(admin)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	memberToken, err := authenticator.IssueToken(member)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	return &serverFixture{
		ts:          ts,
		repo:        repo,
		company:     company,
		admin:       admin,
		member:      member,
		adminToken:  adminToken,
		memberToken: memberToken,
	}
}

func (fx *serverFixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, fx.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := fx.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (fx *serverFixture) createProject(t *testing.T, budget string) core.Project {
	t.Helper()
	resp := fx.do(t, http.MethodPost, "/api/projects", fx.adminToken, map[string]string{
		"title":  "Warehouse extension",
		"budget": budget,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project: status %d", resp.StatusCode)
	}
	return decodeBody[core.Project](t, resp)
}

func TestLogin(t *testing.T) {
	fx := newServerFixture(t)

	resp := fx.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    fx.admin.Email,
		"password": testPassword,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}
	body := decodeBody[loginResponse](t, resp)
	if body.Token == "" {
		t.Fatal("login returned empty token")
	}
	if body.User.ID != fx.admin.ID || body.User.Role != core.RoleAdmin {
		t.Fatalf("login user = %+v", body.User)
	}

	bad := fx.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    fx.admin.Email,
		"password": "wrong",
	})
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d, want 401", bad.StatusCode)
	}

	unknown := fx.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "nobody@example.com",
		"password": testPassword,
	})
	if unknown.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown user: status %d, want 401", unknown.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	fx := newServerFixture(t)

	resp := fx.do(t, http.MethodGet, "/api/projects", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", resp.StatusCode)
	}

	resp = fx.do(t, http.MethodGet, "/api/projects", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, want 401", resp.StatusCode)
	}
}

func TestProjectCRUD(t *testing.T) {
	fx := newServerFixture(t)

	project := fx.createProject(t, "5000000.00")
	if project.Budget.Cents != 500_000_000 {
		t.Fatalf("budget = %d cents", project.Budget.Cents)
	}
	if project.Budget.Currency != core.NGN {
		t.Fatalf("currency = %s, want NGN", project.Budget.Currency)
	}

	resp := fx.do(t, http.MethodGet, "/api/projects", fx.adminToken, nil)
	projects := decodeBody[[]core.Project](t, resp)
	if len(projects) != 1 || projects[0].ID != project.ID {
		t.Fatalf("list projects = %+v", projects)
	}

	// Members may read but not create.
	forbidden := fx.do(t, http.MethodPost, "/api/projects", fx.memberToken, map[string]string{
		"title": "Rogue project", "budget": "1.00",
	})
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("member create: status %d, want 403", forbidden.StatusCode)
	}

	missing := fx.do(t, http.MethodGet, "/api/projects/9999", fx.adminToken, nil)
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing project: status %d, want 404", missing.StatusCode)
	}
}

func TestAmendmentLifecycleOverAPI(t *testing.T) {
	fx := newServerFixture(t)
	project := fx.createProject(t, "1000000.00")
	base := fmt.Sprintf("/api/projects/%d", project.ID)

	resp := fx.do(t, http.MethodPost, base+"/amendments", fx.adminToken, map[string]string{
		"amount": "-200000.00",
		"reason": "Steel price dropped after renegotiation",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("propose amendment: status %d", resp.StatusCode)
	}
	amendment := decodeBody[core.BudgetAmendment](t, resp)
	if amendment.Status != core.StatusPending {
		t.Fatalf("status = %s, want pending", amendment.Status)
	}
	if amendment.Amount.Cents != -20_000_000 {
		t.Fatalf("amount = %d cents", amendment.Amount.Cents)
	}

	approveURL := fmt.Sprintf("/api/approvals/amendment/%d/approve", amendment.ID)
	approved := fx.do(t, http.MethodPost, approveURL, fx.adminToken, nil)
	if approved.StatusCode != http.StatusOK {
		t.Fatalf("approve: status %d", approved.StatusCode)
	}

	// Losing a repeat of the same transition is a conflict, not an error.
	again := fx.do(t, http.MethodPost, approveURL, fx.adminToken, nil)
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("double approve: status %d, want 409", again.StatusCode)
	}

	after := fx.do(t, http.MethodGet, base, fx.adminToken, nil)
	updated := decodeBody[core.Project](t, after)
	if updated.Budget.Cents != 80_000_000 {
		t.Fatalf("budget after approval = %d cents, want 80000000", updated.Budget.Cents)
	}
}

func TestRejectRequiresComments(t *testing.T) {
	fx := newServerFixture(t)
	project := fx.createProject(t, "1000000.00")

	resp := fx.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/amendments", project.ID),
		fx.adminToken, map[string]string{
			"amount": "50000.00",
			"reason": "Additional drainage works required",
		})
	amendment := decodeBody[core.BudgetAmendment](t, resp)

	rejectURL := fmt.Sprintf("/api/approvals/amendment/%d/reject", amendment.ID)
	blank := fx.do(t, http.MethodPost, rejectURL, fx.adminToken, map[string]string{"comments": "  "})
	if blank.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("blank comments: status %d, want 422", blank.StatusCode)
	}

	rejected := fx.do(t, http.MethodPost, rejectURL, fx.adminToken, map[string]string{
		"comments": "Drainage is in the main contract scope",
	})
	if rejected.StatusCode != http.StatusOK {
		t.Fatalf("reject: status %d", rejected.StatusCode)
	}
	body := decodeBody[core.BudgetAmendment](t, rejected)
	if body.Status != core.StatusRejected {
		t.Fatalf("status = %s, want rejected", body.Status)
	}
}

func TestValidationErrorsMapTo422(t *testing.T) {
	fx := newServerFixture(t)
	project := fx.createProject(t, "1000000.00")

	short := fx.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/amendments", project.ID),
		fx.adminToken, map[string]string{"amount": "1000.00", "reason": "short"})
	if short.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("short reason: status %d, want 422", short.StatusCode)
	}

	zero := fx.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/amendments", project.ID),
		fx.adminToken, map[string]string{"amount": "0.00", "reason": "a perfectly fine reason"})
	if zero.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("zero amount: status %d, want 422", zero.StatusCode)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	project := fx.createProject(t, "1000000.00")

	resp := fx.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/amendments/preview", project.ID),
		fx.adminToken, map[string]string{"amount": "-200000.00"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview: status %d", resp.StatusCode)
	}
	impact := decodeBody[core.BudgetImpact](t, resp)

	if impact.NewBudget.Cents != 80_000_000 {
		t.Fatalf("new budget = %d cents", impact.NewBudget.Cents)
	}
	if impact.ImpactType != core.ImpactDecrease {
		t.Fatalf("impact type = %s", impact.ImpactType)
	}
	if !impact.IsSignificant {
		t.Fatal("a 20 percent amendment must be significant")
	}
	if impact.NewBudget.Currency != core.NGN {
		t.Fatalf("currency = %s", impact.NewBudget.Currency)
	}
}

func TestPendingQueueAndHistory(t *testing.T) {
	fx := newServerFixture(t)
	project := fx.createProject(t, "1000000.00")

	fx.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/amendments", project.ID),
		fx.adminToken, map[string]string{
			"amount": "100000.00",
			"reason": "Client requested an extra floor",
		})
	fx.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/change-orders", project.ID),
		fx.adminToken, map[string]string{
			"description": "Swap roofing sheets for long-span aluminium",
			"costImpact":  "25000.00",
		})

	resp := fx.do(t, http.MethodGet, "/api/approvals/pending", fx.adminToken, nil)
	queue := decodeBody[[]core.PendingApproval](t, resp)
	if len(queue) != 2 {
		t.Fatalf("pending queue = %d entries, want 2", len(queue))
	}

	history := fx.do(t, http.MethodGet, "/api/budget-history", fx.adminToken, nil)
	entries := decodeBody[[]core.BudgetHistoryEntry](t, history)
	// Initial entry plus the two pending proposals.
	if len(entries) != 3 {
		t.Fatalf("history = %d entries, want 3", len(entries))
	}
	if entries[0].Type != core.HistoryInitial {
		t.Fatalf("first entry type = %s", entries[0].Type)
	}

	filtered := fx.do(t, http.MethodGet, "/api/budget-history?type=amendment", fx.adminToken, nil)
	amendmentsOnly := decodeBody[[]core.BudgetHistoryEntry](t, filtered)
	if len(amendmentsOnly) != 1 || amendmentsOnly[0].Type != core.HistoryAmendment {
		t.Fatalf("filtered history = %+v", amendmentsOnly)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	project := fx.createProject(t, "100000.00")

	resp := fx.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/transactions", project.ID),
		fx.adminToken, map[string]string{
			"type": "expense", "amount": "50000.00", "category": "Logistics",
		})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create transaction: status %d", resp.StatusCode)
	}

	summary := decodeBody[core.AnalyticsSummary](t,
		fx.do(t, http.MethodGet, "/api/analytics", fx.adminToken, nil))
	if summary.TotalSpent.Cents != 5_000_000 {
		t.Fatalf("total spent = %d cents", summary.TotalSpent.Cents)
	}
	if summary.BudgetUtilization != 50 {
		t.Fatalf("utilization = %v, want 50", summary.BudgetUtilization)
	}
	if summary.Health != core.HealthHealthy {
		t.Fatalf("health = %s", summary.Health)
	}
}

func TestTeamEndpoints(t *testing.T) {
	fx := newServerFixture(t)

	created := decodeBody[core.Team](t, fx.do(t, http.MethodPost, "/api/teams", fx.adminToken,
		map[string]any{"name": "Structures", "leaderId": fx.admin.ID}))
	if created.ID == 0 {
		t.Fatal("team id not set")
	}

	forbidden := fx.do(t, http.MethodPost, "/api/teams", fx.memberToken,
		map[string]any{"name": "Shadow team", "leaderId": fx.member.ID})
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("member create team: status %d, want 403", forbidden.StatusCode)
	}

	teams := decodeBody[[]core.Team](t, fx.do(t, http.MethodGet, "/api/teams", fx.adminToken, nil))
	if len(teams) != 1 || teams[0].Name != "Structures" {
		t.Fatalf("teams = %+v", teams)
	}

	del := fx.do(t, http.MethodDelete, fmt.Sprintf("/api/teams/%d", created.ID), fx.adminToken, nil)
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("delete team: status %d", del.StatusCode)
	}
}

func TestEventStreamDeliversApproval(t *testing.T) {
	fx := newServerFixture(t)
	project := fx.createProject(t, "1000000.00")

	amendment := decodeBody[core.BudgetAmendment](t,
		fx.do(t, http.MethodPost, fmt.Sprintf("/api/projects/%d/amendments", project.ID),
			fx.adminToken, map[string]string{
				"amount": "100000.00",
				"reason": "Client requested an extra floor",
			}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fx.ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+fx.adminToken)

	resp, err := fx.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("open event stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("event stream: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	// First frame is the connection comment.
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("greeting = %q, err %v", line, err)
	}

	fx.do(t, http.MethodPost, fmt.Sprintf("/api/approvals/amendment/%d/approve", amendment.ID),
		fx.adminToken, nil)

	var data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}

	var event events.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		t.Fatalf("unmarshal event %q: %v", data, err)
	}
	if event.Kind != string(core.KindAmendment) || event.RecordID != amendment.ID || event.Action != "approved" {
		t.Fatalf("event = %+v", event)
	}
}

func TestChangePassword(t *testing.T) {
	fx := newServerFixture(t)

	resp := fx.do(t, http.MethodPost, "/api/auth/change-password", fx.adminToken, map[string]string{
		"currentPassword": testPassword,
		"newPassword":     "a-brand-new-secret",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("change password: status %d", resp.StatusCode)
	}

	old := fx.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": fx.admin.Email, "password": testPassword,
	})
	if old.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old password still works: status %d", old.StatusCode)
	}

	fresh := fx.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": fx.admin.Email, "password": "a-brand-new-secret",
	})
	if fresh.StatusCode != http.StatusOK {
		t.Fatalf("new password: status %d", fresh.StatusCode)
	}

	forbidden := fx.do(t, http.MethodPost, "/api/auth/change-password", fx.memberToken, map[string]string{
		"currentPassword": testPassword, "newPassword": "whatever-else",
	})
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("member change password: status %d, want 403", forbidden.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	fx := newServerFixture(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp := fx.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
	}
}
