package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"buildledger/internal/core"
)

const projectColumns = `p.id, p.company_id, p.title, p.budget_cents, p.consumed_cents,
	p.revenue_cents, p.status, p.start_date, p.end_date, p.created_at, c.currency`

func scanProject(row interface{ Scan(...any) error }) (core.Project, error) {
	var (
		p          core.Project
		status     string
		start, end sql.NullInt64
		created    int64
		cur        string
	)
	err := row.Scan(&p.ID, &p.CompanyID, &p.Title, &p.Budget.Cents, &p.Consumed.Cents,
		&p.Revenue.Cents, &status, &start, &end, &created, &cur)
	if err != nil {
		return core.Project{}, err
	}
	currency := core.Currency(cur)
	p.Budget.Currency = currency
	p.Consumed.Currency = currency
	p.Revenue.Currency = currency
	p.Status = core.ProjectStatus(status)
	p.StartDate = timeFromNull(start)
	p.EndDate = timeFromNull(end)
	p.CreatedAt = time.Unix(created, 0).UTC()
	return p, nil
}

func (r *SQLiteRepository) CreateProject(ctx context.Context, p core.Project) (core.Project, error) {
	p.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (company_id, title, budget_cents, initial_budget_cents,
		   consumed_cents, revenue_cents, status, start_date, end_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CompanyID, p.Title, p.Budget.Cents, p.Budget.Cents,
		p.Consumed.Cents, p.Revenue.Cents, string(p.Status),
		unixOrNull(p.StartDate), unixOrNull(p.EndDate), p.CreatedAt.Unix())
	if err != nil {
		return core.Project{}, fmt.Errorf("insert project: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return core.Project{}, fmt.Errorf("project id: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) GetProject(ctx context.Context, companyID, id int64) (core.Project, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects p
		 JOIN companies c ON c.id = p.company_id
		 WHERE p.id = ? AND p.company_id = ?`, id, companyID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Project{}, ErrNotFound
	}
	if err != nil {
		return core.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// GetProjectByID looks a project up without tenant scoping. Reserved
// for the export worker, which processes events across companies.
func (r *SQLiteRepository) GetProjectByID(ctx context.Context, id int64) (core.Project, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects p
		 JOIN companies c ON c.id = p.company_id
		 WHERE p.id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Project{}, ErrNotFound
	}
	if err != nil {
		return core.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListProjects(ctx context.Context, companyID int64) ([]core.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects p
		 JOIN companies c ON c.id = p.company_id
		 WHERE p.company_id = ? ORDER BY p.id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InitialBudgets returns the creation-time budget per project for
// budget history reconstruction.
func (r *SQLiteRepository) InitialBudgets(ctx context.Context, companyID int64) (map[int64]core.Money, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.initial_budget_cents, c.currency FROM projects p
		 JOIN companies c ON c.id = p.company_id
		 WHERE p.company_id = ?`, companyID)
	if err != nil {
		return nil, fmt.Errorf("initial budgets: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]core.Money)
	for rows.Next() {
		var (
			id    int64
			cents int64
			cur   string
		)
		if err := rows.Scan(&id, &cents, &cur); err != nil {
			return nil, fmt.Errorf("scan initial budget: %w", err)
		}
		out[id] = core.Money{Cents: cents, Currency: core.Currency(cur)}
	}
	return out, rows.Err()
}

// UpdateProject applies a direct admin edit. Budget set here bypasses
// the amendment workflow on purpose; it is the one sanctioned backdoor.
func (r *SQLiteRepository) UpdateProject(ctx context.Context, p core.Project) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE projects SET title = ?, budget_cents = ?, revenue_cents = ?, status = ?,
		   start_date = ?, end_date = ?
		 WHERE id = ? AND company_id = ?`,
		p.Title, p.Budget.Cents, p.Revenue.Cents, string(p.Status),
		unixOrNull(p.StartDate), unixOrNull(p.EndDate), p.ID, p.CompanyID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, companyID, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM projects WHERE id = ? AND company_id = ?`, id, companyID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) CreateLineItem(ctx context.Context, li core.LineItem) (core.LineItem, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO line_items (project_id, name) VALUES (?, ?)`, li.ProjectID, li.Name)
	if err != nil {
		return core.LineItem{}, fmt.Errorf("insert line item: %w", err)
	}
	li.ID, err = res.LastInsertId()
	if err != nil {
		return core.LineItem{}, fmt.Errorf("line item id: %w", err)
	}
	return li, nil
}

func (r *SQLiteRepository) ListLineItems(ctx context.Context, projectID int64) ([]core.LineItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, project_id, name FROM line_items WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var out []core.LineItem
	for rows.Next() {
		var li core.LineItem
		if err := rows.Scan(&li.ID, &li.ProjectID, &li.Name); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (company_id, project_id, type, amount_cents, category,
		   description, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.CompanyID, t.ProjectID, string(t.Type), t.Amount.Cents, t.Category,
		t.Description, t.Status, t.CreatedAt.Unix())
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction id: %w", err)
	}
	return t, nil
}

// ListTransactions returns a tenant's transactions, optionally limited
// to one project when projectID is non-zero.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, companyID, projectID int64) ([]core.Transaction, error) {
	query := `SELECT t.id, t.company_id, t.project_id, t.type, t.amount_cents, t.category,
		t.description, t.status, t.created_at, c.currency
		FROM transactions t JOIN companies c ON c.id = t.company_id
		WHERE t.company_id = ?`
	args := []any{companyID}
	if projectID != 0 {
		query += ` AND t.project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY t.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t       core.Transaction
			typ     string
			created int64
			cur     string
		)
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.ProjectID, &typ, &t.Amount.Cents,
			&t.Category, &t.Description, &t.Status, &created, &cur); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = core.TransactionType(typ)
		t.Amount.Currency = core.Currency(cur)
		t.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
