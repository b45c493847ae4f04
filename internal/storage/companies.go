package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"buildledger/internal/core"
)

func (r *SQLiteRepository) CreateCompany(ctx context.Context, c core.Company) (core.Company, error) {
	if c.Currency == "" {
		c.Currency = core.DefaultCurrency
	}
	c.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO companies (name, industry, currency, created_at) VALUES (?, ?, ?, ?)`,
		c.Name, c.Industry, string(c.Currency), c.CreatedAt.Unix())
	if err != nil {
		return core.Company{}, fmt.Errorf("insert company: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return core.Company{}, fmt.Errorf("company id: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetCompany(ctx context.Context, id int64) (core.Company, error) {
	var (
		c       core.Company
		cur     string
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, industry, currency, created_at FROM companies WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Industry, &cur, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Company{}, ErrNotFound
	}
	if err != nil {
		return core.Company{}, fmt.Errorf("get company: %w", err)
	}
	c.Currency = core.Currency(cur)
	c.CreatedAt = time.Unix(created, 0).UTC()
	return c, nil
}

func (r *SQLiteRepository) ListCompanies(ctx context.Context) ([]core.Company, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, industry, currency, created_at FROM companies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var out []core.Company
	for rows.Next() {
		var (
			c       core.Company
			cur     string
			created int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Industry, &cur, &created); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		c.Currency = core.Currency(cur)
		c.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateCompany(ctx context.Context, c core.Company) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE companies SET name = ?, industry = ?, currency = ? WHERE id = ?`,
		c.Name, c.Industry, string(c.Currency), c.ID)
	if err != nil {
		return fmt.Errorf("update company: %w", err)
	}
	return requireRow(res)
}

// SetCompanyIndustry stamps the industry only; used by populate-industry.
func (r *SQLiteRepository) SetCompanyIndustry(ctx context.Context, id int64, industry string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE companies SET industry = ? WHERE id = ?`, industry, id)
	if err != nil {
		return fmt.Errorf("set company industry: %w", err)
	}
	return requireRow(res)
}

// CompanyCurrency resolves the currency every money value in the
// tenant is tagged with.
func (r *SQLiteRepository) CompanyCurrency(ctx context.Context, companyID int64) (core.Currency, error) {
	var cur string
	err := r.db.QueryRowContext(ctx,
		`SELECT currency FROM companies WHERE id = ?`, companyID).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("company currency: %w", err)
	}
	return core.Currency(cur), nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	u.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (company_id, name, email, password_hash, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.CompanyID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt.Unix())
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("user id: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	var (
		u       core.User
		role    string
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, company_id, name, email, password_hash, role, created_at
		 FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.CompanyID, &u.Name, &u.Email, &u.PasswordHash, &role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user by email: %w", err)
	}
	u.Role = core.Role(role)
	u.CreatedAt = time.Unix(created, 0).UTC()
	return u, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (core.User, error) {
	var (
		u       core.User
		role    string
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, company_id, name, email, password_hash, role, created_at
		 FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.CompanyID, &u.Name, &u.Email, &u.PasswordHash, &role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	u.Role = core.Role(role)
	u.CreatedAt = time.Unix(created, 0).UTC()
	return u, nil
}

// UpdateCompanyAdminPassword rotates the password hash of a company's
// admin accounts. Returns ErrNotFound when the company has none.
func (r *SQLiteRepository) UpdateCompanyAdminPassword(ctx context.Context, companyID int64, hash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE company_id = ? AND role = ?`,
		hash, companyID, string(core.RoleAdmin))
	if err != nil {
		return fmt.Errorf("update admin password: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) CreateTeam(ctx context.Context, t core.Team) (core.Team, error) {
	t.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO teams (company_id, name, leader_id, created_at) VALUES (?, ?, ?, ?)`,
		t.CompanyID, t.Name, t.LeaderID, t.CreatedAt.Unix())
	if err != nil {
		return core.Team{}, fmt.Errorf("insert team: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return core.Team{}, fmt.Errorf("team id: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTeams(ctx context.Context, companyID int64) ([]core.Team, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, company_id, name, leader_id, created_at FROM teams
		 WHERE company_id = ? ORDER BY id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var out []core.Team
	for rows.Next() {
		var (
			t       core.Team
			created int64
		)
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Name, &t.LeaderID, &created); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		t.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateTeam(ctx context.Context, t core.Team) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE teams SET name = ?, leader_id = ? WHERE id = ? AND company_id = ?`,
		t.Name, t.LeaderID, t.ID, t.CompanyID)
	if err != nil {
		return fmt.Errorf("update team: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) DeleteTeam(ctx context.Context, companyID, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM teams WHERE id = ? AND company_id = ?`, id, companyID)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) CreateAssignment(ctx context.Context, a core.ProjectAssignment) (core.ProjectAssignment, error) {
	a.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO project_assignments (project_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?)`,
		a.ProjectID, a.UserID, string(a.Role), a.CreatedAt.Unix())
	if err != nil {
		return core.ProjectAssignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return core.ProjectAssignment{}, fmt.Errorf("assignment id: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) ListAssignments(ctx context.Context, projectID int64) ([]core.ProjectAssignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, project_id, user_id, role, created_at FROM project_assignments
		 WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []core.ProjectAssignment
	for rows.Next() {
		var (
			a       core.ProjectAssignment
			role    string
			created int64
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.UserID, &role, &created); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Role = core.Role(role)
		a.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// IsUserAssigned reports whether the user has any role on the project.
// Team leaders may only act on projects where this holds.
func (r *SQLiteRepository) IsUserAssigned(ctx context.Context, projectID, userID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM project_assignments WHERE project_id = ? AND user_id = ?`,
		projectID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return n > 0, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
