package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"buildledger/internal/core"
)

const amendmentColumns = `a.id, a.project_id, a.amount_cents, a.reason, a.proposed_by,
	a.status, a.approved_by, a.approved_at, a.rejection_comments, a.created_at, c.currency`

func scanAmendment(row interface{ Scan(...any) error }) (core.BudgetAmendment, error) {
	var (
		a          core.BudgetAmendment
		status     string
		approvedBy sql.NullInt64
		approvedAt sql.NullInt64
		created    int64
		cur        string
	)
	err := row.Scan(&a.ID, &a.ProjectID, &a.Amount.Cents, &a.Reason, &a.ProposedBy,
		&status, &approvedBy, &approvedAt, &a.RejectionComments, &created, &cur)
	if err != nil {
		return core.BudgetAmendment{}, err
	}
	a.Amount.Currency = core.Currency(cur)
	a.Status = core.ProposalStatus(status)
	a.ApprovedBy = int64OrZero(approvedBy)
	a.ApprovedAt = timePtrFromNull(approvedAt)
	a.CreatedAt = time.Unix(created, 0).UTC()
	return a, nil
}

func (r *SQLiteRepository) CreateAmendment(ctx context.Context, a core.BudgetAmendment) (core.BudgetAmendment, error) {
	a.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO budget_amendments (project_id, amount_cents, reason, proposed_by, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ProjectID, a.Amount.Cents, a.Reason, a.ProposedBy, string(a.Status), a.CreatedAt.Unix())
	if err != nil {
		return core.BudgetAmendment{}, fmt.Errorf("insert amendment: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return core.BudgetAmendment{}, fmt.Errorf("amendment id: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) GetAmendment(ctx context.Context, companyID, id int64) (core.BudgetAmendment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+amendmentColumns+` FROM budget_amendments a
		 JOIN projects p ON p.id = a.project_id
		 JOIN companies c ON c.id = p.company_id
		 WHERE a.id = ? AND p.company_id = ?`, id, companyID)
	a, err := scanAmendment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetAmendment{}, ErrNotFound
	}
	if err != nil {
		return core.BudgetAmendment{}, fmt.Errorf("get amendment: %w", err)
	}
	return a, nil
}

// ListAmendments returns a tenant's amendments, optionally narrowed to
// a project (projectID != 0) or a status (status != "").
func (r *SQLiteRepository) ListAmendments(ctx context.Context, companyID, projectID int64, status core.ProposalStatus) ([]core.BudgetAmendment, error) {
	query := `SELECT ` + amendmentColumns + ` FROM budget_amendments a
		JOIN projects p ON p.id = a.project_id
		JOIN companies c ON c.id = p.company_id
		WHERE p.company_id = ?`
	args := []any{companyID}
	if projectID != 0 {
		query += ` AND a.project_id = ?`
		args = append(args, projectID)
	}
	if status != "" {
		query += ` AND a.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY a.created_at, a.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list amendments: %w", err)
	}
	defer rows.Close()

	var out []core.BudgetAmendment
	for rows.Next() {
		a, err := scanAmendment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan amendment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApproveAmendment performs the compare-and-swap transition to
// approved and applies the signed amount to the project budget in the
// same transaction. A lost race returns ErrConflict; the budget is
// applied exactly once.
func (r *SQLiteRepository) ApproveAmendment(ctx context.Context, companyID, id, approverID int64) (core.BudgetAmendment, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var projectID, amountCents int64
		err := tx.QueryRowContext(ctx,
			`SELECT a.project_id, a.amount_cents FROM budget_amendments a
			 JOIN projects p ON p.id = a.project_id
			 WHERE a.id = ? AND p.company_id = ?`, id, companyID).
			Scan(&projectID, &amountCents)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load amendment: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE budget_amendments SET status = ?, approved_by = ?, approved_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			string(core.StatusApproved), approverID, time.Now().UTC().Unix(),
			id, string(core.StatusDraft), string(core.StatusPending))
		if err != nil {
			return fmt.Errorf("approve amendment: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return ErrConflict
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE projects SET budget_cents = budget_cents + ? WHERE id = ?`,
			amountCents, projectID); err != nil {
			return fmt.Errorf("apply amendment to budget: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.BudgetAmendment{}, err
	}
	return r.GetAmendment(ctx, companyID, id)
}

// RejectAmendment is the terminal no-effect transition.
func (r *SQLiteRepository) RejectAmendment(ctx context.Context, companyID, id, approverID int64, comments string) (core.BudgetAmendment, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int64
		err := tx.QueryRowContext(ctx,
			`SELECT a.id FROM budget_amendments a
			 JOIN projects p ON p.id = a.project_id
			 WHERE a.id = ? AND p.company_id = ?`, id, companyID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load amendment: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE budget_amendments SET status = ?, approved_by = ?, approved_at = ?, rejection_comments = ?
			 WHERE id = ? AND status IN (?, ?)`,
			string(core.StatusRejected), approverID, time.Now().UTC().Unix(), comments,
			id, string(core.StatusDraft), string(core.StatusPending))
		if err != nil {
			return fmt.Errorf("reject amendment: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return core.BudgetAmendment{}, err
	}
	return r.GetAmendment(ctx, companyID, id)
}

const changeOrderColumns = `o.id, o.project_id, o.description, o.cost_impact_cents, o.proposed_by,
	o.status, o.approved_by, o.approved_at, o.rejection_comments, o.created_at, c.currency`

func scanChangeOrder(row interface{ Scan(...any) error }) (core.ChangeOrder, error) {
	var (
		co         core.ChangeOrder
		status     string
		approvedBy sql.NullInt64
		approvedAt sql.NullInt64
		created    int64
		cur        string
	)
	err := row.Scan(&co.ID, &co.ProjectID, &co.Description, &co.CostImpact.Cents, &co.ProposedBy,
		&status, &approvedBy, &approvedAt, &co.RejectionComments, &created, &cur)
	if err != nil {
		return core.ChangeOrder{}, err
	}
	co.CostImpact.Currency = core.Currency(cur)
	co.Status = core.ProposalStatus(status)
	co.ApprovedBy = int64OrZero(approvedBy)
	co.ApprovedAt = timePtrFromNull(approvedAt)
	co.CreatedAt = time.Unix(created, 0).UTC()
	return co, nil
}

func (r *SQLiteRepository) CreateChangeOrder(ctx context.Context, co core.ChangeOrder) (core.ChangeOrder, error) {
	co.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO change_orders (project_id, description, cost_impact_cents, proposed_by, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		co.ProjectID, co.Description, co.CostImpact.Cents, co.ProposedBy, string(co.Status), co.CreatedAt.Unix())
	if err != nil {
		return core.ChangeOrder{}, fmt.Errorf("insert change order: %w", err)
	}
	co.ID, err = res.LastInsertId()
	if err != nil {
		return core.ChangeOrder{}, fmt.Errorf("change order id: %w", err)
	}
	return co, nil
}

func (r *SQLiteRepository) GetChangeOrder(ctx context.Context, companyID, id int64) (core.ChangeOrder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+changeOrderColumns+` FROM change_orders o
		 JOIN projects p ON p.id = o.project_id
		 JOIN companies c ON c.id = p.company_id
		 WHERE o.id = ? AND p.company_id = ?`, id, companyID)
	co, err := scanChangeOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ChangeOrder{}, ErrNotFound
	}
	if err != nil {
		return core.ChangeOrder{}, fmt.Errorf("get change order: %w", err)
	}
	return co, nil
}

func (r *SQLiteRepository) ListChangeOrders(ctx context.Context, companyID, projectID int64, status core.ProposalStatus) ([]core.ChangeOrder, error) {
	query := `SELECT ` + changeOrderColumns + ` FROM change_orders o
		JOIN projects p ON p.id = o.project_id
		JOIN companies c ON c.id = p.company_id
		WHERE p.company_id = ?`
	args := []any{companyID}
	if projectID != 0 {
		query += ` AND o.project_id = ?`
		args = append(args, projectID)
	}
	if status != "" {
		query += ` AND o.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY o.created_at, o.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list change orders: %w", err)
	}
	defer rows.Close()

	var out []core.ChangeOrder
	for rows.Next() {
		co, err := scanChangeOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change order: %w", err)
		}
		out = append(out, co)
	}
	return out, rows.Err()
}

// ApproveChangeOrder mirrors ApproveAmendment. Zero-impact orders are
// approvable too; they simply add nothing to the budget.
func (r *SQLiteRepository) ApproveChangeOrder(ctx context.Context, companyID, id, approverID int64) (core.ChangeOrder, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var projectID, impactCents int64
		err := tx.QueryRowContext(ctx,
			`SELECT o.project_id, o.cost_impact_cents FROM change_orders o
			 JOIN projects p ON p.id = o.project_id
			 WHERE o.id = ? AND p.company_id = ?`, id, companyID).
			Scan(&projectID, &impactCents)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load change order: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE change_orders SET status = ?, approved_by = ?, approved_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			string(core.StatusApproved), approverID, time.Now().UTC().Unix(),
			id, string(core.StatusDraft), string(core.StatusPending))
		if err != nil {
			return fmt.Errorf("approve change order: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return ErrConflict
		}

		if impactCents != 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE projects SET budget_cents = budget_cents + ? WHERE id = ?`,
				impactCents, projectID); err != nil {
				return fmt.Errorf("apply change order to budget: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return core.ChangeOrder{}, err
	}
	return r.GetChangeOrder(ctx, companyID, id)
}

func (r *SQLiteRepository) RejectChangeOrder(ctx context.Context, companyID, id, approverID int64, comments string) (core.ChangeOrder, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int64
		err := tx.QueryRowContext(ctx,
			`SELECT o.id FROM change_orders o
			 JOIN projects p ON p.id = o.project_id
			 WHERE o.id = ? AND p.company_id = ?`, id, companyID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load change order: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE change_orders SET status = ?, approved_by = ?, approved_at = ?, rejection_comments = ?
			 WHERE id = ? AND status IN (?, ?)`,
			string(core.StatusRejected), approverID, time.Now().UTC().Unix(), comments,
			id, string(core.StatusDraft), string(core.StatusPending))
		if err != nil {
			return fmt.Errorf("reject change order: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return core.ChangeOrder{}, err
	}
	return r.GetChangeOrder(ctx, companyID, id)
}

// ListPendingApprovals joins the three proposal kinds awaiting action
// into the shared approval queue, ordered oldest first.
func (r *SQLiteRepository) ListPendingApprovals(ctx context.Context, companyID int64) ([]core.PendingApproval, error) {
	var out []core.PendingApproval

	amendments, err := r.ListAmendments(ctx, companyID, 0, core.StatusPending)
	if err != nil {
		return nil, err
	}
	for _, a := range amendments {
		out = append(out, core.PendingApproval{
			Kind:        core.KindAmendment,
			ID:          a.ID,
			ProjectID:   a.ProjectID,
			Description: a.Reason,
			Amount:      a.Amount,
			ProposedBy:  a.ProposedBy,
			Status:      a.Status,
			CreatedAt:   a.CreatedAt,
		})
	}

	orders, err := r.ListChangeOrders(ctx, companyID, 0, core.StatusPending)
	if err != nil {
		return nil, err
	}
	for _, co := range orders {
		out = append(out, core.PendingApproval{
			Kind:        core.KindChangeOrder,
			ID:          co.ID,
			ProjectID:   co.ProjectID,
			Description: co.Description,
			Amount:      co.CostImpact,
			ProposedBy:  co.ProposedBy,
			Status:      co.Status,
			CreatedAt:   co.CreatedAt,
		})
	}

	allocations, err := r.ListCostAllocations(ctx, companyID, 0, core.StatusPending)
	if err != nil {
		return nil, err
	}
	for _, ca := range allocations {
		out = append(out, core.PendingApproval{
			Kind:        core.KindAllocation,
			ID:          ca.ID,
			ProjectID:   ca.ProjectID,
			Description: fmt.Sprintf("Cost allocation against line item %d", ca.LineItemID),
			Amount:      ca.TotalCost,
			ProposedBy:  ca.EnteredBy,
			Status:      ca.Status,
			CreatedAt:   ca.CreatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
