package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"buildledger/internal/core"
)

const allocationColumns = `ca.id, ca.project_id, ca.line_item_id, ca.labour_cents,
	ca.material_cents, ca.total_cents, ca.date_incurred, ca.entered_by, ca.status,
	ca.change_order_id, ca.approved_by, ca.approved_at, ca.rejection_comments,
	ca.exported, ca.created_at, c.currency`

func scanAllocation(row interface{ Scan(...any) error }) (core.CostAllocation, error) {
	var (
		ca            core.CostAllocation
		incurred      int64
		status        string
		changeOrderID sql.NullInt64
		approvedBy    sql.NullInt64
		approvedAt    sql.NullInt64
		exported      int64
		created       int64
		cur           string
	)
	err := row.Scan(&ca.ID, &ca.ProjectID, &ca.LineItemID, &ca.LabourCost.Cents,
		&ca.MaterialCost.Cents, &ca.TotalCost.Cents, &incurred, &ca.EnteredBy, &status,
		&changeOrderID, &approvedBy, &approvedAt, &ca.RejectionComments,
		&exported, &created, &cur)
	if err != nil {
		return core.CostAllocation{}, err
	}
	currency := core.Currency(cur)
	ca.LabourCost.Currency = currency
	ca.MaterialCost.Currency = currency
	ca.TotalCost.Currency = currency
	ca.DateIncurred = time.Unix(incurred, 0).UTC()
	ca.Status = core.ProposalStatus(status)
	ca.ChangeOrderID = int64OrZero(changeOrderID)
	ca.ApprovedBy = int64OrZero(approvedBy)
	ca.ApprovedAt = timePtrFromNull(approvedAt)
	ca.Exported = exported != 0
	ca.CreatedAt = time.Unix(created, 0).UTC()
	return ca, nil
}

// CreateCostAllocation inserts the allocation and its material lines in
// one transaction. Totals must already be derived via ComputeTotals.
func (r *SQLiteRepository) CreateCostAllocation(ctx context.Context, ca core.CostAllocation) (core.CostAllocation, error) {
	ca.CreatedAt = time.Now().UTC()
	if ca.DateIncurred.IsZero() {
		ca.DateIncurred = ca.CreatedAt
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var changeOrderID any
		if ca.ChangeOrderID != 0 {
			changeOrderID = ca.ChangeOrderID
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO cost_allocations (project_id, line_item_id, labour_cents,
			   material_cents, total_cents, date_incurred, entered_by, status,
			   change_order_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ca.ProjectID, ca.LineItemID, ca.LabourCost.Cents,
			ca.MaterialCost.Cents, ca.TotalCost.Cents, ca.DateIncurred.Unix(),
			ca.EnteredBy, string(ca.Status), changeOrderID, ca.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("insert allocation: %w", err)
		}
		ca.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("allocation id: %w", err)
		}

		for i := range ca.Materials {
			m := &ca.Materials[i]
			res, err := tx.ExecContext(ctx,
				`INSERT INTO material_allocations (cost_allocation_id, material_name,
				   quantity, unit_price_cents, total_cents)
				 VALUES (?, ?, ?, ?, ?)`,
				ca.ID, m.MaterialName, m.Quantity, m.UnitPrice.Cents, m.Total.Cents)
			if err != nil {
				return fmt.Errorf("insert material line: %w", err)
			}
			m.ID, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("material line id: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return core.CostAllocation{}, err
	}
	return ca, nil
}

func (r *SQLiteRepository) GetCostAllocation(ctx context.Context, companyID, id int64) (core.CostAllocation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM cost_allocations ca
		 JOIN projects p ON p.id = ca.project_id
		 JOIN companies c ON c.id = p.company_id
		 WHERE ca.id = ? AND p.company_id = ?`, id, companyID)
	ca, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CostAllocation{}, ErrNotFound
	}
	if err != nil {
		return core.CostAllocation{}, fmt.Errorf("get allocation: %w", err)
	}
	if ca.Materials, err = r.listMaterials(ctx, ca.ID, ca.TotalCost.Currency); err != nil {
		return core.CostAllocation{}, err
	}
	return ca, nil
}

func (r *SQLiteRepository) listMaterials(ctx context.Context, allocationID int64, cur core.Currency) ([]core.MaterialAllocation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, material_name, quantity, unit_price_cents, total_cents
		 FROM material_allocations WHERE cost_allocation_id = ? ORDER BY id`, allocationID)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer rows.Close()

	var out []core.MaterialAllocation
	for rows.Next() {
		var m core.MaterialAllocation
		if err := rows.Scan(&m.ID, &m.MaterialName, &m.Quantity, &m.UnitPrice.Cents, &m.Total.Cents); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		m.UnitPrice.Currency = cur
		m.Total.Currency = cur
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListCostAllocations returns allocation headers without material lines;
// callers needing the lines fetch the allocation individually.
func (r *SQLiteRepository) ListCostAllocations(ctx context.Context, companyID, projectID int64, status core.ProposalStatus) ([]core.CostAllocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM cost_allocations ca
		JOIN projects p ON p.id = ca.project_id
		JOIN companies c ON c.id = p.company_id
		WHERE p.company_id = ?`
	args := []any{companyID}
	if projectID != 0 {
		query += ` AND ca.project_id = ?`
		args = append(args, projectID)
	}
	if status != "" {
		query += ` AND ca.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY ca.created_at, ca.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []core.CostAllocation
	for rows.Next() {
		ca, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, ca)
	}
	return out, rows.Err()
}

// ApproveCostAllocation flips the allocation to approved and books its
// total into the project's consumed figure in the same transaction. The
// consumed figure may exceed the budget; overspend is surfaced by
// analytics, never blocked here.
func (r *SQLiteRepository) ApproveCostAllocation(ctx context.Context, companyID, id, approverID int64) (core.CostAllocation, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var projectID, totalCents int64
		err := tx.QueryRowContext(ctx,
			`SELECT ca.project_id, ca.total_cents FROM cost_allocations ca
			 JOIN projects p ON p.id = ca.project_id
			 WHERE ca.id = ? AND p.company_id = ?`, id, companyID).
			Scan(&projectID, &totalCents)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load allocation: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE cost_allocations SET status = ?, approved_by = ?, approved_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			string(core.StatusApproved), approverID, time.Now().UTC().Unix(),
			id, string(core.StatusDraft), string(core.StatusPending))
		if err != nil {
			return fmt.Errorf("approve allocation: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return ErrConflict
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE projects SET consumed_cents = consumed_cents + ? WHERE id = ?`,
			totalCents, projectID); err != nil {
			return fmt.Errorf("book allocation: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.CostAllocation{}, err
	}
	return r.GetCostAllocation(ctx, companyID, id)
}

func (r *SQLiteRepository) RejectCostAllocation(ctx context.Context, companyID, id, approverID int64, comments string) (core.CostAllocation, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int64
		err := tx.QueryRowContext(ctx,
			`SELECT ca.id FROM cost_allocations ca
			 JOIN projects p ON p.id = ca.project_id
			 WHERE ca.id = ? AND p.company_id = ?`, id, companyID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load allocation: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE cost_allocations SET status = ?, approved_by = ?, approved_at = ?, rejection_comments = ?
			 WHERE id = ? AND status IN (?, ?)`,
			string(core.StatusRejected), approverID, time.Now().UTC().Unix(), comments,
			id, string(core.StatusDraft), string(core.StatusPending))
		if err != nil {
			return fmt.Errorf("reject allocation: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return core.CostAllocation{}, err
	}
	return r.GetCostAllocation(ctx, companyID, id)
}

// ListUnexportedApprovedAllocations feeds the ledger export worker. The
// limit caps a single sweep batch.
func (r *SQLiteRepository) ListUnexportedApprovedAllocations(ctx context.Context, limit int) ([]core.CostAllocation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+allocationColumns+` FROM cost_allocations ca
		 JOIN projects p ON p.id = ca.project_id
		 JOIN companies c ON c.id = p.company_id
		 WHERE ca.status = ? AND ca.exported = 0
		 ORDER BY ca.approved_at, ca.id LIMIT ?`,
		string(core.StatusApproved), limit)
	if err != nil {
		return nil, fmt.Errorf("list unexported allocations: %w", err)
	}
	defer rows.Close()

	var out []core.CostAllocation
	for rows.Next() {
		ca, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, ca)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MarkAllocationExported(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cost_allocations SET exported = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark allocation exported: %w", err)
	}
	return requireRow(res)
}
