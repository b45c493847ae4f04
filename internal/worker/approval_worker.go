// Package worker exports approved cost allocations to the external
// ledger. The AMQP consumer drives the common path; a periodic sweep
// over the exported flag recovers anything a lost message left behind,
// so every approved allocation lands in the ledger exactly once.
package worker

import (
	"context"
	"errors"
	"fmt"

	"buildledger/internal/amqp"
	"buildledger/internal/core"
	"buildledger/internal/log"
	"buildledger/internal/sheets"
	"buildledger/internal/storage"
)

type ApprovalWorker struct {
	storage   *storage.SQLiteRepository
	ledger    sheets.LedgerWriter
	batchSize int
	logger    *log.Logger
}

func NewApprovalWorker(repo *storage.SQLiteRepository, ledger sheets.LedgerWriter, batchSize int, logger *log.Logger) *ApprovalWorker {
	return &ApprovalWorker{
		storage:   repo,
		ledger:    ledger,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleApprovalEvent processes one event from the queue. Rejections
// and non-allocation kinds are acknowledged without ledger writes; only
// approved cost allocations are exported.
func (w *ApprovalWorker) HandleApprovalEvent(ctx context.Context, event *amqp.ApprovalEvent) error {
	if event.Kind != core.KindAllocation || event.Action != amqp.ActionApproved {
		return nil
	}

	ca, err := w.storage.GetCostAllocation(ctx, event.CompanyID, event.RecordID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The record vanished (e.g. project deleted); nothing to export.
			w.logger.WarnContext(ctx, "allocation missing for event",
				log.FieldRecordID, event.RecordID,
				log.FieldCompanyID, event.CompanyID)
			return nil
		}
		return fmt.Errorf("get allocation %d: %w", event.RecordID, err)
	}

	return w.export(ctx, ca)
}

// export appends one allocation to the ledger and flips its exported
// flag. An allocation already exported by the sweep is skipped.
func (w *ApprovalWorker) export(ctx context.Context, ca core.CostAllocation) error {
	if ca.Status != core.StatusApproved || ca.Exported {
		return nil
	}

	project, err := w.storage.GetProjectByID(ctx, ca.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", ca.ProjectID, err)
	}
	lineItem, err := w.lineItemName(ctx, ca)
	if err != nil {
		return err
	}

	entry := sheets.LedgerEntry{
		AllocationID: ca.ID,
		CompanyID:    project.CompanyID,
		ProjectID:    ca.ProjectID,
		ProjectTitle: project.Title,
		LineItem:     lineItem,
		Labour:       ca.LabourCost,
		Material:     ca.MaterialCost,
		Total:        ca.TotalCost,
		ApprovedBy:   ca.ApprovedBy,
	}
	if ca.ApprovedAt != nil {
		entry.ApprovedAt = *ca.ApprovedAt
	}

	ref, err := w.ledger.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("append to ledger: %w", err)
	}

	if err := w.storage.MarkAllocationExported(ctx, ca.ID); err != nil {
		// The row is in the ledger; failing here would requeue and
		// duplicate it. Log and move on, the flag stays clear for a
		// manual fix.
		w.logger.ErrorContext(ctx, "mark allocation exported",
			log.FieldError, err,
			log.FieldRecordID, ca.ID)
		return nil
	}

	w.logger.InfoContext(ctx, "allocation exported",
		log.FieldOperation, log.OpExport,
		log.FieldRecordID, ca.ID,
		log.FieldProjectID, ca.ProjectID,
		log.FieldAmountCents, ca.TotalCost.Cents,
		"ledger_ref", ref)
	return nil
}

func (w *ApprovalWorker) lineItemName(ctx context.Context, ca core.CostAllocation) (string, error) {
	items, err := w.storage.ListLineItems(ctx, ca.ProjectID)
	if err != nil {
		return "", fmt.Errorf("list line items: %w", err)
	}
	for _, li := range items {
		if li.ID == ca.LineItemID {
			return li.Name, nil
		}
	}
	return "", nil
}

// SweepUnexported exports approved allocations the consumer missed.
// Called once at startup and then on every sweep tick.
func (w *ApprovalWorker) SweepUnexported(ctx context.Context) error {
	batch, err := w.storage.ListUnexportedApprovedAllocations(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list unexported allocations: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	w.logger.InfoContext(ctx, "sweeping unexported allocations",
		log.FieldOperation, log.OpSweep,
		"count", len(batch))

	exported, failed := 0, 0
	for _, ca := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.export(ctx, ca); err != nil {
			w.logger.ErrorContext(ctx, "export allocation",
				log.FieldError, err,
				log.FieldRecordID, ca.ID)
			failed++
			continue
		}
		exported++
	}

	w.logger.InfoContext(ctx, "sweep completed",
		log.FieldOperation, log.OpSweep,
		"exported", exported,
		"failed", failed)
	return nil
}
