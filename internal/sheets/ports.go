// Package sheets defines the outbound ledger-export port. The worker
// appends every approved cost allocation to an external ledger exactly
// once; the Google adapter talks to Sheets, the memory adapter backs
// tests and local runs.
package sheets

import (
	"context"
	"time"

	"buildledger/internal/core"
)

// LedgerEntry is one exported row: an approved cost allocation
// flattened for the ledger.
type LedgerEntry struct {
	AllocationID int64
	CompanyID    int64
	ProjectID    int64
	ProjectTitle string
	LineItem     string
	Labour       core.Money
	Material     core.Money
	Total        core.Money
	ApprovedBy   int64
	ApprovedAt   time.Time
}

// LedgerWriter appends entries to the external ledger.
type LedgerWriter interface {
	Append(ctx context.Context, entry LedgerEntry) (rowRef string, err error)
}
