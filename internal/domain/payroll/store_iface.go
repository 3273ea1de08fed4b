package payroll

import (
	"context"
	"time"
)

// Store is the persistence collaborator of the ledger. Reads outside InTx
// see committed data only; every mutation goes through InTx.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetPayroll(ctx context.Context, payrollID string) (Record, error)
	CountPayrolls(ctx context.Context, filter ListFilter) (int, error)
	ListPayrolls(ctx context.Context, filter ListFilter) ([]Record, error)
	GetAdjustment(ctx context.Context, adjustmentID string) (Adjustment, error)
	ListAdjustments(ctx context.Context, payrollID string, approved *bool) ([]Adjustment, error)
	AuditTrail(ctx context.Context, entityID string) ([]AuditEvent, error)
	Ping(ctx context.Context) error
}

// Tx is a single store transaction. LockPayroll must block other
// transactions locking the same record until commit or rollback.
type Tx interface {
	InsertPayroll(ctx context.Context, record Record) error
	LockPayroll(ctx context.Context, payrollID string) (Record, error)
	UpdatePayrollBase(ctx context.Context, record Record) error
	UpdatePayrollTotals(ctx context.Context, payrollID string, totals Totals, at time.Time) error

	AdjustmentPayrollID(ctx context.Context, adjustmentID string) (string, error)
	LockAdjustment(ctx context.Context, adjustmentID string) (Adjustment, error)
	InsertAdjustment(ctx context.Context, adj Adjustment) error
	UpdateAdjustment(ctx context.Context, adj Adjustment) error
	DeleteAdjustment(ctx context.Context, adjustmentID string) error
	ListApprovedAdjustments(ctx context.Context, payrollID string) ([]Adjustment, error)

	RecordAudit(ctx context.Context, event AuditEvent) error
}
