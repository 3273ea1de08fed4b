package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payledger/internal/platform/metrics"
)

// Ledger owns payroll records and their adjustments. Every mutation runs in
// one store transaction that locks the payroll row before reading
// adjustments, so the stored totals always match the approved adjustments.
type Ledger struct {
	store   Store
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	newID   func() string
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) {
		if newID != nil {
			l.newID = newID
		}
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(l *Ledger) {
		l.metrics = collector
	}
}

func NewLedger(store Store, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store: store,
		log:   logger.Named("payroll"),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) CreatePayroll(ctx context.Context, actor Actor, in CreatePayrollInput) (Record, error) {
	if in.Status == "" {
		in.Status = StatusDraft
	} else {
		in.Status = Status(strings.ToUpper(strings.TrimSpace(string(in.Status))))
	}
	if err := validateCreatePayroll(in); err != nil {
		return Record{}, err
	}

	now := l.now()
	record := Record{
		ID:          l.newID(),
		EmployeeID:  strings.TrimSpace(in.EmployeeID),
		PeriodStart: in.PeriodStart,
		PeriodEnd:   in.PeriodEnd,
		BaseSalary:  in.BaseSalary,
		Tax:         in.Tax,
		Allowances:  decimal.Zero,
		Deductions:  decimal.Zero,
		NetSalary:   NetSalary(in.BaseSalary, decimal.Zero, in.Tax, decimal.Zero),
		Status:      in.Status,
		Notes:       strings.TrimSpace(in.Notes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertPayroll(ctx, record); err != nil {
			return err
		}
		return l.audit(ctx, tx, actor, AuditPayrollCreate, EntityPayroll, record.ID, nil, record)
	})
	if err != nil {
		return Record{}, l.fail("create payroll", err)
	}
	l.log.Info("payroll created",
		zap.String("payroll_id", record.ID),
		zap.String("employee_id", record.EmployeeID),
		zap.String("request_id", actor.RequestID),
	)
	return record, nil
}

func (l *Ledger) GetPayroll(ctx context.Context, payrollID string) (Record, error) {
	record, err := l.store.GetPayroll(ctx, payrollID)
	if err != nil {
		return Record{}, l.fail("get payroll", err)
	}
	return record, nil
}

// ListPayrolls returns one page of records and the total matching the filter.
func (l *Ledger) ListPayrolls(ctx context.Context, filter ListFilter) ([]Record, int, error) {
	if filter.Status != "" {
		filter.Status = Status(strings.ToUpper(strings.TrimSpace(string(filter.Status))))
		if !filter.Status.Valid() {
			v := &validator{}
			v.add("status", "must be one of "+statusList())
			return nil, 0, v.err()
		}
	}
	total, err := l.store.CountPayrolls(ctx, filter)
	if err != nil {
		return nil, 0, l.fail("count payrolls", err)
	}
	records, err := l.store.ListPayrolls(ctx, filter)
	if err != nil {
		return nil, 0, l.fail("list payrolls", err)
	}
	return records, total, nil
}

func (l *Ledger) GetAdjustment(ctx context.Context, adjustmentID string) (Adjustment, error) {
	adj, err := l.store.GetAdjustment(ctx, adjustmentID)
	if err != nil {
		return Adjustment{}, l.fail("get adjustment", err)
	}
	return adj, nil
}

// ListAdjustments lists a record's adjustments, optionally filtered by the
// approved flag. A missing record is reported as not found rather than as
// an empty list.
func (l *Ledger) ListAdjustments(ctx context.Context, payrollID string, approved *bool) ([]Adjustment, error) {
	if _, err := l.store.GetPayroll(ctx, payrollID); err != nil {
		return nil, l.fail("list adjustments", err)
	}
	adjustments, err := l.store.ListAdjustments(ctx, payrollID, approved)
	if err != nil {
		return nil, l.fail("list adjustments", err)
	}
	return adjustments, nil
}

// AuditTrail returns the recorded changes of one payroll record or
// adjustment, oldest first.
func (l *Ledger) AuditTrail(ctx context.Context, entityID string) ([]AuditEvent, error) {
	events, err := l.store.AuditTrail(ctx, strings.TrimSpace(entityID))
	if err != nil {
		return nil, l.fail("audit trail", err)
	}
	return events, nil
}

func (l *Ledger) CreateAdjustment(ctx context.Context, actor Actor, in CreateAdjustmentInput) (Adjustment, error) {
	in.PayrollID = strings.TrimSpace(in.PayrollID)
	in.Type = AdjustmentType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	if err := validateCreateAdjustment(in); err != nil {
		return Adjustment{}, err
	}

	now := l.now()
	adj := Adjustment{
		ID:          l.newID(),
		PayrollID:   in.PayrollID,
		Type:        in.Type,
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		Approved:    in.Approved,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if adj.Approved {
		adj.ApprovedBy = firstNonEmpty(strings.TrimSpace(in.ApprovedBy), actor.UserID)
		approvedAt := now
		adj.ApprovedAt = &approvedAt
	}

	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		record, err := tx.LockPayroll(ctx, adj.PayrollID)
		if err != nil {
			return err
		}
		if err := tx.InsertAdjustment(ctx, adj); err != nil {
			return err
		}
		if adj.Approved {
			if _, err := l.recalculate(ctx, tx, record); err != nil {
				return err
			}
		}
		return l.audit(ctx, tx, actor, AuditAdjustmentCreate, EntityAdjustment, adj.ID, nil, adj)
	})
	if err != nil {
		return Adjustment{}, l.fail("create adjustment", err)
	}
	if adj.Approved {
		l.metrics.Recalculated()
	}
	return adj, nil
}

func (l *Ledger) UpdateAdjustment(ctx context.Context, actor Actor, adjustmentID string, patch AdjustmentPatch) (Adjustment, error) {
	if patch.Type != nil {
		normalized := AdjustmentType(strings.ToUpper(strings.TrimSpace(string(*patch.Type))))
		patch.Type = &normalized
	}
	if err := validateAdjustmentPatch(adjustmentID, patch); err != nil {
		return Adjustment{}, err
	}

	var updated Adjustment
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		record, current, err := l.lockAdjustment(ctx, tx, adjustmentID)
		if err != nil {
			return err
		}
		updated = l.applyAdjustmentPatch(current, patch, actor)
		if err := tx.UpdateAdjustment(ctx, updated); err != nil {
			return err
		}
		if patch.affectsTotals() {
			if _, err := l.recalculate(ctx, tx, record); err != nil {
				return err
			}
		}
		return l.audit(ctx, tx, actor, AuditAdjustmentUpdate, EntityAdjustment, updated.ID, current, updated)
	})
	if err != nil {
		return Adjustment{}, l.fail("update adjustment", err)
	}
	if patch.affectsTotals() {
		l.metrics.Recalculated()
	}
	return updated, nil
}

func (l *Ledger) DeleteAdjustment(ctx context.Context, actor Actor, adjustmentID string) error {
	if strings.TrimSpace(adjustmentID) == "" {
		v := &validator{}
		v.add("id", "is required")
		return v.err()
	}
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		record, current, err := l.lockAdjustment(ctx, tx, adjustmentID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAdjustment(ctx, adjustmentID); err != nil {
			return err
		}
		if _, err := l.recalculate(ctx, tx, record); err != nil {
			return err
		}
		return l.audit(ctx, tx, actor, AuditAdjustmentDelete, EntityAdjustment, adjustmentID, current, nil)
	})
	if err != nil {
		return l.fail("delete adjustment", err)
	}
	l.metrics.Recalculated()
	return nil
}

// Recalculate recomputes the derived totals of one record from its approved
// adjustments. Running it twice without intervening changes is a no-op
// apart from updatedAt.
func (l *Ledger) Recalculate(ctx context.Context, actor Actor, payrollID string) (Record, error) {
	var result Record
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		record, err := tx.LockPayroll(ctx, payrollID)
		if err != nil {
			return err
		}
		result, err = l.recalculate(ctx, tx, record)
		if err != nil {
			return err
		}
		return l.audit(ctx, tx, actor, AuditPayrollRecalc, EntityPayroll, payrollID, totalsOf(record), totalsOf(result))
	})
	if err != nil {
		return Record{}, l.fail("recalculate payroll", err)
	}
	l.metrics.Recalculated()
	return result, nil
}

// DirectUpdatePayroll overrides the base figures of a record. When baseSalary
// or tax changes, netSalary is recomputed from the stored allowances and
// deductions; adjustments are not re-read.
func (l *Ledger) DirectUpdatePayroll(ctx context.Context, actor Actor, payrollID string, patch PayrollPatch) (Record, error) {
	if patch.Status != nil {
		normalized := Status(strings.ToUpper(strings.TrimSpace(string(*patch.Status))))
		patch.Status = &normalized
	}
	if err := validatePayrollPatch(payrollID, patch); err != nil {
		return Record{}, err
	}

	var updated Record
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.LockPayroll(ctx, payrollID)
		if err != nil {
			return err
		}
		updated = current
		if patch.BaseSalary != nil {
			updated.BaseSalary = *patch.BaseSalary
		}
		if patch.Tax != nil {
			updated.Tax = *patch.Tax
		}
		if patch.Status != nil {
			updated.Status = *patch.Status
		}
		if patch.Notes != nil {
			updated.Notes = strings.TrimSpace(*patch.Notes)
		}
		if patch.BaseSalary != nil || patch.Tax != nil {
			updated.NetSalary = NetSalary(updated.BaseSalary, updated.Allowances, updated.Tax, updated.Deductions)
			field := "baseSalary"
			if patch.BaseSalary == nil {
				field = "tax"
			}
			if err := checkTotals(field, totalsOf(updated)); err != nil {
				return err
			}
		}
		updated.UpdatedAt = l.now()
		if err := tx.UpdatePayrollBase(ctx, updated); err != nil {
			return err
		}
		return l.audit(ctx, tx, actor, AuditPayrollOverride, EntityPayroll, payrollID, current, updated)
	})
	if err != nil {
		return Record{}, l.fail("override payroll", err)
	}
	return updated, nil
}

// lockAdjustment locks the parent record before the adjustment row so every
// ledger transaction takes locks in the same order.
func (l *Ledger) lockAdjustment(ctx context.Context, tx Tx, adjustmentID string) (Record, Adjustment, error) {
	payrollID, err := tx.AdjustmentPayrollID(ctx, adjustmentID)
	if err != nil {
		return Record{}, Adjustment{}, err
	}
	record, err := tx.LockPayroll(ctx, payrollID)
	if errors.Is(err, ErrPayrollNotFound) {
		// the parent was deleted after the lookup and took the adjustment with it
		return Record{}, Adjustment{}, ErrAdjustmentNotFound
	}
	if err != nil {
		return Record{}, Adjustment{}, err
	}
	adj, err := tx.LockAdjustment(ctx, adjustmentID)
	if err != nil {
		return Record{}, Adjustment{}, err
	}
	return record, adj, nil
}

func (l *Ledger) recalculate(ctx context.Context, tx Tx, record Record) (Record, error) {
	adjustments, err := tx.ListApprovedAdjustments(ctx, record.ID)
	if err != nil {
		return Record{}, err
	}
	totals := ComputeTotals(record.BaseSalary, record.Tax, adjustments)
	if err := checkTotals("amount", totals); err != nil {
		return Record{}, err
	}
	now := l.now()
	if err := tx.UpdatePayrollTotals(ctx, record.ID, totals, now); err != nil {
		if errors.Is(err, ErrPayrollNotFound) {
			return Record{}, fmt.Errorf("%w: payroll %s vanished during recalculation", ErrInfrastructure, record.ID)
		}
		return Record{}, err
	}
	record.Allowances = totals.Allowances
	record.Deductions = totals.Deductions
	record.NetSalary = totals.NetSalary
	record.UpdatedAt = now
	return record, nil
}

func (l *Ledger) applyAdjustmentPatch(current Adjustment, patch AdjustmentPatch, actor Actor) Adjustment {
	now := l.now()
	next := current
	if patch.Type != nil {
		next.Type = *patch.Type
	}
	if patch.Amount != nil {
		next.Amount = *patch.Amount
	}
	if patch.Description != nil {
		next.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Approved != nil {
		switch {
		case *patch.Approved && !current.Approved:
			next.Approved = true
			next.ApprovedBy = actor.UserID
			approvedAt := now
			next.ApprovedAt = &approvedAt
		case !*patch.Approved:
			next.Approved = false
			next.ApprovedBy = ""
			next.ApprovedAt = nil
		}
	}
	if patch.ApprovedBy != nil && next.Approved {
		next.ApprovedBy = firstNonEmpty(strings.TrimSpace(*patch.ApprovedBy), next.ApprovedBy)
	}
	next.UpdatedAt = now
	return next
}

func (l *Ledger) audit(ctx context.Context, tx Tx, actor Actor, action, entityType, entityID string, before, after any) error {
	beforeJSON, err := auditPayload(before)
	if err != nil {
		return err
	}
	afterJSON, err := auditPayload(after)
	if err != nil {
		return err
	}
	return tx.RecordAudit(ctx, AuditEvent{
		ID:         l.newID(),
		ActorID:    actor.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		RequestID:  actor.RequestID,
		Before:     beforeJSON,
		After:      afterJSON,
		CreatedAt:  l.now(),
	})
}

// fail classifies an error coming out of the store. Domain errors pass
// through; anything unrecognised is logged and wrapped as ErrInfrastructure.
func (l *Ledger) fail(op string, err error) error {
	switch {
	case IsValidation(err), errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		l.log.Debug("payroll operation aborted", zap.String("op", op), zap.Error(err))
		return err
	case errors.Is(err, ErrConflict):
		l.metrics.LedgerConflict()
		l.log.Warn("payroll operation conflicted", zap.String("op", op), zap.Error(err))
		return err
	case errors.Is(err, ErrInfrastructure):
		l.metrics.LedgerFailure()
		l.log.Error("payroll operation failed", zap.String("op", op), zap.Error(err))
		return err
	default:
		l.metrics.LedgerFailure()
		l.log.Error("payroll operation failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w: %w", op, ErrInfrastructure, err)
	}
}

func totalsOf(record Record) Totals {
	return Totals{
		Allowances: record.Allowances,
		Deductions: record.Deductions,
		NetSalary:  record.NetSalary,
	}
}

func auditPayload(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
