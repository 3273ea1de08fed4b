// Package pgstore keeps the payroll ledger in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payledger/internal/domain/payroll"
)

const (
	payrollColumns = `id, employee_id, period_start, period_end,
  base_salary::text, tax::text, allowances::text, deductions::text, net_salary::text,
  status, notes, created_at, updated_at`

	adjustmentColumns = `id, payroll_id, type, amount::text, description,
  approved, approved_by, approved_at, created_by, created_at, updated_at`
)

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// New wraps pool. lockTimeout bounds how long a ledger transaction waits
// for a row lock; zero leaves the server default.
func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx payroll.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if s.lockTimeout > 0 {
		timeout := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", timeout); err != nil {
			return mapError(err)
		}
	}
	if err := fn(ctx, &storeTx{tx: tx}); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

func (s *Store) GetPayroll(ctx context.Context, payrollID string) (payroll.Record, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+payrollColumns+" FROM payroll_records WHERE id = $1", payrollID)
	return scanPayroll(row)
}

func (s *Store) CountPayrolls(ctx context.Context, filter payroll.ListFilter) (int, error) {
	where, args := payrollFilter(filter)
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(1) FROM payroll_records"+where, args...).Scan(&total); err != nil {
		return 0, mapError(err)
	}
	return total, nil
}

func (s *Store) ListPayrolls(ctx context.Context, filter payroll.ListFilter) ([]payroll.Record, error) {
	where, args := payrollFilter(filter)
	query := "SELECT " + payrollColumns + " FROM payroll_records" + where + " ORDER BY period_start DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []payroll.Record{}
	for rows.Next() {
		rec, err := scanPayroll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, mapError(rows.Err())
}

func (s *Store) GetAdjustment(ctx context.Context, adjustmentID string) (payroll.Adjustment, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+adjustmentColumns+" FROM payroll_adjustments WHERE id = $1", adjustmentID)
	return scanAdjustment(row)
}

func (s *Store) ListAdjustments(ctx context.Context, payrollID string, approved *bool) ([]payroll.Adjustment, error) {
	query := "SELECT " + adjustmentColumns + " FROM payroll_adjustments WHERE payroll_id = $1"
	args := []any{payrollID}
	if approved != nil {
		query += " AND approved = $2"
		args = append(args, *approved)
	}
	return queryAdjustments(ctx, s.pool, query+" ORDER BY created_at, id", args...)
}

// AuditTrail returns the audit events recorded for one entity, oldest first.
func (s *Store) AuditTrail(ctx context.Context, entityID string) ([]payroll.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
    SELECT id, actor_id, action, entity_type, entity_id, request_id, before_data, after_data, created_at
    FROM audit_events
    WHERE entity_id = $1
    ORDER BY created_at, id
  `, entityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []payroll.AuditEvent{}
	for rows.Next() {
		var e payroll.AuditEvent
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &e.RequestID, &e.Before, &e.After, &e.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, mapError(rows.Err())
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) InsertPayroll(ctx context.Context, record payroll.Record) error {
	_, err := t.tx.Exec(ctx, `
    INSERT INTO payroll_records (id, employee_id, period_start, period_end, base_salary, tax, allowances, deductions, net_salary, status, notes, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
  `, record.ID, record.EmployeeID, record.PeriodStart, record.PeriodEnd,
		record.BaseSalary.String(), record.Tax.String(), record.Allowances.String(), record.Deductions.String(), record.NetSalary.String(),
		string(record.Status), record.Notes, record.CreatedAt, record.UpdatedAt)
	return mapError(err)
}

func (t *storeTx) LockPayroll(ctx context.Context, payrollID string) (payroll.Record, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+payrollColumns+" FROM payroll_records WHERE id = $1 FOR UPDATE", payrollID)
	return scanPayroll(row)
}

func (t *storeTx) UpdatePayrollBase(ctx context.Context, record payroll.Record) error {
	tag, err := t.tx.Exec(ctx, `
    UPDATE payroll_records
    SET base_salary = $2, tax = $3, net_salary = $4, status = $5, notes = $6, updated_at = $7
    WHERE id = $1
  `, record.ID, record.BaseSalary.String(), record.Tax.String(), record.NetSalary.String(),
		string(record.Status), record.Notes, record.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrPayrollNotFound
	}
	return nil
}

func (t *storeTx) UpdatePayrollTotals(ctx context.Context, payrollID string, totals payroll.Totals, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
    UPDATE payroll_records
    SET allowances = $2, deductions = $3, net_salary = $4, updated_at = $5
    WHERE id = $1
  `, payrollID, totals.Allowances.String(), totals.Deductions.String(), totals.NetSalary.String(), at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrPayrollNotFound
	}
	return nil
}

func (t *storeTx) AdjustmentPayrollID(ctx context.Context, adjustmentID string) (string, error) {
	var payrollID string
	err := t.tx.QueryRow(ctx, "SELECT payroll_id FROM payroll_adjustments WHERE id = $1", adjustmentID).Scan(&payrollID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", payroll.ErrAdjustmentNotFound
	}
	if err != nil {
		return "", mapError(err)
	}
	return payrollID, nil
}

func (t *storeTx) LockAdjustment(ctx context.Context, adjustmentID string) (payroll.Adjustment, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+adjustmentColumns+" FROM payroll_adjustments WHERE id = $1 FOR UPDATE", adjustmentID)
	return scanAdjustment(row)
}

func (t *storeTx) InsertAdjustment(ctx context.Context, adj payroll.Adjustment) error {
	_, err := t.tx.Exec(ctx, `
    INSERT INTO payroll_adjustments (id, payroll_id, type, amount, description, approved, approved_by, approved_at, created_by, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
  `, adj.ID, adj.PayrollID, string(adj.Type), adj.Amount.String(), adj.Description,
		adj.Approved, adj.ApprovedBy, adj.ApprovedAt, adj.CreatedBy, adj.CreatedAt, adj.UpdatedAt)
	return mapError(err)
}

func (t *storeTx) UpdateAdjustment(ctx context.Context, adj payroll.Adjustment) error {
	tag, err := t.tx.Exec(ctx, `
    UPDATE payroll_adjustments
    SET type = $2, amount = $3, description = $4, approved = $5, approved_by = $6, approved_at = $7, updated_at = $8
    WHERE id = $1
  `, adj.ID, string(adj.Type), adj.Amount.String(), adj.Description,
		adj.Approved, adj.ApprovedBy, adj.ApprovedAt, adj.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrAdjustmentNotFound
	}
	return nil
}

func (t *storeTx) DeleteAdjustment(ctx context.Context, adjustmentID string) error {
	tag, err := t.tx.Exec(ctx, "DELETE FROM payroll_adjustments WHERE id = $1", adjustmentID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return payroll.ErrAdjustmentNotFound
	}
	return nil
}

func (t *storeTx) ListApprovedAdjustments(ctx context.Context, payrollID string) ([]payroll.Adjustment, error) {
	return queryAdjustments(ctx, t.tx,
		"SELECT "+adjustmentColumns+" FROM payroll_adjustments WHERE payroll_id = $1 AND approved ORDER BY created_at, id",
		payrollID)
}

func (t *storeTx) RecordAudit(ctx context.Context, event payroll.AuditEvent) error {
	_, err := t.tx.Exec(ctx, `
    INSERT INTO audit_events (id, actor_id, action, entity_type, entity_id, request_id, before_data, after_data, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
  `, event.ID, event.ActorID, event.Action, event.EntityType, event.EntityID, event.RequestID,
		jsonParam(event.Before), jsonParam(event.After), event.CreatedAt)
	return mapError(err)
}

func jsonParam(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func queryAdjustments(ctx context.Context, q querier, sql string, args ...any) ([]payroll.Adjustment, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []payroll.Adjustment{}
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, adj)
	}
	return out, mapError(rows.Err())
}

func payrollFilter(filter payroll.ListFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.EmployeeID != "" {
		args = append(args, filter.EmployeeID)
		clauses = append(clauses, fmt.Sprintf("employee_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanPayroll(row pgx.Row) (payroll.Record, error) {
	var rec payroll.Record
	var base, tax, allowances, deductions, net, status string
	err := row.Scan(&rec.ID, &rec.EmployeeID, &rec.PeriodStart, &rec.PeriodEnd,
		&base, &tax, &allowances, &deductions, &net,
		&status, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.Record{}, payroll.ErrPayrollNotFound
	}
	if err != nil {
		return payroll.Record{}, mapError(err)
	}
	amounts, err := parseAmounts(base, tax, allowances, deductions, net)
	if err != nil {
		return payroll.Record{}, fmt.Errorf("payroll %s: %w", rec.ID, err)
	}
	rec.BaseSalary, rec.Tax, rec.Allowances, rec.Deductions, rec.NetSalary = amounts[0], amounts[1], amounts[2], amounts[3], amounts[4]
	rec.Status = payroll.Status(status)
	rec.PeriodStart = rec.PeriodStart.UTC()
	rec.PeriodEnd = rec.PeriodEnd.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func scanAdjustment(row pgx.Row) (payroll.Adjustment, error) {
	var adj payroll.Adjustment
	var typ, amount string
	err := row.Scan(&adj.ID, &adj.PayrollID, &typ, &amount, &adj.Description,
		&adj.Approved, &adj.ApprovedBy, &adj.ApprovedAt, &adj.CreatedBy, &adj.CreatedAt, &adj.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.Adjustment{}, payroll.ErrAdjustmentNotFound
	}
	if err != nil {
		return payroll.Adjustment{}, mapError(err)
	}
	amounts, err := parseAmounts(amount)
	if err != nil {
		return payroll.Adjustment{}, fmt.Errorf("adjustment %s: %w", adj.ID, err)
	}
	adj.Type = payroll.AdjustmentType(typ)
	adj.Amount = amounts[0]
	if adj.ApprovedAt != nil {
		at := adj.ApprovedAt.UTC()
		adj.ApprovedAt = &at
	}
	adj.CreatedAt = adj.CreatedAt.UTC()
	adj.UpdatedAt = adj.UpdatedAt.UTC()
	return adj, nil
}

func parseAmounts(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", v, err)
		}
		out[i] = d
	}
	return out, nil
}

// mapError turns lock and serialization failures into payroll.ErrConflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s (%s)", payroll.ErrConflict, pgErr.Message, pgErr.Code)
		}
	}
	return err
}
