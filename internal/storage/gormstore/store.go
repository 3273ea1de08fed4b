// Package gormstore keeps the payroll ledger in SQLite through gorm. It backs
// single-node deployments and the ledger tests.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"payledger/internal/domain/payroll"
)

type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path and migrates the ledger
// tables. An empty path opens a private in-memory database.
//
// The pool is capped at one connection: SQLite allows a single writer, and
// queueing on the pool gives every transaction the whole database, which is
// the write lock the ledger needs around a payroll row.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	dsn = withPragma(dsn, "_foreign_keys=1")

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.AutoMigrate(&payrollRow{}, &adjustmentRow{}, &auditRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func withPragma(dsn, pragma string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + pragma
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + "?" + pragma
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx payroll.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, &storeTx{db: db})
	})
	return mapError(err)
}

func (s *Store) GetPayroll(ctx context.Context, payrollID string) (payroll.Record, error) {
	return findPayroll(s.db.WithContext(ctx), payrollID)
}

func (s *Store) CountPayrolls(ctx context.Context, filter payroll.ListFilter) (int, error) {
	var total int64
	err := applyFilter(s.db.WithContext(ctx).Model(&payrollRow{}), filter).Count(&total).Error
	if err != nil {
		return 0, mapError(err)
	}
	return int(total), nil
}

func (s *Store) ListPayrolls(ctx context.Context, filter payroll.ListFilter) ([]payroll.Record, error) {
	query := applyFilter(s.db.WithContext(ctx).Model(&payrollRow{}), filter).
		Order("period_start DESC").Order("id")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var rows []payrollRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]payroll.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func (s *Store) GetAdjustment(ctx context.Context, adjustmentID string) (payroll.Adjustment, error) {
	return findAdjustment(s.db.WithContext(ctx), adjustmentID)
}

func (s *Store) ListAdjustments(ctx context.Context, payrollID string, approved *bool) ([]payroll.Adjustment, error) {
	query := s.db.WithContext(ctx).Where("payroll_id = ?", payrollID)
	if approved != nil {
		query = query.Where("approved = ?", *approved)
	}
	return findAdjustments(query)
}

// AuditTrail returns the audit events recorded for one entity, oldest first.
func (s *Store) AuditTrail(ctx context.Context, entityID string) ([]payroll.AuditEvent, error) {
	var rows []auditRow
	err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at").Order("rowid").
		Find(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]payroll.AuditEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.event())
	}
	return out, nil
}

type storeTx struct {
	db *gorm.DB
}

func (t *storeTx) InsertPayroll(ctx context.Context, record payroll.Record) error {
	row := toPayrollRow(record)
	return mapError(t.db.WithContext(ctx).Create(&row).Error)
}

// LockPayroll reads the record inside the transaction. The single pooled
// connection already excludes every other transaction.
func (t *storeTx) LockPayroll(ctx context.Context, payrollID string) (payroll.Record, error) {
	return findPayroll(t.db.WithContext(ctx), payrollID)
}

func (t *storeTx) UpdatePayrollBase(ctx context.Context, record payroll.Record) error {
	res := t.db.WithContext(ctx).Model(&payrollRow{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"base_salary": record.BaseSalary,
			"tax":         record.Tax,
			"net_salary":  record.NetSalary,
			"status":      string(record.Status),
			"notes":       record.Notes,
			"updated_at":  record.UpdatedAt,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return payroll.ErrPayrollNotFound
	}
	return nil
}

func (t *storeTx) UpdatePayrollTotals(ctx context.Context, payrollID string, totals payroll.Totals, at time.Time) error {
	res := t.db.WithContext(ctx).Model(&payrollRow{}).
		Where("id = ?", payrollID).
		Updates(map[string]any{
			"allowances": totals.Allowances,
			"deductions": totals.Deductions,
			"net_salary": totals.NetSalary,
			"updated_at": at,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return payroll.ErrPayrollNotFound
	}
	return nil
}

func (t *storeTx) AdjustmentPayrollID(ctx context.Context, adjustmentID string) (string, error) {
	var row adjustmentRow
	err := t.db.WithContext(ctx).Select("payroll_id").Where("id = ?", adjustmentID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", payroll.ErrAdjustmentNotFound
	}
	if err != nil {
		return "", mapError(err)
	}
	return row.PayrollID, nil
}

func (t *storeTx) LockAdjustment(ctx context.Context, adjustmentID string) (payroll.Adjustment, error) {
	return findAdjustment(t.db.WithContext(ctx), adjustmentID)
}

func (t *storeTx) InsertAdjustment(ctx context.Context, adj payroll.Adjustment) error {
	row := toAdjustmentRow(adj)
	return mapError(t.db.WithContext(ctx).Create(&row).Error)
}

func (t *storeTx) UpdateAdjustment(ctx context.Context, adj payroll.Adjustment) error {
	res := t.db.WithContext(ctx).Model(&adjustmentRow{}).
		Where("id = ?", adj.ID).
		Updates(map[string]any{
			"type":        string(adj.Type),
			"amount":      adj.Amount,
			"description": adj.Description,
			"approved":    adj.Approved,
			"approved_by": adj.ApprovedBy,
			"approved_at": adj.ApprovedAt,
			"updated_at":  adj.UpdatedAt,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return payroll.ErrAdjustmentNotFound
	}
	return nil
}

func (t *storeTx) DeleteAdjustment(ctx context.Context, adjustmentID string) error {
	res := t.db.WithContext(ctx).Where("id = ?", adjustmentID).Delete(&adjustmentRow{})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return payroll.ErrAdjustmentNotFound
	}
	return nil
}

func (t *storeTx) ListApprovedAdjustments(ctx context.Context, payrollID string) ([]payroll.Adjustment, error) {
	return findAdjustments(t.db.WithContext(ctx).Where("payroll_id = ? AND approved = ?", payrollID, true))
}

func (t *storeTx) RecordAudit(ctx context.Context, event payroll.AuditEvent) error {
	row := toAuditRow(event)
	return mapError(t.db.WithContext(ctx).Create(&row).Error)
}

func findPayroll(db *gorm.DB, payrollID string) (payroll.Record, error) {
	var row payrollRow
	err := db.Where("id = ?", payrollID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return payroll.Record{}, payroll.ErrPayrollNotFound
	}
	if err != nil {
		return payroll.Record{}, mapError(err)
	}
	return row.record(), nil
}

func findAdjustment(db *gorm.DB, adjustmentID string) (payroll.Adjustment, error) {
	var row adjustmentRow
	err := db.Where("id = ?", adjustmentID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return payroll.Adjustment{}, payroll.ErrAdjustmentNotFound
	}
	if err != nil {
		return payroll.Adjustment{}, mapError(err)
	}
	return row.adjustment(), nil
}

func findAdjustments(query *gorm.DB) ([]payroll.Adjustment, error) {
	var rows []adjustmentRow
	if err := query.Order("created_at").Order("id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]payroll.Adjustment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.adjustment())
	}
	return out, nil
}

func applyFilter(query *gorm.DB, filter payroll.ListFilter) *gorm.DB {
	if filter.EmployeeID != "" {
		query = query.Where("employee_id = ?", filter.EmployeeID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	return query
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", payroll.ErrConflict, err)
		}
	}
	return err
}
