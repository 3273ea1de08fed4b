package gormstore

import (
	"time"

	"github.com/shopspring/decimal"

	"payledger/internal/domain/payroll"
)

// SQLite has no exact decimal type; amounts are stored as their canonical
// text form and parsed back by decimal.Decimal's Scan.

type payrollRow struct {
	ID          string          `gorm:"primaryKey;type:text"`
	EmployeeID  string          `gorm:"type:text;not null;index"`
	PeriodStart time.Time       `gorm:"not null"`
	PeriodEnd   time.Time       `gorm:"not null"`
	BaseSalary  decimal.Decimal `gorm:"type:text;not null"`
	Tax         decimal.Decimal `gorm:"type:text;not null"`
	Allowances  decimal.Decimal `gorm:"type:text;not null"`
	Deductions  decimal.Decimal `gorm:"type:text;not null"`
	NetSalary   decimal.Decimal `gorm:"type:text;not null"`
	Status      string          `gorm:"type:text;not null;index"`
	Notes       string          `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time       `gorm:"not null;autoCreateTime:false"`
	UpdatedAt   time.Time       `gorm:"not null;autoUpdateTime:false"`

	Adjustments []adjustmentRow `gorm:"foreignKey:PayrollID;constraint:OnDelete:CASCADE"`
}

func (payrollRow) TableName() string { return "payroll_records" }

type adjustmentRow struct {
	ID          string          `gorm:"primaryKey;type:text"`
	PayrollID   string          `gorm:"type:text;not null;index:idx_payroll_adjustments_payroll_approved,priority:1"`
	Type        string          `gorm:"type:text;not null"`
	Amount      decimal.Decimal `gorm:"type:text;not null"`
	Description string          `gorm:"type:text;not null;default:''"`
	Approved    bool            `gorm:"not null;default:false;index:idx_payroll_adjustments_payroll_approved,priority:2"`
	ApprovedBy  string          `gorm:"type:text;not null;default:''"`
	ApprovedAt  *time.Time
	CreatedBy   string    `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (adjustmentRow) TableName() string { return "payroll_adjustments" }

type auditRow struct {
	ID         string    `gorm:"primaryKey;type:text"`
	ActorID    string    `gorm:"type:text;not null;default:''"`
	Action     string    `gorm:"type:text;not null"`
	EntityType string    `gorm:"type:text;not null"`
	EntityID   string    `gorm:"type:text;not null;index"`
	RequestID  string    `gorm:"type:text;not null;default:''"`
	Before     *string   `gorm:"type:text"`
	After      *string   `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime:false"`
}

func (auditRow) TableName() string { return "audit_events" }

func toPayrollRow(r payroll.Record) payrollRow {
	return payrollRow{
		ID:          r.ID,
		EmployeeID:  r.EmployeeID,
		PeriodStart: r.PeriodStart,
		PeriodEnd:   r.PeriodEnd,
		BaseSalary:  r.BaseSalary,
		Tax:         r.Tax,
		Allowances:  r.Allowances,
		Deductions:  r.Deductions,
		NetSalary:   r.NetSalary,
		Status:      string(r.Status),
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (row payrollRow) record() payroll.Record {
	return payroll.Record{
		ID:          row.ID,
		EmployeeID:  row.EmployeeID,
		PeriodStart: row.PeriodStart.UTC(),
		PeriodEnd:   row.PeriodEnd.UTC(),
		BaseSalary:  row.BaseSalary,
		Tax:         row.Tax,
		Allowances:  row.Allowances,
		Deductions:  row.Deductions,
		NetSalary:   row.NetSalary,
		Status:      payroll.Status(row.Status),
		Notes:       row.Notes,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

func toAdjustmentRow(a payroll.Adjustment) adjustmentRow {
	return adjustmentRow{
		ID:          a.ID,
		PayrollID:   a.PayrollID,
		Type:        string(a.Type),
		Amount:      a.Amount,
		Description: a.Description,
		Approved:    a.Approved,
		ApprovedBy:  a.ApprovedBy,
		ApprovedAt:  a.ApprovedAt,
		CreatedBy:   a.CreatedBy,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (row adjustmentRow) adjustment() payroll.Adjustment {
	adj := payroll.Adjustment{
		ID:          row.ID,
		PayrollID:   row.PayrollID,
		Type:        payroll.AdjustmentType(row.Type),
		Amount:      row.Amount,
		Description: row.Description,
		Approved:    row.Approved,
		ApprovedBy:  row.ApprovedBy,
		CreatedBy:   row.CreatedBy,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
	if row.ApprovedAt != nil {
		at := row.ApprovedAt.UTC()
		adj.ApprovedAt = &at
	}
	return adj
}

func toAuditRow(e payroll.AuditEvent) auditRow {
	return auditRow{
		ID:         e.ID,
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		RequestID:  e.RequestID,
		Before:     optionalText(e.Before),
		After:      optionalText(e.After),
		CreatedAt:  e.CreatedAt,
	}
}

func (row auditRow) event() payroll.AuditEvent {
	e := payroll.AuditEvent{
		ID:         row.ID,
		ActorID:    row.ActorID,
		Action:     row.Action,
		EntityType: row.EntityType,
		EntityID:   row.EntityID,
		RequestID:  row.RequestID,
		CreatedAt:  row.CreatedAt.UTC(),
	}
	if row.Before != nil {
		e.Before = []byte(*row.Before)
	}
	if row.After != nil {
		e.After = []byte(*row.After)
	}
	return e
}

func optionalText(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}
