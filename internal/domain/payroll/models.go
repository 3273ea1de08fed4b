package payroll

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Record struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employeeId"`
	PeriodStart time.Time       `json:"periodStart"`
	PeriodEnd   time.Time       `json:"periodEnd"`
	BaseSalary  decimal.Decimal `json:"baseSalary"`
	Tax         decimal.Decimal `json:"tax"`
	Allowances  decimal.Decimal `json:"allowances"`
	Deductions  decimal.Decimal `json:"deductions"`
	NetSalary   decimal.Decimal `json:"netSalary"`
	Status      Status          `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type Adjustment struct {
	ID          string          `json:"id"`
	PayrollID   string          `json:"payrollId"`
	Type        AdjustmentType  `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Approved    bool            `json:"approved"`
	ApprovedBy  string          `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time      `json:"approvedAt,omitempty"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Actor is the caller identity handed over by the transport layer. The
// ledger records it; it never authenticates it.
type Actor struct {
	UserID    string
	Role      string
	RequestID string
}

type CreatePayrollInput struct {
	EmployeeID  string
	PeriodStart time.Time
	PeriodEnd   time.Time
	BaseSalary  decimal.Decimal
	Tax         decimal.Decimal
	Status      Status
	Notes       string
}

type CreateAdjustmentInput struct {
	PayrollID   string
	Type        AdjustmentType
	Amount      decimal.Decimal
	Description string
	Approved    bool
	ApprovedBy  string
}

// AdjustmentPatch holds the fields an update sets; nil means untouched.
type AdjustmentPatch struct {
	Type        *AdjustmentType
	Amount      *decimal.Decimal
	Description *string
	Approved    *bool
	ApprovedBy  *string
}

func (p AdjustmentPatch) affectsTotals() bool {
	return p.Amount != nil || p.Approved != nil || p.Type != nil
}

type PayrollPatch struct {
	BaseSalary *decimal.Decimal
	Tax        *decimal.Decimal
	Status     *Status
	Notes      *string
}

type ListFilter struct {
	EmployeeID string
	Status     Status
	Limit      int
	Offset     int
}

type AuditEvent struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actorId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	RequestID  string          `json:"requestId,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}
