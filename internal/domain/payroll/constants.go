package payroll

import "strings"

type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

var Statuses = []Status{
	StatusDraft,
	StatusPending,
	StatusProcessing,
	StatusPaid,
	StatusCancelled,
	StatusFailed,
}

type AdjustmentType string

const (
	AdjustmentBonus      AdjustmentType = "BONUS"
	AdjustmentCommission AdjustmentType = "COMMISSION"
	AdjustmentDeduction  AdjustmentType = "DEDUCTION"
	AdjustmentAllowance  AdjustmentType = "ALLOWANCE"
	AdjustmentOvertime   AdjustmentType = "OVERTIME"
	AdjustmentOther      AdjustmentType = "OTHER"
)

var AdjustmentTypes = []AdjustmentType{
	AdjustmentBonus,
	AdjustmentCommission,
	AdjustmentDeduction,
	AdjustmentAllowance,
	AdjustmentOvertime,
	AdjustmentOther,
}

// additiveTypes is the only place that decides which approved adjustments
// raise allowances. Every other recognised type is summed into deductions,
// OVERTIME included.
var additiveTypes = map[AdjustmentType]bool{
	AdjustmentBonus:      true,
	AdjustmentCommission: true,
	AdjustmentAllowance:  true,
}

const (
	AuditPayrollCreate    = "payroll.create"
	AuditPayrollOverride  = "payroll.override"
	AuditPayrollRecalc    = "payroll.recalculate"
	AuditAdjustmentCreate = "payroll.adjustment.create"
	AuditAdjustmentUpdate = "payroll.adjustment.update"
	AuditAdjustmentDelete = "payroll.adjustment.delete"

	EntityPayroll    = "payroll_record"
	EntityAdjustment = "payroll_adjustment"
)

func (t AdjustmentType) Valid() bool {
	for _, candidate := range AdjustmentTypes {
		if t == candidate {
			return true
		}
	}
	return false
}

func (t AdjustmentType) Additive() bool {
	return additiveTypes[t]
}

func ParseAdjustmentType(raw string) (AdjustmentType, bool) {
	t := AdjustmentType(strings.ToUpper(strings.TrimSpace(raw)))
	return t, t.Valid()
}

func (s Status) Valid() bool {
	for _, candidate := range Statuses {
		if s == candidate {
			return true
		}
	}
	return false
}

func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}
