package payroll

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Money columns are NUMERIC(20,4): at most 16 integer digits and 4 decimal
// places. Inputs outside that range are rejected rather than rounded so both
// storage backends hold the figure the caller sent.
const (
	maxAmountScale         = 4
	maxAmountIntegerDigits = 16
)

var amountCeiling = decimal.New(1, maxAmountIntegerDigits)

func validateCreatePayroll(in CreatePayrollInput) error {
	v := &validator{}
	if strings.TrimSpace(in.EmployeeID) == "" {
		v.add("employeeId", "is required")
	}
	if in.PeriodStart.IsZero() {
		v.add("periodStart", "is required")
	}
	if in.PeriodEnd.IsZero() {
		v.add("periodEnd", "is required")
	}
	if !in.PeriodStart.IsZero() && !in.PeriodEnd.IsZero() && !in.PeriodStart.Before(in.PeriodEnd) {
		v.add("periodEnd", "must be after periodStart")
	}
	validAmount(v, "baseSalary", in.BaseSalary)
	validAmount(v, "tax", in.Tax)
	if !in.Status.Valid() {
		v.add("status", "must be one of "+statusList())
	}
	return v.err()
}

func validateCreateAdjustment(in CreateAdjustmentInput) error {
	v := &validator{}
	if strings.TrimSpace(in.PayrollID) == "" {
		v.add("payrollId", "is required")
	}
	if !in.Type.Valid() {
		v.add("type", "must be one of "+adjustmentTypeList())
	}
	validAmount(v, "amount", in.Amount)
	return v.err()
}

func validateAdjustmentPatch(adjustmentID string, patch AdjustmentPatch) error {
	v := &validator{}
	if strings.TrimSpace(adjustmentID) == "" {
		v.add("id", "is required")
	}
	if patch.Type != nil && !patch.Type.Valid() {
		v.add("type", "must be one of "+adjustmentTypeList())
	}
	if patch.Amount != nil {
		validAmount(v, "amount", *patch.Amount)
	}
	return v.err()
}

func validatePayrollPatch(payrollID string, patch PayrollPatch) error {
	v := &validator{}
	if strings.TrimSpace(payrollID) == "" {
		v.add("id", "is required")
	}
	if patch.BaseSalary != nil {
		validAmount(v, "baseSalary", *patch.BaseSalary)
	}
	if patch.Tax != nil {
		validAmount(v, "tax", *patch.Tax)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		v.add("status", "must be one of "+statusList())
	}
	return v.err()
}

// validAmount never rescales value, so an input like 1e5000000 is rejected
// in constant time.
func validAmount(v *validator, field string, value decimal.Decimal) {
	if value.IsNegative() {
		v.add(field, "must not be negative")
		return
	}
	if value.IsZero() {
		return
	}
	exp := int64(value.Exponent())
	digits := int64(value.NumDigits())
	if digits+exp > maxAmountIntegerDigits {
		v.add(field, "must be less than "+amountCeiling.String())
		return
	}
	if exp < -maxAmountScale && !trailingZeros(value.Coefficient(), -exp-maxAmountScale, digits) {
		v.add(field, "must have at most 4 decimal places")
	}
}

// trailingZeros reports whether a non-zero coefficient of the given digit
// count ends in at least n zeros.
func trailingZeros(coefficient *big.Int, n, digits int64) bool {
	if n >= digits {
		return false
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
	return new(big.Int).Mod(coefficient, unit).Sign() == 0
}

// checkTotals rejects derived figures that no longer fit the money columns.
// Every input is already bounded, so the comparison is cheap.
func checkTotals(field string, totals Totals) error {
	for _, value := range []decimal.Decimal{totals.Allowances, totals.Deductions, totals.NetSalary} {
		if value.Abs().GreaterThanOrEqual(amountCeiling) {
			v := &validator{}
			v.add(field, "would push payroll totals beyond "+amountCeiling.String())
			return v.err()
		}
	}
	return nil
}

func statusList() string {
	names := make([]string, 0, len(Statuses))
	for _, s := range Statuses {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func adjustmentTypeList() string {
	names := make([]string, 0, len(AdjustmentTypes))
	for _, t := range AdjustmentTypes {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
