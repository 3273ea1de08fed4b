package payroll

import "github.com/shopspring/decimal"

type Totals struct {
	Allowances decimal.Decimal `json:"allowances"`
	Deductions decimal.Decimal `json:"deductions"`
	NetSalary  decimal.Decimal `json:"netSalary"`
}

// SumAdjustments splits approved adjustments into additions and deductions.
// Unapproved rows are skipped even if a caller passes them in.
func SumAdjustments(adjustments []Adjustment) (additions, deductions decimal.Decimal) {
	additions = decimal.Zero
	deductions = decimal.Zero
	for _, adj := range adjustments {
		if !adj.Approved {
			continue
		}
		if adj.Type.Additive() {
			additions = additions.Add(adj.Amount)
		} else {
			deductions = deductions.Add(adj.Amount)
		}
	}
	return additions, deductions
}

func NetSalary(baseSalary, allowances, tax, deductions decimal.Decimal) decimal.Decimal {
	return baseSalary.Add(allowances).Sub(tax).Sub(deductions)
}

func ComputeTotals(baseSalary, tax decimal.Decimal, adjustments []Adjustment) Totals {
	additions, deductions := SumAdjustments(adjustments)
	return Totals{
		Allowances: additions,
		Deductions: deductions,
		NetSalary:  NetSalary(baseSalary, additions, tax, deductions),
	}
}
