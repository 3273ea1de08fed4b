package payroll

import (
	"context"
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
)

const payslipDate = "2006-01-02"

// WritePayslip renders the record's current figures and its approved
// adjustments as a PDF.
func (l *Ledger) WritePayslip(ctx context.Context, payrollID string, w io.Writer) error {
	record, err := l.store.GetPayroll(ctx, payrollID)
	if err != nil {
		return l.fail("payslip", err)
	}
	approved := true
	adjustments, err := l.store.ListAdjustments(ctx, payrollID, &approved)
	if err != nil {
		return l.fail("payslip", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Payslip")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Employee: %s", record.EmployeeID))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Period: %s to %s", record.PeriodStart.Format(payslipDate), record.PeriodEnd.Format(payslipDate)))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Status: %s", record.Status))
	pdf.Ln(10)

	line := func(label string, value string) {
		pdf.CellFormat(80, 8, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(40, 8, value, "", 1, "R", false, 0, "")
	}
	line("Base salary", record.BaseSalary.StringFixed(2))
	line("Allowances", record.Allowances.StringFixed(2))
	line("Tax", record.Tax.StringFixed(2))
	line("Deductions", record.Deductions.StringFixed(2))
	pdf.SetFont("Helvetica", "B", 12)
	line("Net salary", record.NetSalary.StringFixed(2))

	if len(adjustments) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, "Approved adjustments")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 11)
		for _, adj := range adjustments {
			sign := "-"
			if adj.Type.Additive() {
				sign = "+"
			}
			label := string(adj.Type)
			if adj.Description != "" {
				label += " (" + adj.Description + ")"
			}
			line(label, sign+adj.Amount.StringFixed(2))
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render payslip: %w", err)
	}
	return nil
}
