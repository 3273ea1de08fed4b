package payroll

import "context"

// Drift is a record whose stored totals disagree with a fresh sum of its
// approved adjustments. Ledger writes never leave one behind; drift means
// the tables were edited outside the ledger.
type Drift struct {
	PayrollID string `json:"payrollId"`
	Stored    Totals `json:"stored"`
	Expected  Totals `json:"expected"`
}

// FindDrift recomputes a record's totals and reports a mismatch. The record
// and its adjustments are read under the same row lock ledger writes take,
// so an in-flight change is never mistaken for drift. It never writes;
// Recalculate repairs.
func (l *Ledger) FindDrift(ctx context.Context, payrollID string) (*Drift, error) {
	var drift *Drift
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		record, err := tx.LockPayroll(ctx, payrollID)
		if err != nil {
			return err
		}
		adjustments, err := tx.ListApprovedAdjustments(ctx, payrollID)
		if err != nil {
			return err
		}
		expected := ComputeTotals(record.BaseSalary, record.Tax, adjustments)
		stored := totalsOf(record)
		if stored.Allowances.Equal(expected.Allowances) &&
			stored.Deductions.Equal(expected.Deductions) &&
			stored.NetSalary.Equal(expected.NetSalary) {
			return nil
		}
		drift = &Drift{PayrollID: payrollID, Stored: stored, Expected: expected}
		return nil
	})
	if err != nil {
		return nil, l.fail("find drift", err)
	}
	return drift, nil
}
