package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"payledger/internal/domain/payroll"
)

const (
	JobReconcile = "payroll_reconcile"

	reconcilePageSize = 200
)

// ReconcilerActor is recorded in the audit trail for repairs.
const ReconcilerActor = "system:reconciler"

type Ledger interface {
	ListPayrolls(ctx context.Context, filter payroll.ListFilter) ([]payroll.Record, int, error)
	FindDrift(ctx context.Context, payrollID string) (*payroll.Drift, error)
	Recalculate(ctx context.Context, actor payroll.Actor, payrollID string) (payroll.Record, error)
}

type Report struct {
	Checked  int             `json:"checked"`
	Drifted  []payroll.Drift `json:"drifted"`
	Repaired int             `json:"repaired"`
	Failed   int             `json:"failed"`
}

// Service periodically checks every payroll record's stored totals against
// its approved adjustments. With repair on, drifted records are
// recalculated through the ledger so the fix is locked and audited.
type Service struct {
	ledger   Ledger
	interval time.Duration
	repair   bool
	log      *zap.Logger
}

func New(ledger Ledger, interval time.Duration, repair bool, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: ledger, interval: interval, repair: repair, log: logger.Named("jobs")}
}

// Start runs the schedule until ctx is done. A zero interval disables it.
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	go s.schedule(ctx)
}

func (s *Service) schedule(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunNow(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("job run failed", zap.String("jobType", JobReconcile), zap.Error(err))
			}
		}
	}
}

// RunNow performs one full pass. A failure on one record is counted and the
// pass continues; only a listing failure aborts it.
func (s *Service) RunNow(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{Drifted: []payroll.Drift{}}
	for offset := 0; ; offset += reconcilePageSize {
		records, _, err := s.ledger.ListPayrolls(ctx, payroll.ListFilter{Limit: reconcilePageSize, Offset: offset})
		if err != nil {
			return report, err
		}
		for _, record := range records {
			s.check(ctx, record.ID, &report)
		}
		if len(records) < reconcilePageSize {
			break
		}
	}
	s.log.Info("job run completed",
		zap.String("jobType", JobReconcile),
		zap.Int("checked", report.Checked),
		zap.Int("drifted", len(report.Drifted)),
		zap.Int("repaired", report.Repaired),
		zap.Int("failed", report.Failed),
		zap.Duration("took", time.Since(started)),
	)
	return report, nil
}

func (s *Service) check(ctx context.Context, payrollID string, report *Report) {
	report.Checked++
	drift, err := s.ledger.FindDrift(ctx, payrollID)
	if err != nil {
		report.Failed++
		s.log.Warn("drift check failed", zap.String("payrollId", payrollID), zap.Error(err))
		return
	}
	if drift == nil {
		return
	}
	report.Drifted = append(report.Drifted, *drift)
	s.log.Warn("payroll totals drifted",
		zap.String("payrollId", payrollID),
		zap.String("storedNet", drift.Stored.NetSalary.String()),
		zap.String("expectedNet", drift.Expected.NetSalary.String()),
	)
	if !s.repair {
		return
	}
	if _, err := s.ledger.Recalculate(ctx, payroll.Actor{UserID: ReconcilerActor}, payrollID); err != nil {
		report.Failed++
		s.log.Warn("drift repair failed", zap.String("payrollId", payrollID), zap.Error(err))
		return
	}
	report.Repaired++
}
